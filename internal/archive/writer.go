package archive

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

// Writer produces gzip-compressed JSONL archives in the dataset's batch
// layout: one match per line, batch_NNN.jsonl.gz files rotated every
// maxMatches matches. Used by export tooling and test fixtures.
type Writer struct {
	dir        string
	prefix     string
	maxMatches int

	batch   int
	matches int
	file    *os.File
	gz      *gzip.Writer
	buf     *bufio.Writer
	paths   []string
}

// NewWriter creates a rotating archive writer under dir. maxMatches <= 0
// disables rotation (one batch file).
func NewWriter(dir, prefix string, maxMatches int) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	if prefix == "" {
		prefix = "batch"
	}
	w := &Writer{dir: dir, prefix: prefix, maxMatches: maxMatches}
	if err := w.rotate(); err != nil {
		return nil, err
	}
	return w, nil
}

// WriteMatch appends one raw match line to the current batch.
func (w *Writer) WriteMatch(line []byte) error {
	if w.maxMatches > 0 && w.matches >= w.maxMatches {
		if err := w.rotate(); err != nil {
			return err
		}
	}
	if _, err := w.buf.Write(line); err != nil {
		return fmt.Errorf("write match: %w", err)
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	w.matches++
	return nil
}

// Paths returns every batch file written so far, in order.
func (w *Writer) Paths() []string {
	return append([]string(nil), w.paths...)
}

// rotate closes the current batch (if any) and opens the next.
func (w *Writer) rotate() error {
	if err := w.closeCurrent(); err != nil {
		return err
	}
	w.batch++
	path := filepath.Join(w.dir, fmt.Sprintf("%s_%03d.jsonl.gz", w.prefix, w.batch))
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create batch file: %w", err)
	}
	w.file = file
	w.gz = gzip.NewWriter(file)
	w.buf = bufio.NewWriterSize(w.gz, 64*1024)
	w.matches = 0
	w.paths = append(w.paths, path)
	return nil
}

func (w *Writer) closeCurrent() error {
	if w.file == nil {
		return nil
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush batch: %w", err)
	}
	if err := w.gz.Close(); err != nil {
		return fmt.Errorf("close gzip stream: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close batch file: %w", err)
	}
	w.file = nil
	return nil
}

// Close flushes and closes the current batch file.
func (w *Writer) Close() error {
	return w.closeCurrent()
}
