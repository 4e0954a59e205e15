package archive

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// UnreadableError reports an archive that could not be opened or read.
// Fatal for the archive, non-fatal for a dataset load spanning several.
type UnreadableError struct {
	Path string
	Err  error
}

func (e *UnreadableError) Error() string {
	return fmt.Sprintf("archive %s unreadable: %v", e.Path, e.Err)
}

func (e *UnreadableError) Unwrap() error { return e.Err }

// IsUnreadable reports whether err is (or wraps) an UnreadableError.
func IsUnreadable(err error) bool {
	var u *UnreadableError
	return errors.As(err, &u)
}

// Reader streams raw match lines out of one gzip-compressed JSONL
// archive. It is a lazy sequence: stop pulling at any time and Close.
// Match lines can run to many megabytes, so reading goes through a
// bufio.Reader instead of a token-limited scanner.
type Reader struct {
	path   string
	file   *os.File
	gz     *gzip.Reader
	buf    *bufio.Reader
	line   int
	offset int64 // bytes consumed in the decompressed stream
}

// Open prepares a reader over one .jsonl.gz archive.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &UnreadableError{Path: path, Err: err}
	}
	gz, err := gzip.NewReader(file)
	if err != nil {
		file.Close()
		return nil, &UnreadableError{Path: path, Err: err}
	}
	return &Reader{
		path: path,
		file: file,
		gz:   gz,
		buf:  bufio.NewReaderSize(gz, 1<<20),
	}, nil
}

// Path returns the archive path.
func (r *Reader) Path() string { return r.path }

// Line returns the number of match lines read so far.
func (r *Reader) Line() int { return r.line }

// Offset returns the decompressed-stream offset of the next line.
func (r *Reader) Offset() int64 { return r.offset }

// Next returns the next non-blank match line without its trailing
// newline, or io.EOF when the archive is exhausted. A truncated gzip
// stream surfaces as an UnreadableError.
func (r *Reader) Next() ([]byte, error) {
	for {
		line, err := r.buf.ReadBytes('\n')
		r.offset += int64(len(line))
		if len(line) > 0 {
			trimmed := bytes.TrimRight(line, "\n\r")
			if len(bytes.TrimSpace(trimmed)) > 0 {
				r.line++
				return trimmed, nil
			}
		}
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, &UnreadableError{Path: r.path, Err: err}
		}
	}
}

// Close releases the archive's file handle.
func (r *Reader) Close() error {
	if err := r.gz.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Discover lists archive files under root. The dataset lays archives
// out by patch split (e.g. 12_22/batch_001.jsonl.gz); splits narrows the
// walk to the named patch directories, nil means all. Paths come back
// sorted so downstream iteration is deterministic.
func Discover(root string, splits []string) ([]string, error) {
	var dirs []string
	if len(splits) == 0 {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, fmt.Errorf("read data dir: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() {
				dirs = append(dirs, filepath.Join(root, e.Name()))
			}
		}
		// Archives directly under root count as an unnamed split.
		dirs = append(dirs, root)
	} else {
		for _, split := range splits {
			dirs = append(dirs, filepath.Join(root, split))
		}
	}

	var paths []string
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("read split %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl.gz") {
				continue
			}
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Split extracts the patch split from an archive path (the parent
// directory name), or "" when the archive sits at the data-dir root.
func Split(path string) string {
	dir := filepath.Base(filepath.Dir(path))
	if dir == "." || dir == string(filepath.Separator) {
		return ""
	}
	return dir
}
