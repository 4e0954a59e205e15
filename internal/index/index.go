// Package index builds sparse, checkpointed indexes over replay
// archives so consumers can slice by time range, entity, or packet kind
// without re-decoding everything that came before.
package index

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/klauspost/compress/gzip"

	"replay-gym/internal/archive"
	"replay-gym/internal/metrics"
	"replay-gym/internal/packet"
	"replay-gym/internal/state"
)

// DefaultCheckpointInterval is the default number of events between
// checkpoints. Smaller intervals mean cheaper seeks and a fatter index.
const DefaultCheckpointInterval = 512

// ErrIndexNotBuilt reports a query against an index that was never
// built (or only partially built after a decode failure).
var ErrIndexNotBuilt = errors.New("trajectory index not built")

// DecodeFailureError reports a build aborted by a corrupt or truncated
// archive. The partial index built so far is returned alongside it for
// diagnostics.
type DecodeFailureError struct {
	Path  string
	Match int
	Err   error
}

func (e *DecodeFailureError) Error() string {
	return fmt.Sprintf("index build failed on %s match %d: %v", e.Path, e.Match, e.Err)
}

func (e *DecodeFailureError) Unwrap() error { return e.Err }

// MatchInfo records where one match line sits in the archive.
type MatchInfo struct {
	ByteOffset int64 // decompressed-stream offset of the line
	MatchID    string
	Events     int
	TimeMin    float64
	TimeMax    float64
}

// Checkpoint is a (position, snapshot) pair: the entity state after the
// first Event events of a match, gzip-compressed, ready to seed a fresh
// reconstructor without replaying from the match start.
type Checkpoint struct {
	Match    int
	Event    int // events applied before this checkpoint
	Time     float64
	Snapshot []byte
}

// Segment summarizes one checkpoint interval: which event range it
// covers, its time span, and the packet kinds and entities seen inside.
// Queries use segments to skip whole spans without decoding them.
type Segment struct {
	Match      int
	StartEvent int // inclusive
	EndEvent   int // exclusive
	TimeMin    float64
	TimeMax    float64
	Kinds      []string
	Entities   []int64
}

// Index is the side table for one archive. Built once per archive in a
// single forward pass; the checkpoint interval is recorded so consumers
// can reconstruct the exact granularity.
type Index struct {
	Source             string
	CheckpointInterval int
	BuiltAt            time.Time
	Matches            []MatchInfo
	Checkpoints        []Checkpoint
	Segments           []Segment

	built bool
}

// Built reports whether the build pass completed.
func (ix *Index) Built() bool { return ix.built }

// BuildOptions tune an index build.
type BuildOptions struct {
	// CheckpointInterval is the number of events between checkpoints;
	// 0 means DefaultCheckpointInterval.
	CheckpointInterval int
	// Strict aborts the build on the first malformed packet instead of
	// skipping it.
	Strict bool
}

// Build scans one archive front to back, recording per-match offsets,
// periodic state checkpoints, and segment summaries. On a corrupt
// archive the partial index is returned together with a
// DecodeFailureError.
func Build(path string, opts BuildOptions) (*Index, error) {
	interval := opts.CheckpointInterval
	if interval <= 0 {
		interval = DefaultCheckpointInterval
	}
	ix := &Index{
		Source:             path,
		CheckpointInterval: interval,
		BuiltAt:            time.Now().UTC(),
	}

	r, err := archive.Open(path)
	if err != nil {
		return ix, &DecodeFailureError{Path: path, Err: err}
	}
	defer r.Close()

	for {
		offset := r.Offset()
		line, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return ix, &DecodeFailureError{Path: path, Match: len(ix.Matches), Err: err}
		}
		if err := ix.indexMatch(line, offset, packet.Options{Strict: opts.Strict}); err != nil {
			return ix, &DecodeFailureError{Path: path, Match: len(ix.Matches), Err: err}
		}
	}

	ix.built = true
	return ix, nil
}

// indexMatch folds one match line into the index.
func (ix *Index) indexMatch(line []byte, offset int64, opts packet.Options) error {
	matchIdx := len(ix.Matches)
	dec := packet.NewDecoder(bytes.NewReader(line), opts)
	rec := state.New()

	info := MatchInfo{ByteOffset: offset}
	var seg *segmentBuilder
	count := 0

	// Initial checkpoint: empty state before any event, so seeding at
	// any time has a starting point.
	if err := ix.checkpoint(matchIdx, 0, rec); err != nil {
		return err
	}

	for {
		ev, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if err := rec.Apply(ev); err != nil {
			return err
		}

		if count == 0 {
			info.TimeMin = ev.Time
		}
		info.TimeMax = ev.Time
		if seg == nil {
			seg = newSegmentBuilder(matchIdx, count)
		}
		seg.add(ev)
		count++

		if count%ix.CheckpointInterval == 0 {
			ix.Segments = append(ix.Segments, seg.finish(count))
			seg = nil
			if err := ix.checkpoint(matchIdx, count, rec); err != nil {
				return err
			}
		}
	}
	if seg != nil {
		ix.Segments = append(ix.Segments, seg.finish(count))
	}

	info.MatchID = dec.MatchID()
	info.Events = count
	ix.Matches = append(ix.Matches, info)
	return nil
}

// checkpoint records the reconstructor's current state.
func (ix *Index) checkpoint(matchIdx, event int, rec *state.Reconstructor) error {
	snap, err := rec.Snapshot().Marshal()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(snap); err != nil {
		return fmt.Errorf("compress snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("compress snapshot: %w", err)
	}
	ix.Checkpoints = append(ix.Checkpoints, Checkpoint{
		Match:    matchIdx,
		Event:    event,
		Time:     rec.LastTime(),
		Snapshot: buf.Bytes(),
	})
	metrics.CheckpointsWritten.Inc()
	return nil
}

// CheckpointBefore returns the latest checkpoint of a match whose time
// does not exceed t, or nil when the match has none (never indexed).
func (ix *Index) CheckpointBefore(matchIdx int, t float64) *Checkpoint {
	var best *Checkpoint
	for i := range ix.Checkpoints {
		cp := &ix.Checkpoints[i]
		if cp.Match != matchIdx || cp.Time > t {
			continue
		}
		if best == nil || cp.Event > best.Event {
			best = cp
		}
	}
	return best
}

// SeedReconstructor restores a reconstructor from the latest checkpoint
// at or before t. It returns the reconstructor and the index of the
// next event to apply.
func (ix *Index) SeedReconstructor(matchIdx int, t float64) (*state.Reconstructor, int, error) {
	if !ix.built {
		return nil, 0, ErrIndexNotBuilt
	}
	cp := ix.CheckpointBefore(matchIdx, t)
	if cp == nil {
		return state.New(), 0, nil
	}
	snap, err := decompressSnapshot(cp.Snapshot)
	if err != nil {
		return nil, 0, err
	}
	return state.FromSnapshot(snap), cp.Event, nil
}

func decompressSnapshot(blob []byte) (*state.Snapshot, error) {
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	data, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	return state.UnmarshalSnapshot(data)
}

// segmentBuilder accumulates one segment's summary.
type segmentBuilder struct {
	match    int
	start    int
	timeMin  float64
	timeMax  float64
	first    bool
	kinds    map[string]bool
	entities map[int64]bool
}

func newSegmentBuilder(match, start int) *segmentBuilder {
	return &segmentBuilder{
		match:    match,
		start:    start,
		first:    true,
		kinds:    make(map[string]bool),
		entities: make(map[int64]bool),
	}
}

func (b *segmentBuilder) add(ev *packet.Event) {
	if b.first {
		b.timeMin = ev.Time
		b.first = false
	}
	b.timeMax = ev.Time
	b.kinds[string(ev.Kind)] = true
	for _, id := range ev.EntityIDs() {
		b.entities[id] = true
	}
}

func (b *segmentBuilder) finish(end int) Segment {
	kinds := make([]string, 0, len(b.kinds))
	for k := range b.kinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	entities := make([]int64, 0, len(b.entities))
	for id := range b.entities {
		entities = append(entities, id)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i] < entities[j] })
	return Segment{
		Match:      b.match,
		StartEvent: b.start,
		EndEvent:   end,
		TimeMin:    b.timeMin,
		TimeMax:    b.timeMax,
		Kinds:      kinds,
		Entities:   entities,
	}
}
