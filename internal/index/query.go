package index

import (
	"bytes"
	"io"

	"replay-gym/internal/archive"
	"replay-gym/internal/packet"
)

// Filter narrows a query. Zero values are wildcards: no matches listed
// means all matches, TimeMax 0 means unbounded, EntityID 0 means any
// entity, nil Kinds means any kind.
type Filter struct {
	Matches  []int
	TimeMin  float64
	TimeMax  float64
	EntityID int64
	Kinds    []packet.Kind
}

func (f *Filter) wantsMatch(idx int) bool {
	if len(f.Matches) == 0 {
		return true
	}
	for _, m := range f.Matches {
		if m == idx {
			return true
		}
	}
	return false
}

func (f *Filter) wantsSegment(seg *Segment) bool {
	if seg.TimeMax < f.TimeMin {
		return false
	}
	if f.TimeMax > 0 && seg.TimeMin > f.TimeMax {
		return false
	}
	if len(f.Kinds) > 0 && !overlapKinds(f.Kinds, seg.Kinds) {
		return false
	}
	if f.EntityID != 0 && !containsID(seg.Entities, f.EntityID) {
		return false
	}
	return true
}

func (f *Filter) wantsEvent(ev *packet.Event) bool {
	if ev.Time < f.TimeMin {
		return false
	}
	if f.TimeMax > 0 && ev.Time > f.TimeMax {
		return false
	}
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if ev.Kind == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.EntityID != 0 {
		found := false
		for _, id := range ev.EntityIDs() {
			if id == f.EntityID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func overlapKinds(want []packet.Kind, have []string) bool {
	for _, w := range want {
		for _, h := range have {
			if string(w) == h {
				return true
			}
		}
	}
	return false
}

func containsID(sorted []int64, id int64) bool {
	lo, hi := 0, len(sorted)
	for lo < hi {
		mid := (lo + hi) / 2
		if sorted[mid] < id {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo < len(sorted) && sorted[lo] == id
}

// Entry pairs a matching event with the latest checkpoint preceding it,
// so a caller can seed a reconstructor and replay forward from there.
type Entry struct {
	Match      int
	Checkpoint *Checkpoint
	Event      *packet.Event
}

// Query returns a lazy cursor over events matching the filter, in
// archive order. Segments whose summaries cannot match are skipped
// without decoding; matches with no candidate segments are skipped
// without parsing their lines at all.
func (ix *Index) Query(filter Filter) (*Cursor, error) {
	if !ix.built {
		return nil, ErrIndexNotBuilt
	}
	r, err := archive.Open(ix.Source)
	if err != nil {
		return nil, err
	}
	return &Cursor{ix: ix, filter: filter, reader: r, match: -1}, nil
}

// Cursor walks query results one entry at a time. It holds the archive
// open until Close; Next returns io.EOF when the results are exhausted.
type Cursor struct {
	ix     *Index
	filter Filter
	reader *archive.Reader

	match    int
	dec      *packet.Decoder
	segs     []*Segment // candidate segments of the current match
	segPos   int
	eventIdx int
	done     bool
}

// Next returns the next matching entry, or io.EOF.
func (c *Cursor) Next() (*Entry, error) {
	if c.done {
		return nil, io.EOF
	}
	for {
		if c.dec == nil {
			if err := c.nextMatch(); err != nil {
				if err == io.EOF {
					c.done = true
				}
				return nil, err
			}
		}
		ev, err := c.dec.Next()
		if err == io.EOF {
			c.dec = nil
			continue
		}
		if err != nil {
			return nil, err
		}
		idx := c.eventIdx
		c.eventIdx++

		seg := c.currentSegment(idx)
		if seg == nil {
			// Past the last candidate segment: drain the rest of the
			// line and move on.
			if c.segPos >= len(c.segs) {
				c.dec = nil
			}
			continue
		}
		if !c.filter.wantsEvent(ev) {
			continue
		}
		return &Entry{
			Match:      c.match,
			Checkpoint: c.ix.checkpointAtEvent(c.match, idx),
			Event:      ev,
		}, nil
	}
}

// nextMatch advances the reader to the next match with candidate
// segments and starts a decoder over its line.
func (c *Cursor) nextMatch() error {
	for {
		line, err := c.reader.Next()
		if err != nil {
			return err
		}
		c.match++
		if c.match >= len(c.ix.Matches) {
			return io.EOF
		}
		if !c.filter.wantsMatch(c.match) {
			continue
		}
		segs := c.ix.candidateSegments(c.match, &c.filter)
		if len(segs) == 0 {
			continue
		}
		c.segs = segs
		c.segPos = 0
		c.eventIdx = 0
		c.dec = packet.NewDecoder(bytes.NewReader(line), packet.Options{})
		return nil
	}
}

// currentSegment returns the candidate segment covering event idx, nil
// when idx falls in a skipped span.
func (c *Cursor) currentSegment(idx int) *Segment {
	for c.segPos < len(c.segs) && idx >= c.segs[c.segPos].EndEvent {
		c.segPos++
	}
	if c.segPos < len(c.segs) {
		seg := c.segs[c.segPos]
		if idx >= seg.StartEvent {
			return seg
		}
	}
	return nil
}

// Close releases the underlying archive reader.
func (c *Cursor) Close() error {
	c.done = true
	return c.reader.Close()
}

func (ix *Index) candidateSegments(matchIdx int, filter *Filter) []*Segment {
	var segs []*Segment
	for i := range ix.Segments {
		seg := &ix.Segments[i]
		if seg.Match != matchIdx || !filter.wantsSegment(seg) {
			continue
		}
		segs = append(segs, seg)
	}
	return segs
}

// checkpointAtEvent returns the latest checkpoint at or before event
// idx of a match.
func (ix *Index) checkpointAtEvent(matchIdx, idx int) *Checkpoint {
	var best *Checkpoint
	for i := range ix.Checkpoints {
		cp := &ix.Checkpoints[i]
		if cp.Match != matchIdx || cp.Event > idx {
			continue
		}
		if best == nil || cp.Event > best.Event {
			best = cp
		}
	}
	return best
}
