package packet

import (
	"bytes"
	"fmt"
)

// EncodeEvent re-serializes one event to its wire form {"<Tag>": payload}.
// The payload bytes are emitted exactly as decoded, so a decode/encode
// round trip loses no fields, known kind or not.
func EncodeEvent(ev *Event) ([]byte, error) {
	if len(ev.Raw) == 0 {
		return nil, fmt.Errorf("event %d (%s) has no raw payload", ev.Index, ev.Tag)
	}
	var buf bytes.Buffer
	buf.Grow(len(ev.Tag) + len(ev.Raw) + 4)
	buf.WriteByte('{')
	buf.WriteByte('"')
	buf.WriteString(ev.Tag)
	buf.WriteString(`":`)
	buf.Write(ev.Raw)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// EncodeMatch re-serializes a match to one JSONL line (without the
// trailing newline).
func EncodeMatch(m *Match) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"events":[`)
	for i := range m.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		ev, err := EncodeEvent(&m.Events[i])
		if err != nil {
			return nil, err
		}
		buf.Write(ev)
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}
