package packet

import (
	"errors"
	"fmt"
)

// MalformedPacketError reports a packet that failed shape validation:
// a missing required field, a field of the wrong type, or a timestamp
// regression. In lenient mode the decoder skips the packet and counts it;
// in strict mode the error aborts the whole match.
type MalformedPacketError struct {
	Kind   Kind
	Index  int // position within the events array
	Reason string
	Err    error
}

func (e *MalformedPacketError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed %s packet at index %d: %s: %v", e.Kind, e.Index, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed %s packet at index %d: %s", e.Kind, e.Index, e.Reason)
}

func (e *MalformedPacketError) Unwrap() error { return e.Err }

// IsMalformed reports whether err is (or wraps) a MalformedPacketError.
func IsMalformed(err error) bool {
	var m *MalformedPacketError
	return errors.As(err, &m)
}
