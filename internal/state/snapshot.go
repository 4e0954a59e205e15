package state

import (
	"encoding/json"
	"fmt"
)

// Snapshot is an immutable point-in-time view of the entity state table.
// Checkpoints in the trajectory index serialize snapshots so random time
// access never replays a match from the start.
type Snapshot struct {
	Time     float64           `json:"time"`
	Applied  int               `json:"applied"`
	Entities map[int64]*Entity `json:"entities"`
}

// Entity looks up one entity by net id.
func (s *Snapshot) Entity(id int64) (*Entity, bool) {
	ent, ok := s.Entities[id]
	return ent, ok
}

// Len returns the number of tracked entities.
func (s *Snapshot) Len() int { return len(s.Entities) }

// Marshal serializes the snapshot for checkpoint storage.
func (s *Snapshot) Marshal() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

// UnmarshalSnapshot restores a snapshot serialized with Marshal.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if s.Entities == nil {
		s.Entities = make(map[int64]*Entity)
	}
	return &s, nil
}
