package state

import (
	"errors"
	"fmt"
	"strconv"

	"replay-gym/internal/packet"
)

// ErrOutOfOrderQuery reports a snapshot request for a time earlier than
// the last applied event. The reconstructor is a strictly forward fold;
// callers needing random time access seed a fresh reconstructor from a
// trajectory-index checkpoint instead.
var ErrOutOfOrderQuery = errors.New("snapshot time precedes last applied event")

// EntityKind classifies a reconstructed entity.
type EntityKind string

const (
	EntityHero    EntityKind = "hero"
	EntityMinion  EntityKind = "minion"
	EntityTurret  EntityKind = "turret"
	EntityNeutral EntityKind = "neutral"
	EntityUnknown EntityKind = "unknown"
)

// ItemSlot is one occupied inventory slot.
type ItemSlot struct {
	ItemID int64 `json:"item_id"`
	Uses   int   `json:"uses,omitempty"`
}

// Entity is the latest known state of one game entity. Dead entities are
// retained (Alive=false) so historical queries still resolve.
type Entity struct {
	NetID    int64      `json:"net_id"`
	Kind     EntityKind `json:"kind"`
	Name     string     `json:"name,omitempty"`
	Champion string     `json:"champion,omitempty"`
	SkinName string     `json:"skin_name,omitempty"`
	Team     string     `json:"team,omitempty"`
	Alive    bool       `json:"alive"`
	Visible  bool       `json:"visible"`

	// Position is the last authoritative map position (creation, casts,
	// attacks). Waypoints are interpolation hints from waypoint groups
	// and deliberately do not feed Position.
	Position  *packet.Position  `json:"position,omitempty"`
	Waypoints []packet.Position `json:"waypoints,omitempty"`
	Speed     float64           `json:"speed,omitempty"`

	Attributes map[string]packet.AttrValue `json:"attributes,omitempty"`
	Inventory  map[int]ItemSlot            `json:"inventory,omitempty"`
	Cooldowns  map[int]float64             `json:"cooldowns,omitempty"`
}

// Attribute returns the canonical numeric view of one attribute.
func (e *Entity) Attribute(name string) (float64, bool) {
	v, ok := e.Attributes[name]
	if !ok || !v.IsNumeric() {
		return 0, false
	}
	return v.Float(), true
}

// Reconstructor folds a match's events, in arrival order, into a running
// entity state table. It is strictly sequential and must not be shared
// across goroutines; matches are independent, so parallelism belongs one
// level up (one reconstructor per match).
type Reconstructor struct {
	entities map[int64]*Entity
	lastTime float64
	applied  int
}

// New returns an empty reconstructor.
func New() *Reconstructor {
	return &Reconstructor{entities: make(map[int64]*Entity)}
}

// FromSnapshot restores a reconstructor from a checkpoint snapshot. The
// snapshot is deep-copied, so the source stays immutable.
func FromSnapshot(s *Snapshot) *Reconstructor {
	r := &Reconstructor{
		entities: make(map[int64]*Entity, len(s.Entities)),
		lastTime: s.Time,
		applied:  s.Applied,
	}
	for id, ent := range s.Entities {
		r.entities[id] = cloneEntity(ent)
	}
	return r
}

// LastTime returns the timestamp of the most recently applied event.
func (r *Reconstructor) LastTime() float64 { return r.lastTime }

// Applied returns how many events have been folded in.
func (r *Reconstructor) Applied() int { return r.applied }

// Apply folds one event into the state. Events must arrive in decode
// order; identical timestamps keep arrival order. Unknown packet kinds
// are a no-op (they carry no decodable state).
func (r *Reconstructor) Apply(ev *packet.Event) error {
	if ev.Payload == nil {
		return nil
	}
	switch p := ev.Payload.(type) {
	case *packet.CreateHero:
		ent := r.ensure(p.NetID, EntityHero)
		ent.Kind = EntityHero
		ent.Name = p.Name
		ent.Champion = p.Champion
		ent.SkinName = p.SkinName
		ent.Team = p.Team
		ent.Alive = true
		if p.Position != nil {
			ent.Position = clonePosition(p.Position)
		}
	case *packet.CreateNeutral:
		ent := r.ensure(p.NetID, EntityNeutral)
		ent.Kind = EntityNeutral
		ent.Name = p.Name
		ent.Alive = true
		if p.Position != nil {
			ent.Position = clonePosition(p.Position)
		}
	case *packet.CreateTurret:
		ent := r.ensure(p.NetID, EntityTurret)
		ent.Kind = EntityTurret
		ent.Name = p.Name
		ent.Alive = true
		if p.Position != nil {
			ent.Position = clonePosition(p.Position)
		}
	case *packet.SpawnMinion:
		ent := r.ensure(p.NetID, EntityMinion)
		ent.Kind = EntityMinion
		ent.Name = p.MinionType
		ent.Alive = true
		if p.Position != nil {
			ent.Position = clonePosition(p.Position)
		}
	case *packet.BarrackSpawnUnit:
		ent := r.ensure(p.NetID, EntityMinion)
		ent.Kind = EntityMinion
		ent.Name = p.UnitType
		ent.Alive = true
	case *packet.HeroDie:
		r.ensure(p.NetID, EntityHero).Alive = false
	case *packet.NPCDieMapView:
		r.ensure(p.NetID, EntityUnknown).Alive = false
	case *packet.NPCDieMapViewBroadcast:
		r.ensure(p.NetID, EntityUnknown).Alive = false
	case *packet.EnterFog:
		r.ensure(p.NetID, EntityUnknown).Visible = false
	case *packet.LeaveFog:
		r.ensure(p.NetID, EntityUnknown).Visible = true
	case *packet.WaypointGroup:
		for _, move := range p.Moves {
			ent := r.ensure(move.NetID, EntityUnknown)
			ent.Waypoints = append(ent.Waypoints[:0:0], move.Waypoints...)
		}
	case *packet.WaypointGroupWithSpeed:
		for _, move := range p.Moves {
			ent := r.ensure(move.NetID, EntityUnknown)
			ent.Waypoints = append(ent.Waypoints[:0:0], move.Waypoints...)
			ent.Speed = move.Speed
		}
	case *packet.CastSpellAns:
		ent := r.ensure(p.CasterNetID, EntityUnknown)
		if p.Position != nil {
			ent.Position = clonePosition(p.Position)
		}
	case *packet.BasicAttackPos:
		ent := r.ensure(p.SourceNetID, EntityUnknown)
		if p.Position != nil {
			ent.Position = clonePosition(p.Position)
		}
	case *packet.UnitApplyDamage:
		// Health changes arrive through Replication; the damage event
		// only guarantees both entities exist.
		r.ensure(p.SourceNetID, EntityUnknown)
		r.ensure(p.TargetNetID, EntityUnknown)
	case *packet.DoSetCooldown:
		ent := r.ensure(p.NetID, EntityUnknown)
		if ent.Cooldowns == nil {
			ent.Cooldowns = make(map[int]float64)
		}
		ent.Cooldowns[p.Slot] = p.Cooldown
	case *packet.BuyItem:
		ent := r.ensure(p.NetID, EntityUnknown)
		if ent.Inventory == nil {
			ent.Inventory = make(map[int]ItemSlot)
		}
		ent.Inventory[p.Slot] = ItemSlot{ItemID: p.ItemID}
	case *packet.RemoveItem:
		delete(r.ensure(p.NetID, EntityUnknown).Inventory, p.Slot)
	case *packet.SwapItem:
		ent := r.ensure(p.NetID, EntityUnknown)
		if ent.Inventory != nil {
			from, hasFrom := ent.Inventory[p.FromSlot]
			to, hasTo := ent.Inventory[p.ToSlot]
			if hasFrom {
				ent.Inventory[p.ToSlot] = from
			} else {
				delete(ent.Inventory, p.ToSlot)
			}
			if hasTo {
				ent.Inventory[p.FromSlot] = to
			} else {
				delete(ent.Inventory, p.FromSlot)
			}
		}
	case *packet.UseItem:
		ent := r.ensure(p.NetID, EntityUnknown)
		if slot, ok := ent.Inventory[p.Slot]; ok {
			slot.Uses++
			ent.Inventory[p.Slot] = slot
		}
	case *packet.Replication:
		if err := r.applyReplication(p); err != nil {
			return err
		}
	default:
		return fmt.Errorf("no state rule for packet kind %s", ev.Kind)
	}
	if ev.Time > r.lastTime {
		r.lastTime = ev.Time
	}
	r.applied++
	return nil
}

// applyReplication merges sparse attribute deltas. Each triple
// overwrites only its own attribute (last write wins); everything else
// on the entity is untouched.
func (r *Reconstructor) applyReplication(p *packet.Replication) error {
	for idStr, entry := range p.Entities {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return fmt.Errorf("replication entity id %q: %w", idStr, err)
		}
		val, err := entry.Value()
		if err != nil {
			return fmt.Errorf("replication entity %d: %w", id, err)
		}
		name := AttributeName(entry.Name, entry.PrimaryIndex, entry.SecondaryIndex)
		ent := r.ensure(id, EntityUnknown)
		if ent.Attributes == nil {
			ent.Attributes = make(map[string]packet.AttrValue)
		}
		ent.Attributes[name] = val
	}
	return nil
}

// ensure returns the entity record for id, creating a stub when a delta
// references an entity whose creation packet was never seen.
func (r *Reconstructor) ensure(id int64, kind EntityKind) *Entity {
	if ent, ok := r.entities[id]; ok {
		return ent
	}
	ent := &Entity{NetID: id, Kind: kind, Alive: true, Visible: true}
	r.entities[id] = ent
	return ent
}

// SnapshotAt returns a deep copy of the state as of time t. t must not
// precede the last applied event; t equal to the last event's time
// includes that event. Before any event has been applied, every t is
// valid and snapshots to empty state.
func (r *Reconstructor) SnapshotAt(t float64) (*Snapshot, error) {
	if r.applied > 0 && t < r.lastTime {
		return nil, fmt.Errorf("%w: t=%v, last applied t=%v", ErrOutOfOrderQuery, t, r.lastTime)
	}
	snap := r.Snapshot()
	snap.Time = t
	return snap, nil
}

// Snapshot returns a deep copy of the current state at the last applied
// event's time.
func (r *Reconstructor) Snapshot() *Snapshot {
	entities := make(map[int64]*Entity, len(r.entities))
	for id, ent := range r.entities {
		entities[id] = cloneEntity(ent)
	}
	return &Snapshot{Time: r.lastTime, Applied: r.applied, Entities: entities}
}

func clonePosition(p *packet.Position) *packet.Position {
	c := *p
	return &c
}

func cloneEntity(ent *Entity) *Entity {
	c := *ent
	if ent.Position != nil {
		c.Position = clonePosition(ent.Position)
	}
	if ent.Waypoints != nil {
		c.Waypoints = append([]packet.Position(nil), ent.Waypoints...)
	}
	if ent.Attributes != nil {
		c.Attributes = make(map[string]packet.AttrValue, len(ent.Attributes))
		for k, v := range ent.Attributes {
			c.Attributes[k] = v
		}
	}
	if ent.Inventory != nil {
		c.Inventory = make(map[int]ItemSlot, len(ent.Inventory))
		for k, v := range ent.Inventory {
			c.Inventory[k] = v
		}
	}
	if ent.Cooldowns != nil {
		c.Cooldowns = make(map[int]float64, len(ent.Cooldowns))
		for k, v := range ent.Cooldowns {
			c.Cooldowns[k] = v
		}
	}
	return &c
}
