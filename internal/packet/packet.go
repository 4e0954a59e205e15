package packet

import "encoding/json"

// Kind identifies one packet type in a replay event stream.
type Kind string

// The closed set of packet kinds emitted by the decoded replay dataset.
// Tags from future patches that are not in this set decode as unknown
// events so schema drift is visible instead of silently dropped.
const (
	KindCreateHero             Kind = "CreateHero"
	KindHeroDie                Kind = "HeroDie"
	KindWaypointGroup          Kind = "WaypointGroup"
	KindWaypointGroupWithSpeed Kind = "WaypointGroupWithSpeed"
	KindEnterFog               Kind = "EnterFog"
	KindLeaveFog               Kind = "LeaveFog"
	KindUnitApplyDamage        Kind = "UnitApplyDamage"
	KindDoSetCooldown          Kind = "DoSetCooldown"
	KindBasicAttackPos         Kind = "BasicAttackPos"
	KindCastSpellAns           Kind = "CastSpellAns"
	KindBarrackSpawnUnit       Kind = "BarrackSpawnUnit"
	KindSpawnMinion            Kind = "SpawnMinion"
	KindCreateNeutral          Kind = "CreateNeutral"
	KindCreateTurret           Kind = "CreateTurret"
	KindNPCDieMapView          Kind = "NPCDieMapView"
	KindNPCDieMapViewBroadcast Kind = "NPCDieMapViewBroadcast"
	KindBuyItem                Kind = "BuyItem"
	KindRemoveItem             Kind = "RemoveItem"
	KindSwapItem               Kind = "SwapItem"
	KindUseItem                Kind = "UseItem"
	KindReplication            Kind = "Replication"
)

// tagReplicationData is the alias tag some batches use for Replication.
const tagReplicationData = "ReplicationData"

// knownKinds is the closed union; membership drives decode dispatch.
var knownKinds = map[Kind]bool{
	KindCreateHero:             true,
	KindHeroDie:                true,
	KindWaypointGroup:          true,
	KindWaypointGroupWithSpeed: true,
	KindEnterFog:               true,
	KindLeaveFog:               true,
	KindUnitApplyDamage:        true,
	KindDoSetCooldown:          true,
	KindBasicAttackPos:         true,
	KindCastSpellAns:           true,
	KindBarrackSpawnUnit:       true,
	KindSpawnMinion:            true,
	KindCreateNeutral:          true,
	KindCreateTurret:           true,
	KindNPCDieMapView:          true,
	KindNPCDieMapViewBroadcast: true,
	KindBuyItem:                true,
	KindRemoveItem:             true,
	KindSwapItem:               true,
	KindUseItem:                true,
	KindReplication:            true,
}

// CanonicalKind maps a wire tag to its canonical kind. The second return
// is false for tags outside the closed union.
func CanonicalKind(tag string) (Kind, bool) {
	if tag == tagReplicationData {
		return KindReplication, true
	}
	k := Kind(tag)
	return k, knownKinds[k]
}

// Kinds returns the closed set of known packet kinds.
func Kinds() []Kind {
	out := make([]Kind, 0, len(knownKinds))
	for k := range knownKinds {
		out = append(out, k)
	}
	return out
}

// Event is one decoded packet. Raw holds the payload exactly as it
// appeared on the wire so re-encoding is byte-faithful; Payload is the
// typed view (nil for unknown kinds).
type Event struct {
	Kind    Kind
	Tag     string // wire tag, kept for re-encoding (e.g. "ReplicationData")
	Index   int    // position within the match's events array
	Time    float64
	Payload any
	Raw     json.RawMessage
}

// Known reports whether the event's kind belongs to the closed union.
func (e *Event) Known() bool {
	return knownKinds[e.Kind]
}

// Match is one fully decoded JSONL line: an ordered, immutable event
// sequence plus match-level metadata.
type Match struct {
	MatchID string
	Patch   string
	Events  []Event
}

// PacketCount returns the number of decoded events, unknown kinds included.
func (m *Match) PacketCount() int {
	return len(m.Events)
}

// Position is a 2D map coordinate. The game plane is x/z; y (height) is
// not present in the dataset.
type Position struct {
	X float64 `json:"x"`
	Z float64 `json:"z"`
}

// CreateHero announces a hero entity. champion may be absent in some
// batches; skin_name is the fallback identity.
type CreateHero struct {
	Time     float64   `json:"time"`
	NetID    int64     `json:"net_id"`
	Name     string    `json:"name,omitempty"`
	Champion string    `json:"champion,omitempty"`
	SkinName string    `json:"skin_name,omitempty"`
	Team     string    `json:"team,omitempty"`
	Position *Position `json:"position,omitempty"`
}

// HeroDie marks a hero dead. The entity keeps its last known attributes.
type HeroDie struct {
	Time        float64 `json:"time"`
	NetID       int64   `json:"net_id"`
	KillerNetID int64   `json:"killer_net_id,omitempty"`
}

// UnitWaypoints is one unit's path segment inside a waypoint group.
type UnitWaypoints struct {
	NetID     int64      `json:"net_id"`
	Speed     float64    `json:"speed,omitempty"`
	Waypoints []Position `json:"waypoints"`
}

// WaypointGroup carries movement paths for several units at once. These
// are interpolation hints, not authoritative position updates.
type WaypointGroup struct {
	Time  float64         `json:"time"`
	Moves []UnitWaypoints `json:"moves"`
}

// WaypointGroupWithSpeed is WaypointGroup with explicit per-unit speed.
type WaypointGroupWithSpeed struct {
	Time  float64         `json:"time"`
	Moves []UnitWaypoints `json:"moves"`
}

// EnterFog hides an entity from view.
type EnterFog struct {
	Time  float64 `json:"time"`
	NetID int64   `json:"net_id"`
}

// LeaveFog reveals an entity.
type LeaveFog struct {
	Time  float64 `json:"time"`
	NetID int64   `json:"net_id"`
}

// UnitApplyDamage records one damage instance between two entities.
type UnitApplyDamage struct {
	Time        float64 `json:"time"`
	SourceNetID int64   `json:"source_net_id"`
	TargetNetID int64   `json:"target_net_id"`
	Damage      float64 `json:"damage"`
}

// DoSetCooldown sets a spell slot cooldown on an entity.
type DoSetCooldown struct {
	Time        float64 `json:"time"`
	NetID       int64   `json:"net_id"`
	Slot        int     `json:"slot"`
	Cooldown    float64 `json:"cooldown"`
	MaxCooldown float64 `json:"max_cooldown,omitempty"`
}

// BasicAttackPos is an auto attack with the attacker's map position.
type BasicAttackPos struct {
	Time        float64   `json:"time"`
	SourceNetID int64     `json:"source_net_id"`
	TargetNetID int64     `json:"target_net_id,omitempty"`
	Position    *Position `json:"position,omitempty"`
}

// CastSpellAns is a resolved spell cast.
type CastSpellAns struct {
	Time           float64   `json:"time"`
	CasterNetID    int64     `json:"caster_net_id"`
	SpellName      string    `json:"spell_name,omitempty"`
	Level          int       `json:"level,omitempty"`
	Position       *Position `json:"position,omitempty"`
	TargetPosition *Position `json:"target_position,omitempty"`
}

// BarrackSpawnUnit spawns a lane minion from a barrack.
type BarrackSpawnUnit struct {
	Time         float64 `json:"time"`
	NetID        int64   `json:"net_id"`
	BarrackNetID int64   `json:"barrack_net_id,omitempty"`
	UnitType     string  `json:"unit_type,omitempty"`
}

// SpawnMinion spawns a non-lane minion (wards, clones, pets).
type SpawnMinion struct {
	Time       float64   `json:"time"`
	NetID      int64     `json:"net_id"`
	MinionType string    `json:"minion_type,omitempty"`
	Position   *Position `json:"position,omitempty"`
}

// CreateNeutral announces a jungle monster.
type CreateNeutral struct {
	Time     float64   `json:"time"`
	NetID    int64     `json:"net_id"`
	Name     string    `json:"name,omitempty"`
	Position *Position `json:"position,omitempty"`
}

// CreateTurret announces a turret.
type CreateTurret struct {
	Time     float64   `json:"time"`
	NetID    int64     `json:"net_id"`
	Name     string    `json:"name,omitempty"`
	Position *Position `json:"position,omitempty"`
}

// NPCDieMapView marks a non-hero entity dead.
type NPCDieMapView struct {
	Time        float64 `json:"time"`
	NetID       int64   `json:"net_id"`
	KillerNetID int64   `json:"killer_net_id,omitempty"`
}

// NPCDieMapViewBroadcast is the broadcast variant of NPCDieMapView.
type NPCDieMapViewBroadcast struct {
	Time        float64 `json:"time"`
	NetID       int64   `json:"net_id"`
	KillerNetID int64   `json:"killer_net_id,omitempty"`
}

// BuyItem places an item in an inventory slot.
type BuyItem struct {
	Time   float64 `json:"time"`
	NetID  int64   `json:"net_id"`
	ItemID int64   `json:"item_id"`
	Slot   int     `json:"slot"`
}

// RemoveItem clears an inventory slot.
type RemoveItem struct {
	Time  float64 `json:"time"`
	NetID int64   `json:"net_id"`
	Slot  int     `json:"slot"`
}

// SwapItem exchanges two inventory slots.
type SwapItem struct {
	Time     float64 `json:"time"`
	NetID    int64   `json:"net_id"`
	FromSlot int     `json:"from_slot"`
	ToSlot   int     `json:"to_slot"`
}

// UseItem activates the item in a slot.
type UseItem struct {
	Time  float64 `json:"time"`
	NetID int64   `json:"net_id"`
	Slot  int     `json:"slot"`
}

// Replication is the incremental state-sync packet: sparse attribute
// deltas for one or more entities, keyed by net id. A delta never carries
// its own timestamp; it refers to the enclosing event's time.
type Replication struct {
	Time     float64                    `json:"time"`
	Entities map[string]ReplicationData `json:"net_id_to_replication_datas"`
}

// ReplicationData is one entity's delta. name may be empty, in which case
// (primary_index, secondary_index) identifies the attribute.
type ReplicationData struct {
	PrimaryIndex   int                        `json:"primary_index"`
	SecondaryIndex int                        `json:"secondary_index"`
	Name           string                     `json:"name,omitempty"`
	Data           map[string]json.RawMessage `json:"data"`
}
