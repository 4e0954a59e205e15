package packet

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// AttrValue is a decoded replication value. The dataset wraps every value
// in a single-key object naming its type (e.g. {"Float": 1516.61}).
// Numeric wrappers get a canonical float64 view; anything else is kept
// raw so unrecognized wrapper types survive a round trip.
type AttrValue struct {
	Type   string
	Number float64
	Bool   bool
	Raw    json.RawMessage
}

// numericWrappers are the value-type tags that decode to a float64 view.
var numericWrappers = map[string]bool{
	"Float":  true,
	"F32":    true,
	"Double": true,
	"Int":    true,
	"Int32":  true,
	"Int64":  true,
	"Uint":   true,
	"UInt":   true,
	"Byte":   true,
	"Short":  true,
}

// IsNumeric reports whether the value carries a canonical numeric view.
func (v AttrValue) IsNumeric() bool {
	return numericWrappers[v.Type]
}

// Float returns the numeric view, or 0 for non-numeric wrappers.
func (v AttrValue) Float() float64 {
	return v.Number
}

// Value decodes the single-key data wrapper into an AttrValue.
func (d *ReplicationData) Value() (AttrValue, error) {
	if len(d.Data) == 0 {
		return AttrValue{}, fmt.Errorf("replication data has no value")
	}
	if len(d.Data) > 1 {
		return AttrValue{}, fmt.Errorf("replication data has %d values, want 1", len(d.Data))
	}
	for wrapper, raw := range d.Data {
		v := AttrValue{Type: wrapper, Raw: raw}
		switch {
		case numericWrappers[wrapper]:
			n, err := parseNumber(raw)
			if err != nil {
				return AttrValue{}, fmt.Errorf("%s value: %w", wrapper, err)
			}
			v.Number = n
		case wrapper == "Bool":
			if err := json.Unmarshal(raw, &v.Bool); err != nil {
				return AttrValue{}, fmt.Errorf("Bool value: %w", err)
			}
		}
		return v, nil
	}
	return AttrValue{}, nil // unreachable
}

func parseNumber(raw json.RawMessage) (float64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(n.String(), 64)
}

// EntityIDs returns the net ids an event touches, in payload order.
// Used by the trajectory index to record per-segment entity sets.
func (e *Event) EntityIDs() []int64 {
	switch p := e.Payload.(type) {
	case *CreateHero:
		return []int64{p.NetID}
	case *HeroDie:
		return withKiller(p.NetID, p.KillerNetID)
	case *WaypointGroup:
		return moveIDs(p.Moves)
	case *WaypointGroupWithSpeed:
		return moveIDs(p.Moves)
	case *EnterFog:
		return []int64{p.NetID}
	case *LeaveFog:
		return []int64{p.NetID}
	case *UnitApplyDamage:
		return withKiller(p.TargetNetID, p.SourceNetID)
	case *DoSetCooldown:
		return []int64{p.NetID}
	case *BasicAttackPos:
		return withKiller(p.SourceNetID, p.TargetNetID)
	case *CastSpellAns:
		return []int64{p.CasterNetID}
	case *BarrackSpawnUnit:
		return withKiller(p.NetID, p.BarrackNetID)
	case *SpawnMinion:
		return []int64{p.NetID}
	case *CreateNeutral:
		return []int64{p.NetID}
	case *CreateTurret:
		return []int64{p.NetID}
	case *NPCDieMapView:
		return withKiller(p.NetID, p.KillerNetID)
	case *NPCDieMapViewBroadcast:
		return withKiller(p.NetID, p.KillerNetID)
	case *BuyItem:
		return []int64{p.NetID}
	case *RemoveItem:
		return []int64{p.NetID}
	case *SwapItem:
		return []int64{p.NetID}
	case *UseItem:
		return []int64{p.NetID}
	case *Replication:
		ids := make([]int64, 0, len(p.Entities))
		for key := range p.Entities {
			if id, err := strconv.ParseInt(key, 10, 64); err == nil {
				ids = append(ids, id)
			}
		}
		return ids
	}
	return nil
}

func withKiller(primary, secondary int64) []int64 {
	if secondary == 0 {
		return []int64{primary}
	}
	return []int64{primary, secondary}
}

func moveIDs(moves []UnitWaypoints) []int64 {
	ids := make([]int64, 0, len(moves))
	for _, m := range moves {
		ids = append(ids, m.NetID)
	}
	return ids
}
