package packet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Options control decode behavior for one match record.
type Options struct {
	// Strict aborts the whole match on the first malformed packet.
	// The default (lenient) policy skips the packet and counts it.
	Strict bool
}

// Stats counts decode outcomes for one match record.
type Stats struct {
	Events    int            // events emitted, unknown kinds included
	Malformed int            // packets skipped in lenient mode
	Unknown   map[string]int // occurrences per unrecognized wire tag
}

func (s *Stats) addUnknown(tag string) {
	if s.Unknown == nil {
		s.Unknown = make(map[string]int)
	}
	s.Unknown[tag]++
}

// Merge folds other into s. Used by consumers aggregating per-archive
// quality counts.
func (s *Stats) Merge(other Stats) {
	s.Events += other.Events
	s.Malformed += other.Malformed
	for tag, n := range other.Unknown {
		if s.Unknown == nil {
			s.Unknown = make(map[string]int)
		}
		s.Unknown[tag] += n
	}
}

// Decoder streams typed events out of one raw match record, in input
// order. It holds no cross-event state beyond the running timestamp used
// for monotonic-order validation. The sequence is finite and lazy;
// create a new Decoder over the same bytes to restart it.
type Decoder struct {
	dec      *json.Decoder
	opts     Options
	stats    Stats
	matchID  string
	patch    string
	lastTime float64
	index    int
	inEvents bool
	done     bool
}

// NewDecoder prepares a decoder over one JSONL match record.
func NewDecoder(r io.Reader, opts Options) *Decoder {
	return &Decoder{dec: json.NewDecoder(r), opts: opts}
}

// Next returns the next event, or io.EOF when the record is exhausted.
// Malformed packets surface as *MalformedPacketError in strict mode and
// are skipped (and counted) otherwise.
func (d *Decoder) Next() (*Event, error) {
	for {
		if d.done {
			return nil, io.EOF
		}
		if !d.inEvents {
			if err := d.advance(); err != nil {
				return nil, err
			}
			continue
		}
		if !d.dec.More() {
			if _, err := d.dec.Token(); err != nil { // consume ']'
				return nil, fmt.Errorf("events array: %w", err)
			}
			d.inEvents = false
			continue
		}
		var raw json.RawMessage
		if err := d.dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("event %d: %w", d.index, err)
		}
		ev, err := d.parseEvent(raw)
		d.index++
		if err != nil {
			if d.opts.Strict {
				return nil, err
			}
			d.stats.Malformed++
			continue
		}
		d.stats.Events++
		return ev, nil
	}
}

// Stats returns the counts accumulated so far.
func (d *Decoder) Stats() Stats { return d.stats }

// MatchID returns the match id if the record carried one.
func (d *Decoder) MatchID() string { return d.matchID }

// advance walks top-level tokens of the match object until the events
// array opens or the record ends.
func (d *Decoder) advance() error {
	tok, err := d.dec.Token()
	if err != nil {
		if err == io.EOF {
			d.done = true
			return nil
		}
		return fmt.Errorf("match record: %w", err)
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
		case '}':
			d.done = true
		default:
			return fmt.Errorf("match record: unexpected %v", t)
		}
	case string:
		switch t {
		case "events":
			open, err := d.dec.Token()
			if err != nil {
				return fmt.Errorf("events array: %w", err)
			}
			if delim, ok := open.(json.Delim); !ok || delim != '[' {
				return fmt.Errorf("events: expected array, got %v", open)
			}
			d.inEvents = true
		case "match_id", "game_id":
			var raw json.RawMessage
			if err := d.dec.Decode(&raw); err != nil {
				return fmt.Errorf("%s: %w", t, err)
			}
			d.matchID = stringField(raw)
		case "patch":
			var raw json.RawMessage
			if err := d.dec.Decode(&raw); err != nil {
				return fmt.Errorf("patch: %w", err)
			}
			d.patch = stringField(raw)
		default:
			var skip json.RawMessage
			if err := d.dec.Decode(&skip); err != nil {
				return fmt.Errorf("key %s: %w", t, err)
			}
		}
	default:
		return fmt.Errorf("match record: unexpected token %v", tok)
	}
	return nil
}

func (d *Decoder) parseEvent(raw json.RawMessage) (*Event, error) {
	idx := d.index
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(raw, &tagged); err != nil {
		return nil, &MalformedPacketError{Index: idx, Reason: "event is not an object", Err: err}
	}
	if len(tagged) != 1 {
		return nil, &MalformedPacketError{
			Index:  idx,
			Reason: fmt.Sprintf("event has %d keys, want a single packet tag", len(tagged)),
		}
	}
	var tag string
	var payload json.RawMessage
	for k, v := range tagged {
		tag, payload = k, v
	}

	kind, known := CanonicalKind(tag)
	ev := &Event{Kind: kind, Tag: tag, Index: idx, Raw: payload}
	if !known {
		// Unknown kinds are surfaced, counted, and excluded from the
		// monotonic-order check (their time is best-effort).
		d.stats.addUnknown(tag)
		ev.Time = probeTime(payload, d.lastTime)
		return ev, nil
	}

	typed, t, err := decodePayload(kind, payload)
	if err != nil {
		return nil, &MalformedPacketError{Kind: kind, Index: idx, Reason: "invalid payload", Err: err}
	}
	if t < d.lastTime {
		return nil, &MalformedPacketError{
			Kind:   kind,
			Index:  idx,
			Reason: fmt.Sprintf("time %v regresses below %v", t, d.lastTime),
		}
	}
	d.lastTime = t
	ev.Time = t
	ev.Payload = typed
	return ev, nil
}

// DecodeMatch decodes one raw match record eagerly. The returned Match is
// a read-only snapshot; callers must not mutate its events.
func DecodeMatch(line []byte, opts Options) (*Match, Stats, error) {
	d := NewDecoder(bytes.NewReader(line), opts)
	var events []Event
	for {
		ev, err := d.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, d.stats, err
		}
		events = append(events, *ev)
	}
	return &Match{MatchID: d.matchID, Patch: d.patch, Events: events}, d.stats, nil
}

// decodePayload unmarshals and validates one payload for a known kind,
// returning the typed payload and its timestamp.
func decodePayload(kind Kind, raw json.RawMessage) (any, float64, error) {
	switch kind {
	case KindCreateHero:
		var p CreateHero
		err := unmarshalPacket(raw, &p, "time", "net_id")
		return &p, p.Time, err
	case KindHeroDie:
		var p HeroDie
		err := unmarshalPacket(raw, &p, "time", "net_id")
		return &p, p.Time, err
	case KindWaypointGroup:
		var p WaypointGroup
		err := unmarshalPacket(raw, &p, "time")
		return &p, p.Time, err
	case KindWaypointGroupWithSpeed:
		var p WaypointGroupWithSpeed
		err := unmarshalPacket(raw, &p, "time")
		return &p, p.Time, err
	case KindEnterFog:
		var p EnterFog
		err := unmarshalPacket(raw, &p, "time", "net_id")
		return &p, p.Time, err
	case KindLeaveFog:
		var p LeaveFog
		err := unmarshalPacket(raw, &p, "time", "net_id")
		return &p, p.Time, err
	case KindUnitApplyDamage:
		var p UnitApplyDamage
		err := unmarshalPacket(raw, &p, "time", "source_net_id", "target_net_id", "damage")
		return &p, p.Time, err
	case KindDoSetCooldown:
		var p DoSetCooldown
		err := unmarshalPacket(raw, &p, "time", "net_id", "slot", "cooldown")
		return &p, p.Time, err
	case KindBasicAttackPos:
		var p BasicAttackPos
		err := unmarshalPacket(raw, &p, "time", "source_net_id")
		return &p, p.Time, err
	case KindCastSpellAns:
		var p CastSpellAns
		err := unmarshalPacket(raw, &p, "time", "caster_net_id")
		return &p, p.Time, err
	case KindBarrackSpawnUnit:
		var p BarrackSpawnUnit
		err := unmarshalPacket(raw, &p, "time", "net_id")
		return &p, p.Time, err
	case KindSpawnMinion:
		var p SpawnMinion
		err := unmarshalPacket(raw, &p, "time", "net_id")
		return &p, p.Time, err
	case KindCreateNeutral:
		var p CreateNeutral
		err := unmarshalPacket(raw, &p, "time", "net_id")
		return &p, p.Time, err
	case KindCreateTurret:
		var p CreateTurret
		err := unmarshalPacket(raw, &p, "time", "net_id")
		return &p, p.Time, err
	case KindNPCDieMapView:
		var p NPCDieMapView
		err := unmarshalPacket(raw, &p, "time", "net_id")
		return &p, p.Time, err
	case KindNPCDieMapViewBroadcast:
		var p NPCDieMapViewBroadcast
		err := unmarshalPacket(raw, &p, "time", "net_id")
		return &p, p.Time, err
	case KindBuyItem:
		var p BuyItem
		err := unmarshalPacket(raw, &p, "time", "net_id", "item_id", "slot")
		return &p, p.Time, err
	case KindRemoveItem:
		var p RemoveItem
		err := unmarshalPacket(raw, &p, "time", "net_id", "slot")
		return &p, p.Time, err
	case KindSwapItem:
		var p SwapItem
		err := unmarshalPacket(raw, &p, "time", "net_id", "from_slot", "to_slot")
		return &p, p.Time, err
	case KindUseItem:
		var p UseItem
		err := unmarshalPacket(raw, &p, "time", "net_id", "slot")
		return &p, p.Time, err
	case KindReplication:
		var p Replication
		if err := unmarshalPacket(raw, &p, "time", "net_id_to_replication_datas"); err != nil {
			return nil, 0, err
		}
		for id, entry := range p.Entities {
			if _, err := entry.Value(); err != nil {
				return nil, 0, fmt.Errorf("entity %s: %w", id, err)
			}
		}
		return &p, p.Time, nil
	}
	return nil, 0, fmt.Errorf("no payload decoder for kind %s", kind)
}

// unmarshalPacket checks required key presence, then unmarshals the
// payload. Presence is checked separately because Go's zero values make
// a missing numeric field indistinguishable after unmarshal.
func unmarshalPacket(raw json.RawMessage, dst any, required ...string) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return err
	}
	for _, k := range required {
		if _, ok := keys[k]; !ok {
			return fmt.Errorf("missing required field %q", k)
		}
	}
	return json.Unmarshal(raw, dst)
}

// stringField decodes a metadata value that is a JSON string in most
// batches but occasionally a bare scalar. Strings go through the JSON
// unmarshaler so escape sequences resolve.
func stringField(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// probeTime best-effort extracts a time field from an unknown payload.
func probeTime(raw json.RawMessage, fallback float64) float64 {
	var probe struct {
		Time *float64 `json:"time"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.Time == nil {
		return fallback
	}
	return *probe.Time
}
