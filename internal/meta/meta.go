// Package meta derives per-game summary rows from decoded matches:
// duration, draft, combat and movement indicators, and the event-kind
// histogram used for dataset quality audits.
package meta

import (
	"sort"

	"replay-gym/internal/packet"
)

// GameMetadata is one match's summary row.
type GameMetadata struct {
	FilePath  string `json:"file_path"`
	GameIndex int    `json:"game_index"`
	Patch     string `json:"patch"`
	MatchID   string `json:"match_id,omitempty"`

	DurationSeconds float64 `json:"duration_seconds"`
	PacketCount     int     `json:"packet_count"`

	Champions     []string `json:"champions"`
	ChampionCount int      `json:"champion_count"`

	TotalDeaths       int `json:"total_deaths"`
	TotalKills        int `json:"total_kills"`
	TotalSpellsCast   int `json:"total_spells_cast"`
	TotalBasicAttacks int `json:"total_basic_attacks"`
	TotalItemsBought  int `json:"total_items_bought"`
	TotalDamageEvents int `json:"total_damage_events"`

	EventTypes   map[string]int `json:"event_types"`
	UniqueSpells []string       `json:"unique_spells"`

	// Quality indicators: a full draft is all ten champions present.
	HasFullDraft    bool `json:"has_full_draft"`
	HasMovementData bool `json:"has_movement_data"`
	HasCombatData   bool `json:"has_combat_data"`
}

// Extract summarizes one match. filePath and gameIndex locate it in the
// collection; patch is its split.
func Extract(m *packet.Match, filePath string, gameIndex int, patch string) *GameMetadata {
	meta := &GameMetadata{
		FilePath:    filePath,
		GameIndex:   gameIndex,
		Patch:       patch,
		MatchID:     m.MatchID,
		PacketCount: m.PacketCount(),
		EventTypes:  make(map[string]int),
	}

	champions := make(map[string]bool)
	spells := make(map[string]bool)
	var maxTime float64

	for i := range m.Events {
		ev := &m.Events[i]
		meta.EventTypes[ev.Tag]++
		if ev.Time > maxTime {
			maxTime = ev.Time
		}

		switch p := ev.Payload.(type) {
		case *packet.CreateHero:
			if p.Champion != "" {
				champions[p.Champion] = true
			}
		case *packet.HeroDie:
			// Every recorded death is somebody's kill.
			meta.TotalDeaths++
			meta.TotalKills++
		case *packet.CastSpellAns:
			meta.TotalSpellsCast++
			if p.SpellName != "" {
				spells[p.SpellName] = true
			}
		case *packet.BasicAttackPos:
			meta.TotalBasicAttacks++
		case *packet.BuyItem:
			meta.TotalItemsBought++
		case *packet.UnitApplyDamage:
			meta.TotalDamageEvents++
		case *packet.WaypointGroup, *packet.WaypointGroupWithSpeed:
			meta.HasMovementData = true
		}
	}

	meta.DurationSeconds = maxTime
	meta.Champions = sortedKeys(champions)
	meta.ChampionCount = len(meta.Champions)
	meta.HasFullDraft = meta.ChampionCount >= 10
	meta.HasCombatData = meta.TotalDamageEvents > 0 || meta.TotalBasicAttacks > 0
	meta.UniqueSpells = sortedKeys(spells)
	return meta
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
