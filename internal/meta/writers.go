package meta

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

// csvHeader is the flattened row layout. Champions are pipe-joined;
// event histograms stay in the JSON output only.
var csvHeader = []string{
	"file_path", "game_index", "patch", "match_id",
	"duration_seconds", "duration_minutes", "packet_count",
	"champions", "champion_count",
	"total_deaths", "total_spells_cast", "total_basic_attacks",
	"total_items_bought", "total_damage_events",
	"has_full_draft", "has_movement_data", "has_combat_data",
	"unique_spell_count",
}

// WriteCSV writes the flattened summary table.
func WriteCSV(rows []*GameMetadata, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create metadata csv: %w", err)
	}
	w := csv.NewWriter(f)

	if err := w.Write(csvHeader); err != nil {
		f.Close()
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, m := range rows {
		record := []string{
			m.FilePath,
			strconv.Itoa(m.GameIndex),
			m.Patch,
			m.MatchID,
			strconv.FormatFloat(m.DurationSeconds, 'f', -1, 64),
			strconv.FormatFloat(math.Round(m.DurationSeconds/60*10)/10, 'f', 1, 64),
			strconv.Itoa(m.PacketCount),
			strings.Join(m.Champions, "|"),
			strconv.Itoa(m.ChampionCount),
			strconv.Itoa(m.TotalDeaths),
			strconv.Itoa(m.TotalSpellsCast),
			strconv.Itoa(m.TotalBasicAttacks),
			strconv.Itoa(m.TotalItemsBought),
			strconv.Itoa(m.TotalDamageEvents),
			strconv.FormatBool(m.HasFullDraft),
			strconv.FormatBool(m.HasMovementData),
			strconv.FormatBool(m.HasCombatData),
			strconv.Itoa(len(m.UniqueSpells)),
		}
		if err := w.Write(record); err != nil {
			f.Close()
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush csv: %w", err)
	}
	return f.Close()
}

// WriteJSON writes the full metadata, histograms included.
func WriteJSON(rows []*GameMetadata, path string) error {
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata json: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write metadata json: %w", err)
	}
	return nil
}

// Summary aggregates metadata rows for console reporting.
type Summary struct {
	Games       int
	ByPatch     map[string]int
	MinDuration float64
	MaxDuration float64
	AvgDuration float64
	FullDraft   int
	HasMovement int
	HasCombat   int
	EventTotals map[string]int
	TopChampion string
}

// Summarize computes the dataset summary over all rows.
func Summarize(rows []*GameMetadata) Summary {
	s := Summary{
		ByPatch:     make(map[string]int),
		EventTotals: make(map[string]int),
	}
	champs := make(map[string]int)
	var totalDuration float64
	var timed int

	for _, m := range rows {
		s.Games++
		s.ByPatch[m.Patch]++
		if m.DurationSeconds > 0 {
			if timed == 0 || m.DurationSeconds < s.MinDuration {
				s.MinDuration = m.DurationSeconds
			}
			if m.DurationSeconds > s.MaxDuration {
				s.MaxDuration = m.DurationSeconds
			}
			totalDuration += m.DurationSeconds
			timed++
		}
		if m.HasFullDraft {
			s.FullDraft++
		}
		if m.HasMovementData {
			s.HasMovement++
		}
		if m.HasCombatData {
			s.HasCombat++
		}
		for tag, n := range m.EventTypes {
			s.EventTotals[tag] += n
		}
		for _, c := range m.Champions {
			champs[c]++
		}
	}
	if timed > 0 {
		s.AvgDuration = totalDuration / float64(timed)
	}

	best := -1
	names := make([]string, 0, len(champs))
	for c := range champs {
		names = append(names, c)
	}
	sort.Strings(names)
	for _, c := range names {
		if champs[c] > best {
			best = champs[c]
			s.TopChampion = c
		}
	}
	return s
}
