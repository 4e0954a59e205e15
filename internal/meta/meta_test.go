package meta

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"replay-gym/internal/packet"
)

const sampleMatch = `{"match_id":"NA1_100","events":[` +
	`{"CreateHero":{"time":0.5,"net_id":101,"champion":"Jinx","skin_name":"Jinx"}},` +
	`{"CreateHero":{"time":0.5,"net_id":102,"champion":"Thresh","skin_name":"Thresh"}},` +
	`{"WaypointGroup":{"time":1.2,"moves":[{"net_id":101,"waypoints":[{"x":100,"z":200}]}]}},` +
	`{"CastSpellAns":{"time":10.2,"caster_net_id":101,"spell_name":"JinxW"}},` +
	`{"BasicAttackPos":{"time":12,"source_net_id":101,"target_net_id":201}},` +
	`{"UnitApplyDamage":{"time":12.1,"source_net_id":101,"target_net_id":201,"damage":50}},` +
	`{"BuyItem":{"time":30,"net_id":101,"item_id":1055,"slot":0}},` +
	`{"HeroDie":{"time":300.5,"net_id":102,"killer_net_id":101}}` +
	`]}`

func decodeSample(t *testing.T) *packet.Match {
	t.Helper()
	m, _, err := packet.DecodeMatch([]byte(sampleMatch), packet.Options{})
	if err != nil {
		t.Fatalf("DecodeMatch failed: %v", err)
	}
	return m
}

func TestExtract(t *testing.T) {
	m := decodeSample(t)
	meta := Extract(m, "12_22/batch_001.jsonl.gz", 3, "12_22")

	if meta.FilePath != "12_22/batch_001.jsonl.gz" || meta.GameIndex != 3 || meta.Patch != "12_22" {
		t.Errorf("provenance = %s/%d/%s", meta.FilePath, meta.GameIndex, meta.Patch)
	}
	if meta.MatchID != "NA1_100" {
		t.Errorf("match id = %q, want NA1_100", meta.MatchID)
	}
	if meta.PacketCount != 8 {
		t.Errorf("packet count = %d, want 8", meta.PacketCount)
	}
	if meta.DurationSeconds != 300.5 {
		t.Errorf("duration = %v, want 300.5", meta.DurationSeconds)
	}
	if meta.ChampionCount != 2 || meta.Champions[0] != "Jinx" || meta.Champions[1] != "Thresh" {
		t.Errorf("champions = %v", meta.Champions)
	}
	if meta.TotalDeaths != 1 || meta.TotalKills != 1 {
		t.Errorf("deaths/kills = %d/%d, want 1/1", meta.TotalDeaths, meta.TotalKills)
	}
	if meta.TotalSpellsCast != 1 || meta.TotalBasicAttacks != 1 || meta.TotalItemsBought != 1 || meta.TotalDamageEvents != 1 {
		t.Errorf("counts = %d/%d/%d/%d, want 1/1/1/1",
			meta.TotalSpellsCast, meta.TotalBasicAttacks, meta.TotalItemsBought, meta.TotalDamageEvents)
	}
	if len(meta.UniqueSpells) != 1 || meta.UniqueSpells[0] != "JinxW" {
		t.Errorf("unique spells = %v", meta.UniqueSpells)
	}
	if meta.HasFullDraft {
		t.Error("2 champions flagged as full draft")
	}
	if !meta.HasMovementData || !meta.HasCombatData {
		t.Errorf("movement/combat = %v/%v, want true/true", meta.HasMovementData, meta.HasCombatData)
	}
	if meta.EventTypes["CreateHero"] != 2 || meta.EventTypes["HeroDie"] != 1 {
		t.Errorf("event types = %v", meta.EventTypes)
	}
}

func TestExtractCountsUnknownKinds(t *testing.T) {
	line := `{"events":[{"EnterFog":{"time":1,"net_id":1}},{"FutureThing":{"time":2}}]}`
	m, _, err := packet.DecodeMatch([]byte(line), packet.Options{})
	if err != nil {
		t.Fatalf("DecodeMatch failed: %v", err)
	}
	meta := Extract(m, "x", 0, "12_22")
	if meta.PacketCount != 2 {
		t.Errorf("packet count = %d, want 2", meta.PacketCount)
	}
	if meta.EventTypes["FutureThing"] != 1 {
		t.Errorf("event types = %v, want FutureThing counted", meta.EventTypes)
	}
}

func TestWriteCSV(t *testing.T) {
	meta := Extract(decodeSample(t), "12_22/batch_001.jsonl.gz", 0, "12_22")
	path := filepath.Join(t.TempDir(), "game_metadata.csv")
	if err := WriteCSV([]*GameMetadata{meta}, path); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv back: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d csv rows, want header + 1", len(records))
	}
	row := records[1]
	if row[0] != "12_22/batch_001.jsonl.gz" || row[2] != "12_22" {
		t.Errorf("row = %v", row)
	}
	if row[4] != "300.5" || row[5] != "5.0" {
		t.Errorf("durations = %s s / %s min, want 300.5 / 5.0", row[4], row[5])
	}
	if row[7] != "Jinx|Thresh" {
		t.Errorf("champions cell = %q, want Jinx|Thresh", row[7])
	}
}

func TestWriteJSONRoundTrip(t *testing.T) {
	meta := Extract(decodeSample(t), "12_22/batch_001.jsonl.gz", 0, "12_22")
	path := filepath.Join(t.TempDir(), "game_metadata.json")
	if err := WriteJSON([]*GameMetadata{meta}, path); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var rows []*GameMetadata
	if err := json.Unmarshal(data, &rows); err != nil {
		t.Fatalf("decode json back: %v", err)
	}
	if len(rows) != 1 || rows[0].DurationSeconds != 300.5 || rows[0].EventTypes["CreateHero"] != 2 {
		t.Errorf("round-tripped rows = %+v", rows)
	}
}

func TestSummarize(t *testing.T) {
	m := decodeSample(t)
	rows := []*GameMetadata{
		Extract(m, "a", 0, "12_22"),
		Extract(m, "a", 1, "12_22"),
		Extract(m, "b", 0, "12_23"),
	}
	s := Summarize(rows)
	if s.Games != 3 {
		t.Errorf("games = %d, want 3", s.Games)
	}
	if s.ByPatch["12_22"] != 2 || s.ByPatch["12_23"] != 1 {
		t.Errorf("by patch = %v", s.ByPatch)
	}
	if s.MinDuration != 300.5 || s.MaxDuration != 300.5 || s.AvgDuration != 300.5 {
		t.Errorf("durations = %v/%v/%v", s.MinDuration, s.MaxDuration, s.AvgDuration)
	}
	if s.HasMovement != 3 || s.HasCombat != 3 || s.FullDraft != 0 {
		t.Errorf("quality = %d/%d/%d", s.HasMovement, s.HasCombat, s.FullDraft)
	}
	if s.EventTotals["CreateHero"] != 6 {
		t.Errorf("event totals = %v", s.EventTotals)
	}
	if s.TopChampion != "Jinx" {
		t.Errorf("top champion = %q, want Jinx (alphabetical tiebreak)", s.TopChampion)
	}
}
