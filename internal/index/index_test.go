package index

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"replay-gym/internal/archive"
	"replay-gym/internal/packet"
	"replay-gym/internal/state"
)

const (
	heroID = int64(101)
	wardID = int64(555)
)

// match0: four events across two checkpoint intervals (interval 2).
const match0 = `{"match_id":"NA1_100","events":[` +
	`{"CreateHero":{"time":0.5,"net_id":101,"champion":"Jinx","skin_name":"Jinx"}},` +
	`{"Replication":{"time":1,"net_id_to_replication_datas":{"101":{"primary_index":1,"secondary_index":0,"name":"mHP","data":{"Float":100}}}}},` +
	`{"UnitApplyDamage":{"time":2,"source_net_id":201,"target_net_id":101,"damage":25}},` +
	`{"Replication":{"time":3,"net_id_to_replication_datas":{"101":{"primary_index":1,"secondary_index":0,"name":"mHP","data":{"Float":75}}}}}` +
	`]}`

const match1 = `{"match_id":"NA1_101","events":[` +
	`{"EnterFog":{"time":0.25,"net_id":555}},` +
	`{"LeaveFog":{"time":4.5,"net_id":555}}` +
	`]}`

func buildFixture(t *testing.T, lines ...string) (string, *Index) {
	t.Helper()
	dir := t.TempDir()
	w, err := archive.NewWriter(dir, "batch", 0)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	for _, line := range lines {
		if err := w.WriteMatch([]byte(line)); err != nil {
			t.Fatalf("WriteMatch failed: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	path := w.Paths()[0]

	ix, err := Build(path, BuildOptions{CheckpointInterval: 2})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return path, ix
}

func collect(t *testing.T, ix *Index, filter Filter) []*Entry {
	t.Helper()
	cur, err := ix.Query(filter)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	defer cur.Close()

	var entries []*Entry
	for {
		e, err := cur.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("cursor Next failed: %v", err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestBuildRecordsMatchesAndCheckpoints(t *testing.T) {
	_, ix := buildFixture(t, match0, match1)

	if !ix.Built() {
		t.Fatal("index not marked built")
	}
	if len(ix.Matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(ix.Matches))
	}
	if ix.Matches[0].Events != 4 || ix.Matches[1].Events != 2 {
		t.Errorf("event counts = %d, %d, want 4, 2", ix.Matches[0].Events, ix.Matches[1].Events)
	}
	if ix.Matches[0].MatchID != "NA1_100" {
		t.Errorf("match 0 id = %q, want NA1_100", ix.Matches[0].MatchID)
	}
	if ix.Matches[0].TimeMin != 0.5 || ix.Matches[0].TimeMax != 3 {
		t.Errorf("match 0 time span = [%v, %v], want [0.5, 3]", ix.Matches[0].TimeMin, ix.Matches[0].TimeMax)
	}

	// match0: checkpoints at 0, 2, 4 events; match1: at 0 and 2.
	var m0, m1 int
	for _, cp := range ix.Checkpoints {
		if cp.Match == 0 {
			m0++
		} else {
			m1++
		}
	}
	if m0 != 3 || m1 != 2 {
		t.Errorf("checkpoint counts = %d, %d, want 3, 2", m0, m1)
	}

	// match0 splits into two segments, match1 into one.
	var segs0 []Segment
	for _, seg := range ix.Segments {
		if seg.Match == 0 {
			segs0 = append(segs0, seg)
		}
	}
	if len(segs0) != 2 {
		t.Fatalf("got %d segments for match 0, want 2", len(segs0))
	}
	if segs0[0].StartEvent != 0 || segs0[0].EndEvent != 2 || segs0[1].StartEvent != 2 || segs0[1].EndEvent != 4 {
		t.Errorf("segment ranges = %+v", segs0)
	}
	if segs0[1].TimeMin != 2 || segs0[1].TimeMax != 3 {
		t.Errorf("segment 1 time span = [%v, %v], want [2, 3]", segs0[1].TimeMin, segs0[1].TimeMax)
	}
}

func TestQueryAgreesWithSequentialDecode(t *testing.T) {
	path, ix := buildFixture(t, match0, match1)

	entries := collect(t, ix, Filter{})

	var want []*packet.Event
	r, err := archive.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()
	for {
		line, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		m, _, err := packet.DecodeMatch(line, packet.Options{})
		if err != nil {
			t.Fatalf("DecodeMatch failed: %v", err)
		}
		for i := range m.Events {
			want = append(want, &m.Events[i])
		}
	}

	if len(entries) != len(want) {
		t.Fatalf("query returned %d events, sequential decode %d", len(entries), len(want))
	}
	for i, e := range entries {
		if e.Event.Kind != want[i].Kind || e.Event.Time != want[i].Time {
			t.Errorf("event %d = %s@%v, want %s@%v", i, e.Event.Kind, e.Event.Time, want[i].Kind, want[i].Time)
		}
	}
}

func TestQueryFilters(t *testing.T) {
	_, ix := buildFixture(t, match0, match1)

	t.Run("time range", func(t *testing.T) {
		entries := collect(t, ix, Filter{TimeMin: 1.5, TimeMax: 3})
		if len(entries) != 2 {
			t.Fatalf("got %d events, want 2", len(entries))
		}
		for _, e := range entries {
			if e.Event.Time < 1.5 || e.Event.Time > 3 {
				t.Errorf("event at %v outside [1.5, 3]", e.Event.Time)
			}
		}
	})

	t.Run("entity", func(t *testing.T) {
		entries := collect(t, ix, Filter{EntityID: wardID})
		if len(entries) != 2 {
			t.Fatalf("got %d events, want 2", len(entries))
		}
		for _, e := range entries {
			if e.Match != 1 {
				t.Errorf("entity %d event in match %d, want 1", wardID, e.Match)
			}
		}
	})

	t.Run("kind", func(t *testing.T) {
		entries := collect(t, ix, Filter{Kinds: []packet.Kind{packet.KindReplication}})
		if len(entries) != 2 {
			t.Fatalf("got %d events, want 2", len(entries))
		}
	})

	t.Run("single match", func(t *testing.T) {
		entries := collect(t, ix, Filter{Matches: []int{1}})
		if len(entries) != 2 {
			t.Fatalf("got %d events, want 2", len(entries))
		}
	})

	t.Run("no results", func(t *testing.T) {
		if entries := collect(t, ix, Filter{TimeMin: 100}); len(entries) != 0 {
			t.Fatalf("got %d events, want 0", len(entries))
		}
	})
}

func TestQueryEntryCheckpoint(t *testing.T) {
	_, ix := buildFixture(t, match0)

	entries := collect(t, ix, Filter{Kinds: []packet.Kind{packet.KindUnitApplyDamage}})
	if len(entries) != 1 {
		t.Fatalf("got %d events, want 1", len(entries))
	}
	cp := entries[0].Checkpoint
	if cp == nil || cp.Event != 2 {
		t.Fatalf("checkpoint = %+v, want one at event 2", cp)
	}
}

func TestQueryNotBuilt(t *testing.T) {
	ix := &Index{}
	if _, err := ix.Query(Filter{}); !errors.Is(err, ErrIndexNotBuilt) {
		t.Errorf("err = %v, want ErrIndexNotBuilt", err)
	}
}

func TestBuildCorruptArchivePreservesPartialIndex(t *testing.T) {
	dir := t.TempDir()
	w, err := archive.NewWriter(dir, "batch", 0)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if err := w.WriteMatch([]byte(match0)); err != nil {
		t.Fatalf("WriteMatch failed: %v", err)
	}
	if err := w.WriteMatch([]byte(`{"events":[{"EnterFog":{"net_id":1}}]}`)); err != nil {
		t.Fatalf("WriteMatch failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ix, err := Build(w.Paths()[0], BuildOptions{CheckpointInterval: 2, Strict: true})
	var df *DecodeFailureError
	if !errors.As(err, &df) {
		t.Fatalf("err = %v, want DecodeFailureError", err)
	}
	if df.Match != 1 {
		t.Errorf("failure at match %d, want 1", df.Match)
	}
	if len(ix.Matches) != 1 {
		t.Errorf("partial index has %d matches, want 1", len(ix.Matches))
	}
	if ix.Built() {
		t.Error("partial index marked built")
	}
	if _, err := ix.Query(Filter{}); !errors.Is(err, ErrIndexNotBuilt) {
		t.Errorf("Query on partial index: err = %v, want ErrIndexNotBuilt", err)
	}
}

func TestSeedReconstructorMatchesFullReplay(t *testing.T) {
	path, ix := buildFixture(t, match0)

	rec, resume, err := ix.SeedReconstructor(0, 2.5)
	if err != nil {
		t.Fatalf("SeedReconstructor failed: %v", err)
	}
	if resume != 2 {
		t.Fatalf("resume index = %d, want 2", resume)
	}
	snap := rec.Snapshot()
	hero, ok := snap.Entity(heroID)
	if !ok {
		t.Fatal("seeded state missing hero")
	}
	if hp, ok := hero.Attribute(state.AttrHealth); !ok || hp != 100 {
		t.Errorf("seeded mHP = %v, want 100", hp)
	}

	// Applying the remaining events yields the same state as a full
	// replay from the match start.
	r, err := archive.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()
	line, err := r.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	m, _, err := packet.DecodeMatch(line, packet.Options{})
	if err != nil {
		t.Fatalf("DecodeMatch failed: %v", err)
	}

	full := state.New()
	for i := range m.Events {
		if err := full.Apply(&m.Events[i]); err != nil {
			t.Fatalf("full replay Apply failed: %v", err)
		}
		if i >= resume {
			if err := rec.Apply(&m.Events[i]); err != nil {
				t.Fatalf("seeded replay Apply failed: %v", err)
			}
		}
	}

	seeded, _ := rec.Snapshot().Entity(heroID)
	replayed, _ := full.Snapshot().Entity(heroID)
	gotHP, _ := seeded.Attribute(state.AttrHealth)
	wantHP, _ := replayed.Attribute(state.AttrHealth)
	if gotHP != wantHP || gotHP != 75 {
		t.Errorf("seeded mHP = %v, full replay = %v, want 75", gotHP, wantHP)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path, ix := buildFixture(t, match0, match1)

	idxPath := DefaultPath(path)
	if err := Save(ix, idxPath); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(idxPath); err != nil {
		t.Fatalf("index file missing: %v", err)
	}
	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(idxPath))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if len(e.Name()) > len("batch_001.jsonl.gz.idx") {
			t.Errorf("stray file %s after Save", e.Name())
		}
	}

	loaded, err := Load(idxPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !loaded.Built() {
		t.Fatal("loaded index not marked built")
	}
	if loaded.CheckpointInterval != ix.CheckpointInterval || loaded.Source != ix.Source {
		t.Errorf("meta = (%d, %s), want (%d, %s)",
			loaded.CheckpointInterval, loaded.Source, ix.CheckpointInterval, ix.Source)
	}
	if len(loaded.Matches) != len(ix.Matches) || len(loaded.Checkpoints) != len(ix.Checkpoints) || len(loaded.Segments) != len(ix.Segments) {
		t.Fatalf("loaded sizes = (%d, %d, %d), want (%d, %d, %d)",
			len(loaded.Matches), len(loaded.Checkpoints), len(loaded.Segments),
			len(ix.Matches), len(ix.Checkpoints), len(ix.Segments))
	}

	// A loaded index answers queries and seeds reconstructors.
	if entries := collect(t, loaded, Filter{EntityID: heroID}); len(entries) != 4 {
		t.Errorf("got %d events for hero, want 4", len(entries))
	}
	rec, _, err := loaded.SeedReconstructor(0, 3.5)
	if err != nil {
		t.Fatalf("SeedReconstructor failed: %v", err)
	}
	hero, ok := rec.Snapshot().Entity(heroID)
	if !ok {
		t.Fatal("loaded checkpoint missing hero")
	}
	if hp, ok := hero.Attribute(state.AttrHealth); !ok || hp != 75 {
		t.Errorf("mHP = %v, want 75", hp)
	}
}

func TestSaveUnbuiltIndex(t *testing.T) {
	if err := Save(&Index{}, filepath.Join(t.TempDir(), "x.idx")); !errors.Is(err, ErrIndexNotBuilt) {
		t.Errorf("err = %v, want ErrIndexNotBuilt", err)
	}
}
