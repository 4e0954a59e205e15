package dataset

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"replay-gym/internal/archive"
	"replay-gym/internal/index"
	"replay-gym/internal/state"
)

const heroID = int64(101)

const heroMatch = `{"match_id":"NA1_100","events":[` +
	`{"CreateHero":{"time":0.5,"net_id":101,"champion":"Jinx","skin_name":"Jinx"}},` +
	`{"Replication":{"time":1,"net_id_to_replication_datas":{"101":{"primary_index":1,"secondary_index":0,"name":"mHP","data":{"Float":100}}}}},` +
	`{"UnitApplyDamage":{"time":2,"source_net_id":201,"target_net_id":101,"damage":25}},` +
	`{"Replication":{"time":3,"net_id_to_replication_datas":{"101":{"primary_index":1,"secondary_index":0,"name":"mHP","data":{"Float":75}}}}}` +
	`]}`

const fogMatch = `{"match_id":"NA1_101","events":[` +
	`{"EnterFog":{"time":0.25,"net_id":555}},` +
	`{"LeaveFog":{"time":4.5,"net_id":555}}` +
	`]}`

func writeSplit(t *testing.T, root, split string, lines ...string) string {
	t.Helper()
	w, err := archive.NewWriter(filepath.Join(root, split), "batch", 0)
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
	return w.Paths()[0]
}

func TestLoadOrderedMerge(t *testing.T) {
	root := t.TempDir()
	writeSplit(t, root, "12_22", heroMatch, fogMatch)
	writeSplit(t, root, "12_23", fogMatch)

	ds, err := Load(context.Background(), Config{DataDir: root, Workers: 4})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if ds.Len() != 3 {
		t.Fatalf("got %d matches, want 3", ds.Len())
	}
	// Archive order: 12_22 before 12_23, lines in file order.
	wantSplits := []string{"12_22", "12_22", "12_23"}
	wantIDs := []string{"NA1_100", "NA1_101", "NA1_101"}
	for i := range wantSplits {
		g, err := ds.Game(i)
		if err != nil {
			t.Fatalf("Game(%d) failed: %v", i, err)
		}
		if g.Split != wantSplits[i] || g.Match.MatchID != wantIDs[i] {
			t.Errorf("game %d = %s/%s, want %s/%s", i, g.Split, g.Match.MatchID, wantSplits[i], wantIDs[i])
		}
	}
	if ds.PacketCount() != 8 {
		t.Errorf("packet count = %d, want 8", ds.PacketCount())
	}
}

func TestLoadSplitsAndMaxGames(t *testing.T) {
	root := t.TempDir()
	writeSplit(t, root, "12_22", heroMatch, fogMatch)
	writeSplit(t, root, "12_23", fogMatch)

	ds, err := Load(context.Background(), Config{DataDir: root, Splits: []string{"12_22"}, MaxGames: 1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if ds.Len() != 1 {
		t.Fatalf("got %d matches, want 1", ds.Len())
	}
	m, err := ds.MatchAt(0)
	if err != nil {
		t.Fatalf("MatchAt failed: %v", err)
	}
	if m.MatchID != "NA1_100" {
		t.Errorf("match id = %q, want NA1_100", m.MatchID)
	}
}

func TestLoadDedupe(t *testing.T) {
	root := t.TempDir()
	writeSplit(t, root, "12_22", heroMatch, fogMatch)
	writeSplit(t, root, "12_23", heroMatch)

	ds, err := Load(context.Background(), Config{DataDir: root, Dedupe: true})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if ds.Len() != 2 {
		t.Fatalf("got %d matches after dedupe, want 2", ds.Len())
	}
	if ds.Stats().Duplicates != 1 {
		t.Errorf("duplicates = %d, want 1", ds.Stats().Duplicates)
	}
	// First occurrence wins: the kept copy is the 12_22 one.
	g, _ := ds.Game(0)
	if g.Split != "12_22" {
		t.Errorf("kept duplicate from split %s, want 12_22", g.Split)
	}
}

func TestDedupeRepeatedDigests(t *testing.T) {
	digest := func(s string) [sha256.Size]byte { return sha256.Sum256([]byte(s)) }
	ds := &Dataset{}
	for _, s := range []string{"a", "b", "a", "c", "b", "a"} {
		ds.games = append(ds.games, &Game{Digest: digest(s)})
	}
	ds.dedupe()
	if len(ds.games) != 3 {
		t.Fatalf("got %d games after dedupe, want 3", len(ds.games))
	}
	if ds.stats.Duplicates != 3 {
		t.Errorf("duplicates = %d, want 3", ds.stats.Duplicates)
	}
	want := [][sha256.Size]byte{digest("a"), digest("b"), digest("c")}
	for i, g := range ds.games {
		if g.Digest != want[i] {
			t.Errorf("game %d kept wrong digest", i)
		}
	}
}

func TestLoadSkipsUnreadableArchive(t *testing.T) {
	root := t.TempDir()
	writeSplit(t, root, "12_22", heroMatch)
	bad := filepath.Join(root, "12_22", "batch_999.jsonl.gz")
	if err := os.WriteFile(bad, []byte("not gzip"), 0644); err != nil {
		t.Fatal(err)
	}

	ds, err := Load(context.Background(), Config{DataDir: root})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if ds.Len() != 1 {
		t.Fatalf("got %d matches, want 1 (bad archive skipped)", ds.Len())
	}
	var failed int
	for _, as := range ds.Stats().Archives {
		if as.Failed {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("failed archives = %d, want 1", failed)
	}
}

func TestLoadDropsArchiveWithUndecodableLine(t *testing.T) {
	root := t.TempDir()
	writeSplit(t, root, "12_22", heroMatch)
	writeSplit(t, root, "12_23", "this is not json")

	ds, err := Load(context.Background(), Config{DataDir: root})
	if err != nil {
		t.Fatalf("lenient load failed: %v", err)
	}
	if ds.Len() != 1 {
		t.Fatalf("got %d matches, want 1 (bad archive dropped)", ds.Len())
	}
	g, _ := ds.Game(0)
	if g.Split != "12_22" {
		t.Errorf("kept match from split %s, want 12_22", g.Split)
	}
	var failed int
	for _, as := range ds.Stats().Archives {
		if as.Failed {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("failed archives = %d, want 1", failed)
	}

	// Strict still aborts the whole load.
	if _, err := Load(context.Background(), Config{DataDir: root, Strict: true}); err == nil {
		t.Error("strict load with undecodable line succeeded, want error")
	}
}

func TestLoadStrictAbortsOnMalformed(t *testing.T) {
	root := t.TempDir()
	bad := `{"events":[{"EnterFog":{"net_id":1}}]}`
	writeSplit(t, root, "12_22", bad)

	if _, err := Load(context.Background(), Config{DataDir: root, Strict: true}); err == nil {
		t.Error("strict load of malformed packet succeeded, want error")
	}

	ds, err := Load(context.Background(), Config{DataDir: root})
	if err != nil {
		t.Fatalf("lenient load failed: %v", err)
	}
	if ds.Stats().Malformed != 1 {
		t.Errorf("malformed = %d, want 1", ds.Stats().Malformed)
	}
}

func TestLoadCancelled(t *testing.T) {
	root := t.TempDir()
	writeSplit(t, root, "12_22", heroMatch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Load(ctx, Config{DataDir: root}); err == nil {
		t.Error("load with cancelled context succeeded, want error")
	}
}

func TestEntityStateAt(t *testing.T) {
	root := t.TempDir()
	path := writeSplit(t, root, "12_22", heroMatch)

	ds, err := Load(context.Background(), Config{DataDir: root})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	hpAt := func(t_ float64) float64 {
		snap, err := ds.EntityStateAt(0, t_)
		if err != nil {
			t.Fatalf("EntityStateAt(%v) failed: %v", t_, err)
		}
		hero, ok := snap.Entity(heroID)
		if !ok {
			t.Fatalf("state at %v missing hero", t_)
		}
		hp, _ := hero.Attribute(state.AttrHealth)
		return hp
	}

	// Nothing from the future leaks into an earlier snapshot.
	if hp := hpAt(1.5); hp != 100 {
		t.Errorf("mHP at 1.5 = %v, want 100", hp)
	}
	if hp := hpAt(10); hp != 75 {
		t.Errorf("mHP at 10 = %v, want 75", hp)
	}

	// Before any event: empty state.
	snap, err := ds.EntityStateAt(0, 0.1)
	if err != nil {
		t.Fatalf("EntityStateAt failed: %v", err)
	}
	if snap.Len() != 0 {
		t.Errorf("state at 0.1 has %d entities, want 0", snap.Len())
	}

	// Checkpoint-seeded replay agrees with the cold replay.
	ix, err := index.Build(path, index.BuildOptions{CheckpointInterval: 2})
	if err != nil {
		t.Fatalf("index Build failed: %v", err)
	}
	if err := ds.AttachIndex(ix); err != nil {
		t.Fatalf("AttachIndex failed: %v", err)
	}
	if hp := hpAt(1.5); hp != 100 {
		t.Errorf("seeded mHP at 1.5 = %v, want 100", hp)
	}
	if hp := hpAt(10); hp != 75 {
		t.Errorf("seeded mHP at 10 = %v, want 75", hp)
	}
}

func TestGameOutOfRange(t *testing.T) {
	root := t.TempDir()
	writeSplit(t, root, "12_22", heroMatch)
	ds, err := Load(context.Background(), Config{DataDir: root})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := ds.Game(5); err == nil {
		t.Error("Game(5) succeeded, want range error")
	}
	if _, err := ds.Game(-1); err == nil {
		t.Error("Game(-1) succeeded, want range error")
	}
}

func TestLoadConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset.yaml")
	body := "repo_id: lol-replays\ndata_dir: /data\nsplits: [12_22]\nmax_games: 10\ndedupe: true\nworkers: 3\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.RepoID != "lol-replays" || cfg.DataDir != "/data" || cfg.MaxGames != 10 || !cfg.Dedupe || cfg.Workers != 3 {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.Splits) != 1 || cfg.Splits[0] != "12_22" {
		t.Errorf("splits = %v", cfg.Splits)
	}
}
