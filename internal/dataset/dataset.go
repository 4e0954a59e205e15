// Package dataset is the facade over a replay collection: it loads
// multi-archive gzip JSONL datasets with a worker pool, answers
// match-level queries, and reconstructs entity state at arbitrary
// times, seeded from trajectory indexes when they are attached.
package dataset

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"replay-gym/internal/archive"
	"replay-gym/internal/index"
	"replay-gym/internal/metrics"
	"replay-gym/internal/packet"
	"replay-gym/internal/state"
)

// Game is one loaded match with its provenance.
type Game struct {
	Archive string
	Split   string
	// Ordinal is the match's position within its archive, which is
	// also its match index in that archive's trajectory index.
	Ordinal int
	Digest  [sha256.Size]byte
	Match   *packet.Match
	Stats   packet.Stats
}

// ArchiveStats summarizes one archive's contribution to a load.
type ArchiveStats struct {
	Path      string
	Split     string
	Matches   int
	Packets   int
	Malformed int
	Failed    bool
	Error     string
}

// Stats aggregates a whole load.
type Stats struct {
	RepoID     string
	Archives   []ArchiveStats
	Matches    int
	Packets    int
	Malformed  int
	Duplicates int
	Unknown    map[string]int
}

// Dataset is an in-memory replay collection. Matches keep archive
// order: archives sorted by path, lines in file order.
type Dataset struct {
	cfg   Config
	games []*Game
	stats Stats

	mu      sync.RWMutex
	indexes map[string]*index.Index
}

// Load reads every archive of the collection concurrently (one worker
// per archive) and merges the results back into deterministic archive
// order. Unreadable archives are skipped and counted, and an archive
// with an undecodable line is dropped whole while the rest of the load
// continues; decode errors abort the load only under Strict.
func Load(ctx context.Context, cfg Config) (*Dataset, error) {
	paths := cfg.Archives
	if len(paths) == 0 {
		var err error
		paths, err = archive.Discover(cfg.DataDir, cfg.Splits)
		if err != nil {
			return nil, err
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no archives found under %s", cfg.DataDir)
	}

	type result struct {
		games []*Game
		stats ArchiveStats
		err   error
	}
	results := make([]result, len(paths))
	jobs := make(chan int)
	var wg sync.WaitGroup

	workers := cfg.workers()
	if workers > len(paths) {
		workers = len(paths)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				games, stats, err := loadArchive(ctx, paths[i], cfg)
				results[i] = result{games: games, stats: stats, err: err}
			}
		}()
	}
	for i := range paths {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	ds := &Dataset{
		cfg:     cfg,
		stats:   Stats{RepoID: cfg.RepoID, Unknown: make(map[string]int)},
		indexes: make(map[string]*index.Index),
	}

	// Ordered merge: walk archives in path order so the collection is
	// identical regardless of worker scheduling.
	for i := range results {
		res := &results[i]
		if res.err != nil {
			return nil, res.err
		}
		ds.stats.Archives = append(ds.stats.Archives, res.stats)
		if res.stats.Failed {
			continue
		}
		ds.games = append(ds.games, res.games...)
	}

	if cfg.Dedupe {
		ds.dedupe()
	}
	if cfg.MaxGames > 0 && len(ds.games) > cfg.MaxGames {
		ds.games = ds.games[:cfg.MaxGames]
	}

	for _, g := range ds.games {
		ds.stats.Matches++
		ds.stats.Packets += g.Match.PacketCount()
		ds.stats.Malformed += g.Stats.Malformed
		for tag, n := range g.Stats.Unknown {
			ds.stats.Unknown[tag] += n
		}
		metrics.MatchesLoaded.Inc()
	}

	log.Printf("[Dataset] loaded %d matches (%d packets, %d malformed, %d duplicates) from %d archives",
		ds.stats.Matches, ds.stats.Packets, ds.stats.Malformed, ds.stats.Duplicates, len(paths))
	return ds, nil
}

// loadArchive decodes one archive front to back.
func loadArchive(ctx context.Context, path string, cfg Config) ([]*Game, ArchiveStats, error) {
	stats := ArchiveStats{Path: path, Split: archive.Split(path)}

	r, err := archive.Open(path)
	if err != nil {
		log.Printf("[Dataset] skipping unreadable archive %s: %v", path, err)
		metrics.ArchivesFailed.Inc()
		stats.Failed = true
		stats.Error = err.Error()
		return nil, stats, nil
	}
	defer r.Close()

	var games []*Game
	for {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		line, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Mid-stream corruption: the archive's earlier matches are
			// unusable too, since ordinals would no longer line up with
			// any index built over the intact file.
			log.Printf("[Dataset] skipping corrupt archive %s: %v", path, err)
			metrics.ArchivesFailed.Inc()
			stats = ArchiveStats{Path: path, Split: stats.Split, Failed: true, Error: err.Error()}
			return nil, stats, nil
		}

		m, mstats, err := packet.DecodeMatch(line, packet.Options{Strict: cfg.Strict})
		if err != nil {
			if cfg.Strict {
				return nil, stats, fmt.Errorf("decode %s line %d: %w", path, r.Line(), err)
			}
			// An undecodable line poisons the archive's ordinals the same
			// way mid-stream gzip corruption does, so the whole archive is
			// dropped and the rest of the load continues.
			log.Printf("[Dataset] skipping archive %s: line %d: %v", path, r.Line(), err)
			metrics.ArchivesFailed.Inc()
			stats = ArchiveStats{Path: path, Split: stats.Split, Failed: true, Error: err.Error()}
			return nil, stats, nil
		}
		metrics.PacketsDecoded.WithLabelValues(path).Add(float64(mstats.Events))
		metrics.PacketsMalformed.WithLabelValues(path).Add(float64(mstats.Malformed))
		for tag, n := range mstats.Unknown {
			metrics.PacketsUnknown.WithLabelValues(tag).Add(float64(n))
		}

		games = append(games, &Game{
			Archive: path,
			Split:   stats.Split,
			Ordinal: len(games),
			Digest:  sha256.Sum256(line),
			Match:   m,
			Stats:   mstats,
		})
		stats.Matches++
		stats.Packets += m.PacketCount()
		stats.Malformed += mstats.Malformed
	}
	return games, stats, nil
}

// dedupe drops byte-identical match lines, keeping the first occurrence
// in archive order. The bloom filter screens every digest first; only
// the digests it flags (true repeats plus the odd false positive) get
// exact confirmation state, so the exact set stays proportional to the
// duplicate count rather than the collection size.
func (ds *Dataset) dedupe() {
	filter := bloom.NewWithEstimates(uint(len(ds.games))+1, 0.01)
	candidates := make(map[[sha256.Size]byte]bool)
	for _, g := range ds.games {
		if filter.Test(g.Digest[:]) {
			candidates[g.Digest] = true
		}
		filter.Add(g.Digest[:])
	}

	seen := make(map[[sha256.Size]byte]bool, len(candidates))
	kept := ds.games[:0]
	for _, g := range ds.games {
		if candidates[g.Digest] {
			if seen[g.Digest] {
				ds.stats.Duplicates++
				continue
			}
			seen[g.Digest] = true
		}
		kept = append(kept, g)
	}
	ds.games = kept
}

// Len returns the number of loaded matches.
func (ds *Dataset) Len() int { return len(ds.games) }

// Game returns the i-th match with its provenance.
func (ds *Dataset) Game(i int) (*Game, error) {
	if i < 0 || i >= len(ds.games) {
		return nil, fmt.Errorf("match %d out of range [0, %d)", i, len(ds.games))
	}
	return ds.games[i], nil
}

// MatchAt returns the i-th match.
func (ds *Dataset) MatchAt(i int) (*packet.Match, error) {
	g, err := ds.Game(i)
	if err != nil {
		return nil, err
	}
	return g.Match, nil
}

// PacketCount returns the total number of decoded events.
func (ds *Dataset) PacketCount() int { return ds.stats.Packets }

// Stats returns the load summary.
func (ds *Dataset) Stats() Stats { return ds.stats }

// AttachIndex registers a trajectory index, keyed by the archive it was
// built from. EntityStateAt seeds from it instead of replaying matches
// from the start.
func (ds *Dataset) AttachIndex(ix *index.Index) error {
	if !ix.Built() {
		return index.ErrIndexNotBuilt
	}
	ds.mu.Lock()
	ds.indexes[ix.Source] = ix
	ds.mu.Unlock()
	return nil
}

// IndexFor returns the attached trajectory index covering match i, or
// nil when its archive has none.
func (ds *Dataset) IndexFor(i int) *index.Index {
	g, err := ds.Game(i)
	if err != nil {
		return nil
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.indexes[g.Archive]
}

// EntityStateAt reconstructs the full entity state of match i at time
// t: every event with time <= t applied, nothing after. With an index
// attached for the match's archive, replay starts from the nearest
// checkpoint instead of event zero.
func (ds *Dataset) EntityStateAt(i int, t float64) (*state.Snapshot, error) {
	g, err := ds.Game(i)
	if err != nil {
		return nil, err
	}

	rec := state.New()
	start := 0
	ds.mu.RLock()
	ix := ds.indexes[g.Archive]
	ds.mu.RUnlock()
	if ix != nil {
		rec, start, err = ix.SeedReconstructor(g.Ordinal, t)
		if err != nil {
			return nil, err
		}
	}

	events := g.Match.Events
	for j := start; j < len(events); j++ {
		if events[j].Time > t {
			break
		}
		if err := rec.Apply(&events[j]); err != nil {
			return nil, err
		}
	}
	return rec.SnapshotAt(t)
}
