package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"replay-gym/internal/dataset"
	"replay-gym/internal/db"
	"replay-gym/internal/meta"
)

// CLI flags
var (
	configPath = flag.String("config", "", "Dataset YAML config (flags override it)")
	dataDir    = flag.String("data-dir", "", "Collection root (patch-split layout)")
	splits     = flag.String("splits", "", "Comma-separated patch splits, empty = all")
	maxGames   = flag.Int("max-games", 0, "Cap on loaded matches (0 = unlimited)")
	outputDir  = flag.String("output-dir", "./export", "Directory for CSV/JSON output")
	skipDB     = flag.Bool("skip-db", false, "Skip pushing rows to Postgres")
	skipFiles  = flag.Bool("skip-files", false, "Skip CSV/JSON export")
)

func main() {
	flag.Parse()

	// Load .env
	envPaths := []string{".env", "../.env", "../../.env"}
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			fmt.Printf("Loaded .env from: %s\n", path)
			break
		}
	}

	cfg := dataset.Config{}
	if *configPath != "" {
		var err error
		cfg, err = dataset.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if cfg.DataDir == "" {
		cfg.DataDir = os.Getenv("REPLAY_DATA_DIR")
	}
	if cfg.DataDir == "" && len(cfg.Archives) == 0 {
		log.Fatal("No data dir: set -data-dir, config data_dir, or REPLAY_DATA_DIR")
	}
	if *splits != "" {
		cfg.Splits = strings.Split(*splits, ",")
	}
	if *maxGames > 0 {
		cfg.MaxGames = *maxGames
	}

	ctx := context.Background()
	ds, err := dataset.Load(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to load dataset: %v", err)
	}

	rows := make([]*meta.GameMetadata, 0, ds.Len())
	for i := 0; i < ds.Len(); i++ {
		g, err := ds.Game(i)
		if err != nil {
			log.Fatalf("Failed to read match %d: %v", i, err)
		}
		rows = append(rows, meta.Extract(g.Match, g.Archive, g.Ordinal, g.Split))
	}
	fmt.Printf("Extracted metadata for %d games\n", len(rows))

	if !*skipFiles {
		if err := os.MkdirAll(*outputDir, 0755); err != nil {
			log.Fatalf("Failed to create output dir: %v", err)
		}
		csvPath := filepath.Join(*outputDir, "game_metadata.csv")
		if err := meta.WriteCSV(rows, csvPath); err != nil {
			log.Fatalf("Failed to write CSV: %v", err)
		}
		fmt.Printf("Saved %d games to %s\n", len(rows), csvPath)

		jsonPath := filepath.Join(*outputDir, "game_metadata.json")
		if err := meta.WriteJSON(rows, jsonPath); err != nil {
			log.Fatalf("Failed to write JSON: %v", err)
		}
		fmt.Printf("Saved %d games to %s\n", len(rows), jsonPath)
	}

	if !*skipDB {
		pushRows(ctx, rows)
	}

	printSummary(rows)
}

func pushRows(ctx context.Context, rows []*meta.GameMetadata) {
	warehouse, err := db.New(ctx)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer warehouse.Close()

	if err := warehouse.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to init schema: %v", err)
	}
	inserted := 0
	for _, m := range rows {
		if err := warehouse.InsertGame(ctx, m); err != nil {
			log.Fatalf("Failed to insert game %s/%d: %v", m.FilePath, m.GameIndex, err)
		}
		inserted++
	}
	total, err := warehouse.GetGameCount(ctx)
	if err != nil {
		log.Fatalf("Failed to count games: %v", err)
	}
	fmt.Printf("Pushed %d rows to Postgres (%d total)\n", inserted, total)
}

func printSummary(rows []*meta.GameMetadata) {
	s := meta.Summarize(rows)

	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("DATASET SUMMARY")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("\nTotal games: %d\n", s.Games)

	patches := make([]string, 0, len(s.ByPatch))
	for p := range s.ByPatch {
		patches = append(patches, p)
	}
	sort.Strings(patches)
	fmt.Println("\nBy patch:")
	for _, p := range patches {
		fmt.Printf("  %s: %d games\n", p, s.ByPatch[p])
	}

	if s.AvgDuration > 0 {
		fmt.Println("\nGame duration:")
		fmt.Printf("  Min: %.1f min\n", s.MinDuration/60)
		fmt.Printf("  Max: %.1f min\n", s.MaxDuration/60)
		fmt.Printf("  Avg: %.1f min\n", s.AvgDuration/60)
	}

	if s.Games > 0 {
		fmt.Println("\nData quality:")
		fmt.Printf("  Full draft (10 champs): %d/%d\n", s.FullDraft, s.Games)
		fmt.Printf("  Has movement data: %d/%d\n", s.HasMovement, s.Games)
		fmt.Printf("  Has combat data: %d/%d\n", s.HasCombat, s.Games)
	}

	type kv struct {
		tag string
		n   int
	}
	totals := make([]kv, 0, len(s.EventTotals))
	for tag, n := range s.EventTotals {
		totals = append(totals, kv{tag, n})
	}
	sort.Slice(totals, func(i, j int) bool {
		if totals[i].n != totals[j].n {
			return totals[i].n > totals[j].n
		}
		return totals[i].tag < totals[j].tag
	})
	fmt.Println("\nEvent types (total across all games):")
	for _, t := range totals {
		fmt.Printf("  %s: %d\n", t.tag, t.n)
	}
}
