package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"

	"replay-gym/internal/archive"
	"replay-gym/internal/dataset"
	"replay-gym/internal/index"
	"replay-gym/internal/metrics"
)

// CLI flags
var (
	configPath  = flag.String("config", "", "Dataset YAML config (flags override it)")
	dataDir     = flag.String("data-dir", "", "Collection root (patch-split layout)")
	splits      = flag.String("splits", "", "Comma-separated patch splits, empty = all")
	interval    = flag.Int("checkpoint-interval", 0, "Events between checkpoints (0 = default)")
	strict      = flag.Bool("strict", false, "Abort a build on the first malformed packet")
	workers     = flag.Int("workers", 0, "Concurrent builds (0 = GOMAXPROCS)")
	force       = flag.Bool("force", false, "Rebuild indexes that already exist")
	metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus /metrics on this address")
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
	if cfg.DataDir == "" {
		log.Fatal("No data dir: set -data-dir, config data_dir, or REPLAY_DATA_DIR")
	}
	if *splits != "" {
		cfg.Splits = strings.Split(*splits, ",")
	}
	if *interval > 0 {
		cfg.CheckpointInterval = *interval
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	cfg.Strict = cfg.Strict || *strict

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			log.Printf("[Indexer] metrics on %s/metrics", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Printf("[Indexer] metrics server: %v", err)
			}
		}()
	}

	paths, err := archive.Discover(cfg.DataDir, cfg.Splits)
	if err != nil {
		log.Fatalf("Failed to discover archives: %v", err)
	}
	if len(paths) == 0 {
		fmt.Println("No archives to index")
		return
	}
	fmt.Printf("Found %d archives to index\n", len(paths))

	results := make([]outcome, len(paths))
	jobs := make(chan int)
	var wg sync.WaitGroup

	n := *workers
	if n <= 0 {
		n = 4
	}
	if n > len(paths) {
		n = len(paths)
	}
	for w := 0; w < n; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = buildOne(paths[i], cfg)
			}
		}()
	}
	for i := range paths {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	var built, skipped, failed int
	for _, res := range results {
		switch {
		case res.err != nil:
			log.Printf("[Indexer] %s failed: %v", res.path, res.err)
			failed++
		case res.skipped:
			skipped++
		default:
			built++
		}
	}
	fmt.Printf("Indexed %d archives (%d up to date, %d failed)\n", built, skipped, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

type outcome struct {
	path    string
	skipped bool
	err     error
}

func buildOne(path string, cfg dataset.Config) outcome {
	res := outcome{path: path}
	idxPath := index.DefaultPath(path)

	if !*force {
		if upToDate(path, idxPath) {
			res.skipped = true
			return res
		}
	}

	ix, err := index.Build(path, index.BuildOptions{
		CheckpointInterval: cfg.CheckpointInterval,
		Strict:             cfg.Strict,
	})
	if err != nil {
		res.err = err
		return res
	}
	if err := index.Save(ix, idxPath); err != nil {
		res.err = err
		return res
	}
	log.Printf("[Indexer] %s: %d matches, %d checkpoints, %d segments",
		path, len(ix.Matches), len(ix.Checkpoints), len(ix.Segments))
	return res
}

// upToDate reports whether an index exists and is no older than its
// archive.
func upToDate(archivePath, idxPath string) bool {
	idxInfo, err := os.Stat(idxPath)
	if err != nil {
		return false
	}
	arcInfo, err := os.Stat(archivePath)
	if err != nil {
		return false
	}
	return !idxInfo.ModTime().Before(arcInfo.ModTime())
}
