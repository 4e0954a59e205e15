package dataset

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config describes one dataset load. Loaded from YAML by the tools;
// library callers fill it directly.
type Config struct {
	// RepoID is a provenance label for the collection (e.g. the
	// upstream dataset the archives were exported from). Recorded in
	// Stats, never dereferenced.
	RepoID string `yaml:"repo_id"`

	// DataDir is the collection root laid out by patch split
	// (12_22/batch_001.jsonl.gz). Ignored when Archives is set.
	DataDir string `yaml:"data_dir"`

	// Archives lists explicit archive paths, bypassing discovery.
	Archives []string `yaml:"archives"`

	// Splits narrows discovery to the named patch splits; empty means
	// all splits under DataDir.
	Splits []string `yaml:"splits"`

	// MaxGames caps the loaded collection after the ordered merge;
	// 0 means unlimited.
	MaxGames int `yaml:"max_games"`

	// Strict aborts the load on the first malformed packet. The
	// default skips and counts them.
	Strict bool `yaml:"strict"`

	// Dedupe drops byte-identical match lines, keeping the first
	// occurrence in archive order.
	Dedupe bool `yaml:"dedupe"`

	// Workers is the number of concurrent archive loaders; 0 means
	// GOMAXPROCS.
	Workers int `yaml:"workers"`

	// CheckpointInterval is passed through to index builds driven by
	// this config; 0 means the index default.
	CheckpointInterval int `yaml:"checkpoint_interval"`
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func (c *Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}
