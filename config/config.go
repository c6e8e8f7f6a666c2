// Package config loads the on-disk YAML configuration for a kvcore
// deployment: which engine to run and that engine's tuning knobs, kept
// separate from the storage packages so they stay free of a YAML
// dependency in their own import graph.
package config

import (
	"fmt"
	"os"

	"github.com/intellect4all/kvcore/hashstore"
	"github.com/intellect4all/kvcore/internal/external"
	"github.com/intellect4all/kvcore/lsmstore"
	"gopkg.in/yaml.v3"
)

// Engine names the storage core a Config selects.
type Engine string

const (
	EngineHash     Engine = "hash"
	EngineLSM      Engine = "lsm"
	EngineExternal Engine = "external"
)

// Config is the top-level YAML document: an engine selector plus one
// settings block per engine. Only the selected engine's block is used;
// the others may be left at their zero value.
type Config struct {
	DataDir string `yaml:"data_dir"`
	Engine  Engine `yaml:"engine"`

	Hash     HashConfig     `yaml:"hash"`
	LSM      LSMConfig      `yaml:"lsm"`
	External ExternalConfig `yaml:"external"`
}

// HashConfig mirrors hashstore.Config's tunable fields.
type HashConfig struct {
	SegmentSizeBytes    int64 `yaml:"segment_size_bytes"`
	CompactionThreshold int64 `yaml:"compaction_threshold"`
	SyncOnWrite         bool  `yaml:"sync_on_write"`
}

// LSMConfig mirrors lsmstore.Config's tunable fields.
type LSMConfig struct {
	MemThreshold       int     `yaml:"mem_threshold"`
	SstFileSize        int     `yaml:"sst_file_size"`
	MaxL0Files         int     `yaml:"max_l0_files"`
	IndexInterval      int     `yaml:"index_interval"`
	BloomFPRate        float64 `yaml:"bloom_fp_rate"`
	CompressionEnabled bool    `yaml:"compression_enabled"`
	BlockCacheSize     int     `yaml:"block_cache_size"`
}

// ExternalConfig mirrors external.Config's tunable fields.
type ExternalConfig struct {
	FileName string `yaml:"file_name"`
	NoSync   bool   `yaml:"no_sync"`
}

// Load reads and parses the YAML document at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.DataDir == "" {
		return Config{}, fmt.Errorf("config: data_dir is required")
	}
	if cfg.Engine == "" {
		cfg.Engine = EngineHash
	}
	return cfg, nil
}

// HashStoreConfig materializes a hashstore.Config from the loaded
// document, falling back to hashstore.DefaultConfig for any zero field.
func (c Config) HashStoreConfig() hashstore.Config {
	cfg := hashstore.DefaultConfig(c.DataDir)
	if c.Hash.SegmentSizeBytes > 0 {
		cfg.SegmentSizeBytes = c.Hash.SegmentSizeBytes
	}
	if c.Hash.CompactionThreshold > 0 {
		cfg.CompactionThreshold = c.Hash.CompactionThreshold
	}
	cfg.SyncOnWrite = c.Hash.SyncOnWrite
	return cfg
}

// LSMStoreConfig materializes an lsmstore.Config from the loaded
// document, falling back to lsmstore.DefaultConfig for any zero field.
func (c Config) LSMStoreConfig() lsmstore.Config {
	cfg := lsmstore.DefaultConfig(c.DataDir)
	if c.LSM.MemThreshold > 0 {
		cfg.MemThreshold = c.LSM.MemThreshold
	}
	if c.LSM.SstFileSize > 0 {
		cfg.SstFileSize = c.LSM.SstFileSize
	}
	if c.LSM.MaxL0Files > 0 {
		cfg.MaxL0Files = c.LSM.MaxL0Files
	}
	if c.LSM.IndexInterval > 0 {
		cfg.IndexInterval = c.LSM.IndexInterval
	}
	if c.LSM.BloomFPRate > 0 {
		cfg.BloomFPRate = c.LSM.BloomFPRate
	}
	if c.LSM.BlockCacheSize > 0 {
		cfg.BlockCacheSize = c.LSM.BlockCacheSize
	}
	cfg.CompressionEnabled = c.LSM.CompressionEnabled
	return cfg
}

// ExternalStoreConfig materializes an external.Config from the loaded
// document, falling back to external.DefaultConfig for any zero field.
func (c Config) ExternalStoreConfig() external.Config {
	cfg := external.DefaultConfig(c.DataDir)
	if c.External.FileName != "" {
		cfg.FileName = c.External.FileName
	}
	cfg.NoSync = c.External.NoSync
	return cfg
}
