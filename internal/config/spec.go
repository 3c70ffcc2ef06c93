// Package config defines ConcordKV's configuration structure and loads it
// via internal/infra/confloader (env > file > default), grounded on
// the teacher's internal/server/config package.
package config

import "time"

// Config is the root configuration for concordkv.
type Config struct {
	Storage StorageSection `koanf:"storage"`
	Cluster ClusterSection `koanf:"cluster"`
	Admin   AdminSection   `koanf:"admin"`
	Log     LogSection     `koanf:"log"`
}

// StorageSection configures the storage engine (spec §6's engine
// configuration table).
type StorageSection struct {
	Type    string `koanf:"type"`
	DataDir string `koanf:"data_dir"`

	MemoryLimit       int64 `koanf:"memory_limit"`
	CacheSize         int64 `koanf:"cache_size"`
	EnableCompression bool  `koanf:"enable_compression"`
	EnableChecksum    bool  `koanf:"enable_checksum"`

	Capacity int `koanf:"capacity"`

	MemtableSize        int64 `koanf:"memtable_size"`
	Level0FileLimit     int   `koanf:"level0_file_limit"`
	LevelSizeMultiplier int   `koanf:"level_size_multiplier"`

	PageSize       int `koanf:"page_size"`
	MaxKeysPerNode int `koanf:"max_keys_per_node"`

	InitialBuckets int     `koanf:"initial_buckets"`
	LoadFactor     float64 `koanf:"load_factor"`

	SnapshotInterval        time.Duration `koanf:"snapshot_interval"`
	IncrementalSyncInterval time.Duration `koanf:"incremental_sync_interval"`
	IncrementalBatchSize    int           `koanf:"incremental_batch_size"`
	CompactThreshold        int           `koanf:"compact_threshold"`
	CompactRatio            float64       `koanf:"compact_ratio"`
	SyncWrite               bool          `koanf:"sync_write"`
	SnapshotKeep            int           `koanf:"snapshot_keep"`
}

// ClusterSection configures the optional Raft + gossip cluster boundary
// (internal/cluster, spec §6.3 — never required for single-node use).
type ClusterSection struct {
	Enabled       bool     `koanf:"enabled"`
	NodeID        string   `koanf:"node_id"`
	BindAddr      string   `koanf:"bind_addr"`
	DataDir       string   `koanf:"data_dir"`
	Bootstrap     bool     `koanf:"bootstrap"`
	Seeds         []string `koanf:"seeds"`
	GossipAddr    string   `koanf:"gossip_addr"`
	GossipPort    int      `koanf:"gossip_port"`
}

// AdminSection configures cmd/concordkv's admin surfaces.
type AdminSection struct {
	MetricsAddr string `koanf:"metrics_addr"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
