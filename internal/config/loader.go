package config

import (
	"fmt"

	"github.com/concordkv/concordkv/internal/infra/confloader"
	"github.com/concordkv/concordkv/internal/storage/backend"
	"github.com/concordkv/concordkv/internal/storage/wal"
)

// Default returns a Config with every section's documented defaults
// applied: an ARRAY-backed single-node engine rooted at dataDir, cluster
// boundary disabled, text logging at info level.
func Default(dataDir string) Config {
	return Config{
		Storage: StorageSection{
			Type:                    "ARRAY",
			DataDir:                 dataDir,
			Capacity:                backend.DefaultArrayCapacity,
			InitialBuckets:          backend.DefaultInitialBuckets,
			LoadFactor:              backend.DefaultLoadFactor,
			PageSize:                backend.DefaultPageSize,
			MaxKeysPerNode:          backend.DefaultMaxKeysPerNode,
			CompactThreshold:        wal.DefaultCompactThreshold,
			CompactRatio:            wal.DefaultCompactRatio,
			SnapshotKeep:            3,
		},
		Admin: AdminSection{
			MetricsAddr: ":9090",
		},
		Log: LogSection{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds a Config by layering, lowest to highest priority: Default,
// configFile (if non-empty), environment variables prefixed
// CONCORDKV_ (internal/infra/confloader's default prefix). Matches the
// teacher's internal/server/config loading order, generalized from its
// viper-free koanf usage to ConcordKV's section shape.
func Load(configFile, dataDir string) (Config, error) {
	cfg := Default(dataDir)

	loader := confloader.NewLoader(confloader.WithConfigFile(configFile))
	if err := loader.Load(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: load: %w", err)
	}
	return cfg, nil
}

// Validate checks invariants Load cannot enforce via struct tags alone:
// a storage type the engine recognizes, and a non-empty data directory.
func (c Config) Validate() error {
	switch c.Storage.Type {
	case "", "ARRAY", "RBTREE", "HASH", "BTREE", "LSM":
	default:
		return fmt.Errorf("config: unknown storage.type %q", c.Storage.Type)
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("config: storage.data_dir is required")
	}
	if c.Cluster.Enabled && c.Cluster.NodeID == "" {
		return fmt.Errorf("config: cluster.node_id is required when cluster.enabled")
	}
	return nil
}
