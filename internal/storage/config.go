package storage

import (
	"log/slog"
	"time"

	"github.com/concordkv/concordkv/internal/storage/backend"
	"github.com/concordkv/concordkv/internal/storage/wal"
)

// Default background task intervals (spec §4.5).
const (
	DefaultSnapshotInterval        = time.Hour
	DefaultIncrementalSyncInterval = 5 * time.Second
	DefaultIncrementalBatchSize    = 256
	DefaultSnapshotKeep            = 3
)

// Config configures an Engine. Field names mirror spec §6's engine
// configuration table; Type selects the backend and the type-scoped
// fields (LSM/BTree/Hash) are forwarded to backend.Config.
type Config struct {
	// Type selects the backend: ARRAY | RBTREE | HASH | BTREE | LSM.
	Type string

	DataDir string

	MemoryLimit       int64
	CacheSize         int64
	EnableCompression bool
	EnableChecksum    bool

	// ARRAY
	Capacity int

	// LSM
	MemtableSize        int64
	Level0FileLimit     int
	LevelSizeMultiplier int

	// BTREE
	PageSize       int
	MaxKeysPerNode int

	// HASH
	InitialBuckets int
	LoadFactor     float64

	SnapshotInterval        time.Duration
	IncrementalSyncInterval time.Duration
	IncrementalBatchSize    int
	CompactThreshold        int
	CompactRatio            float64
	SyncWrite               bool
	// SnapshotKeep is how many recent snapshots TriggerSnapshot retains
	// when pruning superseded ones; DefaultSnapshotKeep if unset.
	SnapshotKeep int

	Logger *slog.Logger
}

// DefaultConfig returns an ARRAY-backed engine configuration rooted at
// dataDir, matching spec §6's defaults.
func DefaultConfig(dataDir string) Config {
	return Config{
		Type:                    "ARRAY",
		DataDir:                 dataDir,
		Capacity:                backend.DefaultArrayCapacity,
		InitialBuckets:          backend.DefaultInitialBuckets,
		LoadFactor:              backend.DefaultLoadFactor,
		PageSize:                backend.DefaultPageSize,
		MaxKeysPerNode:          backend.DefaultMaxKeysPerNode,
		SnapshotInterval:        DefaultSnapshotInterval,
		IncrementalSyncInterval: DefaultIncrementalSyncInterval,
		IncrementalBatchSize:    DefaultIncrementalBatchSize,
		CompactThreshold:        wal.DefaultCompactThreshold,
		CompactRatio:            0.5,
		SnapshotKeep:            DefaultSnapshotKeep,
		Logger:                  slog.Default(),
	}
}

func (c Config) backendConfig() backend.Config {
	return backend.Config{
		Type:                c.Type,
		MemoryLimit:         c.MemoryLimit,
		CacheSize:           c.CacheSize,
		EnableCompression:   c.EnableCompression,
		EnableChecksum:      c.EnableChecksum,
		DataDir:             c.DataDir,
		Capacity:            c.Capacity,
		MemtableSize:        c.MemtableSize,
		Level0FileLimit:     c.Level0FileLimit,
		LevelSizeMultiplier: c.LevelSizeMultiplier,
		PageSize:            c.PageSize,
		MaxKeysPerNode:      c.MaxKeysPerNode,
		InitialBuckets:      c.InitialBuckets,
		LoadFactor:          c.LoadFactor,
	}
}

func (c Config) walConfig() wal.Config {
	return wal.Config{
		Dir:         c.DataDir + "/wal",
		SyncWrite:   c.SyncWrite,
		MaxFileSize: wal.DefaultMaxFileSize,
	}
}
