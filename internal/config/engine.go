package config

import (
	"log/slog"
	"time"

	"github.com/concordkv/concordkv/internal/storage"
)

// EngineConfig converts the loaded storage section into the storage
// package's own Config, applying storage.DefaultConfig's zero-value
// fallbacks for any duration/threshold field the user left unset.
func (c StorageSection) EngineConfig(logger *slog.Logger) storage.Config {
	base := storage.DefaultConfig(c.DataDir)

	cfg := storage.Config{
		Type:                    orString(c.Type, base.Type),
		DataDir:                 c.DataDir,
		MemoryLimit:             c.MemoryLimit,
		CacheSize:               c.CacheSize,
		EnableCompression:       c.EnableCompression,
		EnableChecksum:          c.EnableChecksum,
		Capacity:                orInt(c.Capacity, base.Capacity),
		MemtableSize:            c.MemtableSize,
		Level0FileLimit:         c.Level0FileLimit,
		LevelSizeMultiplier:     c.LevelSizeMultiplier,
		PageSize:                orInt(c.PageSize, base.PageSize),
		MaxKeysPerNode:          orInt(c.MaxKeysPerNode, base.MaxKeysPerNode),
		InitialBuckets:          orInt(c.InitialBuckets, base.InitialBuckets),
		LoadFactor:              orFloat(c.LoadFactor, base.LoadFactor),
		SnapshotInterval:        orDuration(c.SnapshotInterval, base.SnapshotInterval),
		IncrementalSyncInterval: orDuration(c.IncrementalSyncInterval, base.IncrementalSyncInterval),
		IncrementalBatchSize:    orInt(c.IncrementalBatchSize, base.IncrementalBatchSize),
		CompactThreshold:        orInt(c.CompactThreshold, base.CompactThreshold),
		CompactRatio:            orFloat(c.CompactRatio, base.CompactRatio),
		SyncWrite:               c.SyncWrite,
		SnapshotKeep:            orInt(c.SnapshotKeep, base.SnapshotKeep),
		Logger:                  logger,
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

func orString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func orInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

func orFloat(v, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	return v
}

func orDuration(v, fallback time.Duration) time.Duration {
	if v == 0 {
		return fallback
	}
	return v
}
