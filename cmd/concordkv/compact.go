package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/concordkv/concordkv/internal/storage"
	"github.com/concordkv/concordkv/internal/telemetry/logger"
)

func compactCommand() *cli.Command {
	return &cli.Command{
		Name:  "compact",
		Usage: "trigger WAL and backend compaction out of band",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "data-dir", Required: true, Usage: "storage data directory"},
			&cli.StringFlag{Name: "type", Value: "ARRAY", Usage: "backend type (ARRAY|RBTREE|HASH|BTREE|LSM)"},
		},
		Action: runCompact,
	}
}

func runCompact(c *cli.Context) error {
	dataDir := c.String("data-dir")

	cfg := storage.DefaultConfig(dataDir)
	cfg.Type = c.String("type")
	cfg.Logger = logger.NewSlog(logger.Config{Level: "info", Format: "text"})

	engine, err := storage.New(cfg)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer engine.Close()

	ctx := context.Background()
	if err := engine.Recover(ctx); err != nil {
		return fmt.Errorf("recover engine: %w", err)
	}

	before := engine.Count()
	if err := engine.Compact(ctx); err != nil {
		return fmt.Errorf("compact: %w", err)
	}
	after := engine.Count()

	fmt.Printf("compaction complete: count before=%d after=%d\n", before, after)
	return nil
}
