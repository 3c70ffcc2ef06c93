package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/concordkv/concordkv/internal/cluster"
	"github.com/concordkv/concordkv/internal/config"
	"github.com/concordkv/concordkv/internal/infra/shutdown"
	"github.com/concordkv/concordkv/internal/storage"
	"github.com/concordkv/concordkv/internal/telemetry/logger"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "start an engine (and, if configured, its cluster boundary)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a YAML config file"},
			&cli.StringFlag{Name: "data-dir", Usage: "storage data directory (overrides config)"},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	dataDir := c.String("data-dir")
	if dataDir == "" {
		dataDir = "./data"
	}

	cfg, err := config.Load(c.String("config"), dataDir)
	if err != nil {
		return err
	}
	if c.String("data-dir") != "" {
		cfg.Storage.DataDir = c.String("data-dir")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	slogLogger := logger.NewSlog(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	appLogger, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(appLogger)

	engine, err := storage.New(cfg.Storage.EngineConfig(slogLogger))
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}

	ctx := context.Background()
	if err := engine.Recover(ctx); err != nil {
		return fmt.Errorf("recover engine: %w", err)
	}
	appLogger.Info("engine ready", "type", cfg.Storage.Type, "data_dir", cfg.Storage.DataDir, "count", engine.Count())

	shutdownHandler := shutdown.NewHandler(30 * time.Second)
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		appLogger.Info("shutting down engine")
		return engine.Close()
	})

	if cfg.Cluster.Enabled {
		boundary, err := cluster.NewRaftBoundary(cluster.RaftConfig{
			NodeID:    cfg.Cluster.NodeID,
			BindAddr:  cfg.Cluster.BindAddr,
			DataDir:   cfg.Cluster.DataDir,
			Bootstrap: cfg.Cluster.Bootstrap,
			Logger:    slogLogger,
		}, func(op byte, key, value []byte) error {
			return engine.Set(key, value)
		})
		if err != nil {
			return fmt.Errorf("init cluster boundary: %w", err)
		}
		shutdownHandler.OnShutdown(func(ctx context.Context) error {
			appLogger.Info("shutting down cluster boundary")
			return boundary.Close()
		})

		if cfg.Cluster.GossipAddr != "" {
			discovery, err := cluster.NewDiscovery(cluster.DiscoveryConfig{
				NodeID:    cfg.Cluster.NodeID,
				BindAddr:  cfg.Cluster.GossipAddr,
				BindPort:  cfg.Cluster.GossipPort,
				RaftAddr:  cfg.Cluster.BindAddr,
				SeedNodes: cfg.Cluster.Seeds,
				Logger:    slogLogger,
			}, func(nodeID, raftAddr string) {
				if err := boundary.AddVoter(nodeID, raftAddr, 10*time.Second); err != nil {
					appLogger.Warn("add voter failed", "node_id", nodeID, "error", err)
				}
			}, nil)
			if err != nil {
				return fmt.Errorf("init gossip discovery: %w", err)
			}
			shutdownHandler.OnShutdown(func(ctx context.Context) error {
				appLogger.Info("shutting down gossip discovery")
				return discovery.Shutdown()
			})
		}
	}

	appLogger.Info("server started, press Ctrl+C to stop")
	if err := shutdownHandler.Wait(); err != nil {
		appLogger.Error("shutdown error", "error", err)
		return err
	}
	appLogger.Info("server stopped gracefully")
	return nil
}
