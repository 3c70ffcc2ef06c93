package cluster

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// ApplyFunc is the local mutation a committed Raft log entry drives —
// shaped like wal.ApplyFunc so a host process can point both the WAL
// replay path and the Raft FSM at the same underlying engine mutation.
type ApplyFunc func(op byte, key, value []byte) error

// RaftConfig configures a RaftBoundary node.
type RaftConfig struct {
	NodeID    string
	BindAddr  string
	DataDir   string
	Bootstrap bool
	Logger    *slog.Logger
}

// RaftBoundary wraps hashicorp/raft for the optional multi-node consensus
// boundary (spec §6.3). ConcordKV's own core never requires this — it is
// the seam an external cluster layer hangs off of, not part of the
// storage engine's invariants.
type RaftBoundary struct {
	raft      *raft.Raft
	transport *raft.NetworkTransport
	fsm       *engineFSM
	logger    *slog.Logger

	logStore      raft.LogStore
	stableStore   raft.StableStore
	snapshotStore raft.SnapshotStore

	leaderCh chan bool
}

// NewRaftBoundary creates a Raft node whose FSM drives apply against the
// supplied ApplyFunc on every committed log entry.
func NewRaftBoundary(cfg RaftConfig, apply ApplyFunc) (*RaftBoundary, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("cluster: data_dir is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("cluster: create data dir: %w", err)
	}

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.NodeID)
	raftConfig.Logger = &hcLoggerAdapter{logger: cfg.Logger}
	raftConfig.HeartbeatTimeout = 1000 * time.Millisecond
	raftConfig.ElectionTimeout = 1000 * time.Millisecond
	raftConfig.CommitTimeout = 50 * time.Millisecond
	raftConfig.LeaderLeaseTimeout = 500 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("cluster: resolve bind addr: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("cluster: create transport: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		transport.Close()
		return nil, fmt.Errorf("cluster: create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		logStore.Close()
		transport.Close()
		return nil, fmt.Errorf("cluster: create stable store: %w", err)
	}
	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 3, os.Stderr)
	if err != nil {
		stableStore.Close()
		logStore.Close()
		transport.Close()
		return nil, fmt.Errorf("cluster: create snapshot store: %w", err)
	}

	leaderCh := make(chan bool, 10)
	raftConfig.NotifyCh = leaderCh

	fsm := &engineFSM{apply: apply}

	r, err := raft.NewRaft(raftConfig, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		stableStore.Close()
		logStore.Close()
		transport.Close()
		return nil, fmt.Errorf("cluster: create raft: %w", err)
	}

	node := &RaftBoundary{
		raft: r, transport: transport, fsm: fsm, logger: cfg.Logger,
		logStore: logStore, stableStore: stableStore, snapshotStore: snapshotStore,
		leaderCh: leaderCh,
	}

	if cfg.Bootstrap {
		configuration := raft.Configuration{
			Servers: []raft.Server{{ID: raft.ServerID(cfg.NodeID), Address: transport.LocalAddr()}},
		}
		if err := r.BootstrapCluster(configuration).Error(); err != nil {
			node.Close()
			return nil, fmt.Errorf("cluster: bootstrap: %w", err)
		}
	}

	cfg.Logger.Info("raft boundary created", "node_id", cfg.NodeID, "bind_addr", cfg.BindAddr, "bootstrap", cfg.Bootstrap)
	return node, nil
}

// Apply proposes a log entry and waits for it to commit.
func (n *RaftBoundary) Apply(data []byte, timeout time.Duration) error {
	f := n.raft.Apply(data, timeout)
	if err := f.Error(); err != nil {
		return fmt.Errorf("cluster: raft apply: %w", err)
	}
	if resp := f.Response(); resp != nil {
		if err, ok := resp.(error); ok {
			return err
		}
	}
	return nil
}

func (n *RaftBoundary) IsLeader() bool { return n.raft.State() == raft.Leader }

func (n *RaftBoundary) LeaderID() string {
	_, id := n.raft.LeaderWithID()
	return string(id)
}

func (n *RaftBoundary) AddVoter(nodeID, addr string, timeout time.Duration) error {
	if err := n.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, timeout).Error(); err != nil {
		return fmt.Errorf("cluster: add voter: %w", err)
	}
	return nil
}

func (n *RaftBoundary) RemoveServer(nodeID string, timeout time.Duration) error {
	if err := n.raft.RemoveServer(raft.ServerID(nodeID), 0, timeout).Error(); err != nil {
		return fmt.Errorf("cluster: remove server: %w", err)
	}
	return nil
}

// Close shuts down the Raft node and its stores.
func (n *RaftBoundary) Close() error {
	if n.raft != nil {
		if err := n.raft.Shutdown().Error(); err != nil {
			n.logger.Error("raft shutdown failed", "error", err)
		}
	}
	n.stableStore.(*raftboltdb.BoltStore).Close()
	n.logStore.(*raftboltdb.BoltStore).Close()
	return n.transport.Close()
}

// hcLoggerAdapter adapts *slog.Logger to hashicorp/go-hclog.Logger, the
// interface hashicorp/raft requires.
type hcLoggerAdapter struct {
	logger *slog.Logger
}

func (l *hcLoggerAdapter) Log(level hclog.Level, msg string, args ...any) {
	switch level {
	case hclog.Trace, hclog.Debug:
		l.logger.Debug(msg, args...)
	case hclog.Warn:
		l.logger.Warn(msg, args...)
	case hclog.Error:
		l.logger.Error(msg, args...)
	default:
		l.logger.Info(msg, args...)
	}
}

func (l *hcLoggerAdapter) Trace(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *hcLoggerAdapter) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *hcLoggerAdapter) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *hcLoggerAdapter) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *hcLoggerAdapter) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

func (l *hcLoggerAdapter) IsTrace() bool { return false }
func (l *hcLoggerAdapter) IsDebug() bool { return false }
func (l *hcLoggerAdapter) IsInfo() bool  { return true }
func (l *hcLoggerAdapter) IsWarn() bool  { return true }
func (l *hcLoggerAdapter) IsError() bool { return true }

func (l *hcLoggerAdapter) ImpliedArgs() []any           { return nil }
func (l *hcLoggerAdapter) With(args ...any) hclog.Logger { return l }
func (l *hcLoggerAdapter) Name() string                 { return "raft" }
func (l *hcLoggerAdapter) Named(name string) hclog.Logger       { return l }
func (l *hcLoggerAdapter) ResetNamed(name string) hclog.Logger  { return l }
func (l *hcLoggerAdapter) SetLevel(level hclog.Level)           {}
func (l *hcLoggerAdapter) GetLevel() hclog.Level                { return hclog.Info }
func (l *hcLoggerAdapter) StandardLogger(opts *hclog.StandardLoggerOptions) *log.Logger { return nil }
func (l *hcLoggerAdapter) StandardWriter(opts *hclog.StandardLoggerOptions) io.Writer    { return nil }
