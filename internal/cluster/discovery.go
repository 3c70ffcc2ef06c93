package cluster

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"

	"github.com/hashicorp/memberlist"
)

// Discovery is the optional gossip-based membership layer for the cluster
// boundary of spec §6.3 — it tells a RaftBoundary which peers exist so it
// can be voted in, but owns no shard assignment or replica tracking
// itself (multi-node consensus and partitioning stay out of the core's
// scope). Grounded on the teacher's clusterserver.Discovery, trimmed of
// its ClusterID mismatch rejection and metadata validation (modeling
// multi-tenant cluster isolation this boundary doesn't need) down to
// node join/leave notification carrying a Raft address.
type Discovery struct {
	memberList *memberlist.Memberlist
	logger     *slog.Logger

	onJoin  func(nodeID, raftAddr string)
	onLeave func(nodeID string)
}

// DiscoveryConfig configures gossip membership for one node.
type DiscoveryConfig struct {
	NodeID    string
	BindAddr  string
	BindPort  int
	RaftAddr  string
	SeedNodes []string
	Logger    *slog.Logger
}

// NewDiscovery joins (or starts, if SeedNodes is empty) a gossip ring.
func NewDiscovery(cfg DiscoveryConfig, onJoin func(nodeID, raftAddr string), onLeave func(nodeID string)) (*Discovery, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	d := &Discovery{logger: cfg.Logger, onJoin: onJoin, onLeave: onLeave}

	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = cfg.NodeID
	mlConfig.BindAddr = cfg.BindAddr
	mlConfig.BindPort = cfg.BindPort
	mlConfig.LogOutput = &slogWriter{logger: cfg.Logger}
	mlConfig.Events = &eventDelegate{discovery: d}
	if cfg.RaftAddr != "" {
		mlConfig.Delegate = &raftAddrDelegate{raftAddr: cfg.RaftAddr}
	}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("cluster: create memberlist: %w", err)
	}
	d.memberList = ml

	if len(cfg.SeedNodes) > 0 {
		n, err := ml.Join(cfg.SeedNodes)
		if err != nil {
			ml.Shutdown()
			return nil, fmt.Errorf("cluster: join seed nodes: %w", err)
		}
		cfg.Logger.Info("joined gossip ring", "node_id", cfg.NodeID, "joined_count", n)
	} else {
		cfg.Logger.Info("started gossip ring (bootstrap mode)", "node_id", cfg.NodeID)
	}

	return d, nil
}

// Members returns the current gossip membership view.
func (d *Discovery) Members() []*memberlist.Node {
	return d.memberList.Members()
}

// Shutdown leaves the ring and stops the gossip transport.
func (d *Discovery) Shutdown() error {
	if err := d.memberList.Leave(0); err != nil {
		d.logger.Warn("cluster: leave ring failed", "error", err)
	}
	if err := d.memberList.Shutdown(); err != nil {
		return fmt.Errorf("cluster: shutdown memberlist: %w", err)
	}
	return nil
}

type eventDelegate struct {
	discovery *Discovery
}

func (e *eventDelegate) NotifyJoin(node *memberlist.Node) {
	raftAddr := ""
	if len(node.Meta) > 0 {
		var meta raftAddrMeta
		if err := json.Unmarshal(node.Meta, &meta); err == nil {
			raftAddr = meta.RaftAddr
		}
	}
	if raftAddr == "" {
		raftAddr = net.JoinHostPort(node.Addr.String(), fmt.Sprintf("%d", node.Port))
	}
	e.discovery.logger.Info("cluster node joined", "node_id", node.Name, "raft_addr", raftAddr)
	if e.discovery.onJoin != nil {
		e.discovery.onJoin(node.Name, raftAddr)
	}
}

func (e *eventDelegate) NotifyLeave(node *memberlist.Node) {
	e.discovery.logger.Info("cluster node left", "node_id", node.Name)
	if e.discovery.onLeave != nil {
		e.discovery.onLeave(node.Name)
	}
}

func (e *eventDelegate) NotifyUpdate(node *memberlist.Node) {}

// slogWriter adapts *slog.Logger to the io.Writer memberlist wants for its
// own internal log output.
type slogWriter struct {
	logger *slog.Logger
}

func (w *slogWriter) Write(p []byte) (int, error) {
	w.logger.Debug(string(p))
	return len(p), nil
}

type raftAddrMeta struct {
	RaftAddr string `json:"raft_addr"`
}

// raftAddrDelegate publishes this node's Raft transport address in its
// gossip metadata so peers can discover where to dial it for consensus.
type raftAddrDelegate struct {
	raftAddr string
}

func (m *raftAddrDelegate) NodeMeta(limit int) []byte {
	data, err := json.Marshal(raftAddrMeta{RaftAddr: m.raftAddr})
	if err != nil || len(data) > limit {
		return nil
	}
	return data
}

func (m *raftAddrDelegate) NotifyMsg([]byte)                           {}
func (m *raftAddrDelegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }
func (m *raftAddrDelegate) LocalState(join bool) []byte                { return nil }
func (m *raftAddrDelegate) MergeRemoteState(buf []byte, join bool)      {}
