// Package cluster is the thin boundary spec §6.3 describes: the core
// engine applies writes locally and exposes an apply hook an external
// consensus/sharding layer can drive, but owns no membership, replication,
// or partition-assignment logic itself (multi-node consensus and range
// partitioning are explicit Non-goals, spec §1).
//
// ShardHasher is grounded on the teacher's clusterserver.ShardMap
// (HashKey, AddNode/RemoveNode/GetNodeForHash consistent-hash ring), with
// shard-to-node assignment, replica bookkeeping, and rebalancing stripped
// out — those model multi-node ownership, which is out of scope here. What
// remains is exactly the "which shard owns this key" question a host
// process needs to route requests to the right Engine instance.
package cluster

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/spaolacci/murmur3"
)

const (
	// DefaultShardCount mirrors the teacher's ring sizing.
	DefaultShardCount = 256
	// DefaultVirtualNodeCount is virtual nodes per physical node in the
	// consistent-hash ring.
	DefaultVirtualNodeCount = 256
)

// ShardHasher maps keys to shard ids and virtual-node hashes to physical
// node ids via consistent hashing. It holds no notion of "current
// assignment" beyond the ring itself — ownership changes are for the host
// process to track, not this package.
type ShardHasher struct {
	mu sync.RWMutex

	virtualNodes map[uint64]string
	sortedHashes []uint64
}

// NewShardHasher constructs an empty ring.
func NewShardHasher() *ShardHasher {
	return &ShardHasher{virtualNodes: make(map[uint64]string)}
}

// HashKey computes the shard id for a key (spec §6.3: murmur3, matching
// the teacher's shard-routing hash function).
func HashKey(key string) uint32 {
	return murmur3.Sum32([]byte(key)) % DefaultShardCount
}

// AddNode adds a physical node's virtual nodes to the ring.
func (h *ShardHasher) AddNode(nodeID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := 0; i < DefaultVirtualNodeCount; i++ {
		h.virtualNodes[hashVirtualNode(nodeID, i)] = nodeID
	}
	h.rebuildSortedHashes()
}

// RemoveNode removes a physical node's virtual nodes from the ring.
func (h *ShardHasher) RemoveNode(nodeID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := 0; i < DefaultVirtualNodeCount; i++ {
		delete(h.virtualNodes, hashVirtualNode(nodeID, i))
	}
	h.rebuildSortedHashes()
}

// NodeForKey returns the physical node id owning key under the current
// ring, false if the ring has no nodes.
func (h *ShardHasher) NodeForKey(key string) (string, bool) {
	return h.NodeForHash(murmur3.Sum64([]byte(key)))
}

// NodeForHash returns the physical node id owning a given ring position.
func (h *ShardHasher) NodeForHash(hash uint64) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.sortedHashes) == 0 {
		return "", false
	}
	idx := sort.Search(len(h.sortedHashes), func(i int) bool { return h.sortedHashes[i] >= hash })
	if idx == len(h.sortedHashes) {
		idx = 0
	}
	return h.virtualNodes[h.sortedHashes[idx]], true
}

// Nodes returns every distinct physical node id currently in the ring,
// sorted for deterministic output.
func (h *ShardHasher) Nodes() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	set := make(map[string]struct{})
	for _, id := range h.virtualNodes {
		set[id] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func hashVirtualNode(nodeID string, virtualIndex int) uint64 {
	h := murmur3.New64()
	h.Write([]byte(nodeID))
	idx := make([]byte, 4)
	binary.BigEndian.PutUint32(idx, uint32(virtualIndex))
	h.Write(idx)
	return h.Sum64()
}

func (h *ShardHasher) rebuildSortedHashes() {
	h.sortedHashes = make([]uint64, 0, len(h.virtualNodes))
	for hash := range h.virtualNodes {
		h.sortedHashes = append(h.sortedHashes, hash)
	}
	sort.Slice(h.sortedHashes, func(i, j int) bool { return h.sortedHashes[i] < h.sortedHashes[j] })
}
