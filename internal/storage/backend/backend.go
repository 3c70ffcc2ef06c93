// Package backend defines the operation surface every storage backend
// (array, red-black tree, hash, B+Tree, LSM) implements, and the value
// objects that flow across it.
//
// This is the Go realization of the engine vtable: instead of a
// function-pointer table per backend, backends satisfy one interface and
// the engine holds a single Backend value behind its read/write lock.
package backend

import "github.com/concordkv/concordkv/internal/concorderr"

// KV is a logical key-value record: the byte payload plus the bookkeeping
// fields log-structured backends need. In-memory backends never surface a
// Deleted=true record to callers; they drop tombstones outright.
type KV struct {
	Key     []byte
	Value   []byte
	Seq     uint64
	Deleted bool
}

// Range describes a lexicographic key range over raw bytes. Start/End are
// nil-able: a nil Start means "from the first key", a nil End means "to the
// last key". Limit <= 0 means unbounded.
type Range struct {
	Start          []byte
	End            []byte
	StartInclusive bool
	EndInclusive   bool
	Limit          int
}

// Stats reports point-in-time backend statistics.
type Stats struct {
	Count       uint64
	SizeBytes   uint64
	MemoryUsage uint64
}

// Iterator is a stateful cursor over a backend. Ordered backends (RB-tree,
// B+Tree, LSM) iterate in key order; the hash backend and array backend
// iterate in implementation-defined order, and their Seek positions only on
// an exact key match.
//
// An iterator either holds the backend's read lock for its entire lifetime
// or snapshots a consistent key list at creation; both satisfy the engine's
// concurrency contract. Close must always be called.
type Iterator interface {
	Next() bool
	Prev() bool
	Seek(key []byte) bool
	Key() []byte
	Value() []byte
	Close() error
}

// Config configures a backend at Init time. Fields not applicable to a
// given backend type are ignored by that backend.
type Config struct {
	Type               string
	MemoryLimit        int64
	CacheSize          int64
	EnableCompression  bool
	EnableChecksum     bool
	DataDir            string
	Capacity           int // ARRAY
	MemtableSize       int64
	Level0FileLimit    int
	LevelSizeMultiplier int
	PageSize           int
	MaxKeysPerNode     int
	InitialBuckets     int
	LoadFactor         float64
	PromoteThreshold   int // HASH: list->tree bucket promotion
	DemoteThreshold    int // HASH: tree->list bucket demotion
}

// Default engine configuration constants, per spec §6's configuration
// table and §4's backend defaults.
const (
	DefaultArrayCapacity    = 1024
	DefaultInitialBuckets   = 16
	DefaultLoadFactor       = 0.75
	DefaultPromoteThreshold = 8
	DefaultDemoteThreshold  = 6
	DefaultPageSize         = 4096
	DefaultMaxKeysPerNode   = 128
)

// DefaultConfig returns a Config with every backend's documented defaults
// applied, for the given backend type.
func DefaultConfig(typ string) Config {
	return Config{
		Type:             typ,
		Capacity:         DefaultArrayCapacity,
		InitialBuckets:   DefaultInitialBuckets,
		LoadFactor:       DefaultLoadFactor,
		PromoteThreshold: DefaultPromoteThreshold,
		DemoteThreshold:  DefaultDemoteThreshold,
		PageSize:         DefaultPageSize,
		MaxKeysPerNode:   DefaultMaxKeysPerNode,
	}
}

// Backend is the operation surface every storage backend implements. The
// engine (internal/storage.Engine) is the only caller; it serializes access
// under its own readers-writer lock per the concurrency contract in spec
// §4.1/§5, so backends need not be independently thread-safe unless noted.
type Backend interface {
	// Type returns the backend's config type string (ARRAY, RBTREE, HASH,
	// BTREE, LSM).
	Type() string

	Init(cfg Config) error

	Set(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	// Update replaces an existing key's value, returning NOT_FOUND if
	// absent. Distinguished from Set, which creates-or-replaces.
	Update(key, value []byte) error

	// BatchSet/BatchGet/BatchDelete apply per-record, not atomically across
	// the batch. The returned slice has one entry per input record.
	BatchSet(records []KV) []error
	BatchGet(keys [][]byte) ([][]byte, []error)
	BatchDelete(keys [][]byte) []error

	NewIterator() Iterator
	RangeScan(r Range) ([]KV, error)
	PrefixScan(prefix []byte, limit int) ([]KV, error)

	Count() uint64
	Size() uint64
	MemoryUsage() uint64
	Stats() Stats

	Flush() error
	Compact() error
	Sync() error

	// Keys enumerates every live key, for WAL compaction's
	// get_all_keys/get_value upstream callback (spec §6).
	Keys() ([][]byte, error)

	// SaveTo/LoadFrom implement the snapshot manager's save_data/load_data
	// callbacks (spec §4.6/§6). Content is backend-defined.
	SaveTo(w SnapshotWriter) error
	LoadFrom(r SnapshotReader) error

	Close() error
}

// SnapshotWriter/SnapshotReader are the minimal I/O surface the snapshot
// manager hands to a backend's SaveTo/LoadFrom; kept narrow so backend code
// does not need to import the snapshot package.
type SnapshotWriter interface {
	Write(p []byte) (int, error)
}

type SnapshotReader interface {
	Read(p []byte) (int, error)
}

// errNotSupported is the shared NOT_SUPPORTED error returned by backends
// for vtable entries they do not implement (spec §4.1: "NOT_SUPPORTED for
// absent vtable entries is mandatory").
func errNotSupported(op string) error {
	return concorderr.New(concorderr.NotSupported, "backend does not support "+op)
}

// ErrNotSupported is exported so backends in other files can return a
// consistent NOT_SUPPORTED error without duplicating the message format.
var ErrNotSupported = errNotSupported
