// Package snapshot implements the snapshot manager of spec §4.6/§6:
// periodic full-state dumps named by sequence, with the latest snapshot
// selected by parsing that sequence back out of the directory listing.
//
// Grounded on the teacher's internal/storage/snapshot.Manager (Create/Load
// /List/Prune, rename-from-temp durability, magic-bytes framing), with
// file naming and content framing adapted to spec §6 exactly ("snapshot-
// <u64-decimal>.data", content backend-defined and opaque to this
// manager) and the teacher's per-session JSON envelope and at-rest
// encryption (encrypt.go) dropped — encryption is an explicit spec
// Non-goal (§1) and this rewrite's content is an opaque backend byte
// stream, not a JSON document.
package snapshot

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/concordkv/concordkv/internal/concorderr"
)

// ErrNoSnapshots is returned by Load when the snapshot directory is empty.
// Absence of any snapshot is not an error to the engine (spec §4.6); this
// sentinel lets Recover distinguish "nothing to load" from a real failure.
var ErrNoSnapshots = concorderr.New(concorderr.NotFound, "no snapshots found")

// SaveFunc/LoadFunc are the backend-provided save_data/load_data callbacks
// of spec §6.
type SaveFunc func(w *os.File) error
type LoadFunc func(r *os.File) error

// Info describes one snapshot on disk.
type Info struct {
	Seq  uint64
	Path string
	Size int64
	// TraceID is an auxiliary ULID stamped at creation for structured
	// logging correlation (SPEC_FULL §4.7a); never compared for ordering.
	TraceID string
}

// Config configures the snapshot manager's directory.
type Config struct {
	Dir string
}

func DefaultConfig(dir string) Config {
	return Config{Dir: dir}
}

// Manager creates and loads snapshots in one directory.
type Manager struct {
	dir string
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, concorderr.New(concorderr.PARAM, "snapshot: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, concorderr.Wrap(concorderr.IO, "snapshot: create dir", err)
	}
	return &Manager{dir: cfg.Dir}, nil
}

// fileName returns the spec §6 file name for a snapshot at the given
// sequence: "snapshot-<u64-decimal>.data".
func fileName(seq uint64) string {
	return "snapshot-" + strconv.FormatUint(seq, 10) + ".data"
}

func parseSeq(name string) (uint64, bool) {
	if !strings.HasPrefix(name, "snapshot-") || !strings.HasSuffix(name, ".data") {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, "snapshot-"), ".data")
	seq, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// Create writes a new snapshot at the given sequence via save, durably
// (write to a temp file, fsync, rename into place).
func (m *Manager) Create(seq uint64, save SaveFunc) (*Info, error) {
	finalPath := filepath.Join(m.dir, fileName(seq))
	tmpPath := finalPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, concorderr.Wrap(concorderr.IO, "snapshot: create tmp file", err)
	}

	if err := save(f); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, concorderr.Wrap(concorderr.IO, "snapshot: save_data callback", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, concorderr.Wrap(concorderr.IO, "snapshot: fsync tmp file", err)
	}

	info, err := f.Stat()
	size := int64(0)
	if err == nil {
		size = info.Size()
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, concorderr.Wrap(concorderr.IO, "snapshot: close tmp file", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nil, concorderr.Wrap(concorderr.IO, "snapshot: rename into place", err)
	}

	return &Info{Seq: seq, Path: finalPath, Size: size, TraceID: newTraceID()}, nil
}

// Latest returns the Info for the snapshot with the highest embedded
// sequence, or ErrNoSnapshots if the directory holds none.
func (m *Manager) Latest() (*Info, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, concorderr.Wrap(concorderr.IO, "snapshot: read dir", err)
	}

	var best string
	var bestSeq uint64
	found := false
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		seq, ok := parseSeq(e.Name())
		if !ok {
			continue
		}
		if !found || seq > bestSeq {
			bestSeq, best, found = seq, e.Name(), true
		}
	}
	if !found {
		return nil, ErrNoSnapshots
	}

	path := filepath.Join(m.dir, best)
	info, err := os.Stat(path)
	if err != nil {
		return nil, concorderr.Wrap(concorderr.IO, "snapshot: stat latest", err)
	}
	return &Info{Seq: bestSeq, Path: path, Size: info.Size(), TraceID: newTraceID()}, nil
}

// Load locates the latest snapshot and invokes load against its file.
// Absence of any snapshot is reported via ErrNoSnapshots, not treated as a
// hard failure by callers (spec §4.6).
func (m *Manager) Load(load LoadFunc) (*Info, error) {
	info, err := m.Latest()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(info.Path)
	if err != nil {
		return nil, concorderr.Wrap(concorderr.IO, "snapshot: open", err)
	}
	defer f.Close()
	if err := load(f); err != nil {
		return nil, concorderr.Wrap(concorderr.Corrupt, "snapshot: load_data callback", err)
	}
	return info, nil
}

// List returns every snapshot's Info, sorted by ascending sequence.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, concorderr.Wrap(concorderr.IO, "snapshot: read dir", err)
	}
	var out []Info
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		seq, ok := parseSeq(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{Seq: seq, Path: filepath.Join(m.dir, e.Name()), Size: info.Size()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Prune removes every snapshot older than the most recent keepN, freeing
// disk space once WAL compaction has made them redundant.
func (m *Manager) Prune(keepN int) error {
	all, err := m.List()
	if err != nil {
		return err
	}
	if len(all) <= keepN {
		return nil
	}
	for _, info := range all[:len(all)-keepN] {
		if err := os.Remove(info.Path); err != nil && !os.IsNotExist(err) {
			return concorderr.Wrap(concorderr.IO, "snapshot: prune", err)
		}
	}
	return nil
}

func newTraceID() string {
	return ulid.Make().String()
}
