// Package storage implements the engine abstraction of spec §4.1: a
// uniform operation surface over interchangeable backends, with one
// readers-writer lock, a write-ahead log, and a snapshot manager bound
// together under one data directory (the persistence façade of spec §2).
//
// Grounded on the teacher's internal/storage.Engine (Recover/replayWAL/
// applyEntry/TriggerSnapshot/backgroundLoop/Close), generalized from its
// session-store domain to raw []byte keys/values over a pluggable backend.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/concordkv/concordkv/internal/concorderr"
	"github.com/concordkv/concordkv/internal/storage/backend"
	"github.com/concordkv/concordkv/internal/storage/lsm"
	"github.com/concordkv/concordkv/internal/storage/snapshot"
	"github.com/concordkv/concordkv/internal/storage/wal"
	"github.com/concordkv/concordkv/internal/telemetry/metric"
)

// State is the engine lifecycle state of spec §3. Only Running (and
// transiently Compacting/Flushing) accepts mutations.
type State int

const (
	StateInit State = iota
	StateRunning
	StateCompacting
	StateFlushing
	StateError
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateRunning:
		return "RUNNING"
	case StateCompacting:
		return "COMPACTING"
	case StateFlushing:
		return "FLUSHING"
	case StateError:
		return "ERROR"
	case StateShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// Engine is the storage engine: one backend instance behind one
// readers-writer lock, paired with a WAL and a snapshot manager.
type Engine struct {
	cfg Config

	mu    sync.RWMutex
	state State
	be    backend.Backend

	wal  *wal.Writer
	snap *snapshot.Manager

	lastSnapshotSeq uint64

	logger  *slog.Logger
	metrics *metric.Collector

	syncLimiter *rate.Limiter

	stopCh chan struct{}
	doneCh chan struct{}
}

// newBackend is the backend factory: it maps Config.Type to a concrete
// backend.Backend, returning NOT_SUPPORTED for an unrecognized type.
func newBackend(cfg Config, logger *slog.Logger) (backend.Backend, error) {
	switch cfg.Type {
	case "", "ARRAY":
		return backend.NewArray(), nil
	case "RBTREE":
		return backend.NewRBTree(), nil
	case "HASH":
		return backend.NewHash(), nil
	case "BTREE":
		return backend.NewBTree(), nil
	case "LSM":
		return lsm.New(logger), nil
	default:
		return nil, concorderr.New(concorderr.NotSupported, "unknown backend type "+cfg.Type)
	}
}

// New constructs an Engine in state INIT. Call Recover to load existing
// data and transition to RUNNING.
func New(cfg Config) (*Engine, error) {
	if cfg.DataDir == "" {
		return nil, concorderr.New(concorderr.PARAM, "storage: data_dir is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = DefaultSnapshotInterval
	}
	if cfg.IncrementalSyncInterval <= 0 {
		cfg.IncrementalSyncInterval = DefaultIncrementalSyncInterval
	}

	be, err := newBackend(cfg, cfg.Logger)
	if err != nil {
		return nil, err
	}
	if err := be.Init(cfg.backendConfig()); err != nil {
		return nil, fmt.Errorf("storage: init backend: %w", err)
	}

	walWriter, err := wal.NewWriter(cfg.walConfig())
	if err != nil {
		be.Close()
		return nil, fmt.Errorf("storage: create wal writer: %w", err)
	}

	snapMgr, err := snapshot.NewManager(snapshot.DefaultConfig(cfg.DataDir + "/snapshot"))
	if err != nil {
		walWriter.Close()
		be.Close()
		return nil, fmt.Errorf("storage: create snapshot manager: %w", err)
	}

	e := &Engine{
		cfg:         cfg,
		state:       StateInit,
		be:          be,
		wal:         walWriter,
		snap:        snapMgr,
		logger:      cfg.Logger,
		metrics:     metric.NewCollector(cfg.Type),
		syncLimiter: rate.NewLimiter(rate.Every(cfg.IncrementalSyncInterval), 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	return e, nil
}

// Recover loads the latest snapshot (if any) then replays every WAL record
// with seq greater than the snapshot's, per spec §3 invariant 3. On
// success the engine transitions to RUNNING and its background tasks
// start.
func (e *Engine) Recover(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	e.logger.Info("engine recovery started", "type", e.cfg.Type)
	return e.recoverLocked(ctx, start)
}

func (e *Engine) recoverLocked(ctx context.Context, start time.Time) error {
	fromSeq := uint64(0)
	snapInfo, err := e.snap.Load(func(r *os.File) error {
		return e.be.LoadFrom(r)
	})
	if err != nil {
		if !errors.Is(err, snapshot.ErrNoSnapshots) {
			return fmt.Errorf("storage: load snapshot: %w", err)
		}
		e.logger.Info("no snapshot found, starting empty")
	} else {
		fromSeq = snapInfo.Seq
		e.lastSnapshotSeq = snapInfo.Seq
		e.logger.Info("snapshot loaded", "seq", snapInfo.Seq, "path", snapInfo.Path)
	}

	applied := 0
	nextSeq, err := wal.Replay(e.cfg.DataDir+"/wal", fromSeq, func(op wal.Op, key, value []byte) error {
		applied++
		return e.applyEntry(op, key, value)
	})
	if err != nil {
		return fmt.Errorf("storage: replay wal: %w", err)
	}
	_ = nextSeq

	e.state = StateRunning
	e.logger.Info("engine recovery completed",
		"elapsed", time.Since(start), "entries_applied", applied, "count", e.be.Count())

	go e.backgroundLoop()
	return nil
}

func (e *Engine) applyEntry(op wal.Op, key, value []byte) error {
	switch op {
	case wal.OpSet, wal.OpMod:
		return e.be.Set(key, value)
	case wal.OpDelete:
		err := e.be.Delete(key)
		if errors.Is(err, concorderr.ErrNotFound) {
			return nil
		}
		return err
	default:
		return concorderr.New(concorderr.Corrupt, fmt.Sprintf("unknown wal op %d", op))
	}
}

func (e *Engine) checkWritable() error {
	switch e.state {
	case StateRunning, StateCompacting, StateFlushing:
		return nil
	case StateShutdown:
		return concorderr.New(concorderr.State, "engine is shut down")
	case StateError:
		return concorderr.New(concorderr.State, "engine is in ERROR state")
	default:
		return concorderr.New(concorderr.State, "engine is not running")
	}
}

// Set stores key/value, durable: the WAL record is appended (and fsynced
// if configured) before the backend mutation (spec §3 invariant 1).
func (e *Engine) Set(key, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkWritable(); err != nil {
		return err
	}
	if _, err := e.wal.Append(wal.OpSet, key, value); err != nil {
		return err
	}
	if err := e.be.Set(key, value); err != nil {
		return err
	}
	e.metrics.IncOp("set")
	return nil
}

// Get retrieves key's value, NOT_FOUND if absent.
func (e *Engine) Get(key []byte) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, err := e.be.Get(key)
	e.metrics.IncOp("get")
	return v, err
}

// Update replaces an existing key's value, NOT_FOUND if absent,
// distinguished from Set (spec §4.1).
func (e *Engine) Update(key, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkWritable(); err != nil {
		return err
	}
	if _, err := e.be.Get(key); err != nil {
		return err
	}
	if _, err := e.wal.Append(wal.OpMod, key, value); err != nil {
		return err
	}
	if err := e.be.Update(key, value); err != nil {
		return err
	}
	e.metrics.IncOp("update")
	return nil
}

// Delete removes key, NOT_FOUND if absent.
func (e *Engine) Delete(key []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkWritable(); err != nil {
		return err
	}
	if _, err := e.wal.Append(wal.OpDelete, key, nil); err != nil {
		return err
	}
	if err := e.be.Delete(key); err != nil {
		return err
	}
	e.metrics.IncOp("delete")
	return nil
}

// BatchSet applies each record independently; partial success is reported
// per-record (spec §4.1).
func (e *Engine) BatchSet(records []backend.KV) []error {
	e.mu.Lock()
	defer e.mu.Unlock()
	errs := make([]error, len(records))
	if err := e.checkWritable(); err != nil {
		for i := range errs {
			errs[i] = err
		}
		return errs
	}
	for i, r := range records {
		if _, werr := e.wal.Append(wal.OpSet, r.Key, r.Value); werr != nil {
			errs[i] = werr
			continue
		}
		errs[i] = e.be.Set(r.Key, r.Value)
	}
	e.metrics.IncOp("batch_set")
	return errs
}

// BatchGet fills values for each key, marking NOT_FOUND per entry.
func (e *Engine) BatchGet(keys [][]byte) ([][]byte, []error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	values, errs := e.be.BatchGet(keys)
	e.metrics.IncOp("batch_get")
	return values, errs
}

// BatchDelete deletes each key independently.
func (e *Engine) BatchDelete(keys [][]byte) []error {
	e.mu.Lock()
	defer e.mu.Unlock()
	errs := make([]error, len(keys))
	if err := e.checkWritable(); err != nil {
		for i := range errs {
			errs[i] = err
		}
		return errs
	}
	for i, k := range keys {
		if _, werr := e.wal.Append(wal.OpDelete, k, nil); werr != nil {
			errs[i] = werr
			continue
		}
		errs[i] = e.be.Delete(k)
	}
	e.metrics.IncOp("batch_delete")
	return errs
}

// lockedIterator holds the engine's read lock for its entire lifetime,
// satisfying the iterator half of spec §4.1's concurrency contract.
type lockedIterator struct {
	e  *Engine
	it backend.Iterator
}

func (it *lockedIterator) Next() bool         { return it.it.Next() }
func (it *lockedIterator) Prev() bool         { return it.it.Prev() }
func (it *lockedIterator) Seek(k []byte) bool { return it.it.Seek(k) }
func (it *lockedIterator) Key() []byte        { return it.it.Key() }
func (it *lockedIterator) Value() []byte      { return it.it.Value() }
func (it *lockedIterator) Close() error {
	err := it.it.Close()
	it.e.mu.RUnlock()
	return err
}

// NewIterator returns a cursor holding the engine's read lock until Close
// is called.
func (e *Engine) NewIterator() backend.Iterator {
	e.mu.RLock()
	return &lockedIterator{e: e, it: e.be.NewIterator()}
}

func (e *Engine) RangeScan(r backend.Range) ([]backend.KV, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.be.RangeScan(r)
}

func (e *Engine) PrefixScan(prefix []byte, limit int) ([]backend.KV, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.be.PrefixScan(prefix, limit)
}

func (e *Engine) Count() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.be.Count()
}

func (e *Engine) Size() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.be.Size()
}

func (e *Engine) Stats() backend.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.be.Stats()
}

// Lock and Unlock expose the engine's write lock directly for the
// transaction layer's SERIALIZABLE isolation level, which must hold it for
// an entire transaction's duration rather than per-operation (spec §4.7).
// Other callers should use the per-operation methods instead.
func (e *Engine) Lock()   { e.mu.Lock() }
func (e *Engine) Unlock() { e.mu.Unlock() }

// RawGet, RawSet, RawUpdate, and RawDelete perform the same mutation as
// their locked counterparts but assume the caller already holds the
// engine's write lock via Lock (SERIALIZABLE transactions, which hold the
// lock for their full duration and would otherwise deadlock re-entering
// Set/Get/Update/Delete's own locking).
func (e *Engine) RawGet(key []byte) ([]byte, error) {
	v, err := e.be.Get(key)
	e.metrics.IncOp("get")
	return v, err
}

func (e *Engine) RawSet(key, value []byte) error {
	if err := e.checkWritable(); err != nil {
		return err
	}
	if _, err := e.wal.Append(wal.OpSet, key, value); err != nil {
		return err
	}
	if err := e.be.Set(key, value); err != nil {
		return err
	}
	e.metrics.IncOp("set")
	return nil
}

func (e *Engine) RawUpdate(key, value []byte) error {
	if err := e.checkWritable(); err != nil {
		return err
	}
	if _, err := e.be.Get(key); err != nil {
		return err
	}
	if _, err := e.wal.Append(wal.OpMod, key, value); err != nil {
		return err
	}
	if err := e.be.Update(key, value); err != nil {
		return err
	}
	e.metrics.IncOp("update")
	return nil
}

func (e *Engine) RawDelete(key []byte) error {
	if err := e.checkWritable(); err != nil {
		return err
	}
	if _, err := e.wal.Append(wal.OpDelete, key, nil); err != nil {
		return err
	}
	if err := e.be.Delete(key); err != nil {
		return err
	}
	e.metrics.IncOp("delete")
	return nil
}

func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Flush persists any pending in-memory state (spec §4.1: flush()).
func (e *Engine) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateFlushing
	defer func() { e.state = StateRunning }()
	return e.be.Flush()
}

// Compact triggers backend-defined compaction together with WAL
// compaction against the engine's key enumerator/getter (spec §4.5/§6).
// WAL compaction goes through e.wal.Compact, which allocates the
// compacted segment's seqs, reopens the writer onto it, and only then
// unlinks superseded segments — so a still-running engine never keeps
// appending to a segment compaction has deleted, and the next Append never
// reuses a seq compaction already wrote (spec §3 invariants 1 and 2).
func (e *Engine) Compact(ctx context.Context) error {
	e.mu.Lock()
	e.state = StateCompacting
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.state = StateRunning
		e.mu.Unlock()
	}()

	if err := e.be.Compact(); err != nil {
		return err
	}

	return e.wal.Compact(func() ([][]byte, error) {
		e.mu.RLock()
		defer e.mu.RUnlock()
		return e.be.Keys()
	}, func(key []byte) ([]byte, bool, error) {
		e.mu.RLock()
		defer e.mu.RUnlock()
		v, err := e.be.Get(key)
		if err != nil {
			if errors.Is(err, concorderr.ErrNotFound) {
				return nil, false, nil
			}
			return nil, false, err
		}
		return v, true, nil
	})
}

// Sync fsyncs durable media: the WAL segment and, where supported, the
// backend (spec §4.1: sync()).
func (e *Engine) Sync() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.wal.Sync(); err != nil {
		return err
	}
	return e.be.Sync()
}

// TriggerSnapshot creates a full-state snapshot of the current backend and
// prunes superseded snapshots; WAL segments are left in place. The snapshot is stamped
// with the last WAL seq it reflects (not the writer's next-to-assign seq),
// so recoverLocked's Replay(dir, snapInfo.Seq, ...) — which applies records
// with Seq > afterSeq — resumes at the first record written after the
// snapshot instead of skipping it (spec §3 invariant 3).
func (e *Engine) TriggerSnapshot() (*snapshot.Info, error) {
	e.mu.RLock()
	next := e.wal.NextSeq()
	lastReflected := uint64(0)
	if next > 0 {
		lastReflected = next - 1
	}
	info, err := e.snap.Create(lastReflected, func(f *os.File) error {
		return e.be.SaveTo(f)
	})
	e.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("storage: create snapshot: %w", err)
	}

	e.mu.Lock()
	e.lastSnapshotSeq = info.Seq
	e.mu.Unlock()

	e.logger.Info("snapshot created", "seq", info.Seq, "trace_id", info.TraceID, "size_bytes", info.Size)

	keep := e.cfg.SnapshotKeep
	if keep <= 0 {
		keep = DefaultSnapshotKeep
	}
	if err := e.snap.Prune(keep); err != nil {
		e.logger.Warn("snapshot prune failed", "error", err)
	}

	return info, nil
}

// backgroundLoop runs periodic snapshot creation and incremental WAL sync,
// rate-limited by syncLimiter so a misconfigured short interval cannot
// starve the engine lock.
func (e *Engine) backgroundLoop() {
	defer close(e.doneCh)

	snapTicker := time.NewTicker(e.cfg.SnapshotInterval)
	defer snapTicker.Stop()
	syncTicker := time.NewTicker(e.cfg.IncrementalSyncInterval)
	defer syncTicker.Stop()

	for {
		select {
		case <-snapTicker.C:
			if _, err := e.TriggerSnapshot(); err != nil {
				e.logger.Error("auto snapshot failed", "error", err)
			}
		case <-syncTicker.C:
			if !e.syncLimiter.Allow() {
				continue
			}
			if err := e.Sync(); err != nil {
				e.logger.Error("incremental sync failed", "error", err)
			}
		case <-e.stopCh:
			return
		}
	}
}

// Close drains background tasks, flushes, and transitions to SHUTDOWN.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.state == StateShutdown {
		e.mu.Unlock()
		return nil
	}
	wasRunning := e.state == StateRunning || e.state == StateCompacting || e.state == StateFlushing
	e.mu.Unlock()

	if wasRunning {
		close(e.stopCh)
		<-e.doneCh
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateShutdown

	if err := e.be.Flush(); err != nil {
		e.logger.Error("flush backend failed", "error", err)
		return err
	}
	if err := e.wal.Close(); err != nil {
		e.logger.Error("close wal failed", "error", err)
		return err
	}
	if err := e.be.Close(); err != nil {
		e.logger.Error("close backend failed", "error", err)
		return err
	}
	e.logger.Info("engine shutdown complete")
	return nil
}
