package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/concordkv/concordkv/internal/storage/backend"
)

func newTestEngine(t *testing.T, configure func(*Config)) *Engine {
	t.Helper()
	cfg := DefaultConfig(t.TempDir())
	cfg.SnapshotInterval = time.Hour
	cfg.IncrementalSyncInterval = time.Hour
	if configure != nil {
		configure(&cfg)
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := e.Recover(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestEngineSetGetDelete(t *testing.T) {
	e := newTestEngine(t, nil)

	if err := e.Set([]byte("key"), []byte("value")); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := e.Get([]byte("key"))
	if err != nil || string(got) != "value" {
		t.Fatalf("get = %q, %v", got, err)
	}

	if err := e.Delete([]byte("key")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := e.Get([]byte("key")); err == nil {
		t.Fatal("expected error getting a deleted key")
	}
}

func TestEngineUpdateOnMissingKeyFails(t *testing.T) {
	e := newTestEngine(t, nil)
	if err := e.Update([]byte("missing"), []byte("v")); err == nil {
		t.Fatal("expected update on a missing key to fail")
	}
}

func TestEngineRejectsMutationsAfterClose(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.SnapshotInterval = time.Hour
	cfg.IncrementalSyncInterval = time.Hour
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := e.Recover(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := e.Set([]byte("a"), []byte("1")); err == nil {
		t.Fatal("expected set after close to fail")
	}
}

func TestEngineRecoverReplaysWALAfterRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.SnapshotInterval = time.Hour
	cfg.IncrementalSyncInterval = time.Hour

	e1, err := New(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := e1.Recover(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if err := e1.Set([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := e1.Set([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := e1.Delete([]byte("a")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := e1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	e2, err := New(cfg)
	if err != nil {
		t.Fatalf("new engine (restart): %v", err)
	}
	if err := e2.Recover(context.Background()); err != nil {
		t.Fatalf("recover (restart): %v", err)
	}
	defer e2.Close()

	if _, err := e2.Get([]byte("a")); err == nil {
		t.Fatal("expected deleted key a to stay deleted across restart")
	}
	got, err := e2.Get([]byte("b"))
	if err != nil || string(got) != "2" {
		t.Fatalf("get b after restart = %q, %v", got, err)
	}
}

func TestEngineTriggerSnapshotThenRecoverFromIt(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.SnapshotInterval = time.Hour
	cfg.IncrementalSyncInterval = time.Hour

	e1, err := New(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := e1.Recover(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}
	for _, k := range []string{"a", "b", "c"} {
		if err := e1.Set([]byte(k), []byte(k)); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	if _, err := e1.TriggerSnapshot(); err != nil {
		t.Fatalf("trigger snapshot: %v", err)
	}
	if err := e1.Set([]byte("d"), []byte("d")); err != nil {
		t.Fatalf("set d: %v", err)
	}
	if err := e1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	e2, err := New(cfg)
	if err != nil {
		t.Fatalf("new engine (restart): %v", err)
	}
	if err := e2.Recover(context.Background()); err != nil {
		t.Fatalf("recover (restart): %v", err)
	}
	defer e2.Close()

	for _, k := range []string{"a", "b", "c", "d"} {
		got, err := e2.Get([]byte(k))
		if err != nil || string(got) != k {
			t.Fatalf("get %s after snapshot recovery = %q, %v", k, got, err)
		}
	}
}

func TestEngineBatchOperationsReportPerRecordErrors(t *testing.T) {
	e := newTestEngine(t, nil)

	errs := e.BatchSet([]backend.KV{
		{Key: []byte("x"), Value: []byte("1")},
		{Key: []byte("y"), Value: []byte("2")},
	})
	for i, err := range errs {
		if err != nil {
			t.Fatalf("batch set [%d]: %v", i, err)
		}
	}

	delErrs := e.BatchDelete([][]byte{[]byte("x"), []byte("missing")})
	if delErrs[0] != nil {
		t.Fatalf("batch delete x: %v", delErrs[0])
	}
	if delErrs[1] == nil {
		t.Fatal("expected batch delete of a missing key to report an error")
	}
}

func TestEngineNewIteratorHoldsReadLockUntilClose(t *testing.T) {
	e := newTestEngine(t, nil)
	e.Set([]byte("a"), []byte("1"))
	e.Set([]byte("b"), []byte("2"))

	it := e.NewIterator()
	count := 0
	for it.Next() {
		count++
	}
	if err := it.Close(); err != nil {
		t.Fatalf("close iterator: %v", err)
	}
	if count != 2 {
		t.Fatalf("iterator visited %d keys, want 2", count)
	}

	// the read lock released by Close must allow a subsequent write to proceed.
	if err := e.Set([]byte("c"), []byte("3")); err != nil {
		t.Fatalf("set after iterator close: %v", err)
	}
}

func TestEngineCompactDropsStaleWALRecords(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.SnapshotInterval = time.Hour
	cfg.IncrementalSyncInterval = time.Hour

	e, err := New(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := e.Recover(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}
	defer e.Close()

	for i := 0; i < 5; i++ {
		e.Set([]byte{byte(i)}, []byte("v"))
	}
	for i := 0; i < 3; i++ {
		e.Delete([]byte{byte(i)})
	}

	if err := e.Compact(context.Background()); err != nil {
		t.Fatalf("compact: %v", err)
	}

	entries, err := os.ReadDir(dir + "/wal")
	if err != nil {
		t.Fatalf("read wal dir: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one wal segment to remain after compaction")
	}
}

func TestEngineStateTransitionsThroughLifecycle(t *testing.T) {
	e := newTestEngine(t, nil)
	if got := e.State(); got != StateRunning {
		t.Fatalf("state after recover = %v, want RUNNING", got)
	}

	if err := e.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := e.State(); got != StateRunning {
		t.Fatalf("state after flush = %v, want RUNNING", got)
	}
}
