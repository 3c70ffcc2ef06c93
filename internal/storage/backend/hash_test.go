package backend

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/concordkv/concordkv/internal/concorderr"
)

func newTestHash(t *testing.T, cfg Config) *Hash {
	t.Helper()
	h := NewHash()
	if err := h.Init(cfg); err != nil {
		t.Fatalf("init: %v", err)
	}
	return h
}

func TestHashSetGetDelete(t *testing.T) {
	h := newTestHash(t, DefaultConfig("HASH"))

	if err := h.Set([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, err := h.Get([]byte("a"))
	if err != nil || string(v) != "1" {
		t.Fatalf("get = %q, %v", v, err)
	}

	if err := h.Delete([]byte("a")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := h.Get([]byte("a")); concorderr.KindOf(err) != concorderr.NotFound {
		t.Fatalf("get after delete = %v, want NOT_FOUND", err)
	}
}

func TestHashBucketPromotesToTreeAtThreshold(t *testing.T) {
	cfg := DefaultConfig("HASH")
	cfg.InitialBuckets = 1 // force every key into the same bucket
	cfg.PromoteThreshold = 4
	cfg.DemoteThreshold = 1
	cfg.LoadFactor = 1000 // disable resize so the bucket count is predictable
	h := newTestHash(t, cfg)

	keys := []string{"a", "b", "c", "d"}
	for _, k := range keys {
		if err := h.Set([]byte(k), []byte("v")); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}

	if !h.bucketIsTree([]byte("a")) {
		t.Fatal("bucket should have promoted to a tree at the promote threshold")
	}
	for _, k := range keys {
		v, err := h.Get([]byte(k))
		if err != nil || string(v) != "v" {
			t.Fatalf("get %s after promotion = %q, %v", k, v, err)
		}
	}
}

func TestHashBucketDemotesBelowThreshold(t *testing.T) {
	cfg := DefaultConfig("HASH")
	cfg.InitialBuckets = 1
	cfg.PromoteThreshold = 2
	cfg.DemoteThreshold = 3
	cfg.LoadFactor = 1000
	h := newTestHash(t, cfg)

	h.Set([]byte("a"), []byte("1"))
	h.Set([]byte("b"), []byte("2"))
	h.Set([]byte("c"), []byte("3"))
	if !h.bucketIsTree([]byte("a")) {
		t.Fatal("expected bucket to have promoted")
	}

	h.Delete([]byte("c"))
	if h.bucketIsTree([]byte("a")) {
		t.Fatal("expected bucket to have demoted back to a list below the threshold")
	}
	v, err := h.Get([]byte("a"))
	if err != nil || string(v) != "1" {
		t.Fatalf("get a after demotion = %q, %v", v, err)
	}
}

func TestHashResizeRehashesAllEntries(t *testing.T) {
	cfg := DefaultConfig("HASH")
	cfg.InitialBuckets = 4
	cfg.LoadFactor = 0.5
	h := newTestHash(t, cfg)

	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		if err := h.Set(key, []byte("v")); err != nil {
			t.Fatalf("set %d: %v", i, err)
		}
	}

	if len(h.buckets) <= 4 {
		t.Fatalf("expected bucket array to have grown past 4, got %d", len(h.buckets))
	}
	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		if _, err := h.Get(key); err != nil {
			t.Fatalf("get %d after resize: %v", i, err)
		}
	}
	if h.Count() != 50 {
		t.Fatalf("count = %d, want 50", h.Count())
	}
}

func TestHashSaveLoadRoundTrip(t *testing.T) {
	h := newTestHash(t, DefaultConfig("HASH"))
	h.Set([]byte("a"), []byte("1"))
	h.Set([]byte("b"), []byte("2"))

	var buf bytes.Buffer
	if err := h.SaveTo(&buf); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded := newTestHash(t, DefaultConfig("HASH"))
	if err := loaded.LoadFrom(&buf); err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Count() != 2 {
		t.Fatalf("loaded count = %d, want 2", loaded.Count())
	}
}
