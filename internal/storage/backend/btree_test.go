package backend

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/concordkv/concordkv/internal/concorderr"
)

func newTestBTree(t *testing.T, maxKeysPerNode int) *BTree {
	t.Helper()
	b := NewBTree()
	cfg := DefaultConfig("BTREE")
	cfg.MaxKeysPerNode = maxKeysPerNode
	if err := b.Init(cfg); err != nil {
		t.Fatalf("init: %v", err)
	}
	return b
}

func TestBTreeSetGetUpdateDelete(t *testing.T) {
	b := newTestBTree(t, 4)

	if err := b.Set([]byte("m"), []byte("1")); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, err := b.Get([]byte("m"))
	if err != nil || string(v) != "1" {
		t.Fatalf("get = %q, %v", v, err)
	}

	if err := b.Update([]byte("m"), []byte("2")); err != nil {
		t.Fatalf("update: %v", err)
	}
	v, _ = b.Get([]byte("m"))
	if string(v) != "2" {
		t.Fatalf("get after update = %q, want 2", v)
	}

	if err := b.Delete([]byte("m")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := b.Get([]byte("m")); concorderr.KindOf(err) != concorderr.NotFound {
		t.Fatalf("get after delete = %v, want NOT_FOUND", err)
	}
}

func TestBTreeSplitsLeafOnOverflowAndKeepsOrder(t *testing.T) {
	b := newTestBTree(t, 2)

	for i := 0; i < 20; i++ {
		key := []byte(fmt.Sprintf("k%02d", i))
		if err := b.Set(key, []byte("v")); err != nil {
			t.Fatalf("set %d: %v", i, err)
		}
	}

	if len(b.leaves) <= 1 {
		t.Fatalf("expected leaves to have split, got %d leaf(s)", len(b.leaves))
	}

	it := b.NewIterator()
	defer it.Close()
	var got []string
	for it.Next() {
		got = append(got, string(it.Key()))
	}
	if len(got) != 20 {
		t.Fatalf("iterator yielded %d keys, want 20", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1] >= got[i] {
			t.Fatalf("iterator not sorted across leaves: %v", got)
		}
	}
}

func TestBTreeRangeScanAcrossLeaves(t *testing.T) {
	b := newTestBTree(t, 2)
	for i := 0; i < 10; i++ {
		key := []byte(fmt.Sprintf("k%02d", i))
		b.Set(key, []byte("v"))
	}

	out, err := b.RangeScan(Range{Start: []byte("k02"), End: []byte("k05"), StartInclusive: true, EndInclusive: true})
	if err != nil {
		t.Fatalf("range scan: %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("range scan returned %d records, want 4", len(out))
	}
}

func TestBTreeCompactReclaimsUnderfullLeaves(t *testing.T) {
	b := newTestBTree(t, 2)
	for i := 0; i < 10; i++ {
		key := []byte(fmt.Sprintf("k%02d", i))
		b.Set(key, []byte("v"))
	}
	for i := 0; i < 8; i++ {
		key := []byte(fmt.Sprintf("k%02d", i))
		b.Delete(key)
	}

	if err := b.Compact(); err != nil {
		t.Fatalf("compact: %v", err)
	}
	if b.Count() != 2 {
		t.Fatalf("count after compact = %d, want 2", b.Count())
	}
	for i := 8; i < 10; i++ {
		key := []byte(fmt.Sprintf("k%02d", i))
		if _, err := b.Get(key); err != nil {
			t.Fatalf("get %s after compact: %v", key, err)
		}
	}
}

func TestBTreeSaveLoadRoundTrip(t *testing.T) {
	b := newTestBTree(t, 4)
	b.Set([]byte("a"), []byte("1"))
	b.Set([]byte("b"), []byte("2"))

	var buf bytes.Buffer
	if err := b.SaveTo(&buf); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded := newTestBTree(t, 4)
	if err := loaded.LoadFrom(&buf); err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Count() != 2 {
		t.Fatalf("loaded count = %d, want 2", loaded.Count())
	}
}
