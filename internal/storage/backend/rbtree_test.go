package backend

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/concordkv/concordkv/internal/concorderr"
)

func newTestRBTree(t *testing.T) *RBTree {
	t.Helper()
	tr := NewRBTree()
	if err := tr.Init(DefaultConfig("RBTREE")); err != nil {
		t.Fatalf("init: %v", err)
	}
	return tr
}

func TestRBTreeSetGetUpdateDelete(t *testing.T) {
	tr := newTestRBTree(t)

	if err := tr.Set([]byte("b"), []byte("1")); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, err := tr.Get([]byte("b"))
	if err != nil || string(v) != "1" {
		t.Fatalf("get = %q, %v", v, err)
	}

	if err := tr.Update([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("update: %v", err)
	}
	v, _ = tr.Get([]byte("b"))
	if string(v) != "2" {
		t.Fatalf("get after update = %q, want 2", v)
	}

	if err := tr.Delete([]byte("b")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := tr.Get([]byte("b")); concorderr.KindOf(err) != concorderr.NotFound {
		t.Fatalf("get after delete = %v, want NOT_FOUND", err)
	}
}

func TestRBTreeDuplicateInsertReplacesValueNotStructure(t *testing.T) {
	tr := newTestRBTree(t)
	tr.Set([]byte("a"), []byte("1"))
	tr.Set([]byte("a"), []byte("2"))

	if tr.Count() != 1 {
		t.Fatalf("count = %d, want 1 after duplicate insert", tr.Count())
	}
	v, _ := tr.Get([]byte("a"))
	if string(v) != "2" {
		t.Fatalf("get = %q, want 2", v)
	}
}

func TestRBTreeIteratorYieldsKeysInSortedOrder(t *testing.T) {
	tr := newTestRBTree(t)
	keys := []string{"m", "d", "z", "a", "q", "b"}
	for _, k := range keys {
		tr.Set([]byte(k), []byte("v"))
	}

	it := tr.NewIterator()
	defer it.Close()

	var got []string
	for it.Next() {
		got = append(got, string(it.Key()))
	}

	for i := 1; i < len(got); i++ {
		if got[i-1] >= got[i] {
			t.Fatalf("iterator not sorted: %v", got)
		}
	}
	if len(got) != len(keys) {
		t.Fatalf("iterator yielded %d keys, want %d", len(got), len(keys))
	}
}

// TestRBTreeRemainsBalancedUnderRandomInsertDelete inserts and deletes a
// large random key set and checks every black-height invariant still holds,
// guarding against a fixup bug that would otherwise only surface as poor
// worst-case lookup time.
func TestRBTreeRemainsBalancedUnderRandomInsertDelete(t *testing.T) {
	tr := newTestRBTree(t)
	rng := rand.New(rand.NewSource(1))

	present := make(map[int]bool)
	for i := 0; i < 500; i++ {
		k := rng.Intn(200)
		key := []byte{byte(k >> 8), byte(k)}
		if rng.Intn(3) == 0 && present[k] {
			if err := tr.Delete(key); err != nil {
				t.Fatalf("delete %d: %v", k, err)
			}
			delete(present, k)
		} else {
			if err := tr.Set(key, []byte("v")); err != nil {
				t.Fatalf("set %d: %v", k, err)
			}
			present[k] = true
		}
	}

	if int(tr.Count()) != len(present) {
		t.Fatalf("count = %d, want %d", tr.Count(), len(present))
	}

	bh := checkRBInvariants(t, tr)
	_ = bh

	for k := range present {
		key := []byte{byte(k >> 8), byte(k)}
		if _, err := tr.Get(key); err != nil {
			t.Fatalf("expected key %d present, got %v", k, err)
		}
	}
}

// checkRBInvariants walks the tree verifying the red-black properties:
// root is black, no red node has a red child, and every root-to-nil path
// carries the same black-node count. It returns that common black-height.
func checkRBInvariants(t *testing.T, tr *RBTree) int {
	t.Helper()
	if tr.root.color != black {
		t.Fatal("root is not black")
	}

	var walk func(n *rbNode) int
	walk = func(n *rbNode) int {
		if n == tr.nilN {
			return 1
		}
		if n.color == red {
			if n.left.color == red || n.right.color == red {
				t.Fatalf("red node %s has a red child", n.key)
			}
		}
		lh := walk(n.left)
		rh := walk(n.right)
		if lh != rh {
			t.Fatalf("black height mismatch at %s: left=%d right=%d", n.key, lh, rh)
		}
		if n.color == black {
			return lh + 1
		}
		return lh
	}
	return walk(tr.root)
}

func TestRBTreeRangeScanRespectsInclusivity(t *testing.T) {
	tr := newTestRBTree(t)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		tr.Set([]byte(k), []byte("v"))
	}

	out, err := tr.RangeScan(Range{Start: []byte("b"), End: []byte("d"), StartInclusive: true, EndInclusive: false})
	if err != nil {
		t.Fatalf("range scan: %v", err)
	}
	var got []string
	for _, kv := range out {
		got = append(got, string(kv.Key))
	}
	want := []string{"b", "c"}
	if len(got) != len(want) {
		t.Fatalf("range scan = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("range scan = %v, want %v", got, want)
		}
	}
}

func TestRBTreeSaveLoadRoundTrip(t *testing.T) {
	tr := newTestRBTree(t)
	tr.Set([]byte("a"), []byte("1"))
	tr.Set([]byte("b"), []byte("2"))

	var buf bytes.Buffer
	if err := tr.SaveTo(&buf); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded := newTestRBTree(t)
	if err := loaded.LoadFrom(&buf); err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Count() != 2 {
		t.Fatalf("loaded count = %d, want 2", loaded.Count())
	}
}
