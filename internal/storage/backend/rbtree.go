package backend

import (
	"bytes"
	"io"

	"github.com/concordkv/concordkv/internal/concorderr"
)

type rbColor bool

const (
	red   rbColor = true
	black rbColor = false
)

// rbNode is a red-black tree node. Every leaf's left/right and the root's
// parent point at the tree's single shared sentinel rather than nil, so the
// sentinel's color (always black) is load-bearing for the fixup algorithms
// without a nil check at every step.
type rbNode struct {
	key, value    []byte
	color         rbColor
	left, right, parent *rbNode
}

// RBTree is the ordered-map backend of spec §4.3: a standard red-black
// tree with one shared BLACK sentinel serving as both the parent of root
// and the child of every leaf. The hash backend's tree-promoted buckets
// (hash.go) wrap an *RBTree per bucket via newRBTree/insert/delete/search
// rather than reimplementing balancing.
type RBTree struct {
	root  *rbNode
	nilN  *rbNode
	count int
}

func newRBTree() *RBTree {
	sentinel := &rbNode{color: black}
	sentinel.left, sentinel.right, sentinel.parent = sentinel, sentinel, sentinel
	return &RBTree{root: sentinel, nilN: sentinel}
}

// NewRBTree constructs the RBTree backend. Call Init before use.
func NewRBTree() *RBTree { return newRBTree() }

func (t *RBTree) Type() string { return "RBTREE" }

func (t *RBTree) Init(cfg Config) error {
	sentinel := &rbNode{color: black}
	sentinel.left, sentinel.right, sentinel.parent = sentinel, sentinel, sentinel
	t.root = sentinel
	t.nilN = sentinel
	t.count = 0
	return nil
}

func (t *RBTree) search(key []byte) *rbNode {
	n := t.root
	for n != t.nilN {
		cmp := bytes.Compare(key, n.key)
		if cmp == 0 {
			return n
		}
		if cmp < 0 {
			n = n.left
		} else {
			n = n.right
		}
	}
	return nil
}

func (t *RBTree) leftRotate(x *rbNode) {
	y := x.right
	x.right = y.left
	if y.left != t.nilN {
		y.left.parent = x
	}
	y.parent = x.parent
	if x.parent == t.nilN {
		t.root = y
	} else if x == x.parent.left {
		x.parent.left = y
	} else {
		x.parent.right = y
	}
	y.left = x
	x.parent = y
}

func (t *RBTree) rightRotate(x *rbNode) {
	y := x.left
	x.left = y.right
	if y.right != t.nilN {
		y.right.parent = x
	}
	y.parent = x.parent
	if x.parent == t.nilN {
		t.root = y
	} else if x == x.parent.right {
		x.parent.right = y
	} else {
		x.parent.left = y
	}
	y.right = x
	x.parent = y
}

// insert inserts key/value, replacing the value in place on a duplicate key
// with no structural change, per spec §4.3.
func (t *RBTree) insert(key, value []byte) {
	var parent *rbNode = t.nilN
	cur := t.root
	for cur != t.nilN {
		parent = cur
		cmp := bytes.Compare(key, cur.key)
		if cmp == 0 {
			cur.value = value
			return
		}
		if cmp < 0 {
			cur = cur.left
		} else {
			cur = cur.right
		}
	}

	n := &rbNode{key: key, value: value, color: red, left: t.nilN, right: t.nilN, parent: parent}
	if parent == t.nilN {
		t.root = n
	} else if bytes.Compare(key, parent.key) < 0 {
		parent.left = n
	} else {
		parent.right = n
	}
	t.count++
	t.insertFixup(n)
}

func (t *RBTree) insertFixup(z *rbNode) {
	for z.parent.color == red {
		if z.parent == z.parent.parent.left {
			y := z.parent.parent.right
			if y.color == red {
				z.parent.color = black
				y.color = black
				z.parent.parent.color = red
				z = z.parent.parent
			} else {
				if z == z.parent.right {
					z = z.parent
					t.leftRotate(z)
				}
				z.parent.color = black
				z.parent.parent.color = red
				t.rightRotate(z.parent.parent)
			}
		} else {
			y := z.parent.parent.left
			if y.color == red {
				z.parent.color = black
				y.color = black
				z.parent.parent.color = red
				z = z.parent.parent
			} else {
				if z == z.parent.left {
					z = z.parent
					t.rightRotate(z)
				}
				z.parent.color = black
				z.parent.parent.color = red
				t.leftRotate(z.parent.parent)
			}
		}
	}
	t.root.color = black
}

func (t *RBTree) transplant(u, v *rbNode) {
	if u.parent == t.nilN {
		t.root = v
	} else if u == u.parent.left {
		u.parent.left = v
	} else {
		u.parent.right = v
	}
	v.parent = u.parent
}

func (t *RBTree) minimum(n *rbNode) *rbNode {
	for n.left != t.nilN {
		n = n.left
	}
	return n
}

func (t *RBTree) maximum(n *rbNode) *rbNode {
	for n.right != t.nilN {
		n = n.right
	}
	return n
}

// delete removes the node with the given key, returning false if absent.
func (t *RBTree) delete(key []byte) bool {
	z := t.search(key)
	if z == nil {
		return false
	}

	y := z
	yOriginalColor := y.color
	var x *rbNode

	if z.left == t.nilN {
		x = z.right
		t.transplant(z, z.right)
	} else if z.right == t.nilN {
		x = z.left
		t.transplant(z, z.left)
	} else {
		y = t.minimum(z.right)
		yOriginalColor = y.color
		x = y.right
		if y.parent == z {
			x.parent = y
		} else {
			t.transplant(y, y.right)
			y.right = z.right
			y.right.parent = y
		}
		t.transplant(z, y)
		y.left = z.left
		y.left.parent = y
		y.color = z.color
	}

	if yOriginalColor == black {
		t.deleteFixup(x)
	}
	t.count--
	return true
}

func (t *RBTree) deleteFixup(x *rbNode) {
	for x != t.root && x.color == black {
		if x == x.parent.left {
			w := x.parent.right
			if w.color == red {
				w.color = black
				x.parent.color = red
				t.leftRotate(x.parent)
				w = x.parent.right
			}
			if w.left.color == black && w.right.color == black {
				w.color = red
				x = x.parent
			} else {
				if w.right.color == black {
					w.left.color = black
					w.color = red
					t.rightRotate(w)
					w = x.parent.right
				}
				w.color = x.parent.color
				x.parent.color = black
				w.right.color = black
				t.leftRotate(x.parent)
				x = t.root
			}
		} else {
			w := x.parent.left
			if w.color == red {
				w.color = black
				x.parent.color = red
				t.rightRotate(x.parent)
				w = x.parent.left
			}
			if w.right.color == black && w.left.color == black {
				w.color = red
				x = x.parent
			} else {
				if w.left.color == black {
					w.right.color = black
					w.color = red
					t.leftRotate(w)
					w = x.parent.left
				}
				w.color = x.parent.color
				x.parent.color = black
				w.left.color = black
				t.rightRotate(x.parent)
				x = t.root
			}
		}
	}
	x.color = black
}

// inorder appends every node in key order to out, honoring limit if > 0.
func (t *RBTree) inorder(n *rbNode, out *[]KV, limit int) {
	if n == t.nilN || (limit > 0 && len(*out) >= limit) {
		return
	}
	t.inorder(n.left, out, limit)
	if limit > 0 && len(*out) >= limit {
		return
	}
	*out = append(*out, KV{Key: n.key, Value: n.value})
	t.inorder(n.right, out, limit)
}

func (t *RBTree) Set(key, value []byte) error {
	t.insert(key, value)
	return nil
}

func (t *RBTree) Get(key []byte) ([]byte, error) {
	n := t.search(key)
	if n == nil {
		return nil, concorderr.New(concorderr.NotFound, "key not found")
	}
	return n.value, nil
}

func (t *RBTree) Update(key, value []byte) error {
	n := t.search(key)
	if n == nil {
		return concorderr.New(concorderr.NotFound, "key not found")
	}
	n.value = value
	return nil
}

func (t *RBTree) Delete(key []byte) error {
	if !t.delete(key) {
		return concorderr.New(concorderr.NotFound, "key not found")
	}
	return nil
}

func (t *RBTree) BatchSet(records []KV) []error {
	errs := make([]error, len(records))
	for i, r := range records {
		errs[i] = t.Set(r.Key, r.Value)
	}
	return errs
}

func (t *RBTree) BatchGet(keys [][]byte) ([][]byte, []error) {
	values := make([][]byte, len(keys))
	errs := make([]error, len(keys))
	for i, k := range keys {
		values[i], errs[i] = t.Get(k)
	}
	return values, errs
}

func (t *RBTree) BatchDelete(keys [][]byte) []error {
	errs := make([]error, len(keys))
	for i, k := range keys {
		errs[i] = t.Delete(k)
	}
	return errs
}

// rbIterator walks the tree in key order via explicit parent-pointer
// successor/predecessor steps, so it needs no auxiliary stack.
type rbIterator struct {
	t   *RBTree
	cur *rbNode
}

func (t *RBTree) NewIterator() Iterator {
	return &rbIterator{t: t, cur: t.nilN}
}

func (it *rbIterator) successor(n *rbNode) *rbNode {
	t := it.t
	if n.right != t.nilN {
		return t.minimum(n.right)
	}
	p := n.parent
	for p != t.nilN && n == p.right {
		n = p
		p = p.parent
	}
	return p
}

func (it *rbIterator) predecessor(n *rbNode) *rbNode {
	t := it.t
	if n.left != t.nilN {
		return t.maximum(n.left)
	}
	p := n.parent
	for p != t.nilN && n == p.left {
		n = p
		p = p.parent
	}
	return p
}

func (it *rbIterator) Next() bool {
	if it.cur == it.t.nilN {
		if it.t.root == it.t.nilN {
			return false
		}
		it.cur = it.t.minimum(it.t.root)
		return true
	}
	nxt := it.successor(it.cur)
	if nxt == it.t.nilN {
		return false
	}
	it.cur = nxt
	return true
}

func (it *rbIterator) Prev() bool {
	if it.cur == it.t.nilN {
		if it.t.root == it.t.nilN {
			return false
		}
		it.cur = it.t.maximum(it.t.root)
		return true
	}
	prv := it.predecessor(it.cur)
	if prv == it.t.nilN {
		return false
	}
	it.cur = prv
	return true
}

func (it *rbIterator) Seek(key []byte) bool {
	n := it.t.root
	var candidate *rbNode = it.t.nilN
	for n != it.t.nilN {
		if bytes.Compare(n.key, key) >= 0 {
			candidate = n
			n = n.left
		} else {
			n = n.right
		}
	}
	if candidate == it.t.nilN {
		return false
	}
	it.cur = candidate
	return true
}

func (it *rbIterator) Key() []byte {
	if it.cur == it.t.nilN {
		return nil
	}
	return it.cur.key
}

func (it *rbIterator) Value() []byte {
	if it.cur == it.t.nilN {
		return nil
	}
	return it.cur.value
}

func (it *rbIterator) Close() error { return nil }

func (t *RBTree) RangeScan(r Range) ([]KV, error) {
	var out []KV
	t.rangeWalk(t.root, r, &out)
	return out, nil
}

func (t *RBTree) rangeWalk(n *rbNode, r Range, out *[]KV) {
	if n == t.nilN || (r.Limit > 0 && len(*out) >= r.Limit) {
		return
	}
	if r.Start == nil || bytes.Compare(n.key, r.Start) >= 0 {
		t.rangeWalk(n.left, r, out)
	}
	if r.Limit > 0 && len(*out) >= r.Limit {
		return
	}
	inLower := r.Start == nil || func() bool {
		cmp := bytes.Compare(n.key, r.Start)
		return cmp > 0 || (cmp == 0 && r.StartInclusive)
	}()
	inUpper := r.End == nil || func() bool {
		cmp := bytes.Compare(n.key, r.End)
		return cmp < 0 || (cmp == 0 && r.EndInclusive)
	}()
	if inLower && inUpper {
		*out = append(*out, KV{Key: n.key, Value: n.value})
	}
	if r.End == nil || bytes.Compare(n.key, r.End) <= 0 {
		t.rangeWalk(n.right, r, out)
	}
}

func (t *RBTree) PrefixScan(prefix []byte, limit int) ([]KV, error) {
	var out []KV
	t.prefixWalk(t.root, prefix, limit, &out)
	return out, nil
}

func (t *RBTree) prefixWalk(n *rbNode, prefix []byte, limit int, out *[]KV) {
	if n == t.nilN || (limit > 0 && len(*out) >= limit) {
		return
	}
	t.prefixWalk(n.left, prefix, limit, out)
	if limit > 0 && len(*out) >= limit {
		return
	}
	if bytes.HasPrefix(n.key, prefix) {
		*out = append(*out, KV{Key: n.key, Value: n.value})
	}
	t.prefixWalk(n.right, prefix, limit, out)
}

func (t *RBTree) Count() uint64 { return uint64(t.count) }

func (t *RBTree) Size() uint64 {
	var sz uint64
	var walk func(n *rbNode)
	walk = func(n *rbNode) {
		if n == t.nilN {
			return
		}
		sz += uint64(len(n.key) + len(n.value))
		walk(n.left)
		walk(n.right)
	}
	walk(t.root)
	return sz
}

func (t *RBTree) MemoryUsage() uint64 { return t.Size() }

func (t *RBTree) Stats() Stats {
	return Stats{Count: t.Count(), SizeBytes: t.Size(), MemoryUsage: t.MemoryUsage()}
}

func (t *RBTree) Flush() error   { return nil }
func (t *RBTree) Compact() error { return nil }
func (t *RBTree) Sync() error    { return nil }

func (t *RBTree) Keys() ([][]byte, error) {
	keys := make([][]byte, 0, t.count)
	var walk func(n *rbNode)
	walk = func(n *rbNode) {
		if n == t.nilN {
			return
		}
		walk(n.left)
		keys = append(keys, n.key)
		walk(n.right)
	}
	walk(t.root)
	return keys, nil
}

func (t *RBTree) SaveTo(w SnapshotWriter) error {
	var lenBuf [4]byte
	var walk func(n *rbNode) error
	walk = func(n *rbNode) error {
		if n == t.nilN {
			return nil
		}
		if err := walk(n.left); err != nil {
			return err
		}
		if err := writeLenPrefixed(w, lenBuf[:], n.key); err != nil {
			return err
		}
		if err := writeLenPrefixed(w, lenBuf[:], n.value); err != nil {
			return err
		}
		return walk(n.right)
	}
	return walk(t.root)
}

func (t *RBTree) LoadFrom(r SnapshotReader) error {
	var lenBuf [4]byte
	for {
		key, err := readLenPrefixed(r, lenBuf[:])
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		value, err := readLenPrefixed(r, lenBuf[:])
		if err != nil {
			return err
		}
		t.insert(key, value)
	}
}

func (t *RBTree) Close() error { return nil }
