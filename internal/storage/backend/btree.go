package backend

import (
	"bytes"
	"io"
	"sort"

	"github.com/concordkv/concordkv/internal/concorderr"
)

// btreeLeaf is a page-sized, sorted run of entries. Leaves are linked for
// forward range scans and split on overflow at Set time. Declared
// "skeletal" by spec §2: there is no merge-on-underflow, deletions simply
// remove the key and leave an under-full leaf in place, reclaimed lazily by
// Compact.
type btreeLeaf struct {
	entries []KV
	next    *btreeLeaf
}

// BTree is the B+Tree backend of spec §4.8/§2: an ordered map over
// page-sized leaves indexed by their minimum key, sized by
// Config.MaxKeysPerNode (spec §6's page_size/max_keys_per_node).
type BTree struct {
	leaves         []*btreeLeaf // sorted by leaves[i].entries[0].Key
	maxKeysPerNode int
	count          int
}

func NewBTree() *BTree { return &BTree{} }

func (b *BTree) Type() string { return "BTREE" }

func (b *BTree) Init(cfg Config) error {
	n := cfg.MaxKeysPerNode
	if n <= 0 {
		n = DefaultMaxKeysPerNode
	}
	b.maxKeysPerNode = n
	first := &btreeLeaf{}
	b.leaves = []*btreeLeaf{first}
	b.count = 0
	return nil
}

// leafFor returns the index of the leaf that does or would contain key.
// Empty leaves (left by deletions) are skipped so they never shadow the
// non-empty leaf that holds key.
func (b *BTree) leafFor(key []byte) int {
	idx := 0
	for i, l := range b.leaves {
		if len(l.entries) == 0 {
			continue
		}
		if bytes.Compare(l.entries[0].Key, key) > 0 {
			break
		}
		idx = i
	}
	return idx
}

func (l *btreeLeaf) find(key []byte) int {
	return sort.Search(len(l.entries), func(i int) bool {
		return bytes.Compare(l.entries[i].Key, key) >= 0
	})
}

func (b *BTree) Set(key, value []byte) error {
	li := b.leafFor(key)
	leaf := b.leaves[li]
	pos := leaf.find(key)
	if pos < len(leaf.entries) && bytes.Equal(leaf.entries[pos].Key, key) {
		leaf.entries[pos].Value = value
		return nil
	}
	entry := KV{Key: key, Value: value}
	leaf.entries = append(leaf.entries, KV{})
	copy(leaf.entries[pos+1:], leaf.entries[pos:])
	leaf.entries[pos] = entry
	b.count++

	if len(leaf.entries) > b.maxKeysPerNode {
		b.splitLeaf(li)
	}
	return nil
}

func (b *BTree) splitLeaf(li int) {
	leaf := b.leaves[li]
	mid := len(leaf.entries) / 2
	right := &btreeLeaf{entries: append([]KV(nil), leaf.entries[mid:]...), next: leaf.next}
	leaf.entries = leaf.entries[:mid]
	leaf.next = right

	b.leaves = append(b.leaves, nil)
	copy(b.leaves[li+2:], b.leaves[li+1:])
	b.leaves[li+1] = right
}

func (b *BTree) Get(key []byte) ([]byte, error) {
	li := b.leafFor(key)
	leaf := b.leaves[li]
	pos := leaf.find(key)
	if pos < len(leaf.entries) && bytes.Equal(leaf.entries[pos].Key, key) {
		return leaf.entries[pos].Value, nil
	}
	return nil, concorderr.New(concorderr.NotFound, "key not found")
}

func (b *BTree) Update(key, value []byte) error {
	li := b.leafFor(key)
	leaf := b.leaves[li]
	pos := leaf.find(key)
	if pos < len(leaf.entries) && bytes.Equal(leaf.entries[pos].Key, key) {
		leaf.entries[pos].Value = value
		return nil
	}
	return concorderr.New(concorderr.NotFound, "key not found")
}

func (b *BTree) Delete(key []byte) error {
	li := b.leafFor(key)
	leaf := b.leaves[li]
	pos := leaf.find(key)
	if pos < len(leaf.entries) && bytes.Equal(leaf.entries[pos].Key, key) {
		leaf.entries = append(leaf.entries[:pos], leaf.entries[pos+1:]...)
		b.count--
		return nil
	}
	return concorderr.New(concorderr.NotFound, "key not found")
}

func (b *BTree) BatchSet(records []KV) []error {
	errs := make([]error, len(records))
	for i, r := range records {
		errs[i] = b.Set(r.Key, r.Value)
	}
	return errs
}

func (b *BTree) BatchGet(keys [][]byte) ([][]byte, []error) {
	values := make([][]byte, len(keys))
	errs := make([]error, len(keys))
	for i, k := range keys {
		values[i], errs[i] = b.Get(k)
	}
	return values, errs
}

func (b *BTree) BatchDelete(keys [][]byte) []error {
	errs := make([]error, len(keys))
	for i, k := range keys {
		errs[i] = b.Delete(k)
	}
	return errs
}

// btreeIterator walks the leaf chain in key order.
type btreeIterator struct {
	b        *BTree
	leafIdx  int
	entryIdx int
}

func (b *BTree) NewIterator() Iterator {
	return &btreeIterator{b: b, leafIdx: 0, entryIdx: -1}
}

func (it *btreeIterator) Next() bool {
	for it.leafIdx < len(it.b.leaves) {
		it.entryIdx++
		leaf := it.b.leaves[it.leafIdx]
		if it.entryIdx < len(leaf.entries) {
			return true
		}
		it.leafIdx++
		it.entryIdx = -1
	}
	return false
}

func (it *btreeIterator) Prev() bool {
	for it.leafIdx >= 0 {
		it.entryIdx--
		if it.entryIdx >= 0 {
			return true
		}
		it.leafIdx--
		if it.leafIdx >= 0 {
			it.entryIdx = len(it.b.leaves[it.leafIdx].entries)
		}
	}
	return false
}

func (it *btreeIterator) Seek(key []byte) bool {
	li := it.b.leafFor(key)
	leaf := it.b.leaves[li]
	pos := leaf.find(key)
	if pos >= len(leaf.entries) {
		if li+1 >= len(it.b.leaves) {
			return false
		}
		li++
		pos = 0
	}
	it.leafIdx = li
	it.entryIdx = pos
	return true
}

func (it *btreeIterator) Key() []byte {
	if it.leafIdx < 0 || it.leafIdx >= len(it.b.leaves) {
		return nil
	}
	leaf := it.b.leaves[it.leafIdx]
	if it.entryIdx < 0 || it.entryIdx >= len(leaf.entries) {
		return nil
	}
	return leaf.entries[it.entryIdx].Key
}

func (it *btreeIterator) Value() []byte {
	if it.leafIdx < 0 || it.leafIdx >= len(it.b.leaves) {
		return nil
	}
	leaf := it.b.leaves[it.leafIdx]
	if it.entryIdx < 0 || it.entryIdx >= len(leaf.entries) {
		return nil
	}
	return leaf.entries[it.entryIdx].Value
}

func (it *btreeIterator) Close() error { return nil }

func (b *BTree) RangeScan(r Range) ([]KV, error) {
	var out []KV
	for _, leaf := range b.leaves {
		for _, e := range leaf.entries {
			if r.Start != nil {
				cmp := bytes.Compare(e.Key, r.Start)
				if cmp < 0 || (cmp == 0 && !r.StartInclusive) {
					continue
				}
			}
			if r.End != nil {
				cmp := bytes.Compare(e.Key, r.End)
				if cmp > 0 || (cmp == 0 && !r.EndInclusive) {
					return out, nil
				}
			}
			out = append(out, e)
			if r.Limit > 0 && len(out) >= r.Limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (b *BTree) PrefixScan(prefix []byte, limit int) ([]KV, error) {
	var out []KV
	for _, leaf := range b.leaves {
		for _, e := range leaf.entries {
			if !bytes.HasPrefix(e.Key, prefix) {
				continue
			}
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (b *BTree) Count() uint64 { return uint64(b.count) }

func (b *BTree) Size() uint64 {
	var sz uint64
	for _, leaf := range b.leaves {
		for _, e := range leaf.entries {
			sz += uint64(len(e.Key) + len(e.Value))
		}
	}
	return sz
}

func (b *BTree) MemoryUsage() uint64 { return b.Size() }

func (b *BTree) Stats() Stats {
	return Stats{Count: b.Count(), SizeBytes: b.Size(), MemoryUsage: b.MemoryUsage()}
}

func (b *BTree) Flush() error { return nil }

// Compact rebuilds the leaf chain, dropping empty leaves left behind by
// deletions. This is the backend's lazy reclaim in place of merge-on-underflow.
func (b *BTree) Compact() error {
	var all []KV
	for _, leaf := range b.leaves {
		all = append(all, leaf.entries...)
	}
	b.leaves = nil
	cur := &btreeLeaf{}
	b.leaves = append(b.leaves, cur)
	for _, e := range all {
		if len(cur.entries) >= b.maxKeysPerNode {
			next := &btreeLeaf{}
			cur.next = next
			b.leaves = append(b.leaves, next)
			cur = next
		}
		cur.entries = append(cur.entries, e)
	}
	return nil
}

func (b *BTree) Sync() error { return nil }

func (b *BTree) Keys() ([][]byte, error) {
	keys := make([][]byte, 0, b.count)
	for _, leaf := range b.leaves {
		for _, e := range leaf.entries {
			keys = append(keys, e.Key)
		}
	}
	return keys, nil
}

func (b *BTree) SaveTo(w SnapshotWriter) error {
	var lenBuf [4]byte
	for _, leaf := range b.leaves {
		for _, e := range leaf.entries {
			if err := writeLenPrefixed(w, lenBuf[:], e.Key); err != nil {
				return err
			}
			if err := writeLenPrefixed(w, lenBuf[:], e.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *BTree) LoadFrom(r SnapshotReader) error {
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
		if err := b.Set(key, value); err != nil {
			return err
		}
	}
}

func (b *BTree) Close() error { return nil }
