package backend

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/concordkv/concordkv/internal/concorderr"
)

// slot is one array cell. A nil Key marks an empty (reusable) slot.
type slot struct {
	key   []byte
	value []byte
}

// Array is the fixed-capacity linear backend of spec §4.2: a flat table
// searched linearly, with tombstone slots reused below the high-water mark
// and new keys appended at idx.
type Array struct {
	capacity int
	slots    []slot
	idx      int // high-water mark: one past the highest slot in use
	count    int
}

// NewArray constructs an Array backend. Call Init before use.
func NewArray() *Array {
	return &Array{}
}

func (a *Array) Type() string { return "ARRAY" }

func (a *Array) Init(cfg Config) error {
	cap := cfg.Capacity
	if cap <= 0 {
		cap = DefaultArrayCapacity
	}
	a.capacity = cap
	a.slots = make([]slot, cap)
	a.idx = 0
	a.count = 0
	return nil
}

func (a *Array) find(key []byte) int {
	for i := 0; i < a.idx; i++ {
		if a.slots[i].key != nil && bytes.Equal(a.slots[i].key, key) {
			return i
		}
	}
	return -1
}

func (a *Array) firstFree() int {
	for i := 0; i < a.idx; i++ {
		if a.slots[i].key == nil {
			return i
		}
	}
	return -1
}

func (a *Array) Set(key, value []byte) error {
	if i := a.find(key); i >= 0 {
		a.slots[i].value = value
		return nil
	}
	if i := a.firstFree(); i >= 0 {
		a.slots[i] = slot{key: key, value: value}
		a.count++
		return nil
	}
	if a.idx >= a.capacity {
		return concorderr.New(concorderr.Capacity, "array backend is full")
	}
	a.slots[a.idx] = slot{key: key, value: value}
	a.idx++
	a.count++
	return nil
}

func (a *Array) Get(key []byte) ([]byte, error) {
	if i := a.find(key); i >= 0 {
		return a.slots[i].value, nil
	}
	return nil, concorderr.New(concorderr.NotFound, "key not found")
}

func (a *Array) Update(key, value []byte) error {
	i := a.find(key)
	if i < 0 {
		return concorderr.New(concorderr.NotFound, "key not found")
	}
	a.slots[i].value = value
	return nil
}

func (a *Array) Delete(key []byte) error {
	i := a.find(key)
	if i < 0 {
		return concorderr.New(concorderr.NotFound, "key not found")
	}
	a.slots[i] = slot{}
	a.count--

	// Retract idx past any trailing NULL slots left at the high-water mark.
	if i == a.idx-1 {
		for a.idx > 0 && a.slots[a.idx-1].key == nil {
			a.idx--
		}
	}
	return nil
}

func (a *Array) BatchSet(records []KV) []error {
	errs := make([]error, len(records))
	for i, r := range records {
		errs[i] = a.Set(r.Key, r.Value)
	}
	return errs
}

func (a *Array) BatchGet(keys [][]byte) ([][]byte, []error) {
	values := make([][]byte, len(keys))
	errs := make([]error, len(keys))
	for i, k := range keys {
		values[i], errs[i] = a.Get(k)
	}
	return values, errs
}

func (a *Array) BatchDelete(keys [][]byte) []error {
	errs := make([]error, len(keys))
	for i, k := range keys {
		errs[i] = a.Delete(k)
	}
	return errs
}

// arrayIterator walks live slots in physical order; no ordering guarantee.
type arrayIterator struct {
	a   *Array
	pos int
}

func (a *Array) NewIterator() Iterator {
	return &arrayIterator{a: a, pos: -1}
}

func (it *arrayIterator) Next() bool {
	for it.pos++; it.pos < it.a.idx; it.pos++ {
		if it.a.slots[it.pos].key != nil {
			return true
		}
	}
	return false
}

func (it *arrayIterator) Prev() bool {
	for it.pos--; it.pos >= 0; it.pos-- {
		if it.a.slots[it.pos].key != nil {
			return true
		}
	}
	return false
}

func (it *arrayIterator) Seek(key []byte) bool {
	for i := 0; i < it.a.idx; i++ {
		if it.a.slots[i].key != nil && bytes.Equal(it.a.slots[i].key, key) {
			it.pos = i
			return true
		}
	}
	return false
}

func (it *arrayIterator) Key() []byte {
	if it.pos < 0 || it.pos >= it.a.idx {
		return nil
	}
	return it.a.slots[it.pos].key
}

func (it *arrayIterator) Value() []byte {
	if it.pos < 0 || it.pos >= it.a.idx {
		return nil
	}
	return it.a.slots[it.pos].value
}

func (it *arrayIterator) Close() error { return nil }

// RangeScan and PrefixScan are unordered for Array, matching spec §4.1's
// "unordered for hash" allowance extended to the array backend, which also
// carries no ordering guarantee (spec §4.2).
func (a *Array) RangeScan(r Range) ([]KV, error) {
	var out []KV
	for i := 0; i < a.idx; i++ {
		s := a.slots[i]
		if s.key == nil {
			continue
		}
		if r.Start != nil {
			cmp := bytes.Compare(s.key, r.Start)
			if cmp < 0 || (cmp == 0 && !r.StartInclusive) {
				continue
			}
		}
		if r.End != nil {
			cmp := bytes.Compare(s.key, r.End)
			if cmp > 0 || (cmp == 0 && !r.EndInclusive) {
				continue
			}
		}
		out = append(out, KV{Key: s.key, Value: s.value})
		if r.Limit > 0 && len(out) >= r.Limit {
			break
		}
	}
	return out, nil
}

func (a *Array) PrefixScan(prefix []byte, limit int) ([]KV, error) {
	var out []KV
	for i := 0; i < a.idx; i++ {
		s := a.slots[i]
		if s.key == nil || !bytes.HasPrefix(s.key, prefix) {
			continue
		}
		out = append(out, KV{Key: s.key, Value: s.value})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (a *Array) Count() uint64 { return uint64(a.count) }

func (a *Array) Size() uint64 {
	var sz uint64
	for i := 0; i < a.idx; i++ {
		if a.slots[i].key != nil {
			sz += uint64(len(a.slots[i].key) + len(a.slots[i].value))
		}
	}
	return sz
}

func (a *Array) MemoryUsage() uint64 { return a.Size() }

func (a *Array) Stats() Stats {
	return Stats{Count: a.Count(), SizeBytes: a.Size(), MemoryUsage: a.MemoryUsage()}
}

func (a *Array) Flush() error  { return nil }
func (a *Array) Compact() error { return nil }
func (a *Array) Sync() error   { return nil }

func (a *Array) Keys() ([][]byte, error) {
	keys := make([][]byte, 0, a.count)
	for i := 0; i < a.idx; i++ {
		if a.slots[i].key != nil {
			keys = append(keys, a.slots[i].key)
		}
	}
	return keys, nil
}

// SaveTo/LoadFrom use a plain length-prefixed record stream; the array
// backend's own on-disk shape, opaque to the snapshot manager.
func (a *Array) SaveTo(w SnapshotWriter) error {
	var lenBuf [4]byte
	for i := 0; i < a.idx; i++ {
		s := a.slots[i]
		if s.key == nil {
			continue
		}
		if err := writeLenPrefixed(w, lenBuf[:], s.key); err != nil {
			return err
		}
		if err := writeLenPrefixed(w, lenBuf[:], s.value); err != nil {
			return err
		}
	}
	return nil
}

func (a *Array) LoadFrom(r SnapshotReader) error {
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
		if err := a.Set(key, value); err != nil {
			return err
		}
	}
}

func (a *Array) Close() error { return nil }

func writeLenPrefixed(w SnapshotWriter, lenBuf []byte, data []byte) error {
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(data)))
	if _, err := w.Write(lenBuf); err != nil {
		return concorderr.Wrap(concorderr.IO, "write length prefix", err)
	}
	if len(data) == 0 {
		return nil
	}
	if _, err := w.Write(data); err != nil {
		return concorderr.Wrap(concorderr.IO, "write data", err)
	}
	return nil
}

func readLenPrefixed(r SnapshotReader, lenBuf []byte) ([]byte, error) {
	if _, err := io.ReadFull(toReader(r), lenBuf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, concorderr.Wrap(concorderr.Corrupt, "read length prefix", err)
	}
	n := binary.LittleEndian.Uint32(lenBuf)
	if n == 0 {
		return []byte{}, nil
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(toReader(r), data); err != nil {
		return nil, concorderr.Wrap(concorderr.Corrupt, "read data", err)
	}
	return data, nil
}

// toReader adapts the narrow SnapshotReader to io.Reader for io.ReadFull.
func toReader(r SnapshotReader) io.Reader {
	if rr, ok := r.(io.Reader); ok {
		return rr
	}
	return readerFunc(r.Read)
}

type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }
