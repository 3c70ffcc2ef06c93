// Package txn implements the portable transaction layer of spec §4.7: four
// isolation levels layered over any storage.Engine, with an ordered op list
// and old-value capture for rollback.
//
// Grounded on the teacher's internal/storage.Engine WAL-then-backend
// pattern for the eager path, generalized to the deferred-apply-at-commit
// path the three higher isolation levels require. The engine itself
// supplies durability (WAL append) for every op this package applies; txn
// adds ordering, visibility, and undo on top.
package txn

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/concordkv/concordkv/internal/concorderr"
)

// IsolationLevel selects visibility and application timing (spec §4.7).
type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
	Serializable
)

func (l IsolationLevel) String() string {
	switch l {
	case ReadUncommitted:
		return "READ_UNCOMMITTED"
	case ReadCommitted:
		return "READ_COMMITTED"
	case RepeatableRead:
		return "REPEATABLE_READ"
	case Serializable:
		return "SERIALIZABLE"
	default:
		return "UNKNOWN"
	}
}

// Status is a transaction's lifecycle state. COMMITTED and ABORTED are
// terminal: further operations on the transaction fail with TXN_INACTIVE.
type Status int

const (
	Active Status = iota
	Committed
	Aborted
)

func (s Status) String() string {
	switch s {
	case Active:
		return "ACTIVE"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// OpType identifies a recorded transaction operation.
type OpType int

const (
	OpSet OpType = iota
	OpDelete
	OpModify
)

// Op is one entry in a transaction's op list: {op_type, key, value,
// old_value} per spec §3. OldValueOK distinguishes "old_value is the zero
// value" from "the key did not exist".
type Op struct {
	Type       OpType
	Key        []byte
	Value      []byte
	OldValue   []byte
	OldValueOK bool
}

// Engine is the subset of storage.Engine the transaction layer needs. It
// is an interface, not a direct dependency on package storage, so txn can
// be tested against a fake and so storage need not import txn.
type Engine interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Update(key, value []byte) error
	Delete(key []byte) error

	// Lock/Unlock and the Raw* variants exist solely for SERIALIZABLE,
	// which holds the write lock for a transaction's full duration. Once
	// held, further calls must go through Raw* — Get/Set/Update/Delete
	// take the same non-reentrant lock themselves and would deadlock.
	Lock()
	Unlock()
	RawGet(key []byte) ([]byte, error)
	RawSet(key, value []byte) error
	RawUpdate(key, value []byte) error
	RawDelete(key []byte) error
}

// Transaction is one begin..commit/rollback unit of work (spec §3/§4.7).
type Transaction struct {
	TxnID     uint64
	TraceID   string
	Status    Status
	Isolation IsolationLevel
	StartTime time.Time
	EndTime   time.Time

	mu     sync.Mutex
	opList []Op

	engine    Engine
	heldWrite bool
}

func newTransaction(id uint64, isolation IsolationLevel, engine Engine) *Transaction {
	t := &Transaction{
		TxnID:     id,
		TraceID:   ulid.Make().String(),
		Status:    Active,
		Isolation: isolation,
		StartTime: time.Now(),
		engine:    engine,
	}
	if isolation == Serializable {
		engine.Lock()
		t.heldWrite = true
	}
	return t
}

// engineGet/Set/Update/Delete route through the Raw* path while the write
// lock is held for the transaction's duration (SERIALIZABLE), and through
// the normal locked path otherwise.
func (t *Transaction) engineGet(key []byte) ([]byte, error) {
	if t.heldWrite {
		return t.engine.RawGet(key)
	}
	return t.engine.Get(key)
}

func (t *Transaction) engineSet(key, value []byte) error {
	if t.heldWrite {
		return t.engine.RawSet(key, value)
	}
	return t.engine.Set(key, value)
}

func (t *Transaction) engineUpdate(key, value []byte) error {
	if t.heldWrite {
		return t.engine.RawUpdate(key, value)
	}
	return t.engine.Update(key, value)
}

func (t *Transaction) engineDelete(key []byte) error {
	if t.heldWrite {
		return t.engine.RawDelete(key)
	}
	return t.engine.Delete(key)
}

func (t *Transaction) checkActive() error {
	if t.Status != Active {
		return concorderr.New(concorderr.TxnInactive, fmt.Sprintf("transaction %d is %s", t.TxnID, t.Status))
	}
	return nil
}

// deferred reports whether this isolation level defers mutations to commit
// rather than applying them eagerly (spec §4.7).
func (t *Transaction) deferred() bool {
	return t.Isolation != ReadUncommitted
}

// recordOld captures old_value for an op at record time: Get the current
// value, treating NOT_FOUND as "no old value" rather than an error, per
// spec §4.7's op-recording rule.
func (t *Transaction) recordOld(key []byte) ([]byte, bool, error) {
	v, err := t.engineGet(key)
	if err == nil {
		return v, true, nil
	}
	if concorderr.KindOf(err) == concorderr.NotFound {
		return nil, false, nil
	}
	return nil, false, err
}

// Set records or applies a set of key to value.
func (t *Transaction) Set(key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkActive(); err != nil {
		return err
	}

	old, ok, err := t.recordOld(key)
	if err != nil {
		return err
	}

	if !t.deferred() {
		if err := t.engineSet(key, value); err != nil {
			return err
		}
	}

	t.opList = append(t.opList, Op{Type: OpSet, Key: cloneBytes(key), Value: cloneBytes(value), OldValue: cloneBytes(old), OldValueOK: ok})
	return nil
}

// Delete records or applies removal of key.
func (t *Transaction) Delete(key []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkActive(); err != nil {
		return err
	}

	old, ok, err := t.recordOld(key)
	if err != nil {
		return err
	}

	if !t.deferred() {
		if err := t.engineDelete(key); err != nil {
			return err
		}
	}

	t.opList = append(t.opList, Op{Type: OpDelete, Key: cloneBytes(key), OldValue: cloneBytes(old), OldValueOK: ok})
	return nil
}

// Modify replaces an existing key's value, failing with NOT_FOUND if the
// key is absent at record time (spec §4.7).
func (t *Transaction) Modify(key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkActive(); err != nil {
		return err
	}

	old, ok, err := t.recordOld(key)
	if err != nil {
		return err
	}
	if !ok {
		return concorderr.ErrNotFound
	}

	if !t.deferred() {
		if err := t.engineUpdate(key, value); err != nil {
			return err
		}
	}

	t.opList = append(t.opList, Op{Type: OpModify, Key: cloneBytes(key), Value: cloneBytes(value), OldValue: cloneBytes(old), OldValueOK: ok})
	return nil
}

// Get reads a key through the transaction. READ_UNCOMMITTED sees its own
// eagerly-applied writes simply because they already hit the backend.
// READ_COMMITTED reads straight through. REPEATABLE_READ and SERIALIZABLE
// first scan the op list in order for the most recent override before
// falling through to the backend (spec §4.7).
func (t *Transaction) Get(key []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkActive(); err != nil {
		return nil, err
	}

	if t.Isolation == RepeatableRead || t.Isolation == Serializable {
		for i := len(t.opList) - 1; i >= 0; i-- {
			op := t.opList[i]
			if !bytesEqual(op.Key, key) {
				continue
			}
			switch op.Type {
			case OpDelete:
				return nil, concorderr.ErrNotFound
			case OpSet, OpModify:
				return cloneBytes(op.Value), nil
			}
		}
	}

	return t.engineGet(key)
}

// Commit applies a deferred op list to the backend in order. On any apply
// error the transaction's chosen failure policy is abort-and-rollback:
// already-applied ops are undone in reverse using their captured
// old_value, the transaction transitions to ABORTED, and the apply error
// is returned (spec §4.7, §9 Open Question: "implementation-defined
// failure mode" — this package always rolls back rather than poisoning the
// engine, so one failed transaction never blocks others).
func (t *Transaction) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkActive(); err != nil {
		return err
	}

	if t.heldWrite {
		defer func() {
			t.engine.Unlock()
			t.heldWrite = false
		}()
	}

	if t.deferred() {
		applied := 0
		for _, op := range t.opList {
			if err := t.applyOp(op); err != nil {
				t.undoApplied(t.opList[:applied])
				t.Status = Aborted
				t.EndTime = time.Now()
				return err
			}
			applied++
		}
	}

	t.Status = Committed
	t.EndTime = time.Now()
	return nil
}

func (t *Transaction) applyOp(op Op) error {
	switch op.Type {
	case OpSet:
		return t.engineSet(op.Key, op.Value)
	case OpModify:
		return t.engineUpdate(op.Key, op.Value)
	case OpDelete:
		return t.engineDelete(op.Key)
	default:
		return concorderr.New(concorderr.Corrupt, "txn: unknown op type in op list")
	}
}

// undoApplied reverses already-applied ops in reverse order using their
// captured old_value, the same recipe Rollback uses for the eager path.
func (t *Transaction) undoApplied(applied []Op) {
	for i := len(applied) - 1; i >= 0; i-- {
		t.undoOne(applied[i])
	}
}

func (t *Transaction) undoOne(op Op) {
	switch op.Type {
	case OpSet:
		if op.OldValueOK {
			t.engineSet(op.Key, op.OldValue)
		} else {
			t.engineDelete(op.Key)
		}
	case OpModify:
		if op.OldValueOK {
			t.engineUpdate(op.Key, op.OldValue)
		}
	case OpDelete:
		if op.OldValueOK {
			t.engineSet(op.Key, op.OldValue)
		}
	}
}

// Rollback discards the op list for deferred-mode transactions. For
// READ_UNCOMMITTED, which applied eagerly, it undoes every op in reverse
// order using old_value (spec §4.7).
func (t *Transaction) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkActive(); err != nil {
		return err
	}

	if !t.deferred() {
		t.undoApplied(t.opList)
	}

	t.opList = nil
	t.Status = Aborted
	t.EndTime = time.Now()

	if t.heldWrite {
		t.engine.Unlock()
		t.heldWrite = false
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Manager assigns process-monotonic txn_ids and tracks active-transaction
// count (spec §4.7). No cross-transaction conflict detection is required
// at this layer.
type Manager struct {
	nextID           uint64
	activeCount      int64
	defaultIsolation IsolationLevel
	mu               sync.Mutex
}

// NewManager constructs a Manager with the given default isolation level,
// which Begin uses when passed a level outside the defined range.
func NewManager(defaultIsolation IsolationLevel) *Manager {
	return &Manager{defaultIsolation: defaultIsolation}
}

// Begin starts a new transaction against engine at the given isolation
// level. Pass -1 to use the manager's default.
func (m *Manager) Begin(engine Engine, isolation IsolationLevel) *Transaction {
	id := atomic.AddUint64(&m.nextID, 1)
	m.mu.Lock()
	if isolation < ReadUncommitted || isolation > Serializable {
		isolation = m.defaultIsolation
	}
	m.mu.Unlock()
	atomic.AddInt64(&m.activeCount, 1)
	return newTransaction(id, isolation, engine)
}

// End releases a transaction's slot in the active count. Callers must call
// End exactly once after Commit or Rollback.
func (m *Manager) End(t *Transaction) {
	atomic.AddInt64(&m.activeCount, -1)
}

// ActiveCount returns the number of transactions currently begun but not
// yet ended.
func (m *Manager) ActiveCount() int64 {
	return atomic.LoadInt64(&m.activeCount)
}
