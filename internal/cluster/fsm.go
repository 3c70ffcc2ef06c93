package cluster

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/hashicorp/raft"
)

// logEntry is the Raft log payload: one WAL-shaped operation. Grounded on
// the teacher's clusterserver.LogEntry, simplified to the single payload
// shape ConcordKV needs (a replicated storage mutation) rather than the
// teacher's membership/shard-map event types, which model multi-node
// ownership this boundary does not own.
type logEntry struct {
	Op    byte
	Key   []byte
	Value []byte
}

func encodeLogEntry(e logEntry) []byte {
	var buf bytes.Buffer
	buf.WriteByte(e.Op)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(e.Key)))
	buf.Write(lenBuf[:])
	buf.Write(e.Key)
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(e.Value)))
	buf.Write(lenBuf[:])
	buf.Write(e.Value)
	return buf.Bytes()
}

func decodeLogEntry(data []byte) (logEntry, error) {
	if len(data) < 5 {
		return logEntry{}, io.ErrUnexpectedEOF
	}
	op := data[0]
	rest := data[1:]
	keyLen := binary.LittleEndian.Uint32(rest[:4])
	rest = rest[4:]
	if uint32(len(rest)) < keyLen {
		return logEntry{}, io.ErrUnexpectedEOF
	}
	key := rest[:keyLen]
	rest = rest[keyLen:]
	if len(rest) < 4 {
		return logEntry{}, io.ErrUnexpectedEOF
	}
	valueLen := binary.LittleEndian.Uint32(rest[:4])
	rest = rest[4:]
	if uint32(len(rest)) < valueLen {
		return logEntry{}, io.ErrUnexpectedEOF
	}
	return logEntry{Op: op, Key: key, Value: rest[:valueLen]}, nil
}

// EncodeApply builds the Raft log payload for RaftBoundary.Apply, so
// callers never need to know logEntry's wire shape.
func EncodeApply(op byte, key, value []byte) []byte {
	return encodeLogEntry(logEntry{Op: op, Key: key, Value: value})
}

// engineFSM drives a caller-supplied ApplyFunc from committed Raft log
// entries (spec §6.3's "apply hook an external consensus layer can
// drive").
type engineFSM struct {
	apply ApplyFunc
}

func (f *engineFSM) Apply(l *raft.Log) interface{} {
	entry, err := decodeLogEntry(l.Data)
	if err != nil {
		return err
	}
	return f.apply(entry.Op, entry.Key, entry.Value)
}

// Snapshot and Restore are no-ops: ConcordKV's own snapshot manager
// (internal/storage/snapshot) already persists full backend state, so the
// Raft FSM does not need a second snapshot mechanism. A host process
// wiring this boundary for real multi-node use should snapshot the
// underlying Engine instead and treat FSM snapshots as empty markers.
func (f *engineFSM) Snapshot() (raft.FSMSnapshot, error) {
	return emptyFSMSnapshot{}, nil
}

func (f *engineFSM) Restore(rc io.ReadCloser) error {
	return rc.Close()
}

type emptyFSMSnapshot struct{}

func (emptyFSMSnapshot) Persist(sink raft.SnapshotSink) error { return sink.Close() }
func (emptyFSMSnapshot) Release()                             {}
