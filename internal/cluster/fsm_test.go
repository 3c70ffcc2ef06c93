package cluster

import (
	"testing"

	"github.com/hashicorp/raft"
)

func TestLogEntryRoundTrip(t *testing.T) {
	want := logEntry{Op: 1, Key: []byte("k"), Value: []byte("v")}
	data := encodeLogEntry(want)

	got, err := decodeLogEntry(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Op != want.Op || string(got.Key) != string(want.Key) || string(got.Value) != string(want.Value) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestLogEntryEmptyValue(t *testing.T) {
	want := logEntry{Op: 2, Key: []byte("k"), Value: nil}
	data := encodeLogEntry(want)

	got, err := decodeLogEntry(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Value) != 0 {
		t.Fatalf("expected empty value, got %q", got.Value)
	}
}

func TestDecodeLogEntryTruncated(t *testing.T) {
	if _, err := decodeLogEntry([]byte{1, 2}); err == nil {
		t.Fatal("expected an error decoding a truncated entry")
	}
}

func TestEngineFSMApplyInvokesApplyFunc(t *testing.T) {
	var gotOp byte
	var gotKey, gotValue []byte
	fsm := &engineFSM{apply: func(op byte, key, value []byte) error {
		gotOp, gotKey, gotValue = op, key, value
		return nil
	}}

	data := EncodeApply(1, []byte("x"), []byte("1"))
	result := fsm.Apply(&raft.Log{Data: data})
	if result != nil {
		t.Fatalf("expected nil result, got %v", result)
	}
	if gotOp != 1 || string(gotKey) != "x" || string(gotValue) != "1" {
		t.Fatalf("apply func received op=%d key=%q value=%q", gotOp, gotKey, gotValue)
	}
}

func TestEngineFSMApplyPropagatesError(t *testing.T) {
	sentinel := errTest("boom")
	fsm := &engineFSM{apply: func(op byte, key, value []byte) error { return sentinel }}

	result := fsm.Apply(&raft.Log{Data: EncodeApply(1, []byte("x"), nil)})
	if result != sentinel {
		t.Fatalf("expected sentinel error, got %v", result)
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }

func TestEmptyFSMSnapshot(t *testing.T) {
	fsm := &engineFSM{apply: func(op byte, key, value []byte) error { return nil }}
	snap, err := fsm.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap == nil {
		t.Fatal("expected a non-nil snapshot")
	}
}
