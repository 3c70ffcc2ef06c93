package wal

import (
	"bytes"
	"io"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rec := Record{Seq: 42, Op: OpSet, Key: []byte("k"), Value: []byte("v")}
	buf := Encode(nil, rec)

	got, err := Decode(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Seq != rec.Seq || got.Op != rec.Op || !bytes.Equal(got.Key, rec.Key) || !bytes.Equal(got.Value, rec.Value) {
		t.Fatalf("decode = %+v, want %+v", got, rec)
	}
}

func TestEncodeDecodeEmptyValueForDelete(t *testing.T) {
	rec := Record{Seq: 1, Op: OpDelete, Key: []byte("gone")}
	buf := Encode(nil, rec)

	got, err := Decode(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Value) != 0 {
		t.Fatalf("delete record value = %q, want empty", got.Value)
	}
}

func TestDecodeTruncatedTailReturnsUnexpectedEOF(t *testing.T) {
	rec := Record{Seq: 1, Op: OpSet, Key: []byte("k"), Value: []byte("value")}
	buf := Encode(nil, rec)

	// truncate mid-value: this must look like a crash mid-append, not a
	// corrupt record.
	truncated := buf[:len(buf)-2]
	_, err := Decode(bytes.NewReader(truncated))
	if err != io.ErrUnexpectedEOF {
		t.Fatalf("decode of truncated tail = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestDecodeCleanEOFAtBoundary(t *testing.T) {
	_, err := Decode(bytes.NewReader(nil))
	if err != io.EOF {
		t.Fatalf("decode of empty reader = %v, want io.EOF", err)
	}
}

func TestEncodeAppendsToExistingBuffer(t *testing.T) {
	rec1 := Record{Seq: 1, Op: OpSet, Key: []byte("a"), Value: []byte("1")}
	rec2 := Record{Seq: 2, Op: OpSet, Key: []byte("b"), Value: []byte("2")}

	var buf []byte
	buf = Encode(buf, rec1)
	buf = Encode(buf, rec2)

	r := bytes.NewReader(buf)
	got1, err := Decode(r)
	if err != nil {
		t.Fatalf("decode rec1: %v", err)
	}
	got2, err := Decode(r)
	if err != nil {
		t.Fatalf("decode rec2: %v", err)
	}
	if !bytes.Equal(got1.Key, rec1.Key) || !bytes.Equal(got2.Key, rec2.Key) {
		t.Fatalf("concatenated records decoded out of order: %+v, %+v", got1, got2)
	}
}
