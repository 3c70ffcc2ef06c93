package wal

import (
	"encoding/binary"
	"io"
)

// headerSize is the fixed-size prefix of every record: seq(8) + op(1) +
// key_len(4).
const headerSize = 8 + 1 + 4

// Encode appends rec's wire representation (spec §6: little-endian,
// tightly packed, no padding, no per-record checksum) to buf and returns
// the result.
func Encode(buf []byte, rec Record) []byte {
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint64(hdr[0:8], rec.Seq)
	hdr[8] = byte(rec.Op)
	binary.LittleEndian.PutUint32(hdr[9:13], uint32(len(rec.Key)))
	buf = append(buf, hdr[:]...)
	buf = append(buf, rec.Key...)

	var vlen [4]byte
	binary.LittleEndian.PutUint32(vlen[:], uint32(len(rec.Value)))
	buf = append(buf, vlen[:]...)
	if len(rec.Value) > 0 {
		buf = append(buf, rec.Value...)
	}
	return buf
}

// Decode reads one record from r. A read that ends partway through a field
// returns io.ErrUnexpectedEOF; one that ends before any byte of a field
// returns io.EOF. Callers treat both as the end of the file, so a truncated
// tail is the defined, non-error behavior for a crash mid-append
// (spec §4.5).
func Decode(r io.Reader) (Record, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Record{}, shortReadErr(err)
	}

	rec := Record{
		Seq: binary.LittleEndian.Uint64(hdr[0:8]),
		Op:  Op(hdr[8]),
	}
	keyLen := binary.LittleEndian.Uint32(hdr[9:13])

	if keyLen > 0 {
		rec.Key = make([]byte, keyLen)
		if _, err := io.ReadFull(r, rec.Key); err != nil {
			return Record{}, shortReadErr(err)
		}
	}

	var vlen [4]byte
	if _, err := io.ReadFull(r, vlen[:]); err != nil {
		return Record{}, shortReadErr(err)
	}
	valueLen := binary.LittleEndian.Uint32(vlen[:])
	if valueLen > 0 {
		rec.Value = make([]byte, valueLen)
		if _, err := io.ReadFull(r, rec.Value); err != nil {
			return Record{}, shortReadErr(err)
		}
	}

	return rec, nil
}

// shortReadErr classifies a read error: a clean io.EOF (no byte of the
// field read) stays io.EOF, and any other error, such as a short read
// partway through a field, becomes io.ErrUnexpectedEOF. The reader stops
// replay of the current file on either without treating the tail as a
// hard error.
func shortReadErr(err error) error {
	if err == io.EOF {
		return io.EOF
	}
	return io.ErrUnexpectedEOF
}

