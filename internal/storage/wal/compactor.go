package wal

import (
	"os"
	"path/filepath"

	"github.com/concordkv/concordkv/internal/concorderr"
)

// Default thresholds that trigger compaction (spec §4.5).
const (
	DefaultCompactThreshold = 10000
	DefaultCompactRatio     = 0.5
)

// KeyEnumerator and ValueGetter are the upstream callbacks the compactor
// consumes to snapshot the live logical state (spec §6:
// get_all_keys/get_value).
type KeyEnumerator func() ([][]byte, error)
type ValueGetter func(key []byte) ([]byte, bool, error)

// Compactor rewrites the live key set as a single new segment and unlinks
// every segment it superseded.
type Compactor struct {
	dir string
}

func NewCompactor(dir string) *Compactor {
	return &Compactor{dir: dir}
}

// Compact snapshots the current logical state via enumerate/get, writes it
// as a new WAL file whose records reproduce the live set starting at
// compactSeq, then unlinks every segment whose records are entirely
// superseded (spec §4.5). It returns the seq one past the last record it
// wrote — the value a writer resuming after this segment must use as its
// next seq, so compaction never reassigns a seq that already appears in
// the compacted segment (spec §3 invariant 2). Callers that only care
// about the segment's start seq (its compact_seq) already have it: it's
// the compactSeq argument they passed in.
func (c *Compactor) Compact(compactSeq uint64, enumerate KeyEnumerator, get ValueGetter) (uint64, error) {
	keys, err := enumerate()
	if err != nil {
		return 0, err
	}

	tmpPath := filepath.Join(c.dir, fileName(compactSeq)+".tmp")
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return 0, concorderr.Wrap(concorderr.IO, "compactor: create tmp segment", err)
	}

	seq := compactSeq
	var buf []byte
	for _, key := range keys {
		value, ok, err := get(key)
		if err != nil {
			f.Close()
			os.Remove(tmpPath)
			return 0, err
		}
		if !ok {
			continue
		}
		buf = Encode(buf[:0], Record{Seq: seq, Op: OpSet, Key: key, Value: value})
		if _, err := f.Write(buf); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return 0, concorderr.Wrap(concorderr.IO, "compactor: write record", err)
		}
		seq++
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, concorderr.Wrap(concorderr.IO, "compactor: fsync tmp segment", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, concorderr.Wrap(concorderr.IO, "compactor: close tmp segment", err)
	}

	finalPath := filepath.Join(c.dir, fileName(compactSeq))
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return 0, concorderr.Wrap(concorderr.IO, "compactor: rename tmp segment", err)
	}

	if err := c.cleanupOldLogs(compactSeq); err != nil {
		return 0, err
	}

	return seq, nil
}

// cleanupOldLogs unlinks every segment whose start sequence is strictly
// less than beforeSeq, i.e. every segment fully superseded by the new
// compacted segment.
func (c *Compactor) cleanupOldLogs(beforeSeq uint64) error {
	names, err := segments(c.dir)
	if err != nil {
		return err
	}
	for _, name := range names {
		seq, ok := parseSeq(name)
		if !ok || seq >= beforeSeq {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, name)); err != nil && !os.IsNotExist(err) {
			return concorderr.Wrap(concorderr.IO, "compactor: remove superseded segment", err)
		}
	}
	return nil
}

// ShouldCompact reports whether recordCount/liveRatio crosses the trigger
// thresholds of spec §4.5.
func ShouldCompact(recordCount int, liveRatio float64, threshold int, ratio float64) bool {
	if threshold <= 0 {
		threshold = DefaultCompactThreshold
	}
	if ratio <= 0 {
		ratio = DefaultCompactRatio
	}
	return recordCount >= threshold || liveRatio < ratio
}
