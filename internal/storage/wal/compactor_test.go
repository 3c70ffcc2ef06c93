package wal

import (
	"os"
	"testing"
)

func TestCompactRewritesLiveSetAndRemovesOldSegments(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.MaxFileSize = 1 // one segment per record, so compaction has several to clean up
	w, err := NewWriter(cfg)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	w.Append(OpSet, []byte("a"), []byte("1"))
	w.Append(OpSet, []byte("b"), []byte("2"))
	w.Append(OpDelete, []byte("a"), nil)
	w.Append(OpSet, []byte("c"), []byte("3"))
	lastSeq := w.NextSeq()
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	live := map[string]string{"b": "2", "c": "3"}

	c := NewCompactor(dir)
	newSeq, err := c.Compact(lastSeq,
		func() ([][]byte, error) {
			var keys [][]byte
			for k := range live {
				keys = append(keys, []byte(k))
			}
			return keys, nil
		},
		func(key []byte) ([]byte, bool, error) {
			v, ok := live[string(key)]
			return []byte(v), ok, nil
		},
	)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	// compaction writes 2 live records (b, c) starting at lastSeq, so the
	// returned seq — the next one a resuming writer must assign — is
	// lastSeq+2, not lastSeq itself.
	if want := lastSeq + 2; newSeq != want {
		t.Fatalf("compact returned seq %d, want %d", newSeq, want)
	}

	names, err := segments(dir)
	if err != nil {
		t.Fatalf("segments: %v", err)
	}
	if len(names) != 1 {
		t.Fatalf("expected compaction to leave exactly one segment, got %v", names)
	}

	var seen []string
	_, err = Replay(dir, 0, func(op Op, key, value []byte) error {
		seen = append(seen, string(key))
		return nil
	})
	if err != nil {
		t.Fatalf("replay after compact: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("replay after compact saw %v, want 2 records", seen)
	}
}

func TestCompactLeavesNoTempFileOnSuccess(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(DefaultConfig(dir))
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	w.Append(OpSet, []byte("a"), []byte("1"))
	lastSeq := w.NextSeq()
	w.Close()

	c := NewCompactor(dir)
	if _, err := c.Compact(lastSeq,
		func() ([][]byte, error) { return [][]byte{[]byte("a")}, nil },
		func(key []byte) ([]byte, bool, error) { return []byte("1"), true, nil },
	); err != nil {
		t.Fatalf("compact: %v", err)
	}

	if _, err := os.Stat(fileNameInDir(dir, lastSeq) + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("expected no leftover tmp file, stat err = %v", err)
	}
}

func TestShouldCompactTriggersOnThresholdOrLiveRatio(t *testing.T) {
	if !ShouldCompact(20000, 1.0, DefaultCompactThreshold, DefaultCompactRatio) {
		t.Fatal("expected record count above threshold to trigger compaction")
	}
	if !ShouldCompact(100, 0.1, DefaultCompactThreshold, DefaultCompactRatio) {
		t.Fatal("expected low live ratio to trigger compaction")
	}
	if ShouldCompact(100, 0.9, DefaultCompactThreshold, DefaultCompactRatio) {
		t.Fatal("expected compaction not to trigger below both thresholds")
	}
}

func fileNameInDir(dir string, seq uint64) string {
	return dir + "/" + fileName(seq)
}
