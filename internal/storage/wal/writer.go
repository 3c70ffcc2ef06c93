package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/concordkv/concordkv/internal/concorderr"
)

// DefaultMaxFileSize is the rollover threshold of spec §4.5 ("size exceeds
// 64 MiB, configurable").
const DefaultMaxFileSize int64 = 64 << 20

// Config configures a Writer/Reader pair sharing one log directory.
type Config struct {
	Dir         string
	SyncWrite   bool
	MaxFileSize int64
}

func DefaultConfig(dir string) Config {
	return Config{Dir: dir, MaxFileSize: DefaultMaxFileSize}
}

// fileName returns the spec §6 file name for a segment whose first record
// has the given sequence number: "wal-<u64-decimal>.log".
func fileName(startSeq uint64) string {
	return fmt.Sprintf("wal-%d.log", startSeq)
}

// parseSeq extracts the sequence number embedded in a WAL file name,
// returning ok=false for names that do not match the pattern.
func parseSeq(name string) (uint64, bool) {
	if !strings.HasPrefix(name, "wal-") || !strings.HasSuffix(name, ".log") {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, "wal-"), ".log")
	seq, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// Writer appends records to the current segment file, rolling over to a
// new file named by the next sequence once MaxFileSize is exceeded.
type Writer struct {
	mu          sync.Mutex
	dir         string
	maxFileSize int64
	syncWrite   bool

	file       *os.File
	fileStart  uint64 // first seq in the current file
	fileSize   int64
	nextSeq    uint64
}

// NewWriter opens (or creates) the log directory and positions the writer
// after the highest sequence number found on disk, so a fresh Writer can be
// used directly after recovery without double-numbering records.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.Dir == "" {
		return nil, concorderr.New(concorderr.PARAM, "wal: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, concorderr.Wrap(concorderr.IO, "wal: create dir", err)
	}

	maxSize := cfg.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	w := &Writer{dir: cfg.Dir, maxFileSize: maxSize, syncWrite: cfg.SyncWrite}

	lastSeq, lastFile, err := highestSegment(cfg.Dir)
	if err != nil {
		return nil, err
	}

	if lastFile == "" {
		if err := w.openNewSegment(0); err != nil {
			return nil, err
		}
		return w, nil
	}

	w.fileStart = lastSeq
	f, err := os.OpenFile(filepath.Join(cfg.Dir, lastFile), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, concorderr.Wrap(concorderr.IO, "wal: reopen segment", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, concorderr.Wrap(concorderr.IO, "wal: stat segment", err)
	}
	w.file = f
	w.fileSize = info.Size()
	w.nextSeq, err = scanMaxSeq(filepath.Join(cfg.Dir, lastFile))
	if err != nil {
		f.Close()
		return nil, err
	}
	if w.nextSeq < lastSeq {
		// an empty last segment holds no records; its name is its start seq
		w.nextSeq = lastSeq
	}
	return w, nil
}

// highestSegment returns the start-sequence and file name of the segment
// with the largest embedded sequence number, or (0, "") if none exist.
func highestSegment(dir string) (uint64, string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, "", concorderr.Wrap(concorderr.IO, "wal: read dir", err)
	}
	var best string
	var bestSeq uint64
	found := false
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		seq, ok := parseSeq(e.Name())
		if !ok {
			continue
		}
		if !found || seq > bestSeq {
			bestSeq, best, found = seq, e.Name(), true
		}
	}
	if !found {
		return 0, "", nil
	}
	return bestSeq, best, nil
}

// scanMaxSeq replays path to find the highest seq it contains, so a
// reopened Writer resumes numbering at max(seen)+1 even if it was not the
// process that last wrote the file.
func scanMaxSeq(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, concorderr.Wrap(concorderr.IO, "wal: open segment for scan", err)
	}
	defer f.Close()

	var max uint64
	seen := false
	for {
		rec, err := Decode(f)
		if err != nil {
			break
		}
		if !seen || rec.Seq > max {
			max, seen = rec.Seq, true
		}
	}
	if !seen {
		return 0, nil
	}
	return max + 1, nil
}

func (w *Writer) openNewSegment(startSeq uint64) error {
	path := filepath.Join(w.dir, fileName(startSeq))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return concorderr.Wrap(concorderr.IO, "wal: create segment", err)
	}
	w.file = f
	w.fileStart = startSeq
	w.fileSize = 0
	return nil
}

// Append writes one record under the WAL mutex, advancing next_seq only on
// success. Per spec §4.5, a failed write must not visibly advance next_seq;
// here the slot is simply not consumed because nextSeq is incremented only
// after a successful write.
func (w *Writer) Append(op Op, key, value []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	seq := w.nextSeq
	rec := Record{Seq: seq, Op: op, Key: key, Value: value}
	buf := Encode(nil, rec)

	if w.fileSize > 0 && w.fileSize+int64(len(buf)) > w.maxFileSize {
		if err := w.file.Close(); err != nil {
			return 0, concorderr.Wrap(concorderr.IO, "wal: close rolled segment", err)
		}
		if err := w.openNewSegment(seq); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(buf)
	if err != nil {
		return 0, concorderr.Wrap(concorderr.IO, "wal: write record", err)
	}
	w.fileSize += int64(n)

	if w.syncWrite {
		if err := w.file.Sync(); err != nil {
			return 0, concorderr.Wrap(concorderr.IO, "wal: fsync", err)
		}
	}

	w.nextSeq++
	return seq, nil
}

// Compact rewrites the live key set as a new segment and reopens the
// writer onto it, so that compaction never races a concurrent Append and
// the writer never keeps appending to a segment cleanup_old_logs has just
// unlinked (spec §4.5). It holds the writer mutex for its entire duration:
// seq allocation for the compacted records, the rename into place, the
// unlink of superseded segments, and the writer's own reopen all happen as
// one atomic step from the caller's perspective.
func (w *Writer) Compact(enumerate KeyEnumerator, get ValueGetter) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	compactSeq := w.nextSeq
	nextSeq, err := NewCompactor(w.dir).Compact(compactSeq, enumerate, get)
	if err != nil {
		return err
	}

	if err := w.file.Close(); err != nil {
		return concorderr.Wrap(concorderr.IO, "wal: close pre-compaction segment", err)
	}

	path := filepath.Join(w.dir, fileName(compactSeq))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return concorderr.Wrap(concorderr.IO, "wal: reopen compacted segment", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return concorderr.Wrap(concorderr.IO, "wal: stat compacted segment", err)
	}

	w.file = f
	w.fileStart = compactSeq
	w.fileSize = info.Size()
	w.nextSeq = nextSeq
	return nil
}

// Sync fsyncs the current segment, used by the incremental sync background
// task (spec §4.5).
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(); err != nil {
		return concorderr.Wrap(concorderr.IO, "wal: sync", err)
	}
	return nil
}

// NextSeq returns the sequence number that will be assigned to the next
// appended record.
func (w *Writer) NextSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextSeq
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Close(); err != nil {
		return concorderr.Wrap(concorderr.IO, "wal: close", err)
	}
	return nil
}

// segments lists every WAL file in dir sorted by ascending embedded
// sequence, for the reader and compactor.
func segments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, concorderr.Wrap(concorderr.IO, "wal: read dir", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := parseSeq(e.Name()); ok {
			names = append(names, e.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool {
		si, _ := parseSeq(names[i])
		sj, _ := parseSeq(names[j])
		return si < sj
	})
	return names, nil
}
