package lsm

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dominciyue/new-smart-lsmtree/internal/fs"
	"github.com/dominciyue/new-smart-lsmtree/internal/skiplist"
	"github.com/dominciyue/new-smart-lsmtree/internal/sstable"
)

const (
	// Tombstone is the sentinel value marking a deleted key. It must never
	// appear as user data.
	Tombstone = "~DELETED~"

	// MaxMemtableBytes is the memtable byte budget.
	MaxMemtableBytes = 2 * 1024 * 1024

	// MaxSSTableBytes caps the size of compaction output runs.
	MaxSSTableBytes = 2 * 1024 * 1024

	// MaxLevels bounds the level directory.
	MaxLevels = 15

	// flushOverhead accounts for the header and Bloom filter when deciding
	// whether a prospective insert still fits.
	flushOverhead = sstable.DataStartOverhead
)

// Entry is a key-value pair produced by scans and flushes.
type Entry = skiplist.Entry

// FlushHook runs when the memtable is sealed, before it is reset, with the
// entries being flushed. The store uses it to persist embeddings alongside
// the new run.
type FlushHook func(entries []Entry) error

// Tree is the LSM manager: a skiplist memtable in front of leveled
// immutable runs on disk. Not safe for concurrent use.
type Tree struct {
	fsys   fs.FileSystem
	dir    string
	logger *slog.Logger

	mem       *skiplist.SkipList
	levels    [MaxLevels][]*sstable.Head
	total     int // index of the deepest existing level, -1 when none
	time      uint64
	flushHook FlushHook
}

// Open loads the level directory under dir. Missing directories mean an
// empty store; unreadable runs are skipped with a log.
func Open(fsys fs.FileSystem, dir string, logger *slog.Logger) (*Tree, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	t := &Tree{
		fsys:   fsys,
		dir:    dir,
		logger: logger,
		mem:    skiplist.New(0.5),
		total:  -1,
	}

	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	for level := 0; level < MaxLevels; level++ {
		path := t.levelDir(level)
		entries, err := fsys.ReadDir(path)
		if err != nil {
			if os.IsNotExist(err) {
				break
			}
			return nil, err
		}
		t.total = level

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sst") {
				continue
			}
			head, err := sstable.LoadHead(fsys, filepath.Join(path, entry.Name()))
			if err != nil {
				logger.Warn("lsm open: unreadable sstable, skipping", "path", entry.Name(), "error", err)
				continue
			}
			t.levels[level] = append(t.levels[level], head)
			if head.Timestamp > t.time {
				t.time = head.Timestamp
			}
		}
	}
	return t, nil
}

// SetFlushHook installs the flush callback.
func (t *Tree) SetFlushHook(h FlushHook) { t.flushHook = h }

func (t *Tree) levelDir(level int) string {
	return filepath.Join(t.dir, fmt.Sprintf("level-%d", level))
}

// MemBytes returns the current memtable byte size.
func (t *Tree) MemBytes() uint64 { return t.mem.Bytes() }

// MemCount returns the number of memtable entries.
func (t *Tree) MemCount() int { return t.mem.Count() }

// TotalLevels returns the index of the deepest existing level, -1 when the
// store holds no runs.
func (t *Tree) TotalLevels() int { return t.total }

// LevelRuns returns the heads of a level; used by invariant checks.
func (t *Tree) LevelRuns(level int) []*sstable.Head {
	if level < 0 || level >= MaxLevels {
		return nil
	}
	return t.levels[level]
}

// WouldOverflow reports whether inserting value under key would push the
// memtable past its budget once the table overheads are accounted for.
func (t *Tree) WouldOverflow(key uint64, value string) bool {
	prospective := t.mem.Bytes()
	if existing, ok := t.mem.Search(key); ok {
		prospective = prospective - uint64(len(existing)) + uint64(len(value))
	} else {
		prospective += skiplist.EntryBytes(len(value))
	}
	return prospective+flushOverhead > MaxMemtableBytes && t.mem.Count() > 0
}

// Put inserts or updates a key, flushing first when the memtable would
// exceed its budget.
func (t *Tree) Put(key uint64, value string) error {
	if t.WouldOverflow(key, value) {
		if err := t.Flush(); err != nil {
			return err
		}
	}
	t.mem.Insert(key, value)
	return nil
}

// Flush seals the memtable into a new level-0 run, invokes the flush hook
// with the sealed entries, resets the memtable, and compacts.
func (t *Tree) Flush() error {
	if t.mem.Count() == 0 {
		return nil
	}

	entries := t.mem.All()

	t.time++
	tbl := sstable.New(t.time)
	for _, e := range entries {
		tbl.Insert(e.Key, e.Value)
	}

	if err := t.fsys.MkdirAll(t.levelDir(0), 0o755); err != nil {
		return err
	}
	if t.total < 0 {
		t.total = 0
	}

	path := filepath.Join(t.levelDir(0), strconv.FormatUint(t.time, 10)+".sst")
	head, err := tbl.WriteTo(t.fsys, path)
	if err != nil {
		return err
	}
	t.levels[0] = append(t.levels[0], head)
	t.logger.Debug("memtable flushed", "path", path, "entries", len(entries))

	if t.flushHook != nil {
		if err := t.flushHook(entries); err != nil {
			t.logger.Error("flush hook failed", "error", err)
		}
	}

	t.mem.Reset()
	return t.compact()
}

// Get returns the freshest value for key. The boolean is false when the key
// is absent or deleted.
func (t *Tree) Get(key uint64) (string, bool) {
	if v, ok := t.mem.Search(key); ok {
		if v == Tombstone {
			return "", false
		}
		return v, true
	}

	v, found := t.lookupDisk(key)
	if !found || v == Tombstone {
		return "", false
	}
	return v, true
}

// lookupDisk searches the levels top-down. Within a level the run with the
// largest timestamp wins; deeper levels only hold older data, so the first
// level with a hit is authoritative.
func (t *Tree) lookupDisk(key uint64) (string, bool) {
	for level := 0; level <= t.total; level++ {
		var (
			bestTime uint64
			bestHead *sstable.Head
			bestOff  uint32
			bestLen  uint32
		)
		for _, head := range t.levels[level] {
			start, length, ok := head.SearchOffset(key)
			if !ok {
				continue
			}
			if head.Timestamp > bestTime {
				bestTime = head.Timestamp
				bestHead = head
				bestOff = start
				bestLen = length
			}
		}
		if bestHead != nil {
			v, err := sstable.FetchValue(t.fsys, bestHead.Path, bestHead.DataStart()+int64(bestOff), bestLen)
			if err != nil {
				t.logger.Error("lsm get: value read failed", "path", bestHead.Path, "error", err)
				return "", false
			}
			return v, true
		}
	}
	return "", false
}

// Del inserts a tombstone if the key currently exists anywhere. The
// existence check consults the memtable and then the levels directly,
// without re-firing deletion logic.
func (t *Tree) Del(key uint64) (bool, error) {
	if v, ok := t.mem.Search(key); ok {
		if v == Tombstone {
			return false, nil
		}
		return true, t.Put(key, Tombstone)
	}

	if v, found := t.lookupDisk(key); found && v != Tombstone {
		return true, t.Put(key, Tombstone)
	}
	return false, nil
}

// Reset removes every run and level directory and clears the memtable. The
// timestamp keeps advancing so stale files can never shadow new ones.
func (t *Tree) Reset() error {
	t.mem.Reset()
	for level := 0; level <= t.total && level < MaxLevels; level++ {
		if err := t.fsys.RemoveAll(t.levelDir(level)); err != nil {
			t.logger.Error("lsm reset: level removal failed", "level", level, "error", err)
		}
		t.levels[level] = nil
	}
	t.total = -1
	return nil
}

// Close flushes any remaining memtable contents so no accepted write is
// lost on clean shutdown.
func (t *Tree) Close() error {
	return t.Flush()
}

// ForEachKey visits every key currently referenced by the memtable or any
// run, newest location first. Keys may repeat across runs; fn returns false
// to stop early.
func (t *Tree) ForEachKey(fn func(key uint64) bool) {
	for _, e := range t.mem.All() {
		if !fn(e.Key) {
			return
		}
	}
	for level := 0; level <= t.total; level++ {
		for _, head := range t.levels[level] {
			for i := 0; i < head.Count(); i++ {
				if !fn(head.KeyAt(i)) {
					return
				}
			}
		}
	}
}

func (t *Tree) removeRun(victim *sstable.Head) {
	for level := 0; level <= t.total; level++ {
		runs := t.levels[level]
		for i, head := range runs {
			if head == victim {
				t.levels[level] = append(runs[:i:i], runs[i+1:]...)
				if err := t.fsys.Remove(victim.Path); err != nil {
					t.logger.Error("lsm: run removal failed", "path", victim.Path, "error", err)
				}
				return
			}
		}
	}
}
