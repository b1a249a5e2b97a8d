package lsm

import (
	"container/heap"
	"math"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/dominciyue/new-smart-lsmtree/internal/sstable"
)

func capacity(level int) int {
	if level == 0 {
		return 4
	}
	return 1 << (level + 1)
}

// mergeRun is a fully loaded source run: the head plus its values, read in
// one pass so the merge never reopens the file.
type mergeRun struct {
	head   *sstable.Head
	values []string
}

func (t *Tree) loadRun(head *sstable.Head) (*mergeRun, error) {
	run := &mergeRun{head: head, values: make([]string, head.Count())}
	if head.Count() == 0 {
		return run, nil
	}

	var blobSize uint32
	for i := 0; i < head.Count(); i++ {
		start, length := head.ValueBounds(i)
		blobSize = start + length
	}

	blob, err := sstable.FetchValue(t.fsys, head.Path, head.DataStart(), blobSize)
	if err != nil {
		return nil, err
	}
	for i := 0; i < head.Count(); i++ {
		start, length := head.ValueBounds(i)
		run.values[i] = blob[start : start+length]
	}
	return run, nil
}

// compact promotes overflowing levels downward until every level fits its
// capacity. Level 0 merges all of its runs; deeper levels merge their
// oldest excess runs. Runs in the next level whose ranges intersect the
// selection are merged too, keeping L>=1 ranges pairwise non-overlapping.
func (t *Tree) compact() error {
	for level := 0; level <= t.total && level+1 < MaxLevels; level++ {
		if len(t.levels[level]) <= capacity(level) {
			continue
		}
		if err := t.compactLevel(level); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) compactLevel(level int) error {
	var selected []*sstable.Head
	if level == 0 {
		selected = append(selected, t.levels[0]...)
	} else {
		sorted := append([]*sstable.Head(nil), t.levels[level]...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })
		excess := len(sorted) - capacity(level)
		selected = sorted[:excess]
	}
	if len(selected) == 0 {
		return nil
	}

	minKey := uint64(math.MaxUint64)
	maxKey := uint64(0)
	for _, head := range selected {
		minKey = min(minKey, head.MinKey)
		maxKey = max(maxKey, head.MaxKey)
	}

	target := level + 1
	if target <= t.total {
		for _, head := range t.levels[target] {
			if head.Overlaps(minKey, maxKey) {
				selected = append(selected, head)
			}
		}
	}

	// Tombstones can be dropped only when no level below the target could
	// still hold an older live value for the key.
	dropTombstones := target >= t.total

	runs := make([]*mergeRun, 0, len(selected))
	h := &mergeHeap{}
	for _, head := range selected {
		run, err := t.loadRun(head)
		if err != nil {
			return err
		}
		id := len(runs)
		runs = append(runs, run)
		if head.Count() > 0 {
			heap.Push(h, mergeItem{key: head.KeyAt(0), time: head.Timestamp, source: id, pos: 0})
		}
	}
	if h.Len() == 0 {
		return nil
	}

	if err := t.fsys.MkdirAll(t.levelDir(target), 0o755); err != nil {
		return err
	}
	if target > t.total {
		t.total = target
	}

	var outputs []*sstable.Head
	t.time++
	out := sstable.New(t.time)

	seal := func() error {
		if out.Count() == 0 {
			return nil
		}
		path := filepath.Join(t.levelDir(target), strconv.FormatUint(out.Timestamp(), 10)+".sst")
		head, err := out.WriteTo(t.fsys, path)
		if err != nil {
			return err
		}
		outputs = append(outputs, head)
		t.time++
		out = sstable.New(t.time)
		return nil
	}

	var (
		lastKey uint64
		first   = true
	)
	for h.Len() > 0 {
		item := heap.Pop(h).(mergeItem)
		run := runs[item.source]

		if item.pos+1 < run.head.Count() {
			heap.Push(h, mergeItem{key: run.head.KeyAt(item.pos + 1), time: item.time, source: item.source, pos: item.pos + 1})
		}

		if !first && item.key == lastKey {
			continue // an older copy of a key already emitted
		}
		first = false
		lastKey = item.key

		value := run.values[item.pos]
		if value == Tombstone && dropTombstones {
			continue
		}

		// Seal strictly at key boundaries so outputs stay non-overlapping.
		if out.Count() > 0 && out.Bytes()+12+uint64(len(value)) > MaxSSTableBytes {
			if err := seal(); err != nil {
				return err
			}
		}
		out.Insert(item.key, value)
	}
	if err := seal(); err != nil {
		return err
	}

	for _, head := range selected {
		t.removeRun(head)
	}
	t.levels[target] = append(t.levels[target], outputs...)

	t.logger.Debug("compaction finished",
		"level", level, "sources", len(selected), "outputs", len(outputs))
	return nil
}
