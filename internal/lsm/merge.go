package lsm

import (
	"container/heap"
	"math"
	"sort"

	"github.com/dominciyue/new-smart-lsmtree/internal/sstable"
)

// mergeItem is one cursor position in the k-way merge. Items order by
// (key ascending, timestamp descending) so the freshest copy of a key
// surfaces first.
type mergeItem struct {
	key    uint64
	time   uint64
	source int
	pos    int
}

type mergeHeap []mergeItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	if h[i].key != h[j].key {
		return h[i].key < h[j].key
	}
	return h[i].time > h[j].time
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x any) { *h = append(*h, x.(mergeItem)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// memSource marks the memtable cursor; it always wins ties.
const memSource = -1

// Scan returns all live entries with lo <= key <= hi in ascending key
// order: a bounded k-way merge over the memtable range and each overlapping
// run's index range, emitting only the freshest copy of each key and
// skipping tombstones.
func (t *Tree) Scan(lo, hi uint64) ([]Entry, error) {
	mem := t.mem.Scan(lo, hi)

	var heads []*sstable.Head
	var bounds [][2]int
	h := &mergeHeap{}

	if len(mem) > 0 {
		heap.Push(h, mergeItem{key: mem[0].Key, time: math.MaxUint64, source: memSource, pos: 0})
	}

	for level := 0; level <= t.total; level++ {
		for _, head := range t.levels[level] {
			if !head.Overlaps(lo, hi) {
				continue
			}
			start := head.LowerBound(lo)
			end := sort.Search(head.Count(), func(i int) bool { return head.KeyAt(i) > hi })
			if start >= end {
				continue
			}
			id := len(heads)
			heads = append(heads, head)
			bounds = append(bounds, [2]int{start, end})
			heap.Push(h, mergeItem{key: head.KeyAt(start), time: head.Timestamp, source: id, pos: start})
		}
	}

	var (
		out     []Entry
		lastKey = uint64(math.MaxUint64)
		first   = true
	)
	for h.Len() > 0 {
		item := heap.Pop(h).(mergeItem)

		if first || item.key != lastKey {
			first = false
			lastKey = item.key

			var value string
			if item.source == memSource {
				value = mem[item.pos].Value
			} else {
				v, err := heads[item.source].FetchAt(t.fsys, item.pos)
				if err != nil {
					return nil, err
				}
				value = v
			}
			if value != Tombstone {
				out = append(out, Entry{Key: item.key, Value: value})
			}
		}

		if item.source == memSource {
			if item.pos+1 < len(mem) {
				heap.Push(h, mergeItem{key: mem[item.pos+1].Key, time: math.MaxUint64, source: memSource, pos: item.pos + 1})
			}
		} else if item.pos+1 < bounds[item.source][1] {
			head := heads[item.source]
			heap.Push(h, mergeItem{key: head.KeyAt(item.pos + 1), time: head.Timestamp, source: item.source, pos: item.pos + 1})
		}
	}
	return out, nil
}
