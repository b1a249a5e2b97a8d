// Package queue provides the priority queues used by graph search: a
// min-ordered queue for the expansion frontier and a max-ordered queue for
// the bounded result set.
package queue

import "container/heap"

// Compile time check to ensure PriorityQueue satisfies the heap interface.
var _ heap.Interface = (*PriorityQueue)(nil)

// PriorityQueueItem represents an item in the priority queue.
type PriorityQueueItem struct {
	Label    uint64  // Label identifies the graph node.
	Distance float32 // Distance is the priority of the item in the queue.
}

// PriorityQueue implements heap.Interface and holds PriorityQueueItems.
// With Max false the queue pops the smallest distance first (candidate
// frontier); with Max true it pops the largest first (bounded result set).
type PriorityQueue struct {
	Max   bool
	Items []PriorityQueueItem
}

// NewMin returns a min-ordered priority queue.
func NewMin() *PriorityQueue { return &PriorityQueue{} }

// NewMax returns a max-ordered priority queue.
func NewMax() *PriorityQueue { return &PriorityQueue{Max: true} }

// Len returns the number of elements in the priority queue.
func (pq *PriorityQueue) Len() int { return len(pq.Items) }

// Less reports whether the element with index i should sort before the element with index j.
func (pq *PriorityQueue) Less(i, j int) bool {
	if pq.Max {
		return pq.Items[i].Distance > pq.Items[j].Distance
	}
	return pq.Items[i].Distance < pq.Items[j].Distance
}

// Swap swaps the elements with indexes i and j.
func (pq *PriorityQueue) Swap(i, j int) {
	pq.Items[i], pq.Items[j] = pq.Items[j], pq.Items[i]
}

// Push adds x to the priority queue.
func (pq *PriorityQueue) Push(x any) {
	item, _ := x.(PriorityQueueItem)
	pq.Items = append(pq.Items, item)
}

// Pop removes and returns the last element (used by container/heap).
func (pq *PriorityQueue) Pop() any {
	old := pq.Items
	n := len(old)
	item := old[n-1]
	pq.Items = old[:n-1]
	return item
}

// PushItem pushes an item onto the queue maintaining heap order.
func (pq *PriorityQueue) PushItem(item PriorityQueueItem) {
	heap.Push(pq, item)
}

// PopItem removes and returns the top element maintaining heap order.
// The second return value is false when the queue is empty.
func (pq *PriorityQueue) PopItem() (PriorityQueueItem, bool) {
	if len(pq.Items) == 0 {
		return PriorityQueueItem{}, false
	}
	return heap.Pop(pq).(PriorityQueueItem), true
}

// TopItem returns the top element without removing it.
func (pq *PriorityQueue) TopItem() (PriorityQueueItem, bool) {
	if len(pq.Items) == 0 {
		return PriorityQueueItem{}, false
	}
	return pq.Items[0], true
}

// Reset empties the queue, retaining the backing storage.
func (pq *PriorityQueue) Reset() {
	pq.Items = pq.Items[:0]
}
