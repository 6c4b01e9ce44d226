// Package heap implements a priority queue used for rarest-first piece
// selection.
package heap

import (
	"container/heap"
	"errors"
)

// Item is a value with an associated priority. Pop returns the item with the
// lowest Priority first. Callers that want highest-priority-first push with
// a negated priority.
type Item struct {
	Value    interface{}
	Priority int
}

type entry struct {
	item  *Item
	index int
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool { return h[i].item.Priority < h[j].item.Priority }

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// PriorityQueue is a min-priority queue of Items.
type PriorityQueue struct {
	h entryHeap
}

// NewPriorityQueue creates a PriorityQueue seeded with items.
func NewPriorityQueue(items ...*Item) *PriorityQueue {
	h := make(entryHeap, len(items))
	for i, item := range items {
		h[i] = &entry{item: item, index: i}
	}
	heap.Init(&h)
	return &PriorityQueue{h: h}
}

// Push adds item to the queue.
func (q *PriorityQueue) Push(item *Item) {
	heap.Push(&q.h, &entry{item: item})
}

// Pop removes and returns the lowest-priority item, or an error if empty.
func (q *PriorityQueue) Pop() (*Item, error) {
	if q.h.Len() == 0 {
		return nil, errors.New("priority queue is empty")
	}
	return heap.Pop(&q.h).(*entry).item, nil
}

// Len returns the number of items in the queue.
func (q *PriorityQueue) Len() int {
	return q.h.Len()
}
