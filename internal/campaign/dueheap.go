package campaign

import (
	"container/heap"
	"time"
)

// dueItem is a hint that something may be due at At. Items are checked
// against the collections when popped, so stale hints are harmless.
type dueItem struct {
	At      time.Time
	Contact ContactID
	Kind    JobKind
	Key     string
}

type dueHeap []dueItem

func (h dueHeap) Len() int           { return len(h) }
func (h dueHeap) Less(i, j int) bool { return h[i].At.Before(h[j].At) }
func (h dueHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *dueHeap) Push(x any)        { *h = append(*h, x.(dueItem)) }
func (h *dueHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

func (h *dueHeap) add(it dueItem) {
	if it.At.IsZero() {
		return
	}
	heap.Push(h, it)
}

// popDue removes and returns every item due at or before now.
func (h *dueHeap) popDue(now time.Time) []dueItem {
	var out []dueItem
	for h.Len() > 0 && !(*h)[0].At.After(now) {
		out = append(out, heap.Pop(h).(dueItem))
	}
	return out
}

func heapInit(h *dueHeap) { heap.Init(h) }
