package scheduler

import (
	"container/heap"

	"github.com/jbadeau/forge/internal/taskgraph"
)

// queueItem is one entry in the global priority queue.
type queueItem struct {
	id       taskgraph.ID
	priority int
	seq      int // tie-break by insertion order for a stable (phaseIndex, taskId)-like ordering
}

type itemHeap []queueItem

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	if h[i].seq != h[j].seq {
		return h[i].seq < h[j].seq
	}
	return h[i].id < h[j].id
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any)   { *h = append(*h, x.(queueItem)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// priorityQueue is the global ready-task queue from spec.md §4.7: holds
// initially-ready tasks and overflow from workers whose local deque isn't
// a good affinity fit.
type priorityQueue struct {
	h   itemHeap
	seq int
}

func newPriorityQueue() *priorityQueue {
	pq := &priorityQueue{}
	heap.Init(&pq.h)
	return pq
}

func (pq *priorityQueue) push(id taskgraph.ID, priority int) {
	pq.seq++
	heap.Push(&pq.h, queueItem{id: id, priority: priority, seq: pq.seq})
}

func (pq *priorityQueue) pop() (taskgraph.ID, bool) {
	if pq.h.Len() == 0 {
		return "", false
	}
	item := heap.Pop(&pq.h).(queueItem)
	return item.id, true
}
