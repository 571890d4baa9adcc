// Package queue provides the priority admission queue for pending projects.
package queue

import (
	"container/heap"
	"sync"

	"github.com/raphaelgruber/reelqueue/internal/models"
)

type entry struct {
	project *models.Project
	rank    int
	seq     uint64
}

// entryHeap is a min-heap on (rank, seq).
type entryHeap []entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].rank != h[j].rank {
		return h[i].rank < h[j].rank
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry{}
	*h = old[:n-1]
	return e
}

// Priority holds pending projects ordered by priority, then arrival.
// It is safe for concurrent use.
type Priority struct {
	mu    sync.Mutex
	items entryHeap
	seq   uint64
}

// New creates an empty queue.
func New() *Priority {
	return &Priority{items: make(entryHeap, 0, 64)}
}

// rank maps a priority onto the min-heap key. Raw enum values order LOW
// first, so the key is inverted to pop URGENT before LOW.
func rank(p models.Priority) int {
	return int(models.MaxPriority) - int(p)
}

// Push enqueues a project behind every earlier project of the same priority.
func (q *Priority) Push(p *models.Project) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	heap.Push(&q.items, entry{project: p, rank: rank(p.Priority), seq: q.seq})
}

// TryPop removes the next project to admit. It never blocks.
func (q *Priority) TryPop() (*models.Project, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	e := heap.Pop(&q.items).(entry)
	return e.project, true
}

// Len returns the number of queued projects.
func (q *Priority) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain removes and returns every queued project in admission order.
func (q *Priority) Drain() []*models.Project {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*models.Project, 0, len(q.items))
	for len(q.items) > 0 {
		out = append(out, heap.Pop(&q.items).(entry).project)
	}
	return out
}
