package engine

import (
	"container/heap"
	"sync"
)

// taskHeap orders tasks by priority weight, then by sequence number
// (FIFO within a tier). It implements container/heap.Interface — the
// standard library's min-heap is the natural fit here since none of
// the reference stack ships a dedicated priority-queue type.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	wi, wj := h[i].Priority.weight(), h[j].Priority.weight()
	if wi != wj {
		return wi < wj
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*Task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Queue is a thread-safe priority queue of tasks with a blocking Pop.
type Queue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	heap  taskHeap
	seq   int64
	closed bool
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a task, assigning it the next FIFO sequence number.
func (q *Queue) Push(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	t.seq = q.seq
	heap.Push(&q.heap, t)
	q.cond.Signal()
}

// Pop blocks until a task is available or the queue is closed, in which
// case it returns (nil, false).
func (q *Queue) Pop() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.heap) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.heap) == 0 {
		return nil, false
	}
	return heap.Pop(&q.heap).(*Task), true
}

// Len reports the number of queued (not yet dispatched) tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Close wakes every blocked Pop, causing it to return false.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
