package orchestrator

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// queueItem is a queued job reference
type queueItem struct {
	JobID     string
	Priority  int
	CreatedAt time.Time
	seq       uint64
}

// JobQueue is a thread-safe priority queue of job ids: higher priority
// first, then earlier creation, then insertion order
type JobQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   jobHeap
	maxSize int
	seq     uint64
	closed  bool
}

// NewJobQueue creates a queue holding at most maxSize jobs
func NewJobQueue(maxSize int) *JobQueue {
	q := &JobQueue{
		items:   make(jobHeap, 0),
		maxSize: maxSize,
	}
	q.cond = sync.NewCond(&q.mu)
	heap.Init(&q.items)
	return q
}

// Push adds a job. Returns false if the queue is full or closed.
func (q *JobQueue) Push(jobID string, priority int, createdAt time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || (q.maxSize > 0 && q.items.Len() >= q.maxSize) {
		return false
	}

	q.seq++
	heap.Push(&q.items, &queueItem{JobID: jobID, Priority: priority, CreatedAt: createdAt, seq: q.seq})
	q.cond.Signal()
	return true
}

// Pop removes the next job id, blocking until one is available, the queue
// is closed (ErrClosed) or ctx is done
func (q *JobQueue) Pop(ctx context.Context) (string, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.cond.Broadcast()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.Len() == 0 && !q.closed {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		q.cond.Wait()
	}
	if q.items.Len() == 0 {
		return "", ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	item := heap.Pop(&q.items).(*queueItem)
	return item.JobID, nil
}

// Len returns the number of queued jobs
func (q *JobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Full reports whether Push would be rejected for capacity
func (q *JobQueue) Full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.maxSize > 0 && q.items.Len() >= q.maxSize
}

// Close wakes every waiting Pop; remaining items can still be popped
func (q *JobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// jobHeap implements heap.Interface
type jobHeap []*queueItem

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	if !h[i].CreatedAt.Equal(h[j].CreatedAt) {
		return h[i].CreatedAt.Before(h[j].CreatedAt)
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *jobHeap) Push(x interface{}) {
	*h = append(*h, x.(*queueItem))
}

func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]
	return x
}
