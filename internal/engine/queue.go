package engine

import (
	"log/slog"
	"sync"

	"github.com/deckvoice/deckvoice/internal/domain"
)

const DefaultQueueCapacity = 64

// TaskQueue is a bounded FIFO between the host's contexts and the worker loop.
// Enqueue never blocks; Dequeue blocks only the worker. Arrival order is
// preserved exactly — overflow rejects the newcomer rather than reordering.
//
// Position refreshes coalesce: while one refresh is queued and not yet picked
// up, further refresh enqueues are absorbed. Together with the one refresh the
// worker may already be executing, a burst of change notifications costs at
// most two position reads.
type TaskQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	tasks    []domain.Task
	capacity int
	closed   bool

	// refreshQueued marks a TaskRefreshPosition sitting in tasks. Cleared
	// when the worker dequeues it, not when it finishes.
	refreshQueued bool

	coalesced uint64
	rejected  uint64

	log *slog.Logger
}

func NewTaskQueue(capacity int, log *slog.Logger) *TaskQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if log == nil {
		log = slog.Default()
	}
	q := &TaskQueue{capacity: capacity, log: log}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends a task and reports whether it was accepted. Coalesced
// refreshes count as accepted. Safe for concurrent producers.
func (q *TaskQueue) Enqueue(t domain.Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	if t.Kind == domain.TaskRefreshPosition && q.refreshQueued {
		q.coalesced++
		return true
	}

	if len(q.tasks) >= q.capacity {
		q.rejected++
		q.log.Warn("task rejected, queue full", "kind", t.Kind.String(), "capacity", q.capacity)
		return false
	}

	q.tasks = append(q.tasks, t)
	if t.Kind == domain.TaskRefreshPosition {
		q.refreshQueued = true
	}
	q.cond.Signal()
	return true
}

// Dequeue blocks until a task is available and returns it. Returns ok=false
// once the queue is closed and drained.
func (q *TaskQueue) Dequeue() (domain.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.tasks) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.tasks) == 0 {
		return domain.Task{}, false
	}

	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	if t.Kind == domain.TaskRefreshPosition {
		q.refreshQueued = false
	}
	return t, true
}

// CloseWith closes the queue to producers and appends final as its last task,
// bypassing capacity. Tasks enqueued before the close are still delivered, in
// order, ahead of final. Idempotent.
func (q *TaskQueue) CloseWith(final domain.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.tasks = append(q.tasks, final)
	q.cond.Broadcast()
}

// Len returns the number of queued tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Coalesced returns how many refresh enqueues were absorbed.
func (q *TaskQueue) Coalesced() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.coalesced
}

// Rejected returns how many tasks were rejected under overflow.
func (q *TaskQueue) Rejected() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.rejected
}
