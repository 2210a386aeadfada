package sync

import (
	"log/slog"
	gosync "sync"
)

// PendingQueue is an unbounded FIFO of directory ids requested for a one-off
// sync. The same id may be queued more than once; every occurrence is one
// independent sync.
type PendingQueue struct {
	mu         gosync.Mutex
	order      []string
	unfinished int           // popped but not yet marked Done, plus queued
	notify     chan struct{} // signaled when items are added
}

// NewPendingQueue creates an empty queue.
func NewPendingQueue() *PendingQueue {
	return &PendingQueue{
		notify: make(chan struct{}, 1),
	}
}

// Push appends ids to the queue.
func (q *PendingQueue) Push(ids ...string) {
	if len(ids) == 0 {
		return
	}
	q.mu.Lock()
	q.order = append(q.order, ids...)
	q.unfinished += len(ids)
	newLen := len(q.order)
	q.mu.Unlock()

	if logEnabled(slog.LevelDebug) {
		sub("queue").Debug("push", "ids", ids, "queueLen", newLen)
	}

	// Non-blocking signal
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// TryPop removes and returns the head of the queue without blocking.
func (q *PendingQueue) TryPop() (string, bool) {
	q.mu.Lock()
	if len(q.order) == 0 {
		q.mu.Unlock()
		return "", false
	}
	id := q.order[0]
	q.order = q.order[1:]
	remaining := len(q.order)
	q.mu.Unlock()

	if logEnabled(slog.LevelDebug) {
		sub("queue").Debug("pop", "id", id, "queueLen", remaining)
	}
	return id, true
}

// Notify returns a channel that receives after ids are pushed. A receive
// does not guarantee the queue is non-empty; callers re-check with TryPop.
func (q *PendingQueue) Notify() <-chan struct{} {
	return q.notify
}

// Done marks one popped id as fully processed.
func (q *PendingQueue) Done() {
	q.mu.Lock()
	if q.unfinished > 0 {
		q.unfinished--
	}
	q.mu.Unlock()
}

// Unfinished returns how many pushed ids have not been marked Done.
func (q *PendingQueue) Unfinished() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.unfinished
}

// Pending returns the queued ids in pop order.
func (q *PendingQueue) Pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.order))
	copy(out, q.order)
	return out
}

// Len returns the current queue size.
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}
