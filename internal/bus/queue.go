package bus

import (
	"sync"
	"sync/atomic"

	"github.com/roach88/storydesk/internal/domain"
)

// changeQueue is a thread-safe set of pending changes keyed by entity.
//
// A burst of writes to one entity collapses to a single entry holding the
// latest change, so observers refresh once per entity per drain no matter
// how many writes landed in between. First-seen order is kept.
//
// Writers call Enqueue from any goroutine and never block; the bus's Run
// loop waits on the signal channel and drains.
type changeQueue struct {
	mu      sync.Mutex
	pending map[string]domain.Change
	order   []string
	closed  bool
	signal  chan struct{} // Signals availability (buffered, size 1)

	seq       atomic.Int64
	coalesced atomic.Int64
}

func newChangeQueue() *changeQueue {
	return &changeQueue{
		pending: make(map[string]domain.Change),
		order:   make([]string, 0, 64),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue stamps c with the next sequence number and merges it into the
// pending set. A merged change stays local if either side was local, so a
// relayed change never hides a local write from the publisher. Returns
// false if the queue is closed.
func (q *changeQueue) Enqueue(c domain.Change) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	c.Seq = q.seq.Add(1)
	key := c.Key()
	if prev, ok := q.pending[key]; ok {
		q.coalesced.Add(1)
		if prev.Origin == "" {
			c.Origin = ""
		}
	} else {
		q.order = append(q.order, key)
	}
	q.pending[key] = c

	// Non-blocking: the size-1 buffer coalesces signals too.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// Drain removes and returns every pending change in first-seen order.
func (q *changeQueue) Drain() []domain.Change {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.order) == 0 {
		return nil
	}
	out := make([]domain.Change, 0, len(q.order))
	for _, key := range q.order {
		out = append(out, q.pending[key])
		delete(q.pending, key)
	}
	q.order = q.order[:0]
	return out
}

// Wait returns a channel that signals when changes may be pending.
func (q *changeQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of distinct pending entities.
func (q *changeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Close stops accepting changes and wakes any waiter.
func (q *changeQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
