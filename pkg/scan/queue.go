package scan

import "sync"

// Queue is the shared work queue of identifiers. It is seeded once with the
// full range and then only drained: each identifier is handed to exactly one
// caller. Pops are non-blocking; an empty queue is the workers' exit signal.
type Queue struct {
	mu    sync.Mutex
	items []int64
}

// NewQueue returns a queue seeded with every identifier in [start,end] in
// ascending order. An inverted range yields an empty queue.
func NewQueue(start, end int64) *Queue {
	q := &Queue{}
	if start <= end {
		q.items = make([]int64, 0, end-start+1)
		for id := start; id <= end; id++ {
			q.items = append(q.items, id)
		}
	}
	queueRemaining.Set(float64(len(q.items)))
	return q
}

// TryPop removes and returns the next identifier. The second return value is
// false when the queue is empty.
func (q *Queue) TryPop() (int64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return 0, false
	}
	id := q.items[0]
	q.items = q.items[1:]
	queueRemaining.Set(float64(len(q.items)))
	return id, true
}

// Drain discards all remaining identifiers and returns how many were
// dropped. Used on cancellation so workers find the queue empty and exit.
func (q *Queue) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := len(q.items)
	q.items = nil
	queueRemaining.Set(0)
	return dropped
}

// Remaining returns the number of identifiers still queued.
func (q *Queue) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
