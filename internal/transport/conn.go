package transport

import "sync"

// connQueue orders the response batches of one connection. Each OnTraffic
// call hands its batch over, and a single drain task at a time answers them
// in arrival order.
type connQueue struct {
	mu      sync.Mutex
	pending [][]Request
	running bool
}

// enqueue adds batch and reports whether the caller must start a drain.
func (q *connQueue) enqueue(batch []Request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = append(q.pending, batch)
	if q.running {
		return false
	}
	q.running = true
	return true
}

// next pops the oldest batch. When none is left the drain is over.
func (q *connQueue) next() ([]Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		q.running = false
		return nil, false
	}
	batch := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return batch, true
}

func (q *connQueue) reset() {
	q.mu.Lock()
	q.pending, q.running = nil, false
	q.mu.Unlock()
}
