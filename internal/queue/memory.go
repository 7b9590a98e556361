package queue

import (
	"context"
	"sync"
	"time"

	"github.com/JosineyJr/paydispatch/pkg/payments"
)

type item struct {
	rec       Record
	visibleAt time.Time
	seq       uint64
}

// MemoryQueue is a single-process queue for tests and standalone runs.
type MemoryQueue struct {
	mu         sync.Mutex
	items      map[string]*item
	dead       []DeadLetter
	seq        uint64
	visibility time.Duration
	now        func() time.Time
}

func NewMemoryQueue(visibility time.Duration) *MemoryQueue {
	return &MemoryQueue{
		items:      make(map[string]*item),
		visibility: visibility,
		now:        time.Now,
	}
}

// SetClock replaces the time source.
func (q *MemoryQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

func (q *MemoryQueue) Enqueue(ctx context.Context, p payments.Payment) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.push(NewRecord(p, now), now)
	return nil
}

func (q *MemoryQueue) push(rec Record, visibleAt time.Time) {
	if _, ok := q.items[rec.ID]; ok {
		return
	}
	q.seq++
	q.items[rec.ID] = &item{rec: rec, visibleAt: visibleAt, seq: q.seq}
}

// Dequeue leases the record that has been visible the longest.
func (q *MemoryQueue) Dequeue(ctx context.Context) (*Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var next *item
	for _, it := range q.items {
		if it.visibleAt.After(now) {
			continue
		}
		if next == nil || it.visibleAt.Before(next.visibleAt) ||
			(it.visibleAt.Equal(next.visibleAt) && it.seq < next.seq) {
			next = it
		}
	}
	if next == nil {
		return nil, ErrEmpty
	}

	next.visibleAt = now.Add(q.visibility)
	rec := next.rec.clone()
	return &rec, nil
}

func (q *MemoryQueue) Ack(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.items, id)
	return nil
}

func (q *MemoryQueue) Requeue(ctx context.Context, rec *Record, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.items[rec.ID]
	if !ok {
		return ErrNotFound
	}
	it.rec = rec.clone()
	it.visibleAt = q.now().Add(delay)
	return nil
}

// Checkpoint stores rec and extends its lease by the visibility timeout.
func (q *MemoryQueue) Checkpoint(ctx context.Context, rec *Record) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.items[rec.ID]
	if !ok {
		return ErrNotFound
	}
	it.rec = rec.clone()
	it.visibleAt = q.now().Add(q.visibility)
	return nil
}

func (q *MemoryQueue) DeadLetter(ctx context.Context, rec *Record, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.items, rec.ID)
	q.dead = append(q.dead, DeadLetter{
		Record:         rec.clone(),
		Reason:         reason,
		DeadLetteredAt: q.now().UTC(),
	})
	return nil
}

func (q *MemoryQueue) DeadLetters(ctx context.Context, limit int64) ([]DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := int64(len(q.dead))
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]DeadLetter, n)
	copy(out, q.dead[:n])
	return out, nil
}

func (q *MemoryQueue) Replay(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := len(q.dead) - 1; i >= 0; i-- {
		if q.dead[i].ID != id {
			continue
		}
		now := q.now()
		q.push(q.dead[i].revived(now), now)
		q.dead = append(q.dead[:i], q.dead[i+1:]...)
		return nil
	}
	return ErrNotFound
}

func (q *MemoryQueue) Len(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}
