package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JosineyJr/paydispatch/internal/queue"
	"github.com/rs/zerolog"
)

// Pool runs size goroutines that pull from the queue and hand each record to
// the worker.
type Pool struct {
	worker *Worker
	queue  Queue
	size   int
	poll   time.Duration
	logger *zerolog.Logger
}

func NewPool(w *Worker, q Queue, size int, poll time.Duration, logger *zerolog.Logger) *Pool {
	return &Pool{worker: w, queue: q, size: size, poll: poll, logger: logger}
}

// Run blocks until ctx is done and every in-flight record is finished.
// Records still leased at that point come back after their visibility
// timeout.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.loop(ctx, n)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) loop(ctx context.Context, n int) {
	timer := time.NewTimer(p.poll)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		rec, err := p.queue.Dequeue(ctx)
		if err == nil {
			p.worker.Process(context.WithoutCancel(ctx), rec)
			continue
		}

		if !errors.Is(err, queue.ErrEmpty) && ctx.Err() == nil {
			p.logger.Error().Err(err).Int("worker", n).Msg("dequeue failed")
		}

		timer.Reset(p.poll)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}
