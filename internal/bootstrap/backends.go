// Package bootstrap opens the storage backends named by the configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JosineyJr/paydispatch/internal/config"
	"github.com/JosineyJr/paydispatch/internal/queue"
	"github.com/JosineyJr/paydispatch/internal/storage"
	"github.com/JosineyJr/paydispatch/pkg/payments"
	"github.com/redis/go-redis/v9"
)

type Ledger interface {
	Record(ctx context.Context, e payments.LedgerEntry) (bool, error)
	Exists(ctx context.Context, correlationID string) (bool, error)
	Summarize(ctx context.Context, from, to time.Time) (payments.PaymentsSummary, error)
	Purge(ctx context.Context) error
}

type Queue interface {
	Enqueue(ctx context.Context, p payments.Payment) error
	Dequeue(ctx context.Context) (*queue.Record, error)
	Ack(ctx context.Context, id string) error
	Requeue(ctx context.Context, rec *queue.Record, delay time.Duration) error
	Checkpoint(ctx context.Context, rec *queue.Record) error
	DeadLetter(ctx context.Context, rec *queue.Record, reason string) error
	DeadLetters(ctx context.Context, limit int64) ([]queue.DeadLetter, error)
	Replay(ctx context.Context, id string) error
	Len(ctx context.Context) (int64, error)
}

// Backends holds the shared stores of one process. Redis is nil when no
// configured backend needs it.
type Backends struct {
	Redis  *redis.Client
	Ledger Ledger
	Queue  Queue

	closers []func()
}

func Open(ctx context.Context, cfg *config.Config) (*Backends, error) {
	b := &Backends{}

	if cfg.LedgerBackend == config.BackendRedis || cfg.QueueBackend == config.BackendRedis {
		client, err := storage.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		b.Redis = client
		b.closers = append(b.closers, func() { client.Close() })
	}

	switch cfg.LedgerBackend {
	case config.BackendPostgres:
		l, err := storage.NewPostgresLedger(ctx, cfg.DatabaseURL)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.Ledger = l
		b.closers = append(b.closers, l.Close)
	case config.BackendRedis:
		b.Ledger = storage.NewRedisLedger(b.Redis)
	case config.BackendMemory:
		b.Ledger = storage.NewMemoryLedger()
	default:
		b.Close()
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}

	switch cfg.QueueBackend {
	case config.BackendRedis:
		b.Queue = queue.NewRedisQueue(b.Redis, cfg.VisibilityTimeout)
	case config.BackendMemory:
		b.Queue = queue.NewMemoryQueue(cfg.VisibilityTimeout)
	default:
		b.Close()
		return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}

	return b, nil
}

// Shared reports whether other processes see the same queue and ledger.
func (b *Backends) Shared() bool {
	_, memQueue := b.Queue.(*queue.MemoryQueue)
	_, memLedger := b.Ledger.(*storage.MemoryLedger)
	return !memQueue && !memLedger
}

func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

var ErrNoRedis = errors.New("no redis backend configured")

// RequireRedis returns the shared client or ErrNoRedis.
func (b *Backends) RequireRedis() (*redis.Client, error) {
	if b.Redis == nil {
		return nil, ErrNoRedis
	}
	return b.Redis, nil
}
