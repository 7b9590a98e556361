package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/JosineyJr/paydispatch/internal/circuit"
	"github.com/JosineyJr/paydispatch/internal/processor"
	"github.com/JosineyJr/paydispatch/internal/queue"
	"github.com/JosineyJr/paydispatch/pkg/payments"
	"github.com/rs/zerolog"
)

type Queue interface {
	Dequeue(ctx context.Context) (*queue.Record, error)
	Ack(ctx context.Context, id string) error
	Requeue(ctx context.Context, rec *queue.Record, delay time.Duration) error
	Checkpoint(ctx context.Context, rec *queue.Record) error
	DeadLetter(ctx context.Context, rec *queue.Record, reason string) error
}

type Ledger interface {
	Record(ctx context.Context, e payments.LedgerEntry) (bool, error)
	Exists(ctx context.Context, correlationID string) (bool, error)
}

type Selector interface {
	Select(p payments.Payment) []payments.ProcessorID
}

type Breakers interface {
	Get(id payments.ProcessorID) *circuit.Breaker
}

type Settings struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	RequestTimeout time.Duration
}

// Worker drives one record at a time through selection, submission, ledger
// write and acknowledgment. It holds no lock across a network call and is
// safe to share between goroutines.
type Worker struct {
	queue    Queue
	ledger   Ledger
	selector Selector
	breakers Breakers
	clients  map[payments.ProcessorID]processor.Client
	settings Settings
	logger   *zerolog.Logger
	stats    *Stats
	now      func() time.Time
}

func NewWorker(
	q Queue,
	l Ledger,
	s Selector,
	b Breakers,
	clients []processor.Client,
	settings Settings,
	logger *zerolog.Logger,
) *Worker {
	byID := make(map[payments.ProcessorID]processor.Client, len(clients))
	for _, c := range clients {
		byID[c.ID()] = c
	}
	return &Worker{
		queue:    q,
		ledger:   l,
		selector: s,
		breakers: b,
		clients:  byID,
		settings: settings,
		logger:   logger,
		stats:    &Stats{},
		now:      time.Now,
	}
}

func (w *Worker) Stats() *Stats {
	return w.stats
}

// Process handles one leased record. The returned error is informational;
// the record has already been acked, requeued or dead-lettered when it is
// possible to do so.
func (w *Worker) Process(ctx context.Context, rec *queue.Record) error {
	log := w.logger.With().
		Str("correlation_id", rec.ID).
		Int("attempt", rec.Attempt).
		Logger()

	if rec.ChargedBy != "" {
		return w.commit(ctx, rec, rec.ChargedBy, &log)
	}

	exists, err := w.ledger.Exists(ctx, rec.ID)
	if err != nil {
		log.Warn().Err(err).Msg("ledger lookup failed, dispatching anyway")
	} else if exists {
		w.stats.Duplicates.Add(1)
		log.Debug().Msg("already committed, acknowledging redelivery")
		return w.ack(ctx, rec, &log)
	}

	a := Begin(w.selector.Select(rec.Payment))
	for a.Phase == Attempting {
		a = w.attempt(ctx, rec, a, &log)
		if a.Phase == AttemptFailed {
			a = a.Advance()
		}
	}

	switch {
	case a.Phase == Committed:
		return w.commit(ctx, rec, a.Processor, &log)
	case a.Permanent:
		reason := fmt.Sprintf("rejected by %s: %v", a.Processor, a.Err)
		return w.deadLetter(ctx, rec, reason, &log)
	case a.Deferred():
		return w.postpone(ctx, rec, a.Err, &log)
	default:
		return w.retry(ctx, rec, a.Err, &log)
	}
}

func (w *Worker) attempt(ctx context.Context, rec *queue.Record, a Attempt, log *zerolog.Logger) Attempt {
	id := a.Processor
	client, ok := w.clients[id]
	breaker := w.breakers.Get(id)
	if !ok || breaker == nil {
		return a.Fail(fmt.Errorf("%w: %s", payments.ErrUnknownProcessor, id))
	}

	if !breaker.Eligible() {
		log.Debug().Str("processor", string(id)).Msg("skipping processor, circuit open")
		return a.Fail(circuit.ErrOpen)
	}

	// The dial is persisted before the call so a redelivery after a crash
	// knows this processor may already hold the payment.
	maybeBefore := rec.MayHold(id)
	undo := rec.Dialing(id, w.now())
	if err := w.queue.Checkpoint(ctx, rec); err != nil {
		undo()
		log.Warn().Err(err).Str("processor", string(id)).Msg("checkpoint failed, not dialing")
		return a.Fail(err)
	}

	done, err := breaker.Allow()
	if err != nil {
		undo()
		log.Debug().Err(err).Str("processor", string(id)).Msg("skipping processor")
		return a.Fail(err)
	}
	a = a.Dialed()

	w.stats.Attempts.Add(1)
	cctx, cancel := context.WithTimeout(ctx, w.settings.RequestTimeout)
	err = client.Submit(cctx, rec.Payment)
	cancel()
	rec.Tried(id, err, w.now())

	switch {
	case err == nil:
		done(true)
		return a.Succeed()
	case errors.Is(err, processor.ErrRejected):
		done(true)
		if maybeBefore && isDuplicate(err) {
			log.Info().Str("processor", string(id)).Msg("processor already holds the payment from an earlier attempt")
			return a.CommitAs(id)
		}
		if !maybeBefore {
			rec.Refused(id)
		}
		return a.Reject(err)
	default:
		done(false)
		w.stats.Failures.Add(1)
		log.Warn().Err(err).Str("processor", string(id)).Msg("attempt failed")
		return a.Fail(err)
	}
}

// isDuplicate reports a processor refusing a correlation id it already has.
func isDuplicate(err error) bool {
	var perr *processor.Error
	return errors.As(err, &perr) && perr.StatusCode == http.StatusUnprocessableEntity
}

func (w *Worker) commit(ctx context.Context, rec *queue.Record, by payments.ProcessorID, log *zerolog.Logger) error {
	entry := rec.Payment.Committed(by, w.now())

	inserted, err := w.ledger.Record(ctx, entry)
	if err != nil {
		rec.ChargedBy = by
		rec.LastError = err.Error()
		rec.LedgerFailures++
		if rec.LedgerFailures > w.settings.MaxRetries {
			reason := fmt.Sprintf("charged by %s but ledger write failed %d times: %v", by, rec.LedgerFailures, err)
			if derr := w.deadLetter(ctx, rec, reason, log); derr != nil {
				return derr
			}
			return fmt.Errorf("recording %s: %w", rec.ID, err)
		}
		rec.Deferrals++
		delay := Backoff(rec.Deferrals, w.settings.BaseDelay, w.settings.MaxDelay)
		log.Error().Err(err).Str("processor", string(by)).Dur("delay", delay).Msg("ledger write failed, keeping charged record")
		if rerr := w.queue.Requeue(ctx, rec, delay); rerr != nil {
			log.Error().Err(rerr).Msg("failed to requeue charged record")
		}
		w.stats.Requeued.Add(1)
		return fmt.Errorf("recording %s: %w", rec.ID, err)
	}

	if inserted {
		w.stats.committed(by)
		log.Debug().Str("processor", string(by)).Msg("payment committed")
	} else {
		w.stats.Duplicates.Add(1)
		log.Debug().Str("processor", string(by)).Msg("ledger already had the payment")
	}
	return w.ack(ctx, rec, log)
}

func (w *Worker) ack(ctx context.Context, rec *queue.Record, log *zerolog.Logger) error {
	if err := w.queue.Ack(ctx, rec.ID); err != nil {
		log.Error().Err(err).Msg("ack failed, record will be redelivered")
		return fmt.Errorf("ack %s: %w", rec.ID, err)
	}
	return nil
}

func (w *Worker) postpone(ctx context.Context, rec *queue.Record, cause error, log *zerolog.Logger) error {
	rec.Deferrals++
	delay := Backoff(rec.Deferrals, w.settings.BaseDelay, w.settings.MaxDelay)
	w.stats.Deferred.Add(1)
	log.Debug().Err(cause).Dur("delay", delay).Msg("no processor available, deferring")

	if err := w.queue.Requeue(ctx, rec, delay); err != nil {
		return fmt.Errorf("deferring %s: %w", rec.ID, err)
	}
	return nil
}

func (w *Worker) retry(ctx context.Context, rec *queue.Record, cause error, log *zerolog.Logger) error {
	rec.Attempt++
	if rec.Attempt > w.settings.MaxRetries {
		reason := fmt.Sprintf("%v after %d attempts: %v", ErrExhaustedRetries, rec.Attempt, cause)
		return w.deadLetter(ctx, rec, reason, log)
	}

	delay := Backoff(rec.Attempt, w.settings.BaseDelay, w.settings.MaxDelay)
	w.stats.Requeued.Add(1)
	log.Info().Err(cause).Int("next_attempt", rec.Attempt).Dur("delay", delay).Msg("requeueing payment")

	if err := w.queue.Requeue(ctx, rec, delay); err != nil {
		return fmt.Errorf("requeueing %s: %w", rec.ID, err)
	}
	return nil
}

func (w *Worker) deadLetter(ctx context.Context, rec *queue.Record, reason string, log *zerolog.Logger) error {
	w.stats.DeadLettered.Add(1)
	log.Error().Str("reason", reason).Strs("processors_tried", processorNames(rec.ProcessorsTried)).Msg("dead-lettering payment")

	if err := w.queue.DeadLetter(ctx, rec, reason); err != nil {
		return fmt.Errorf("dead-lettering %s: %w", rec.ID, err)
	}
	return nil
}

func processorNames(ids []payments.ProcessorID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
