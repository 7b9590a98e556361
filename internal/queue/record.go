// Package queue holds payments between acceptance and commitment. Delivery is
// at least once: a dequeued record is leased, not removed, and comes back
// when the lease runs out before Ack, Requeue or DeadLetter.
package queue

import (
	"errors"
	"slices"
	"time"

	"github.com/JosineyJr/paydispatch/pkg/payments"
)

var (
	ErrEmpty    = errors.New("queue: nothing visible")
	ErrNotFound = errors.New("queue: record not found")
)

type Record struct {
	ID                 string                 `json:"id"`
	Payment            payments.Payment       `json:"payment"`
	Attempt            int                    `json:"attempt"`
	Deferrals          int                    `json:"deferrals"`
	LastProcessorTried payments.ProcessorID   `json:"lastProcessorTried,omitempty"`
	ProcessorsTried    []payments.ProcessorID `json:"processorsTried,omitempty"`
	ChargedBy          payments.ProcessorID   `json:"chargedBy,omitempty"`
	LastError          string                 `json:"lastError,omitempty"`
	EnqueuedAt         time.Time              `json:"enqueuedAt"`
	FirstFailedAt      time.Time              `json:"firstFailedAt"`
	LastAttemptAt      time.Time              `json:"lastAttemptAt"`

	// MaybeChargedBy lists processors that were sent the payment without a
	// definite refusal. One of them may hold it even though no success was seen.
	MaybeChargedBy []payments.ProcessorID `json:"maybeChargedBy,omitempty"`
	LedgerFailures int                    `json:"ledgerFailures,omitempty"`
}

func NewRecord(p payments.Payment, now time.Time) Record {
	return Record{
		ID:         p.CorrelationID,
		Payment:    p,
		EnqueuedAt: now.UTC(),
	}
}

func (r Record) clone() Record {
	r.ProcessorsTried = slices.Clone(r.ProcessorsTried)
	r.MaybeChargedBy = slices.Clone(r.MaybeChargedBy)
	return r
}

// Tried records an attempt against id.
func (r *Record) Tried(id payments.ProcessorID, err error, at time.Time) {
	r.LastProcessorTried = id
	r.LastAttemptAt = at.UTC()
	if !slices.Contains(r.ProcessorsTried, id) {
		r.ProcessorsTried = append(r.ProcessorsTried, id)
	}
	if err != nil {
		r.LastError = err.Error()
		if r.FirstFailedAt.IsZero() {
			r.FirstFailedAt = at.UTC()
		}
	}
}

// Dialing marks id as about to receive the payment. The returned func undoes
// the mark when the call is known not to have reached the processor.
func (r *Record) Dialing(id payments.ProcessorID, at time.Time) (undo func()) {
	prevLast, prevAt := r.LastProcessorTried, r.LastAttemptAt
	newTried := !slices.Contains(r.ProcessorsTried, id)
	newMaybe := !slices.Contains(r.MaybeChargedBy, id)

	r.LastProcessorTried = id
	r.LastAttemptAt = at.UTC()
	if newTried {
		r.ProcessorsTried = append(r.ProcessorsTried, id)
	}
	if newMaybe {
		r.MaybeChargedBy = append(r.MaybeChargedBy, id)
	}

	return func() {
		r.LastProcessorTried, r.LastAttemptAt = prevLast, prevAt
		if newTried {
			r.ProcessorsTried = slices.DeleteFunc(r.ProcessorsTried, func(p payments.ProcessorID) bool { return p == id })
		}
		if newMaybe {
			r.MaybeChargedBy = slices.DeleteFunc(r.MaybeChargedBy, func(p payments.ProcessorID) bool { return p == id })
		}
	}
}

// Refused clears id from MaybeChargedBy after a definite refusal.
func (r *Record) Refused(id payments.ProcessorID) {
	r.MaybeChargedBy = slices.DeleteFunc(r.MaybeChargedBy, func(p payments.ProcessorID) bool { return p == id })
}

// MayHold reports whether id may already hold the payment from an earlier
// call.
func (r *Record) MayHold(id payments.ProcessorID) bool {
	return slices.Contains(r.MaybeChargedBy, id)
}

// DeadLetter is a record that will not be retried automatically.
type DeadLetter struct {
	Record
	Reason         string    `json:"reason"`
	DeadLetteredAt time.Time `json:"deadLetteredAt"`
}

// revived turns a dead letter back into a fresh record. ChargedBy and
// MaybeChargedBy survive so a replay never charges twice.
func (d DeadLetter) revived(now time.Time) Record {
	rec := NewRecord(d.Payment, now)
	rec.ChargedBy = d.ChargedBy
	rec.MaybeChargedBy = slices.Clone(d.MaybeChargedBy)
	return rec
}
