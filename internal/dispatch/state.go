package dispatch

import (
	"errors"
	"time"

	"github.com/JosineyJr/paydispatch/pkg/payments"
)

var (
	// ErrNoProcessorAvailable means every processor is open or, without
	// gambling, unhealthy. The record waits; it is never dropped for it.
	ErrNoProcessorAvailable = errors.New("no processor available")
	ErrExhaustedRetries     = errors.New("retries exhausted")
)

type Phase uint8

const (
	Queued Phase = iota
	Attempting
	AttemptFailed
	Committed
	Exhausted
)

func (p Phase) String() string {
	switch p {
	case Queued:
		return "queued"
	case Attempting:
		return "attempting"
	case AttemptFailed:
		return "attempt_failed"
	case Committed:
		return "committed"
	case Exhausted:
		return "exhausted"
	}
	return "unknown"
}

// Attempt is the state of one delivery of a record. Transitions return a new
// value and leave the receiver untouched; a transition that does not apply
// to the current phase returns the receiver unchanged.
type Attempt struct {
	Phase      Phase
	Candidates []payments.ProcessorID
	Index      int
	Processor  payments.ProcessorID
	Err        error
	// Called is set once a request actually left for a processor.
	Called bool
	// Permanent marks an exhaustion that retrying cannot fix.
	Permanent bool
}

func Begin(candidates []payments.ProcessorID) Attempt {
	a := Attempt{Phase: Queued, Candidates: candidates}
	if len(candidates) == 0 {
		a.Phase = Exhausted
		a.Err = ErrNoProcessorAvailable
		return a
	}
	a.Phase = Attempting
	a.Processor = candidates[0]
	return a
}

func (a Attempt) Dialed() Attempt {
	if a.Phase == Attempting {
		a.Called = true
	}
	return a
}

func (a Attempt) Succeed() Attempt {
	if a.Phase != Attempting {
		return a
	}
	a.Phase = Committed
	a.Err = nil
	return a
}

// CommitAs commits against a processor that already accepted the payment.
func (a Attempt) CommitAs(p payments.ProcessorID) Attempt {
	if a.Phase != Attempting {
		return a
	}
	a.Phase = Committed
	a.Processor = p
	a.Err = nil
	return a
}

func (a Attempt) Fail(err error) Attempt {
	if a.Phase != Attempting {
		return a
	}
	a.Phase = AttemptFailed
	a.Err = err
	return a
}

func (a Attempt) Reject(err error) Attempt {
	if a.Phase != Attempting {
		return a
	}
	a.Phase = Exhausted
	a.Err = err
	a.Permanent = true
	return a
}

// Advance moves a failed attempt to the next candidate, or to Exhausted when
// none is left.
func (a Attempt) Advance() Attempt {
	if a.Phase != AttemptFailed {
		return a
	}
	if a.Index+1 >= len(a.Candidates) {
		a.Phase = Exhausted
		if !a.Called {
			a.Err = errors.Join(ErrNoProcessorAvailable, a.Err)
		}
		return a
	}
	a.Index++
	a.Processor = a.Candidates[a.Index]
	a.Phase = Attempting
	return a
}

// Deferred reports an exhaustion that never reached a processor. It does not
// count against the retry budget.
func (a Attempt) Deferred() bool {
	return a.Phase == Exhausted && !a.Called && !a.Permanent
}

// Backoff returns base * 2^(n-1), capped at maxDelay.
func Backoff(n int, base, maxDelay time.Duration) time.Duration {
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	if d > maxDelay {
		return maxDelay
	}
	return d
}
