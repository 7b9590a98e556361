// Package circuit isolates failing processors. Each processor gets its own
// breaker: Closed until a run of consecutive failures reaches the threshold,
// then Open for a cooldown, then HalfOpen for exactly one trial call.
package circuit

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/JosineyJr/paydispatch/pkg/payments"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

type State uint8

const (
	Closed State = iota
	HalfOpen
	Open
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case HalfOpen:
		return "half-open"
	case Open:
		return "open"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return Open
	case gobreaker.StateHalfOpen:
		return HalfOpen
	}
	return Closed
}

var (
	ErrOpen          = errors.New("circuit open")
	ErrTrialInFlight = errors.New("circuit half-open trial in flight")
)

type Settings struct {
	Threshold uint32
	Cooldown  time.Duration
}

// Snapshot is an immutable copy of a breaker's state.
type Snapshot struct {
	Processor    payments.ProcessorID `json:"processor"`
	State        State                `json:"state"`
	OpenedAt     time.Time            `json:"openedAt"`
	FailureCount uint32               `json:"failureCount"`
	SuccessCount uint32               `json:"successCount"`
}

type Breaker struct {
	id       payments.ProcessorID
	cb       *gobreaker.TwoStepCircuitBreaker
	openedAt atomic.Int64
	logger   *zerolog.Logger
}

func New(id payments.ProcessorID, s Settings, logger *zerolog.Logger) *Breaker {
	b := &Breaker{id: id, logger: logger}

	threshold := s.Threshold
	b.cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        string(id),
		MaxRequests: 1,
		Timeout:     s.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				b.openedAt.Store(time.Now().UnixNano())
			}
			b.logger.Warn().
				Str("processor", name).
				Str("from", fromGobreaker(from).String()).
				Str("to", fromGobreaker(to).String()).
				Msg("circuit state changed")
		},
	})
	return b
}

func (b *Breaker) ID() payments.ProcessorID {
	return b.id
}

// Allow reserves a call. The returned func must be invoked exactly once with
// the outcome of the call.
func (b *Breaker) Allow() (func(success bool), error) {
	done, err := b.cb.Allow()
	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		return nil, ErrOpen
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, ErrTrialInFlight
	case err != nil:
		return nil, err
	}
	return done, nil
}

// Eligible reports whether the breaker would consider a call, i.e. it is not Open.
func (b *Breaker) Eligible() bool {
	return b.cb.State() != gobreaker.StateOpen
}

func (b *Breaker) Snapshot() Snapshot {
	state := fromGobreaker(b.cb.State())
	counts := b.cb.Counts()

	snap := Snapshot{
		Processor:    b.id,
		State:        state,
		FailureCount: counts.ConsecutiveFailures,
		SuccessCount: counts.ConsecutiveSuccesses,
	}
	if state != Closed {
		if ns := b.openedAt.Load(); ns != 0 {
			snap.OpenedAt = time.Unix(0, ns).UTC()
		}
	}
	return snap
}
