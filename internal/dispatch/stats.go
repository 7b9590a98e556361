package dispatch

import (
	"sync/atomic"

	"github.com/JosineyJr/paydispatch/pkg/payments"
)

type Stats struct {
	CommittedDefault  atomic.Int64
	CommittedFallback atomic.Int64
	Duplicates        atomic.Int64
	Attempts          atomic.Int64
	Failures          atomic.Int64
	Requeued          atomic.Int64
	Deferred          atomic.Int64
	DeadLettered      atomic.Int64
}

func (s *Stats) committed(p payments.ProcessorID) {
	if p == payments.FallbackProcessor {
		s.CommittedFallback.Add(1)
		return
	}
	s.CommittedDefault.Add(1)
}

type StatsSnapshot struct {
	CommittedDefault  int64 `json:"committedDefault"`
	CommittedFallback int64 `json:"committedFallback"`
	Duplicates        int64 `json:"duplicates"`
	Attempts          int64 `json:"attempts"`
	Failures          int64 `json:"failures"`
	Requeued          int64 `json:"requeued"`
	Deferred          int64 `json:"deferred"`
	DeadLettered      int64 `json:"deadLettered"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		CommittedDefault:  s.CommittedDefault.Load(),
		CommittedFallback: s.CommittedFallback.Load(),
		Duplicates:        s.Duplicates.Load(),
		Attempts:          s.Attempts.Load(),
		Failures:          s.Failures.Load(),
		Requeued:          s.Requeued.Load(),
		Deferred:          s.Deferred.Load(),
		DeadLettered:      s.DeadLettered.Load(),
	}
}
