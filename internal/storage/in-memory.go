package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JosineyJr/paydispatch/pkg/payments"
)

// MemoryLedger is a single-process ledger guarded by one mutex.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[string]payments.LedgerEntry
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]payments.LedgerEntry)}
}

func (l *MemoryLedger) Record(ctx context.Context, e payments.LedgerEntry) (bool, error) {
	if !e.Processor.Valid() {
		return false, fmt.Errorf("%w: %q", payments.ErrUnknownProcessor, e.Processor)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[e.CorrelationID]; ok {
		return false, nil
	}
	l.entries[e.CorrelationID] = e
	return true, nil
}

func (l *MemoryLedger) Exists(ctx context.Context, correlationID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.entries[correlationID]
	return ok, nil
}

func (l *MemoryLedger) Summarize(ctx context.Context, from, to time.Time) (payments.PaymentsSummary, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var summary payments.PaymentsSummary
	for _, e := range l.entries {
		if e.RequestedAt.Before(from) || e.RequestedAt.After(to) {
			continue
		}
		summary.For(e.Processor).Add(e.Amount)
	}
	return summary, nil
}

func (l *MemoryLedger) Purge(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = make(map[string]payments.LedgerEntry)
	return nil
}
