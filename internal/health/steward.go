package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JosineyJr/paydispatch/pkg/payments"
	"github.com/rs/zerolog"
)

var ErrUnknownProcessor = errors.New("health: unknown processor")

// Prober performs a single health probe against one processor.
type Prober interface {
	ID() payments.ProcessorID
	HealthCheck(ctx context.Context) (payments.ServiceHealthPayload, error)
}

// Gate rate limits probes across instances sharing the same processors.
type Gate interface {
	Acquire(ctx context.Context, id payments.ProcessorID, window time.Duration) (bool, error)
}

// Feed shares probe results between instances.
type Feed interface {
	Publish(ctx context.Context, h payments.ProcessorHealth) error
	Subscribe(ctx context.Context) (<-chan payments.ProcessorHealth, error)
}

type Settings struct {
	Window  time.Duration
	Timeout time.Duration
}

type entry struct {
	prober     Prober
	health     payments.ProcessorHealth
	reservedAt time.Time
}

// Monitor owns the cached health of every processor. Probes for a processor
// are at least Window apart no matter how many goroutines ask.
type Monitor struct {
	settings Settings
	logger   *zerolog.Logger
	now      func() time.Time
	gate     Gate
	feed     Feed

	mu      sync.RWMutex
	entries map[payments.ProcessorID]*entry
	order   []payments.ProcessorID
}

type Option func(*Monitor)

func WithGate(g Gate) Option {
	return func(m *Monitor) { m.gate = g }
}

func WithFeed(f Feed) Option {
	return func(m *Monitor) { m.feed = f }
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

func NewMonitor(s Settings, logger *zerolog.Logger, probers []Prober, opts ...Option) *Monitor {
	m := &Monitor{
		settings: s,
		logger:   logger,
		now:      time.Now,
		entries:  make(map[payments.ProcessorID]*entry, len(probers)),
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, p := range probers {
		m.entries[p.ID()] = &entry{
			prober: p,
			health: payments.ProcessorHealth{Processor: p.ID(), Healthy: true},
		}
		m.order = append(m.order, p.ID())
	}
	return m
}

// CheckNow probes the processor unless a probe already happened inside the
// current window, in which case the cached health is returned.
func (m *Monitor) CheckNow(ctx context.Context, id payments.ProcessorID) (payments.ProcessorHealth, error) {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return payments.ProcessorHealth{}, ErrUnknownProcessor
	}
	now := m.now()
	if !e.reservedAt.IsZero() && now.Sub(e.reservedAt) < m.settings.Window {
		h := e.health
		m.mu.Unlock()
		return h, nil
	}
	e.reservedAt = now
	prober := e.prober
	m.mu.Unlock()

	if m.gate != nil {
		acquired, err := m.gate.Acquire(ctx, id, m.settings.Window)
		if err != nil {
			m.logger.Warn().Err(err).Str("processor", string(id)).Msg("shared health gate unavailable, probing locally")
		} else if !acquired {
			return m.Health(id), nil
		}
	}

	pctx, cancel := context.WithTimeout(ctx, m.settings.Timeout)
	payload, err := prober.HealthCheck(pctx)
	cancel()

	m.mu.Lock()
	h := e.health
	h.LastCheckedAt = now
	if err != nil || payload.Failing {
		h.Healthy = false
		h.ConsecutiveFailures++
	} else {
		h.Healthy = true
		h.ConsecutiveFailures = 0
	}
	if err == nil {
		h.MinResponseTimeMs = payload.MinResponseTime
	}
	e.health = h
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn().Err(err).Str("processor", string(id)).Int("consecutive_failures", h.ConsecutiveFailures).Msg("health probe failed")
	} else {
		m.logger.Debug().Str("processor", string(id)).Bool("healthy", h.Healthy).Int("min_response_time", h.MinResponseTimeMs).Msg("health probe")
	}

	if m.feed != nil {
		if perr := m.feed.Publish(ctx, h); perr != nil {
			m.logger.Warn().Err(perr).Str("processor", string(id)).Msg("failed to publish health")
		}
	}
	return h, nil
}

// Apply merges a probe result taken elsewhere. Results older than the cache
// are ignored, and a newer one also counts as this window's probe.
func (m *Monitor) Apply(h payments.ProcessorHealth) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[h.Processor]
	if !ok || !h.LastCheckedAt.After(e.health.LastCheckedAt) {
		return false
	}
	e.health = h
	if h.LastCheckedAt.After(e.reservedAt) {
		e.reservedAt = h.LastCheckedAt
	}
	return true
}

func (m *Monitor) Health(id payments.ProcessorID) payments.ProcessorHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if e, ok := m.entries[id]; ok {
		return e.health
	}
	return payments.ProcessorHealth{Processor: id}
}

func (m *Monitor) Snapshot() []payments.ProcessorHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]payments.ProcessorHealth, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.entries[id].health)
	}
	return out
}

// Start refreshes every processor in the background until ctx is done. The
// ticker runs faster than the window, CheckNow decides when a probe is due.
func (m *Monitor) Start(ctx context.Context) {
	if m.feed != nil {
		updates, err := m.feed.Subscribe(ctx)
		if err != nil {
			m.logger.Error().Err(err).Msg("failed to subscribe to health feed")
		} else {
			go func() {
				for h := range updates {
					m.Apply(h)
				}
			}()
		}
	}

	tick := m.settings.Window / 4
	if tick <= 0 {
		tick = time.Second
	}

	go func() {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		m.refresh(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.refresh(ctx)
			}
		}
	}()
}

func (m *Monitor) refresh(ctx context.Context) {
	var wg sync.WaitGroup
	for _, id := range m.order {
		wg.Add(1)
		go func(id payments.ProcessorID) {
			defer wg.Done()
			m.CheckNow(ctx, id)
		}(id)
	}
	wg.Wait()
}
