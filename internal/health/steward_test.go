package health

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JosineyJr/paydispatch/pkg/payments"
	"github.com/rs/zerolog"
)

type fakeProber struct {
	id      payments.ProcessorID
	calls   atomic.Int32
	mu      sync.Mutex
	payload payments.ServiceHealthPayload
	err     error
	delay   time.Duration
}

func (f *fakeProber) ID() payments.ProcessorID { return f.id }

func (f *fakeProber) HealthCheck(ctx context.Context) (payments.ServiceHealthPayload, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payload, f.err
}

func (f *fakeProber) set(payload payments.ServiceHealthPayload, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payload, f.err = payload, err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestMonitor(clock *fakeClock, probers ...Prober) *Monitor {
	logger := zerolog.Nop()
	return NewMonitor(
		Settings{Window: 5 * time.Second, Timeout: time.Second},
		&logger,
		probers,
		WithClock(clock.Now),
	)
}

func TestCheckNowRateLimitsConcurrentCallers(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC)}
	p := &fakeProber{id: payments.DefaultProcessor, delay: 20 * time.Millisecond}
	m := newTestMonitor(clock, p)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.CheckNow(context.Background(), payments.DefaultProcessor); err != nil {
				t.Errorf("CheckNow failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := p.calls.Load(); got != 1 {
		t.Fatalf("expected exactly one probe inside the window, got %d", got)
	}

	clock.Advance(4999 * time.Millisecond)
	m.CheckNow(context.Background(), payments.DefaultProcessor)
	if got := p.calls.Load(); got != 1 {
		t.Fatalf("probe before the window elapsed, got %d calls", got)
	}

	clock.Advance(time.Millisecond)
	m.CheckNow(context.Background(), payments.DefaultProcessor)
	if got := p.calls.Load(); got != 2 {
		t.Fatalf("expected a second probe once the window elapsed, got %d", got)
	}
}

func TestCheckNowIsPerProcessor(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	d := &fakeProber{id: payments.DefaultProcessor}
	f := &fakeProber{id: payments.FallbackProcessor}
	m := newTestMonitor(clock, d, f)

	m.CheckNow(context.Background(), payments.DefaultProcessor)
	m.CheckNow(context.Background(), payments.FallbackProcessor)

	if d.calls.Load() != 1 || f.calls.Load() != 1 {
		t.Fatalf("each processor has its own window, got %d and %d", d.calls.Load(), f.calls.Load())
	}
}

func TestFailuresAccumulateAndReset(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	p := &fakeProber{id: payments.DefaultProcessor}
	m := newTestMonitor(clock, p)
	ctx := context.Background()

	p.set(payments.ServiceHealthPayload{}, errors.New("timeout"))
	for i := 1; i <= 3; i++ {
		h, _ := m.CheckNow(ctx, payments.DefaultProcessor)
		if h.Healthy {
			t.Fatal("failed probe must mark the processor unhealthy")
		}
		if h.ConsecutiveFailures != i {
			t.Fatalf("expected %d consecutive failures, got %d", i, h.ConsecutiveFailures)
		}
		clock.Advance(5 * time.Second)
	}

	p.set(payments.ServiceHealthPayload{Failing: false, MinResponseTime: 12}, nil)
	h, _ := m.CheckNow(ctx, payments.DefaultProcessor)
	if !h.Healthy || h.ConsecutiveFailures != 0 || h.MinResponseTimeMs != 12 {
		t.Fatalf("successful probe should reset, got %+v", h)
	}
	if !h.LastCheckedAt.Equal(clock.Now()) {
		t.Errorf("lastCheckedAt = %s, want %s", h.LastCheckedAt, clock.Now())
	}
}

func TestFailingPayloadMarksUnhealthy(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	p := &fakeProber{id: payments.FallbackProcessor}
	p.set(payments.ServiceHealthPayload{Failing: true, MinResponseTime: 300}, nil)
	m := newTestMonitor(clock, p)

	h, _ := m.CheckNow(context.Background(), payments.FallbackProcessor)
	if h.Healthy {
		t.Fatal("failing=true must mark unhealthy")
	}
	if h.MinResponseTimeMs != 300 {
		t.Errorf("expected reported response time to be kept, got %d", h.MinResponseTimeMs)
	}
	if got := m.Health(payments.FallbackProcessor); got != h {
		t.Errorf("Health() = %+v, want %+v", got, h)
	}
}

func TestCheckNowUnknownProcessor(t *testing.T) {
	m := newTestMonitor(&fakeClock{now: time.Now()})
	if _, err := m.CheckNow(context.Background(), "other"); !errors.Is(err, ErrUnknownProcessor) {
		t.Fatalf("expected ErrUnknownProcessor, got %v", err)
	}
}

type denyGate struct{ calls atomic.Int32 }

func (g *denyGate) Acquire(context.Context, payments.ProcessorID, time.Duration) (bool, error) {
	g.calls.Add(1)
	return false, nil
}

func TestGateDenialReturnsCache(t *testing.T) {
	logger := zerolog.Nop()
	p := &fakeProber{id: payments.DefaultProcessor}
	gate := &denyGate{}
	m := NewMonitor(Settings{Window: time.Second, Timeout: time.Second}, &logger, []Prober{p}, WithGate(gate))

	h, err := m.CheckNow(context.Background(), payments.DefaultProcessor)
	if err != nil {
		t.Fatalf("CheckNow failed: %v", err)
	}
	if p.calls.Load() != 0 {
		t.Error("denied gate must prevent the probe")
	}
	if gate.calls.Load() != 1 {
		t.Errorf("expected one gate attempt, got %d", gate.calls.Load())
	}
	if !h.Healthy || !h.LastCheckedAt.IsZero() {
		t.Errorf("expected the initial cached health, got %+v", h)
	}
}

func TestApplyKeepsNewest(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC)}
	p := &fakeProber{id: payments.DefaultProcessor}
	m := newTestMonitor(clock, p)

	remote := payments.ProcessorHealth{
		Processor:     payments.DefaultProcessor,
		Healthy:       false,
		LastCheckedAt: clock.Now(),
	}
	if !m.Apply(remote) {
		t.Fatal("newer remote health should apply")
	}
	if m.Apply(remote) {
		t.Fatal("same-age health must not apply twice")
	}

	m.CheckNow(context.Background(), payments.DefaultProcessor)
	if p.calls.Load() != 0 {
		t.Fatal("a remote probe counts toward the local window")
	}
	if m.Health(payments.DefaultProcessor).Healthy {
		t.Error("expected remote unhealthy state to be served")
	}
}

func TestStartRefreshesUntilCancelled(t *testing.T) {
	logger := zerolog.Nop()
	d := &fakeProber{id: payments.DefaultProcessor}
	f := &fakeProber{id: payments.FallbackProcessor}
	m := NewMonitor(Settings{Window: 40 * time.Millisecond, Timeout: time.Second}, &logger, []Prober{d, f})

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	time.Sleep(150 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)

	calls := d.calls.Load()
	if calls < 2 {
		t.Fatalf("expected periodic probes, got %d", calls)
	}
	if calls > 5 {
		t.Fatalf("probes exceeded one per window, got %d", calls)
	}
	if f.calls.Load() < 2 {
		t.Fatalf("fallback was not refreshed, got %d", f.calls.Load())
	}

	snap := m.Snapshot()
	if len(snap) != 2 || snap[0].Processor != payments.DefaultProcessor || snap[1].Processor != payments.FallbackProcessor {
		t.Errorf("unexpected snapshot order %+v", snap)
	}
}
