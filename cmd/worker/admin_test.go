package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/JosineyJr/paydispatch/internal/circuit"
	"github.com/JosineyJr/paydispatch/internal/dispatch"
	"github.com/JosineyJr/paydispatch/internal/queue"
	"github.com/JosineyJr/paydispatch/internal/transport"
	"github.com/JosineyJr/paydispatch/pkg/payments"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type staticHealth []payments.ProcessorHealth

func (h staticHealth) Snapshot() []payments.ProcessorHealth { return h }

func TestProcessorsReport(t *testing.T) {
	logger := zerolog.Nop()
	ctx := context.Background()

	q := queue.NewMemoryQueue(time.Minute)
	for _, id := range []string{
		"11111111-1111-4111-8111-111111111111",
		"22222222-2222-4222-8222-222222222222",
	} {
		if err := q.Enqueue(ctx, payments.NewPayment(id, decimal.NewFromInt(1), time.Now())); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	breakers := circuit.NewGroup(circuit.Settings{Threshold: 1, Cooldown: time.Minute}, &logger, payments.Processors...)
	done, err := breakers.Get(payments.FallbackProcessor).Allow()
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	done(false)

	stats := &dispatch.Stats{}
	stats.CommittedDefault.Add(3)

	a := &admin{
		health: staticHealth{
			{Processor: payments.DefaultProcessor, Healthy: true, MinResponseTimeMs: 10},
			{Processor: payments.FallbackProcessor, Healthy: false, ConsecutiveFailures: 2},
		},
		circuits: breakers,
		queue:    q,
		stats:    stats,
		logger:   &logger,
	}

	report := a.report(ctx)
	if report.QueueDepth != 2 {
		t.Errorf("queue depth = %d, want 2", report.QueueDepth)
	}
	if report.Stats.CommittedDefault != 3 {
		t.Errorf("committed default = %d, want 3", report.Stats.CommittedDefault)
	}
	if len(report.Circuits) != 2 || report.Circuits[1].State != circuit.Open {
		t.Errorf("circuits = %+v, want fallback open", report.Circuits)
	}

	srv := transport.NewServer(ctx, "test", &logger)
	a.Register(srv)
	resp := string(srv.Serve(transport.Request{Method: "GET", Path: "/processors"}))
	if !strings.HasPrefix(resp, "HTTP/1.1 200 OK") {
		t.Fatalf("unexpected response %q", resp)
	}
	for _, want := range []string{`"state":"open"`, `"queueDepth":2`, `"consecutiveFailures":2`} {
		if !strings.Contains(resp, want) {
			t.Errorf("response missing %s: %s", want, resp)
		}
	}
}
