package storage

import (
	"context"
	"testing"
	"time"

	"github.com/JosineyJr/paydispatch/pkg/payments"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestRedisRateGateOnePerWindow(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	a := NewRedisRateGate(client, "worker-a")
	b := NewRedisRateGate(client, "worker-b")

	ok, err := a.Acquire(ctx, payments.DefaultProcessor, 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("first acquire = %v, %v", ok, err)
	}
	if ok, _ := b.Acquire(ctx, payments.DefaultProcessor, 5*time.Second); ok {
		t.Fatal("second instance acquired inside the window")
	}
	if ok, _ := b.Acquire(ctx, payments.FallbackProcessor, 5*time.Second); !ok {
		t.Fatal("windows are per processor")
	}

	mr.FastForward(5 * time.Second)
	if ok, _ := b.Acquire(ctx, payments.DefaultProcessor, 5*time.Second); !ok {
		t.Fatal("expected acquire once the window expired")
	}
}

func TestRedisHealthFeedRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	logger := zerolog.Nop()
	feed := NewRedisHealthFeed(client, &logger)

	updates, err := feed.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	want := payments.ProcessorHealth{
		Processor:           payments.FallbackProcessor,
		Healthy:             false,
		MinResponseTimeMs:   120,
		LastCheckedAt:       time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC),
		ConsecutiveFailures: 3,
	}
	if err := feed.Publish(ctx, want); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case got := <-updates:
		if got.Processor != want.Processor || got.ConsecutiveFailures != 3 || !got.LastCheckedAt.Equal(want.LastCheckedAt) {
			t.Errorf("got %+v, want %+v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no health update received")
	}

	cancel()
	select {
	case _, ok := <-updates:
		if ok {
			t.Error("expected the channel to close after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
