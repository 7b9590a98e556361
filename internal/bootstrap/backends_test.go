package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/JosineyJr/paydispatch/internal/config"
	"github.com/JosineyJr/paydispatch/internal/queue"
	"github.com/JosineyJr/paydispatch/internal/storage"
	"github.com/alicebob/miniredis/v2"
)

func TestOpenMemory(t *testing.T) {
	cfg := config.Default()
	cfg.LedgerBackend = config.BackendMemory
	cfg.QueueBackend = config.BackendMemory

	b, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer b.Close()

	if b.Redis != nil {
		t.Error("memory backends should not dial redis")
	}
	if _, ok := b.Queue.(*queue.MemoryQueue); !ok {
		t.Errorf("queue = %T", b.Queue)
	}
	if b.Shared() {
		t.Error("memory backends are not shared")
	}
	if _, err := b.RequireRedis(); !errors.Is(err, ErrNoRedis) {
		t.Errorf("RequireRedis() = %v, want ErrNoRedis", err)
	}
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := config.Default()
	cfg.RedisURL = "redis://" + mr.Addr()

	b, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer b.Close()

	if _, ok := b.Ledger.(*storage.RedisLedger); !ok {
		t.Errorf("ledger = %T", b.Ledger)
	}
	if _, ok := b.Queue.(*queue.RedisQueue); !ok {
		t.Errorf("queue = %T", b.Queue)
	}
	if !b.Shared() {
		t.Error("redis backends are shared")
	}
}

func TestOpenRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := config.Default()
	cfg.RedisURL = "redis://" + addr

	if _, err := Open(context.Background(), cfg); err == nil {
		t.Fatal("expected an error for an unreachable redis")
	}
}
