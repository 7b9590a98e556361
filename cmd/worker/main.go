package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/JosineyJr/paydispatch/internal/bootstrap"
	"github.com/JosineyJr/paydispatch/internal/circuit"
	"github.com/JosineyJr/paydispatch/internal/config"
	"github.com/JosineyJr/paydispatch/internal/dispatch"
	"github.com/JosineyJr/paydispatch/internal/health"
	"github.com/JosineyJr/paydispatch/internal/intake"
	"github.com/JosineyJr/paydispatch/internal/processor"
	"github.com/JosineyJr/paydispatch/internal/routing"
	"github.com/JosineyJr/paydispatch/internal/storage"
	"github.com/JosineyJr/paydispatch/internal/transport"
	"github.com/JosineyJr/paydispatch/pkg/payments"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := cfg.Logger("worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("unable to open backends")
	}
	defer backends.Close()

	clients := []processor.Client{
		processor.NewHTTPClient(payments.DefaultProcessor, cfg.DefaultProcessorURL, cfg.RequestTimeout),
		processor.NewHTTPClient(payments.FallbackProcessor, cfg.FallbackProcessorURL, cfg.RequestTimeout),
	}
	probers := make([]health.Prober, len(clients))
	for i, c := range clients {
		probers[i] = c
	}

	var opts []health.Option
	if client, err := backends.RequireRedis(); err == nil {
		instance := instanceName()
		opts = append(opts,
			health.WithGate(storage.NewRedisRateGate(client, instance)),
			health.WithFeed(storage.NewRedisHealthFeed(client, &logger)),
		)
		logger.Info().Str("instance", instance).Msg("sharing processor health through redis")
	}

	monitor := health.NewMonitor(health.Settings{
		Window:  cfg.HealthWindow,
		Timeout: cfg.HealthTimeout,
	}, &logger, probers, opts...)

	breakers := circuit.NewGroup(circuit.Settings{
		Threshold: cfg.BreakerThreshold,
		Cooldown:  cfg.BreakerCooldown,
	}, &logger, payments.Processors...)

	selector := routing.NewSelector(monitor, breakers, cfg.GambleWhenUnhealthy, payments.Processors...)

	worker := dispatch.NewWorker(backends.Queue, backends.Ledger, selector, breakers, clients, dispatch.Settings{
		MaxRetries:     cfg.MaxRetries,
		BaseDelay:      cfg.RetryBaseDelay,
		MaxDelay:       cfg.RetryMaxDelay,
		RequestTimeout: cfg.RequestTimeout,
	}, &logger)
	pool := dispatch.NewPool(worker, backends.Queue, cfg.NumWorkers, cfg.PollInterval, &logger)

	monitor.Start(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()

	srv := transport.NewServer(context.WithoutCancel(ctx), "worker-admin", &logger)
	(&admin{
		health:   monitor,
		circuits: breakers,
		queue:    backends.Queue,
		stats:    worker.Stats(),
		logger:   &logger,
	}).Register(srv)
	intake.NewService(backends.Queue, backends.Ledger, &logger).Register(srv)

	go func() {
		logger.Info().Str("port", cfg.AdminPort).Msg("worker admin server starting")
		if err := srv.Run(cfg.AdminPort); err != nil {
			logger.Error().Err(err).Msg("worker admin server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down, finishing in-flight payments")

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(sctx); err != nil {
		logger.Error().Err(err).Msg("failed to stop worker admin server")
	}

	wg.Wait()
	logger.Info().Msg("worker stopped gracefully")
}

func instanceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}
