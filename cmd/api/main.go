package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JosineyJr/paydispatch/internal/bootstrap"
	"github.com/JosineyJr/paydispatch/internal/config"
	"github.com/JosineyJr/paydispatch/internal/intake"
	"github.com/JosineyJr/paydispatch/internal/transport"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := cfg.Logger("api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("unable to open backends")
	}
	defer backends.Close()

	if !backends.Shared() {
		logger.Warn().Msg("memory backends are private to this process; run the worker in the same process or use redis")
	}

	svc := intake.NewService(backends.Queue, backends.Ledger, &logger)
	srv := transport.NewServer(context.WithoutCancel(ctx), "api", &logger)
	svc.Register(srv)

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(sctx); err != nil {
			logger.Error().Err(err).Msg("failed to stop gnet server")
		}
	}()

	logger.Info().Str("port", cfg.Port).Msg("api starting")
	if err := srv.Run(cfg.Port); err != nil {
		logger.Fatal().Err(err).Msg("gnet server failed")
	}
	logger.Info().Msg("api stopped gracefully")
}
