package main

import (
	"context"
	"net/http"

	"github.com/JosineyJr/paydispatch/internal/circuit"
	"github.com/JosineyJr/paydispatch/internal/dispatch"
	"github.com/JosineyJr/paydispatch/internal/transport"
	"github.com/JosineyJr/paydispatch/pkg/payments"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigFastest

type healthView interface {
	Snapshot() []payments.ProcessorHealth
}

type circuitView interface {
	Snapshots() []circuit.Snapshot
}

type depthView interface {
	Len(ctx context.Context) (int64, error)
}

type processorsReport struct {
	Health     []payments.ProcessorHealth `json:"health"`
	Circuits   []circuit.Snapshot         `json:"circuits"`
	QueueDepth int64                      `json:"queueDepth"`
	Stats      dispatch.StatsSnapshot     `json:"stats"`
}

type admin struct {
	health   healthView
	circuits circuitView
	queue    depthView
	stats    *dispatch.Stats
	logger   *zerolog.Logger
}

func (a *admin) Register(srv *transport.Server) {
	srv.Handle(http.MethodGet, "/processors", a.handleProcessors)
}

func (a *admin) report(ctx context.Context) processorsReport {
	depth, err := a.queue.Len(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("failed to read queue depth")
		depth = -1
	}
	return processorsReport{
		Health:     a.health.Snapshot(),
		Circuits:   a.circuits.Snapshots(),
		QueueDepth: depth,
		Stats:      a.stats.Snapshot(),
	}
}

func (a *admin) handleProcessors(ctx context.Context, _ transport.Request) []byte {
	body, err := json.Marshal(a.report(ctx))
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to encode processors report")
		return transport.HTTP500Error
	}
	return transport.JSON(http.StatusOK, body)
}
