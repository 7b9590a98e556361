// Package intake serves the public payments API: acceptance, summaries and
// purge. Acceptance only validates and enqueues; dispatch happens in the
// worker.
package intake

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/JosineyJr/paydispatch/internal/transport"
	"github.com/JosineyJr/paydispatch/pkg/payments"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var json = jsoniter.ConfigFastest

var (
	ErrMalformedBody = errors.New("malformed payment body")
	ErrInvalidRange  = errors.New("from must not be after to")
)

type Enqueuer interface {
	Enqueue(ctx context.Context, p payments.Payment) error
}

type Summarizer interface {
	Summarize(ctx context.Context, from, to time.Time) (payments.PaymentsSummary, error)
	Purge(ctx context.Context) error
}

type paymentRequest struct {
	CorrelationID string          `json:"correlationId"`
	Amount        decimal.Decimal `json:"amount"`
}

type Service struct {
	queue  Enqueuer
	ledger Summarizer
	now    func() time.Time
	logger *zerolog.Logger
}

func NewService(q Enqueuer, l Summarizer, logger *zerolog.Logger) *Service {
	return &Service{queue: q, ledger: l, now: time.Now, logger: logger}
}

// Accept validates a payment, stamps requestedAt and enqueues it. The caller
// gets an answer once the payment is durable in the queue, never after a
// processor call.
func (s *Service) Accept(ctx context.Context, body []byte) (payments.Payment, error) {
	var req paymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return payments.Payment{}, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}

	p := payments.NewPayment(req.CorrelationID, req.Amount, s.now())
	if err := p.Validate(); err != nil {
		return p, err
	}

	if err := s.queue.Enqueue(ctx, p); err != nil {
		return p, fmt.Errorf("enqueueing %s: %w", p.CorrelationID, err)
	}
	return p, nil
}

// Summary aggregates the ledger over [from, to]. A missing bound is open.
func (s *Service) Summary(ctx context.Context, from, to time.Time) (payments.PaymentsSummary, error) {
	if to.IsZero() {
		to = time.Unix(1<<40, 0).UTC()
	}
	if from.After(to) {
		return payments.PaymentsSummary{}, ErrInvalidRange
	}
	return s.ledger.Summarize(ctx, from, to)
}

func (s *Service) Purge(ctx context.Context) error {
	return s.ledger.Purge(ctx)
}

// Register mounts the public routes on srv.
func (s *Service) Register(srv *transport.Server) {
	srv.Handle(http.MethodPost, "/payments", s.handleAccept)
	srv.Handle(http.MethodGet, "/payments-summary", s.handleSummary)
	srv.Handle(http.MethodPost, "/purge-payments", s.handlePurge)
}

func (s *Service) handleAccept(ctx context.Context, req transport.Request) []byte {
	p, err := s.Accept(ctx, req.Body)
	if err != nil {
		if isClientError(err) {
			s.logger.Debug().Err(err).Msg("rejected payment")
			return transport.HTTP400BadRequest
		}
		s.logger.Error().Err(err).Str("correlation_id", p.CorrelationID).Msg("failed to enqueue payment")
		return transport.HTTP503Unavailable
	}
	return transport.HTTP202Accepted
}

func (s *Service) handleSummary(ctx context.Context, req transport.Request) []byte {
	from, err := parseBound(req.QueryValue("from"))
	if err != nil {
		return transport.HTTP400BadRequest
	}
	to, err := parseBound(req.QueryValue("to"))
	if err != nil {
		return transport.HTTP400BadRequest
	}

	summary, err := s.Summary(ctx, from, to)
	if errors.Is(err, ErrInvalidRange) {
		return transport.HTTP400BadRequest
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to summarize ledger")
		return transport.HTTP500Error
	}

	body, err := json.Marshal(summary)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode summary")
		return transport.HTTP500Error
	}
	return transport.JSON(http.StatusOK, body)
}

func (s *Service) handlePurge(ctx context.Context, _ transport.Request) []byte {
	if err := s.Purge(ctx); err != nil {
		s.logger.Error().Err(err).Msg("failed to purge ledger")
		return transport.HTTP500Error
	}
	return transport.HTTP200OK
}

func parseBound(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}

func isClientError(err error) bool {
	return errors.Is(err, ErrMalformedBody) ||
		errors.Is(err, payments.ErrInvalidCorrelationID) ||
		errors.Is(err, payments.ErrNonPositiveAmount) ||
		errors.Is(err, payments.ErrAmountPrecision) ||
		errors.Is(err, payments.ErrAmountTooLarge) ||
		errors.Is(err, payments.ErrMissingRequestedAt)
}
