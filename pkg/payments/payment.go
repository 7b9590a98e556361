package payments

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ProcessorID string

const (
	DefaultProcessor  ProcessorID = "default"
	FallbackProcessor ProcessorID = "fallback"
)

// Processors lists every processor in ascending fee order.
var Processors = []ProcessorID{DefaultProcessor, FallbackProcessor}

func (p ProcessorID) Valid() bool {
	return p == DefaultProcessor || p == FallbackProcessor
}

func (p ProcessorID) String() string {
	return string(p)
}

var (
	ErrInvalidCorrelationID = errors.New("correlationId must be a valid UUID")
	ErrNonPositiveAmount    = errors.New("amount must be greater than zero")
	ErrMissingRequestedAt   = errors.New("requestedAt must be set")
	ErrAmountPrecision      = errors.New("amount must have at most two decimal places")
	ErrAmountTooLarge       = errors.New("amount out of range")
	ErrUnknownProcessor     = errors.New("unknown processor")
)

// MaxAmount is the first amount the ledger's NUMERIC(18, 2) column cannot hold.
var MaxAmount = decimal.New(1, 16)

func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

type Payment struct {
	CorrelationID string          `json:"correlationId"`
	Amount        decimal.Decimal `json:"amount"`
	RequestedAt   time.Time       `json:"requestedAt"`
}

// NewPayment stamps requestedAt at microsecond precision, which every ledger
// backend stores without loss.
func NewPayment(correlationID string, amount decimal.Decimal, now time.Time) Payment {
	return Payment{
		CorrelationID: correlationID,
		Amount:        amount,
		RequestedAt:   now.UTC().Truncate(time.Microsecond),
	}
}

func (p Payment) Validate() error {
	if _, err := uuid.Parse(p.CorrelationID); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidCorrelationID, p.CorrelationID)
	}
	if !p.Amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	if !p.Amount.Equal(p.Amount.Round(2)) {
		return fmt.Errorf("%w: %s", ErrAmountPrecision, p.Amount)
	}
	if p.Amount.GreaterThanOrEqual(MaxAmount) {
		return fmt.Errorf("%w: %s", ErrAmountTooLarge, p.Amount)
	}
	if p.RequestedAt.IsZero() {
		return ErrMissingRequestedAt
	}
	return nil
}

// LedgerEntry is the committed outcome of a payment. At most one exists per
// correlation id.
type LedgerEntry struct {
	CorrelationID string          `json:"correlationId"`
	Amount        decimal.Decimal `json:"amount"`
	Processor     ProcessorID     `json:"processor"`
	RequestedAt   time.Time       `json:"requestedAt"`
	ProcessedAt   time.Time       `json:"processedAt"`
}

func (p Payment) Committed(by ProcessorID, at time.Time) LedgerEntry {
	return LedgerEntry{
		CorrelationID: p.CorrelationID,
		Amount:        p.Amount,
		Processor:     by,
		RequestedAt:   p.RequestedAt,
		ProcessedAt:   at.UTC(),
	}
}

type SummaryData struct {
	Count int64           `json:"totalRequests"`
	Total decimal.Decimal `json:"totalAmount"`
}

func (s *SummaryData) Add(amount decimal.Decimal) {
	s.Count++
	s.Total = s.Total.Add(amount)
}

type PaymentsSummary struct {
	Default  SummaryData `json:"default"`
	Fallback SummaryData `json:"fallback"`
}

// For returns the bucket of the given processor, or nil when it is unknown.
func (s *PaymentsSummary) For(p ProcessorID) *SummaryData {
	switch p {
	case DefaultProcessor:
		return &s.Default
	case FallbackProcessor:
		return &s.Fallback
	}
	return nil
}

type FeeReport struct {
	Default  decimal.Decimal `json:"default"`
	Fallback decimal.Decimal `json:"fallback"`
	Total    decimal.Decimal `json:"total"`
}

func (s PaymentsSummary) Fees(defaultRate, fallbackRate decimal.Decimal) FeeReport {
	d := s.Default.Total.Mul(defaultRate).Round(2)
	f := s.Fallback.Total.Mul(fallbackRate).Round(2)
	return FeeReport{Default: d, Fallback: f, Total: d.Add(f)}
}

// ServiceHealthPayload is the body served by a processor's health endpoint.
type ServiceHealthPayload struct {
	Failing         bool `json:"failing"`
	MinResponseTime int  `json:"minResponseTime"`
}

type ProcessorHealth struct {
	Processor           ProcessorID `json:"processor"`
	Healthy             bool        `json:"healthy"`
	MinResponseTimeMs   int         `json:"minResponseTimeMs"`
	LastCheckedAt       time.Time   `json:"lastCheckedAt"`
	ConsecutiveFailures int         `json:"consecutiveFailures"`
}
