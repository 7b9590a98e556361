package intake

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/JosineyJr/paydispatch/internal/queue"
	"github.com/JosineyJr/paydispatch/internal/storage"
	"github.com/JosineyJr/paydispatch/internal/transport"
	"github.com/JosineyJr/paydispatch/pkg/payments"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const correlationID = "4a7901b8-7d26-4d9d-aa19-4dc1c7cf60b3"

var fixedNow = time.Date(2025, 7, 15, 12, 0, 0, 987654321, time.UTC)

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, payments.Payment) error {
	return errors.New("redis: connection refused")
}

func newTestService(t *testing.T) (*Service, *queue.MemoryQueue, *storage.MemoryLedger, *transport.Server) {
	t.Helper()
	logger := zerolog.Nop()

	q := queue.NewMemoryQueue(time.Minute)
	l := storage.NewMemoryLedger()
	s := NewService(q, l, &logger)
	s.now = func() time.Time { return fixedNow }

	srv := transport.NewServer(context.Background(), "test", &logger)
	s.Register(srv)
	return s, q, l, srv
}

func TestAcceptEnqueuesStampedPayment(t *testing.T) {
	_, q, _, srv := newTestService(t)

	body := `{"correlationId":"` + correlationID + `","amount":19.90}`
	resp := srv.Serve(transport.Request{Method: "POST", Path: "/payments", Body: []byte(body)})
	if string(resp) != string(transport.HTTP202Accepted) {
		t.Fatalf("response = %q, want 202", resp)
	}

	rec, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if rec.Payment.CorrelationID != correlationID {
		t.Errorf("correlation id = %s", rec.Payment.CorrelationID)
	}
	if !rec.Payment.Amount.Equal(decimal.RequireFromString("19.9")) {
		t.Errorf("amount = %s", rec.Payment.Amount)
	}
	if want := fixedNow.Truncate(time.Microsecond); !rec.Payment.RequestedAt.Equal(want) {
		t.Errorf("requestedAt = %s, want %s", rec.Payment.RequestedAt, want)
	}
}

func TestAcceptRejectsInvalidPayments(t *testing.T) {
	bodies := map[string]string{
		"not json":        `{"correlationId":`,
		"bad uuid":        `{"correlationId":"abc","amount":10}`,
		"zero amount":     `{"correlationId":"` + correlationID + `","amount":0}`,
		"negative amount": `{"correlationId":"` + correlationID + `","amount":-5}`,
		"missing amount":  `{"correlationId":"` + correlationID + `"}`,
		"sub-cent amount": `{"correlationId":"` + correlationID + `","amount":19.999}`,
		"huge amount":     `{"correlationId":"` + correlationID + `","amount":1e16}`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			_, q, _, srv := newTestService(t)

			resp := srv.Serve(transport.Request{Method: "POST", Path: "/payments", Body: []byte(body)})
			if string(resp) != string(transport.HTTP400BadRequest) {
				t.Fatalf("response = %q, want 400", resp)
			}
			if n, _ := q.Len(context.Background()); n != 0 {
				t.Errorf("queue length = %d, invalid payments must not be enqueued", n)
			}
		})
	}
}

func TestAcceptQueueFailure(t *testing.T) {
	logger := zerolog.Nop()
	s := NewService(failingQueue{}, storage.NewMemoryLedger(), &logger)
	srv := transport.NewServer(context.Background(), "test", &logger)
	s.Register(srv)

	body := `{"correlationId":"` + correlationID + `","amount":1}`
	resp := srv.Serve(transport.Request{Method: "POST", Path: "/payments", Body: []byte(body)})
	if string(resp) != string(transport.HTTP503Unavailable) {
		t.Fatalf("response = %q, want 503", resp)
	}
}

func TestSummaryEndpoint(t *testing.T) {
	_, _, l, srv := newTestService(t)
	ctx := context.Background()

	at := time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC)
	entries := []payments.LedgerEntry{
		payments.NewPayment("11111111-1111-4111-8111-111111111111", decimal.RequireFromString("100"), at).Committed(payments.DefaultProcessor, at),
		payments.NewPayment("22222222-2222-4222-8222-222222222222", decimal.RequireFromString("50.5"), at.Add(time.Minute)).Committed(payments.FallbackProcessor, at),
		payments.NewPayment("33333333-3333-4333-8333-333333333333", decimal.RequireFromString("7"), at.Add(time.Hour)).Committed(payments.DefaultProcessor, at),
	}
	for _, e := range entries {
		if _, err := l.Record(ctx, e); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{
			name:  "bounded",
			query: "from=2025-07-15T12:00:00.000Z&to=2025-07-15T12:01:00.000Z",
			want:  `{"default":{"totalRequests":1,"totalAmount":100},"fallback":{"totalRequests":1,"totalAmount":50.5}}`,
		},
		{
			name:  "open",
			query: "",
			want:  `{"default":{"totalRequests":2,"totalAmount":107},"fallback":{"totalRequests":1,"totalAmount":50.5}}`,
		},
		{
			name:  "empty window",
			query: "from=2025-07-16T00:00:00Z&to=2025-07-17T00:00:00Z",
			want:  `{"default":{"totalRequests":0,"totalAmount":0},"fallback":{"totalRequests":0,"totalAmount":0}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := string(srv.Serve(transport.Request{Method: "GET", Path: "/payments-summary", Query: tt.query}))
			if !strings.HasPrefix(resp, "HTTP/1.1 200 OK") {
				t.Fatalf("unexpected response %q", resp)
			}
			if !strings.HasSuffix(resp, "\r\n\r\n"+tt.want) {
				t.Errorf("body mismatch\n got %q\nwant %q", resp, tt.want)
			}
		})
	}
}

func TestSummaryRejectsBadBounds(t *testing.T) {
	_, _, _, srv := newTestService(t)

	queries := []string{
		"from=yesterday",
		"to=2025-13-01T00:00:00Z",
		"from=2025-07-16T00:00:00Z&to=2025-07-15T00:00:00Z",
	}
	for _, q := range queries {
		resp := srv.Serve(transport.Request{Method: "GET", Path: "/payments-summary", Query: q})
		if string(resp) != string(transport.HTTP400BadRequest) {
			t.Errorf("query %q: response = %q, want 400", q, resp)
		}
	}
}

func TestPurgeEndpoint(t *testing.T) {
	s, _, l, srv := newTestService(t)
	ctx := context.Background()

	p := payments.NewPayment(correlationID, decimal.RequireFromString("10"), fixedNow)
	if _, err := l.Record(ctx, p.Committed(payments.DefaultProcessor, fixedNow)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	resp := srv.Serve(transport.Request{Method: "POST", Path: "/purge-payments"})
	if string(resp) != string(transport.HTTP200OK) {
		t.Fatalf("response = %q, want 200", resp)
	}

	summary, err := s.Summary(ctx, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if summary.Default.Count != 0 {
		t.Errorf("default count = %d after purge", summary.Default.Count)
	}
}
