package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/JosineyJr/paydispatch/pkg/payments"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	correlation_id TEXT PRIMARY KEY,
	amount         NUMERIC(18, 2) NOT NULL CHECK (amount > 0),
	processor      TEXT NOT NULL CHECK (processor IN ('default', 'fallback')),
	requested_at   TIMESTAMPTZ NOT NULL,
	processed_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS ledger_entries_requested_at_idx ON ledger_entries (requested_at);
`

// PostgresLedger relies on the primary key for idempotence.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

func NewPostgresLedger(ctx context.Context, databaseURL string) (*PostgresLedger, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}
	cfg.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	l := &PostgresLedger{pool: pool}
	if err := l.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return l, nil
}

func (l *PostgresLedger) Migrate(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("creating ledger schema: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Close() {
	l.pool.Close()
}

func (l *PostgresLedger) Record(ctx context.Context, e payments.LedgerEntry) (bool, error) {
	if !e.Processor.Valid() {
		return false, fmt.Errorf("%w: %q", payments.ErrUnknownProcessor, e.Processor)
	}

	tag, err := l.pool.Exec(ctx, `
		INSERT INTO ledger_entries (correlation_id, amount, processor, requested_at, processed_at)
		VALUES ($1, $2::numeric, $3, $4, $5)
		ON CONFLICT (correlation_id) DO NOTHING`,
		e.CorrelationID, e.Amount.String(), string(e.Processor), e.RequestedAt, e.ProcessedAt,
	)
	if err != nil {
		return false, fmt.Errorf("recording %s: %w", e.CorrelationID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (l *PostgresLedger) Exists(ctx context.Context, correlationID string) (bool, error) {
	var exists bool
	err := l.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE correlation_id = $1)`,
		correlationID,
	).Scan(&exists)
	return exists, err
}

func (l *PostgresLedger) Summarize(ctx context.Context, from, to time.Time) (payments.PaymentsSummary, error) {
	var summary payments.PaymentsSummary

	rows, err := l.pool.Query(ctx, `
		SELECT processor, COUNT(*), COALESCE(SUM(amount), 0)::text
		FROM ledger_entries
		WHERE requested_at BETWEEN $1 AND $2
		GROUP BY processor`,
		time.UnixMicro(microsCeil(from)).UTC(), time.UnixMicro(microsFloor(to)).UTC(),
	)
	if err != nil {
		return summary, fmt.Errorf("summarizing ledger: %w", err)
	}

	var (
		processor string
		count     int64
		total     string
	)
	_, err = pgx.ForEachRow(rows, []any{&processor, &count, &total}, func() error {
		bucket := summary.For(payments.ProcessorID(processor))
		if bucket == nil {
			return nil
		}
		amount, err := decimal.NewFromString(total)
		if err != nil {
			return err
		}
		bucket.Count = count
		bucket.Total = amount
		return nil
	})
	return summary, err
}

func (l *PostgresLedger) Purge(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `TRUNCATE ledger_entries`)
	return err
}
