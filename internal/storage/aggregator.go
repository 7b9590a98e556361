package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/JosineyJr/paydispatch/pkg/payments"
	"github.com/redis/go-redis/v9"
)

const (
	ledgerEntriesKey     = "ledger:entries"
	ledgerDefaultIdxKey  = "ledger:requested:default"
	ledgerFallbackIdxKey = "ledger:requested:fallback"
)

// HSETNX is the uniqueness guard; the index is only written by the winner.
var recordScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[3]) == 1 then
  redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
  return 1
end
return 0
`)

// RedisLedger keeps entries in a hash keyed by correlation id and indexes
// them per processor in sorted sets scored by requestedAt in unix micros.
type RedisLedger struct {
	client *redis.Client
}

func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

func indexKey(p payments.ProcessorID) (string, error) {
	switch p {
	case payments.DefaultProcessor:
		return ledgerDefaultIdxKey, nil
	case payments.FallbackProcessor:
		return ledgerFallbackIdxKey, nil
	}
	return "", fmt.Errorf("%w: %q", payments.ErrUnknownProcessor, p)
}

func (l *RedisLedger) Record(ctx context.Context, e payments.LedgerEntry) (bool, error) {
	idx, err := indexKey(e.Processor)
	if err != nil {
		return false, err
	}
	body, err := json.Marshal(e)
	if err != nil {
		return false, err
	}

	inserted, err := recordScript.Run(ctx, l.client,
		[]string{ledgerEntriesKey, idx},
		e.CorrelationID, e.RequestedAt.UnixMicro(), body,
	).Int()
	if err != nil {
		return false, fmt.Errorf("recording %s: %w", e.CorrelationID, err)
	}
	return inserted == 1, nil
}

func (l *RedisLedger) Exists(ctx context.Context, correlationID string) (bool, error) {
	return l.client.HExists(ctx, ledgerEntriesKey, correlationID).Result()
}

func (l *RedisLedger) Summarize(ctx context.Context, from, to time.Time) (payments.PaymentsSummary, error) {
	var summary payments.PaymentsSummary

	rng := &redis.ZRangeBy{
		Min: fmt.Sprint(microsCeil(from)),
		Max: fmt.Sprint(microsFloor(to)),
	}

	for _, p := range payments.Processors {
		idx, _ := indexKey(p)
		ids, err := l.client.ZRangeByScore(ctx, idx, rng).Result()
		if err != nil {
			return summary, fmt.Errorf("ranging %s: %w", p, err)
		}
		if len(ids) == 0 {
			continue
		}

		values, err := l.client.HMGet(ctx, ledgerEntriesKey, ids...).Result()
		if err != nil {
			return summary, fmt.Errorf("loading %s entries: %w", p, err)
		}

		bucket := summary.For(p)
		for _, v := range values {
			s, ok := v.(string)
			if !ok {
				continue
			}
			var e payments.LedgerEntry
			if err := json.UnmarshalFromString(s, &e); err != nil {
				return summary, fmt.Errorf("decoding entry: %w", err)
			}
			bucket.Add(e.Amount)
		}
	}

	return summary, nil
}

func (l *RedisLedger) Purge(ctx context.Context) error {
	return l.client.Del(ctx, ledgerEntriesKey, ledgerDefaultIdxKey, ledgerFallbackIdxKey).Err()
}

// Entries are stored at microsecond precision, so a bound with a sub-microsecond
// remainder is moved inward to the first microsecond it still covers.
func microsCeil(t time.Time) int64 {
	us := t.UnixMicro()
	if t.After(time.UnixMicro(us)) {
		us++
	}
	return us
}

func microsFloor(t time.Time) int64 {
	us := t.UnixMicro()
	if t.Before(time.UnixMicro(us)) {
		us--
	}
	return us
}
