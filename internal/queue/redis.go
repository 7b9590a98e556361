package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JosineyJr/paydispatch/pkg/payments"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
)

var json = jsoniter.ConfigFastest

const (
	pendingKey    = "dispatch:pending"
	recordsKey    = "dispatch:records"
	deadLetterKey = "dispatch:dead-letter"
)

// Pending ids live in a sorted set scored by the unix milli at which they
// become visible; their records live in a hash.
var (
	enqueueScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[2], ARGV[1], ARGV[3]) == 1 then
  redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
  return 1
end
return 0
`)

	dequeueScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
  return false
end
local id = ids[1]
local payload = redis.call('HGET', KEYS[2], id)
if not payload then
  redis.call('ZREM', KEYS[1], id)
  return false
end
redis.call('ZADD', KEYS[1], ARGV[2], id)
return payload
`)

	requeueScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[2], ARGV[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
return 1
`)
)

type RedisQueue struct {
	client     *redis.Client
	visibility time.Duration
	now        func() time.Time
}

func NewRedisQueue(client *redis.Client, visibility time.Duration) *RedisQueue {
	return &RedisQueue{
		client:     client,
		visibility: visibility,
		now:        time.Now,
	}
}

// SetClock replaces the time source used for visibility scores.
func (q *RedisQueue) SetClock(now func() time.Time) {
	q.now = now
}

func (q *RedisQueue) Enqueue(ctx context.Context, p payments.Payment) error {
	now := q.now()
	_, err := q.push(ctx, NewRecord(p, now), now)
	return err
}

func (q *RedisQueue) push(ctx context.Context, rec Record, visibleAt time.Time) (bool, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	added, err := enqueueScript.Run(ctx, q.client,
		[]string{pendingKey, recordsKey},
		rec.ID, visibleAt.UnixMilli(), body,
	).Int()
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", rec.ID, err)
	}
	return added == 1, nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Record, error) {
	now := q.now()
	payload, err := dequeueScript.Run(ctx, q.client,
		[]string{pendingKey, recordsKey},
		now.UnixMilli(), now.Add(q.visibility).UnixMilli(),
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	var rec Record
	if err := json.UnmarshalFromString(payload, &rec); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	return &rec, nil
}

func (q *RedisQueue) Ack(ctx context.Context, id string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, pendingKey, id)
		pipe.HDel(ctx, recordsKey, id)
		return nil
	})
	return err
}

func (q *RedisQueue) Requeue(ctx context.Context, rec *Record, delay time.Duration) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ok, err := requeueScript.Run(ctx, q.client,
		[]string{pendingKey, recordsKey},
		rec.ID, q.now().Add(delay).UnixMilli(), body,
	).Int()
	if err != nil {
		return fmt.Errorf("requeue %s: %w", rec.ID, err)
	}
	if ok == 0 {
		return ErrNotFound
	}
	return nil
}

// Checkpoint stores rec and extends its lease by the visibility timeout, so a
// redelivery after a crash sees what this delivery was about to do.
func (q *RedisQueue) Checkpoint(ctx context.Context, rec *Record) error {
	return q.Requeue(ctx, rec, q.visibility)
}

// DeadLetter archives the record on a stream and drops it from the queue
// in one transaction.
func (q *RedisQueue) DeadLetter(ctx context.Context, rec *Record, reason string) error {
	body, err := json.Marshal(DeadLetter{
		Record:         *rec,
		Reason:         reason,
		DeadLetteredAt: q.now().UTC(),
	})
	if err != nil {
		return err
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, pendingKey, rec.ID)
		pipe.HDel(ctx, recordsKey, rec.ID)
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: deadLetterKey,
			Values: map[string]interface{}{"id": rec.ID, "payload": body},
		})
		return nil
	})
	return err
}

func (q *RedisQueue) DeadLetters(ctx context.Context, limit int64) ([]DeadLetter, error) {
	var (
		msgs []redis.XMessage
		err  error
	)
	if limit > 0 {
		msgs, err = q.client.XRangeN(ctx, deadLetterKey, "-", "+", limit).Result()
	} else {
		msgs, err = q.client.XRange(ctx, deadLetterKey, "-", "+").Result()
	}
	if err != nil {
		return nil, err
	}

	out := make([]DeadLetter, 0, len(msgs))
	for _, msg := range msgs {
		d, err := decodeDeadLetter(msg)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Replay moves the newest dead letter with the given id back onto the queue.
func (q *RedisQueue) Replay(ctx context.Context, id string) error {
	msgs, err := q.client.XRevRange(ctx, deadLetterKey, "+", "-").Result()
	if err != nil {
		return err
	}

	for _, msg := range msgs {
		if v, _ := msg.Values["id"].(string); v != id {
			continue
		}
		d, err := decodeDeadLetter(msg)
		if err != nil {
			return err
		}
		now := q.now()
		if _, err := q.push(ctx, d.revived(now), now); err != nil {
			return err
		}
		return q.client.XDel(ctx, deadLetterKey, msg.ID).Err()
	}
	return ErrNotFound
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, pendingKey).Result()
}

func decodeDeadLetter(msg redis.XMessage) (DeadLetter, error) {
	var d DeadLetter
	payload, _ := msg.Values["payload"].(string)
	if err := json.UnmarshalFromString(payload, &d); err != nil {
		return d, fmt.Errorf("decoding dead letter %s: %w", msg.ID, err)
	}
	return d, nil
}
