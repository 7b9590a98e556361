package storage

import (
	"context"
	"time"

	"github.com/JosineyJr/paydispatch/pkg/payments"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigFastest

const (
	healthChannel     = "processors:health"
	rateLimitKeyStart = "rate_limit:"
)

// RedisRateGate lets one instance probe a processor per window.
type RedisRateGate struct {
	client   *redis.Client
	instance string
}

func NewRedisRateGate(client *redis.Client, instance string) *RedisRateGate {
	return &RedisRateGate{client: client, instance: instance}
}

func (g *RedisRateGate) Acquire(ctx context.Context, id payments.ProcessorID, window time.Duration) (bool, error) {
	return g.client.SetNX(ctx, rateLimitKeyStart+string(id), g.instance, window).Result()
}

// RedisHealthFeed fans probe results out to every instance over pub/sub.
type RedisHealthFeed struct {
	client *redis.Client
	logger *zerolog.Logger
}

func NewRedisHealthFeed(client *redis.Client, logger *zerolog.Logger) *RedisHealthFeed {
	return &RedisHealthFeed{client: client, logger: logger}
}

func (f *RedisHealthFeed) Publish(ctx context.Context, h payments.ProcessorHealth) error {
	msg, err := json.Marshal(h)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, healthChannel, msg).Err()
}

// Subscribe returns once the subscription is confirmed. The channel closes
// when ctx is done.
func (f *RedisHealthFeed) Subscribe(ctx context.Context) (<-chan payments.ProcessorHealth, error) {
	pubsub := f.client.Subscribe(ctx, healthChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	out := make(chan payments.ProcessorHealth, 8)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var h payments.ProcessorHealth
				if err := json.UnmarshalFromString(msg.Payload, &h); err != nil {
					f.logger.Warn().Err(err).Msg("dropping malformed health message")
					continue
				}
				select {
				case out <- h:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
