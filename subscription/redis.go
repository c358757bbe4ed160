package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/davidarico/dungeon-crawler-chris-sub000/domain"
)

const modeRedis = "redis"

// RedisRelay publishes change events on a Redis pub/sub channel so every
// instance subscribed with SubscribeUpdates sees them.
type RedisRelay struct {
	rc      *redis.Client
	channel string
}

func NewRedisRelay(rc *redis.Client, channel string) *RedisRelay {
	return &RedisRelay{rc: rc, channel: channel}
}

func (r *RedisRelay) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		relayErrors.WithLabelValues(modeRedis).Inc()
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.rc.Publish(ctx, r.channel, data).Err(); err != nil {
		relayErrors.WithLabelValues(modeRedis).Inc()
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	relayedOut.WithLabelValues(modeRedis).Inc()
	return nil
}

// SubscribeUpdates listens on channel and hands every event to sink until ctx
// is done. A closed subscription is re-established after a short pause.
func SubscribeUpdates(ctx context.Context, logger *log.Logger, rc *redis.Client, channel string, sink Sink) {
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	receive:
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break receive
				}
				forward(ctx, logger, sink, modeRedis, []byte(msg.Payload))
			}
		}
		sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.WithField("channel", channel).Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}
