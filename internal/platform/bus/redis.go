package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher fans events out on Redis pub/sub channels named
// <prefix><routing key>. Pub/sub does not persist messages, so it suits
// notification consumers; settlement consumers should read from Kafka.
type RedisPublisher struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisPublisher(rdb redis.UniversalClient, channelPrefix string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, prefix: channelPrefix}
}

func (p *RedisPublisher) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", msg.ID, err)
	}
	if err := p.rdb.Publish(ctx, p.prefix+msg.RoutingKey, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", msg.ID, err)
	}
	return nil
}

// Fanout publishes to every publisher in order and stops at the first error.
// Downstream dedupe makes the partial sends of a failed attempt harmless.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, msg Message) error {
	for _, p := range f {
		if err := p.Publish(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}
