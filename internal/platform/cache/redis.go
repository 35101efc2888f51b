// Package cache is the Redis read-through cache for player balances.
package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Balances stores encoded balance views per player and generation. Invalidate
// bumps the player's generation instead of deleting, so a reader that loaded
// its snapshot before a commit writes it under a generation nobody reads
// again. The TTL bounds staleness when an invalidation is lost. Generation
// counters never expire; a reset could revive an old snapshot key.
type Balances struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewBalances(client redis.Cmdable, prefix string, ttl time.Duration) *Balances {
	if prefix == "" {
		prefix = "wallet"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Balances{client: client, prefix: prefix, ttl: ttl}
}

func (c *Balances) genKey(playerID string) string {
	return c.prefix + ":balances:" + playerID + ":gen"
}

func (c *Balances) key(playerID string, gen int64) string {
	return c.prefix + ":balances:" + playerID + ":" + strconv.FormatInt(gen, 10)
}

// Generation returns the player's current cache generation, 0 if none was
// ever bumped.
func (c *Balances) Generation(ctx context.Context, playerID string) (int64, error) {
	gen, err := c.client.Get(ctx, c.genKey(playerID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *Balances) Get(ctx context.Context, playerID string, gen int64) ([]byte, bool, error) {
	raw, err := c.client.Get(ctx, c.key(playerID, gen)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (c *Balances) Set(ctx context.Context, playerID string, gen int64, payload []byte) error {
	return c.client.Set(ctx, c.key(playerID, gen), payload, c.ttl).Err()
}

func (c *Balances) Invalidate(ctx context.Context, playerID string) error {
	return c.client.Incr(ctx, c.genKey(playerID)).Err()
}

// Ping reports whether Redis is reachable.
func (c *Balances) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
