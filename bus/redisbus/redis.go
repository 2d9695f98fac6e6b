// Package redisbus implements bus.Bus on Redis. Pub/sub runs on a client
// handle dedicated to subscription mode, while publishes and key-value
// operations use a second handle, since a Redis connection cannot issue
// regular commands while subscribed.
package redisbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/mcpuse/mcp-stream-go/bus"
)

// Config for the Redis-backed bus. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". Used when Client/SubClient are nil.
	// ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`

	// Client handles publish and key-value operations. Optional.
	Client redis.UniversalClient
	// SubClient is dedicated to subscriptions. Optional.
	SubClient redis.UniversalClient
}

type Bus struct {
	ops redis.UniversalClient
	sub redis.UniversalClient
}

func New(cfg Config) (*Bus, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	ops := cfg.Client
	if ops == nil {
		ops = redis.NewClient(&redis.Options{Addr: addr})
	}
	sub := cfg.SubClient
	if sub == nil {
		sub = redis.NewClient(&redis.Options{Addr: addr})
	}
	if err := ops.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if sub != ops {
		if err := sub.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("redis ping (subscriber): %w", err)
		}
	}
	return &Bus{ops: ops, sub: sub}, nil
}

// NewFromEnv builds a Bus using envdecode to populate Config.
func NewFromEnv() (*Bus, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return New(cfg)
}

func (b *Bus) Close() error {
	err := b.sub.Close()
	if b.ops != b.sub {
		if cerr := b.ops.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// --- Pub/sub ---

func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.ops.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, channel string, handler bus.MessageHandler) (bus.Subscription, error) {
	ps := b.sub.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so that messages published
	// after Subscribe returns are guaranteed to be received.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	sub := &subscription{ps: ps}
	go func() {
		for msg := range ps.Channel() {
			handler(context.Background(), msg.Channel, []byte(msg.Payload))
		}
	}()
	return sub, nil
}

type subscription struct {
	ps   *redis.PubSub
	once sync.Once
}

func (s *subscription) Unsubscribe(ctx context.Context) error {
	var err error
	s.once.Do(func() { err = s.ps.Close() })
	return err
}

// --- Key-value ---

func (b *Bus) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.ops.Set(ctx, key, value, ttl).Err()
}

func (b *Bus) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := b.ops.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, bus.ErrNotFound
		}
		return nil, err
	}
	return val, nil
}

func (b *Bus) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return b.ops.Del(ctx, keys...).Err()
}

func (b *Bus) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.ops.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (b *Bus) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return b.ops.Expire(ctx, key, ttl).Err()
}

func (b *Bus) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, cur, err := b.ops.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if cur == 0 {
			return keys, nil
		}
		cursor = cur
	}
}

// --- Set index ---

func (b *Bus) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return b.ops.SAdd(ctx, key, args...).Err()
}

func (b *Bus) SRem(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return b.ops.SRem(ctx, key, args...).Err()
}

func (b *Bus) SMembers(ctx context.Context, key string) ([]string, error) {
	return b.ops.SMembers(ctx, key).Result()
}

// Interface compliance
var (
	_ bus.Bus      = (*Bus)(nil)
	_ bus.SetIndex = (*Bus)(nil)
)
