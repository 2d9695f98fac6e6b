// Package redisstore implements store.Store on Redis with native TTL.
package redisstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/mcpuse/mcp-stream-go/store"
)

// Config for the Redis-backed store. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". Used when Client is nil.
	// ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: SESSIONS_KEY_PREFIX
	KeyPrefix string `env:"SESSIONS_KEY_PREFIX,default=mcp:sessions:"`

	// Client is the Redis client to use. Optional.
	Client redis.UniversalClient
}

type Store struct {
	client    redis.UniversalClient
	keyPrefix string
}

func New(cfg Config) (*Store, error) {
	client := cfg.Client
	if client == nil {
		addr := cfg.RedisAddr
		if addr == "" {
			addr = "localhost:6379"
		}
		client = redis.NewClient(&redis.Options{Addr: addr})
	}
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %v: %w", err, store.ErrStoreUnavailable)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "mcp:sessions:"
	}
	return &Store{client: client, keyPrefix: prefix}, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv() (*Store, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return New(cfg)
}

func (s *Store) key(k string) string { return s.keyPrefix + k }

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s: %v: %w", key, err, store.ErrStoreUnavailable)
	}
	return val, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	return s.SetWithTTL(ctx, key, value, 0)
}

func (s *Store) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %v: %w", key, err, store.ErrStoreUnavailable)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	// Best-effort even when the caller's context is already done.
	c := context.WithoutCancel(ctx)
	if err := s.client.Del(c, s.key(key)).Err(); err != nil {
		return fmt.Errorf("del %s: %v: %w", key, err, store.ErrStoreUnavailable)
	}
	return nil
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %v: %w", key, err, store.ErrStoreUnavailable)
	}
	return n == 1, nil
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	var cursor uint64
	pattern := s.keyPrefix + "*"
	for {
		batch, cur, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan: %v: %w", err, store.ErrStoreUnavailable)
		}
		for _, k := range batch {
			keys = append(keys, strings.TrimPrefix(k, s.keyPrefix))
		}
		if cur == 0 {
			return keys, nil
		}
		cursor = cur
	}
}

func (s *Store) Close() error { return s.client.Close() }

// Interface compliance
var _ store.Store = (*Store)(nil)
