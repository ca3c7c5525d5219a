// Package redis shares the worker session token between processes through
// Redis, so every process of a deployment reaches workers with the token
// the last login published.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oose/oose-sdk-go/pkg/shredder"
)

// DefaultKey is the key holding the shared worker token.
const DefaultKey = "oose:worker:session_token"

// Config holds Redis connection configuration.
type Config struct {
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`

	// Key overrides DefaultKey.
	Key string `mapstructure:"key"`

	// TTL bounds how long a published token is kept. 0 keeps it until it is
	// replaced.
	TTL time.Duration `mapstructure:"ttl"`
}

// TokenStore is a shredder.TokenStore backed by one Redis key.
type TokenStore struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

var _ shredder.TokenStore = (*TokenStore)(nil)

// NewTokenStore connects to Redis and verifies the connection.
func NewTokenStore(cfg Config) (*TokenStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewTokenStoreFromClient(rdb, cfg.Key, cfg.TTL), nil
}

// NewTokenStoreFromClient wraps an existing client.
func NewTokenStoreFromClient(rdb *redis.Client, key string, ttl time.Duration) *TokenStore {
	if key == "" {
		key = DefaultKey
	}
	return &TokenStore{rdb: rdb, key: key, ttl: ttl}
}

// Token implements shredder.TokenStore.
func (s *TokenStore) Token(ctx context.Context) (string, error) {
	tok, err := s.rdb.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get worker token: %w", err)
	}
	return tok, nil
}

// SetToken implements shredder.TokenStore. An empty token clears the key.
func (s *TokenStore) SetToken(ctx context.Context, token string) error {
	if token == "" {
		if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
			return fmt.Errorf("clear worker token: %w", err)
		}
		return nil
	}
	if err := s.rdb.Set(ctx, s.key, token, s.ttl).Err(); err != nil {
		return fmt.Errorf("set worker token: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *TokenStore) Close() error {
	return s.rdb.Close()
}
