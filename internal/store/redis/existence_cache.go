// Package redis stores tenant existence answers in Redis so every gateway
// replica shares them.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewClient creates a client and verifies it with a short ping.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

const (
	valueExists  = "1"
	valueMissing = "0"
)

// ExistenceCache implements tenant.ExistenceCache.
type ExistenceCache struct {
	client redis.Cmdable
	prefix string
}

// NewExistenceCache creates a cache storing keys under prefix.
func NewExistenceCache(client redis.Cmdable, prefix string) *ExistenceCache {
	if prefix == "" {
		prefix = "edusekai:tenant:exists"
	}
	return &ExistenceCache{client: client, prefix: prefix}
}

func (c *ExistenceCache) key(label string) string {
	return c.prefix + ":" + label
}

// Get implements tenant.ExistenceCache.
func (c *ExistenceCache) Get(ctx context.Context, label string) (bool, bool, error) {
	v, err := c.client.Get(ctx, c.key(label)).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("failed to read tenant cache: %w", err)
	}
	return v == valueExists, true, nil
}

// Set implements tenant.ExistenceCache. A non-positive ttl skips the write.
func (c *ExistenceCache) Set(ctx context.Context, label string, exists bool, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	v := valueMissing
	if exists {
		v = valueExists
	}
	if err := c.client.Set(ctx, c.key(label), v, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write tenant cache: %w", err)
	}
	return nil
}

// Invalidate implements tenant.ExistenceCache.
func (c *ExistenceCache) Invalidate(ctx context.Context, label string) error {
	if err := c.client.Del(ctx, c.key(label)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate tenant cache: %w", err)
	}
	return nil
}
