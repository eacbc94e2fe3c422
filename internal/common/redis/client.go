package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/adminx/perfgate/internal/common/configtypes"
)

// Client wraps go-redis with the gateway's key layout. Redis is optional:
// it shares the page cache index and invalidations between gateway instances.
type Client struct {
	rdb    *redis.Client
	logger *zap.Logger
	keys   Keys
}

// NewClient connects and pings the server before returning
func NewClient(cfg *configtypes.RedisConfig, logger *zap.Logger) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	client := &Client{
		rdb:    rdb,
		logger: logger,
		keys:   NewKeys(cfg.KeyPrefix),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Debug("Redis client connected",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB))

	return client, nil
}

func (c *Client) Ping(ctx context.Context) error {
	result, err := c.rdb.Ping(ctx).Result()
	if err != nil {
		c.logger.Error("Redis ping failed", zap.Error(err))
		return err
	}
	if result != "PONG" {
		return fmt.Errorf("unexpected ping response: %s", result)
	}
	return nil
}

// Keys exposes the key layout used by this client
func (c *Client) Keys() Keys {
	return c.keys
}

// IndexEntry records a cached page in the shared index
func (c *Client) IndexEntry(ctx context.Context, entry IndexedEntry) error {
	payload, err := entry.marshal()
	if err != nil {
		return err
	}
	if err := c.rdb.HSet(ctx, c.keys.PageIndex(), entry.Key, payload).Err(); err != nil {
		c.logger.Error("Redis HSET failed",
			zap.String("key", c.keys.PageIndex()),
			zap.String("field", entry.Key),
			zap.Error(err))
		return fmt.Errorf("redis hset failed: %w", err)
	}
	return nil
}

// RemoveEntries drops the given cache keys from the shared index
func (c *Client) RemoveEntries(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.HDel(ctx, c.keys.PageIndex(), keys...).Err(); err != nil {
		return fmt.Errorf("redis hdel failed: %w", err)
	}
	return nil
}

// ClearIndex removes every page from the shared index
func (c *Client) ClearIndex(ctx context.Context) error {
	if err := c.rdb.Del(ctx, c.keys.PageIndex()).Err(); err != nil {
		c.logger.Error("Redis DEL failed", zap.String("key", c.keys.PageIndex()), zap.Error(err))
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// Entries returns the shared index. Malformed entries are skipped.
func (c *Client) Entries(ctx context.Context) ([]IndexedEntry, error) {
	raw, err := c.rdb.HGetAll(ctx, c.keys.PageIndex()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}

	entries := make([]IndexedEntry, 0, len(raw))
	for key, payload := range raw {
		entry, err := unmarshalEntry(payload)
		if err != nil {
			c.logger.Warn("Skipping malformed index entry", zap.String("key", key), zap.Error(err))
			continue
		}
		entry.Key = key
		entries = append(entries, entry)
	}
	return entries, nil
}

// releaseScript deletes the lock only if it is still held by the caller
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// AcquireLock takes the named lock for ttl. Returns false when another
// holder owns it.
func (c *Client) AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, c.keys.Lock(name), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

// ReleaseLock frees the named lock when owner still holds it
func (c *Client) ReleaseLock(ctx context.Context, name, owner string) error {
	err := c.rdb.Eval(ctx, releaseScript, []string{c.keys.Lock(name)}, owner).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis eval failed: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	if c.rdb == nil {
		return nil
	}
	if err := c.rdb.Close(); err != nil {
		c.logger.Error("Failed to close Redis client", zap.Error(err))
		return err
	}
	c.logger.Debug("Redis client closed")
	return nil
}
