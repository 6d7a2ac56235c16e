// Package redis wraps the go-redis client with the operations the defense
// layer needs: plain key/value with TTL, atomic increments, set-based
// indices, and pattern deletes.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/skillhubio/shield/internal/config"
	"github.com/skillhubio/shield/pkg/logger"
)

// Client wraps redis.Client with additional functionality.
type Client struct {
	client *redis.Client
	logger *logger.Logger
	cfg    *config.RedisConfig
}

// New creates a new Redis client and verifies connectivity with retry.
func New(cfg *config.RedisConfig, log *logger.Logger) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("redis config is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}

	opts := &redis.Options{
		Addr:            cfg.Addr(),
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.MinRetryDelay,
		MaxRetryBackoff: cfg.MaxRetryDelay,
	}

	client := redis.NewClient(opts)

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
		err := client.Ping(ctx).Err()
		cancel()

		if err == nil {
			log.Info("redis connected",
				"addr", cfg.Addr(),
				"pool_size", cfg.PoolSize,
			)
			return &Client{
				client: client,
				logger: log,
				cfg:    cfg,
			}, nil
		}

		lastErr = err
		if attempt < cfg.MaxRetries {
			backoff := cfg.MinRetryDelay * time.Duration(1<<attempt)
			if backoff > cfg.MaxRetryDelay {
				backoff = cfg.MaxRetryDelay
			}
			log.Warn("redis connection failed, retrying",
				"attempt", attempt+1,
				"max_retries", cfg.MaxRetries,
				"backoff", backoff,
				"error", err,
			)
			time.Sleep(backoff)
		}
	}

	return nil, fmt.Errorf("failed to connect to redis after %d attempts: %w", cfg.MaxRetries+1, lastErr)
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	c.logger.Info("closing redis connection")
	return c.client.Close()
}

// Ping checks if Redis is available.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Get retrieves a string value by key.
// Returns ErrKeyNotFound if the key does not exist.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", errors.New("key is required")
	}

	start := time.Now()
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		DefaultMetrics.ObserveOperation("get", time.Since(start), nil)
		return "", ErrKeyNotFound
	}
	if err != nil {
		DefaultMetrics.ObserveOperation("get", time.Since(start), err)
		return "", fmt.Errorf("redis get: %w", err)
	}
	DefaultMetrics.ObserveOperation("get", time.Since(start), nil)
	return val, nil
}

// Set stores a string value with optional TTL.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if key == "" {
		return errors.New("key is required")
	}

	start := time.Now()
	err := c.client.Set(ctx, key, value, ttl).Err()
	DefaultMetrics.ObserveOperation("set", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// SetNX stores a value with TTL only if the key does not exist.
// Returns true if the key was set.
func (c *Client) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, errors.New("key is required")
	}

	start := time.Now()
	ok, err := c.client.SetNX(ctx, key, value, ttl).Result()
	DefaultMetrics.ObserveOperation("setnx", time.Since(start), err)
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Incr atomically increments an integer key and returns the new value.
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, errors.New("key is required")
	}

	start := time.Now()
	n, err := c.client.Incr(ctx, key).Result()
	DefaultMetrics.ObserveOperation("incr", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("redis incr: %w", err)
	}
	return n, nil
}

// Del deletes one or more keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	start := time.Now()
	err := c.client.Del(ctx, keys...).Err()
	DefaultMetrics.ObserveOperation("del", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Exists checks if a key exists.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("key is required")
	}

	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// TTL returns the remaining TTL of a key.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	if key == "" {
		return 0, errors.New("key is required")
	}

	ttl, err := c.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis ttl: %w", err)
	}
	return ttl, nil
}

// SAdd adds members to a set and refreshes the set's TTL.
// Used for the type-day and per-IP event indices.
func (c *Client) SAdd(ctx context.Context, key string, ttl time.Duration, members ...string) error {
	if key == "" {
		return errors.New("key is required")
	}
	if len(members) == 0 {
		return nil
	}

	start := time.Now()
	pipe := c.client.Pipeline()
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	pipe.SAdd(ctx, key, args...)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	DefaultMetrics.ObserveOperation("sadd", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("redis sadd: %w", err)
	}
	return nil
}

// SRem removes members from a set.
func (c *Client) SRem(ctx context.Context, key string, members ...string) error {
	if key == "" {
		return errors.New("key is required")
	}
	if len(members) == 0 {
		return nil
	}

	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	start := time.Now()
	err := c.client.SRem(ctx, key, args...).Err()
	DefaultMetrics.ObserveOperation("srem", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("redis srem: %w", err)
	}
	return nil
}

// SMembers returns all members of a set.
func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	if key == "" {
		return nil, errors.New("key is required")
	}

	start := time.Now()
	members, err := c.client.SMembers(ctx, key).Result()
	DefaultMetrics.ObserveOperation("smembers", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	return members, nil
}

// MGet retrieves multiple values. Missing keys yield empty strings.
func (c *Client) MGet(ctx context.Context, keys ...string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	start := time.Now()
	vals, err := c.client.MGet(ctx, keys...).Result()
	DefaultMetrics.ObserveOperation("mget", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	out := make([]string, len(vals))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[i] = s
		}
	}
	return out, nil
}

// DeletePattern removes all keys matching a pattern using SCAN.
// Returns the number of keys deleted.
func (c *Client) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	if pattern == "" {
		return 0, errors.New("pattern is required")
	}

	var cursor uint64
	var totalDeleted int64
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return totalDeleted, fmt.Errorf("redis scan: %w", err)
		}

		if len(keys) > 0 {
			deleted, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return totalDeleted, fmt.Errorf("redis delete pattern: %w", err)
			}
			totalDeleted += deleted
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	c.logger.Debug("redis delete pattern completed",
		"pattern", pattern,
		"deleted", totalDeleted,
	)

	return totalDeleted, nil
}

// Logger returns the client's logger for use by other redis components.
func (c *Client) Logger() *logger.Logger {
	return c.logger
}
