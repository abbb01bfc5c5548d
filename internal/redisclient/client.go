package redisclient

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const flaggedIPSetKey = "risk:flagged_ips"

type Client struct {
	rdb *redis.Client
}

// NewClient creates a Redis client and verifies connectivity
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// RecordPaymentAttempt increments the rolling attempt counter for one
// customer under one seller and returns the count within the window. The
// counter expires after the window so abandoned keys clean themselves up.
func (c *Client) RecordPaymentAttempt(ctx context.Context, sellerID uuid.UUID, customerKey string, window time.Duration) (int64, error) {
	key := fmt.Sprintf("payment_attempts:%s:%s", sellerID, customerKey)

	pipe := c.rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("payment attempt counter failed: %w", err)
	}
	return incr.Val(), nil
}

// IsFlaggedIP reports whether the IP is on the shared risk denylist. The
// set is maintained out of band by fraud tooling.
func (c *Client) IsFlaggedIP(ctx context.Context, ip string) (bool, error) {
	flagged, err := c.rdb.SIsMember(ctx, flaggedIPSetKey, ip).Result()
	if err != nil {
		return false, fmt.Errorf("flagged ip lookup failed: %w", err)
	}
	return flagged, nil
}

// SetCachedInventory caches a product's available quantity
func (c *Client) SetCachedInventory(ctx context.Context, productID uuid.UUID, quantity int, ttl time.Duration) error {
	key := fmt.Sprintf("inventory:%s", productID)
	return c.rdb.Set(ctx, key, quantity, ttl).Err()
}

// GetCachedInventory returns the cached quantity and whether it was present
func (c *Client) GetCachedInventory(ctx context.Context, productID uuid.UUID) (int, bool, error) {
	key := fmt.Sprintf("inventory:%s", productID)

	raw, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	quantity, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt inventory cache entry for %s: %w", productID, err)
	}
	return quantity, true, nil
}

// InvalidateInventory drops a product's cache entry after a write
func (c *Client) InvalidateInventory(ctx context.Context, productID uuid.UUID) error {
	return c.rdb.Del(ctx, fmt.Sprintf("inventory:%s", productID)).Err()
}
