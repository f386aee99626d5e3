// Package cache is a thin Redis layer for the payment surface: a short-lived
// session status cache and a cross-process notification dedup guard. All
// methods are nil-receiver safe so the service runs without Redis configured.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPaymentStatus = "payment_status:%s"
	keyNotifyOnce    = "notify:order:%s"
)

var (
	ttlPaymentStatus = 5 * time.Minute
	ttlNotifyOnce    = 48 * time.Hour
)

type Cache struct {
	rdb *redis.Client
}

// New connects using a redis URL (redis://host:port/db).
func New(url string) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Cache{rdb: redis.NewClient(opts)}, nil
}

// NewFromClient wraps an existing client; used by tests.
func NewFromClient(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

func (c *Cache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// SetPaymentStatus caches the last observed session state for an order.
func (c *Cache) SetPaymentStatus(ctx context.Context, orderID, state string) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Set(ctx, fmt.Sprintf(keyPaymentStatus, orderID), state, ttlPaymentStatus).Err()
}

// PaymentStatus returns the cached session state, or "" when absent.
func (c *Cache) PaymentStatus(ctx context.Context, orderID string) (string, error) {
	if c == nil || c.rdb == nil {
		return "", nil
	}
	val, err := c.rdb.Get(ctx, fmt.Sprintf(keyPaymentStatus, orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

// AcquireNotifyOnce takes the at-most-once notification slot for an order.
// The first caller gets true; everyone after gets false until the TTL lapses.
func (c *Cache) AcquireNotifyOnce(ctx context.Context, orderID string) (bool, error) {
	if c == nil || c.rdb == nil {
		return true, nil
	}
	return c.rdb.SetNX(ctx, fmt.Sprintf(keyNotifyOnce, orderID), "1", ttlNotifyOnce).Result()
}
