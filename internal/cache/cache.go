// Package cache stores rendered invoices in Redis.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when no invoice is cached for an order.
var ErrMiss = errors.New("cache miss")

// DefaultTTL is used when Config.TTL is zero.
const DefaultTTL = 24 * time.Hour

// Config configures the Redis client.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Invoices caches PDF invoices by order id. Orders never change after
// creation, so entries are never invalidated, only expired.
type Invoices struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Invoices, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis %s", cfg.Addr)
	}
	return NewInvoices(client, cfg.TTL), nil
}

// NewInvoices wraps an existing client.
func NewInvoices(client redis.UniversalClient, ttl time.Duration) *Invoices {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Invoices{client: client, ttl: ttl}
}

func invoiceKey(orderID string) string {
	return fmt.Sprintf("invoice:%s", orderID)
}

// Get returns the cached invoice or ErrMiss.
func (c *Invoices) Get(ctx context.Context, orderID string) ([]byte, error) {
	data, err := c.client.Get(ctx, invoiceKey(orderID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, errors.Wrap(err, "get invoice")
	}
	return data, nil
}

// Set stores an invoice with the configured TTL.
func (c *Invoices) Set(ctx context.Context, orderID string, pdf []byte) error {
	if err := c.client.Set(ctx, invoiceKey(orderID), pdf, c.ttl).Err(); err != nil {
		return errors.Wrap(err, "set invoice")
	}
	return nil
}

// Ping reports whether Redis is reachable. It backs the readiness check.
func (c *Invoices) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (c *Invoices) Close() error {
	return c.client.Close()
}
