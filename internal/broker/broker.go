// Package broker wraps the redis connection shared by every stateful
// component. All key names are produced by Keys so the whole key layout
// lives in one place.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client is the process-wide broker handle. go-redis pools connections
// internally, so workers share one Client; subscribers get dedicated
// connections from Subscribe.
type Client struct {
	RDB  *redis.Client
	Keys Keys
}

// Connect opens the broker connection and verifies it with a ping.
// rawURL accepts the redis URL scheme (redis://host:port/db).
func Connect(ctx context.Context, rawURL, prefix string) (*Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("broker: parse url: %w", err)
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("broker: ping: %w", err)
	}

	return &Client{RDB: rdb, Keys: NewKeys(prefix)}, nil
}

// WithRedis wraps an existing redis client. Used by tests.
func WithRedis(rdb *redis.Client, prefix string) *Client {
	return &Client{RDB: rdb, Keys: NewKeys(prefix)}
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.RDB.Close()
}

// IsNil reports whether err is the broker's key-not-found reply, so
// callers outside this package need not import the redis client.
func IsNil(err error) bool {
	return err == redis.Nil
}
