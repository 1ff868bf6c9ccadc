package store

import (
	"context"

	"github.com/tuna/fishroom/internal/broker"
)

// Counter is a named monotonically increasing broker counter.
type Counter struct {
	client *broker.Client
	name   string
}

func NewCounter(client *broker.Client, name string) *Counter {
	return &Counter{client: client, name: name}
}

// Incr increments the counter by one and returns the new value.
func (c *Counter) Incr(ctx context.Context) (int64, error) {
	return c.IncrBy(ctx, 1)
}

// IncrBy increments the counter by n and returns the new value.
func (c *Counter) IncrBy(ctx context.Context, n int64) (int64, error) {
	return c.client.RDB.IncrBy(ctx, c.client.Keys.Counter(c.name), n).Result()
}
