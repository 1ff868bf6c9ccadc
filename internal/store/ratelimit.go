package store

import (
	"context"
	"strconv"
	"time"

	"github.com/tuna/fishroom/internal/broker"
)

// RateLimiter bounds how often a command fires in a room. Each (room, cmd)
// pair keeps a list of trigger timestamps in the broker, so the limit holds
// across restarts and processes.
type RateLimiter struct {
	client *broker.Client
	now    func() time.Time
}

func NewRateLimiter(client *broker.Client) *RateLimiter {
	return &RateLimiter{client: client, now: time.Now}
}

// Allow reports whether another trigger fits within count per period, and
// records it when it does. A denied trigger is not recorded. Broker
// trouble fails open.
func (rl *RateLimiter) Allow(ctx context.Context, room, cmd string, period time.Duration, count int64) bool {
	key := rl.client.Keys.RateLimit(room, cmd)

	n, err := rl.client.RDB.LLen(ctx, key).Result()
	if err != nil {
		return true
	}
	if n < count {
		rl.record(ctx, key)
		return true
	}

	rl.client.RDB.LTrim(ctx, key, -count, -1)
	first, err := rl.client.RDB.LIndex(ctx, key, 0).Result()
	if err != nil {
		return true
	}
	oldest, err := strconv.ParseInt(first, 10, 64)
	if err != nil {
		return true
	}
	if rl.now().Unix()-oldest <= int64(period.Seconds()) {
		return false
	}

	rl.record(ctx, key)
	return true
}

func (rl *RateLimiter) record(ctx context.Context, key string) {
	rl.client.RDB.RPush(ctx, key, strconv.FormatInt(rl.now().Unix(), 10))
}
