package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tuna/fishroom/internal/broker"
	"github.com/tuna/fishroom/internal/bus"
)

// ChatLog appends messages to a per-room daily list and announces each
// append on the room's live channel for websocket watchers. A message's
// id is its zero-based index in that day's list.
type ChatLog struct {
	client *broker.Client
	loc    *time.Location
}

func NewChatLog(client *broker.Client, loc *time.Location) *ChatLog {
	if loc == nil {
		loc = time.UTC
	}
	return &ChatLog{client: client, loc: loc}
}

// Today returns the current date in the log's timezone.
func (l *ChatLog) Today() string {
	return time.Now().In(l.loc).Format("2006-01-02")
}

// Log stores a message under today's list and returns its id.
func (l *ChatLog) Log(ctx context.Context, room string, m *bus.Message) (int64, error) {
	data, err := m.Encode()
	if err != nil {
		return 0, fmt.Errorf("encode message: %w", err)
	}

	if err := l.client.RDB.Publish(ctx, l.client.Keys.RoomChannel(room), data).Err(); err != nil {
		slog.Warn("chatlog live publish failed", "room", room, "error", err)
	}

	n, err := l.client.RDB.RPush(ctx, l.client.Keys.Log(room, l.Today()), data).Result()
	if err != nil {
		return 0, fmt.Errorf("append chat log: %w", err)
	}
	return n - 1, nil
}

// Len returns the number of entries for one room and date.
func (l *ChatLog) Len(ctx context.Context, room, date string) (int64, error) {
	return l.client.RDB.LLen(ctx, l.client.Keys.Log(room, date)).Result()
}

// Message returns a single log entry by id, or nil when out of range.
func (l *ChatLog) Message(ctx context.Context, room, date string, id int64) (*bus.Message, error) {
	data, err := l.client.RDB.LIndex(ctx, l.client.Keys.Log(room, date), id).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return bus.Decode([]byte(data))
}

// Range returns log entries with ids in [start, stop], inclusive, redis
// style. Entries that no longer decode are skipped.
func (l *ChatLog) Range(ctx context.Context, room, date string, start, stop int64) ([]*bus.Message, error) {
	vals, err := l.client.RDB.LRange(ctx, l.client.Keys.Log(room, date), start, stop).Result()
	if err != nil {
		return nil, err
	}
	msgs := make([]*bus.Message, 0, len(vals))
	for _, v := range vals {
		m, err := bus.Decode([]byte(v))
		if err != nil {
			slog.Warn("skipping undecodable chat log entry", "room", room, "date", date, "error", err)
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
