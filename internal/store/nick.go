package store

import (
	"context"
	"strconv"

	"github.com/tuna/fishroom/internal/broker"
)

// NickStore maps Telegram numeric user ids to display nicknames, plus a
// reverse nickname to @username mapping used to rewrite mentions on egress.
type NickStore struct {
	client *broker.Client
}

func NewNickStore(client *broker.Client) *NickStore {
	return &NickStore{client: client}
}

// Nickname returns the stored nick for a user id. An unknown id with a
// username hint stores the hint and returns it; with no hint the fallback
// is "tg-<user_id>".
func (s *NickStore) Nickname(ctx context.Context, userID int64, hint string) string {
	id := strconv.FormatInt(userID, 10)
	nick, err := s.client.RDB.HGet(ctx, s.client.Keys.TelegramNicks(), id).Result()
	if err == nil && nick != "" {
		return nick
	}
	if hint != "" {
		_ = s.SetNickname(ctx, userID, hint)
		return hint
	}
	return "tg-" + id
}

// SetNickname records the display nick for a user id.
func (s *NickStore) SetNickname(ctx context.Context, userID int64, nick string) error {
	id := strconv.FormatInt(userID, 10)
	return s.client.RDB.HSet(ctx, s.client.Keys.TelegramNicks(), id, nick).Err()
}

// Username returns the network @handle recorded for a nickname, or "".
func (s *NickStore) Username(ctx context.Context, nick string) string {
	v, err := s.client.RDB.HGet(ctx, s.client.Keys.TelegramUsernames(), nick).Result()
	if err != nil {
		return ""
	}
	return v
}

// SetUsername records the network @handle behind a nickname.
func (s *NickStore) SetUsername(ctx context.Context, nick, username string) error {
	return s.client.RDB.HSet(ctx, s.client.Keys.TelegramUsernames(), nick, username).Err()
}
