package store

import (
	"context"

	"github.com/tuna/fishroom/internal/broker"
)

// StickerCache remembers re-hosted sticker and photo URLs so repeated
// media is uploaded once. Keys are Telegram file ids or content md5 sums.
type StickerCache struct {
	client *broker.Client
}

func NewStickerCache(client *broker.Client) *StickerCache {
	return &StickerCache{client: client}
}

// URL returns the cached upload URL for a media key.
func (s *StickerCache) URL(ctx context.Context, key string) (string, bool) {
	v, err := s.client.RDB.HGet(ctx, s.client.Keys.TelegramStickers(), key).Result()
	if err != nil || v == "" {
		return "", false
	}
	return v, true
}

// SetURL caches the upload URL for a media key.
func (s *StickerCache) SetURL(ctx context.Context, key, url string) error {
	return s.client.RDB.HSet(ctx, s.client.Keys.TelegramStickers(), key, url).Err()
}
