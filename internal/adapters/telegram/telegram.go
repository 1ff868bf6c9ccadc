// Package telegram bridges Telegram group chats through the Bot API
// using long polling.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/tuna/fishroom/internal/adapters"
	"github.com/tuna/fishroom/internal/bus"
	"github.com/tuna/fishroom/internal/config"
	"github.com/tuna/fishroom/internal/filestore"
	"github.com/tuna/fishroom/internal/store"
)

// Handle is the Telegram adapter. Senders appear under their stored
// nickname; photos and stickers are re-hosted on the file store so the
// other networks get a plain URL.
type Handle struct {
	cfg      config.TelegramConfig
	selfName string
	loc      *time.Location

	bot       *telego.Bot
	nicks     *store.NickStore
	stickers  *store.StickerCache
	counter   *store.Counter     // counts re-hosted media, nil disables
	uploads   filestore.Uploader // nil disables photo re-hosting
	blacklist map[string]bool

	// replies maps recently seen lines to their Telegram message ids so
	// cross-network replies can become native Telegram replies.
	replies *replyCache
}

// New builds the adapter and validates the bot token.
func New(cfg config.TelegramConfig, selfName string, nicks *store.NickStore, stickers *store.StickerCache, counter *store.Counter, uploads filestore.Uploader, loc *time.Location) (*Handle, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: bot: %w", err)
	}

	blacklist := make(map[string]bool, len(cfg.Blacklist))
	for _, id := range cfg.Blacklist {
		blacklist[id] = true
	}

	return &Handle{
		cfg:       cfg,
		selfName:  selfName,
		loc:       loc,
		bot:       bot,
		nicks:     nicks,
		stickers:  stickers,
		counter:   counter,
		uploads:   uploads,
		blacklist: blacklist,
		replies:   newReplyCache(256),
	}, nil
}

func (h *Handle) Tag() string { return bus.ChannelTelegram }

func (h *Handle) Capabilities() adapters.Caps {
	return adapters.Caps{SupportsMultiline: true, SupportsPhoto: true}
}

// ReceiveLoop long-polls for updates until ctx ends.
func (h *Handle) ReceiveLoop(ctx context.Context, publish bus.PublishFunc) error {
	updates, err := h.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		return fmt.Errorf("telegram: long polling: %w", err)
	}
	slog.Info("telegram: connected", "username", h.bot.Username())

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("telegram: updates channel closed")
			}
			if update.Message == nil {
				continue
			}
			h.handleMessage(ctx, update.Message, publish)
		}
	}
}

// SendText delivers one line (or, for multiline sends, a whole block)
// to a chat. A reply whose quoted line was recently seen in that chat
// becomes a native Telegram reply; otherwise the quote is textual.
func (h *Handle) SendText(ctx context.Context, target, content string, o *adapters.SendOptions) error {
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: bad chat id %q: %w", target, err)
	}

	text := content
	if o != nil && o.Sender != "" {
		text = adapters.FormatSender(o.Sender, content)
	}

	params := &telego.SendMessageParams{
		ChatID:             tu.ID(chatID),
		Text:               text,
		LinkPreviewOptions: &telego.LinkPreviewOptions{IsDisabled: true},
	}

	if o != nil && o.First && o.ReplyTo != "" && o.ReplyText != "" {
		if id, ok := h.replies.get(replyKey(target, o.ReplyTo, o.ReplyText)); ok {
			params.ReplyParameters = &telego.ReplyParameters{MessageID: id}
		} else {
			params.Text = fmt.Sprintf("> [%s] %s\n%s", o.ReplyTo, firstLine(o.ReplyText), text)
		}
	}

	sent, err := h.bot.SendMessage(ctx, params)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	if sent != nil && o != nil && o.Sender != "" {
		h.replies.put(replyKey(target, o.Sender, content), sent.MessageID)
	}
	return nil
}

// SendPhoto uploads image bytes to a chat with the bridged sender as
// the caption.
func (h *Handle) SendPhoto(ctx context.Context, target string, data []byte, sender string) error {
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: bad chat id %q: %w", target, err)
	}

	params := &telego.SendPhotoParams{
		ChatID: tu.ID(chatID),
		Photo:  tu.File(tu.NameReader(bytes.NewReader(data), "photo")),
	}
	if sender != "" {
		params.Caption = "[" + sender + "]"
	}
	if _, err := h.bot.SendPhoto(ctx, params); err != nil {
		return fmt.Errorf("telegram: send photo: %w", err)
	}
	return nil
}

// NotifyAdmins sends text to every configured admin chat. The runner
// calls this when a worker dies so somebody hears about it.
func (h *Handle) NotifyAdmins(ctx context.Context, text string) {
	for _, adm := range h.cfg.Admins {
		id, err := strconv.ParseInt(adm, 10, 64)
		if err != nil {
			slog.Warn("telegram: bad admin chat id", "admin", adm)
			continue
		}
		_, err = h.bot.SendMessage(ctx, &telego.SendMessageParams{ChatID: tu.ID(id), Text: text})
		if err != nil {
			slog.Warn("telegram: admin notify failed", "admin", adm, "error", err)
		}
	}
}

// replyCache is a fixed-size map from recently seen chat lines to their
// Telegram message ids, FIFO-evicted.
type replyCache struct {
	mu    sync.Mutex
	ids   map[string]int
	order []string
	cap   int
}

func newReplyCache(capacity int) *replyCache {
	return &replyCache{ids: make(map[string]int, capacity), cap: capacity}
}

func (c *replyCache) put(key string, id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, seen := c.ids[key]; !seen {
		c.order = append(c.order, key)
		if len(c.order) > c.cap {
			delete(c.ids, c.order[0])
			c.order = c.order[1:]
		}
	}
	c.ids[key] = id
}

func (c *replyCache) get(key string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.ids[key]
	return id, ok
}

// replyKey identifies a line within a chat. Quotes may truncate or
// extend past the first line, so only the first line participates.
func replyKey(chat, sender, text string) string {
	return chat + "\x00" + sender + "\x00" + firstLine(text)
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
