// Package discord bridges Discord text channels through the gateway.
// The session reconnects on its own, so the receive loop only opens it
// and waits for shutdown. Bindings address channels by their snowflake
// id, which is stable unlike names.
package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/tuna/fishroom/internal/adapters"
	"github.com/tuna/fishroom/internal/bus"
	"github.com/tuna/fishroom/internal/config"
)

// messageLimit is Discord's hard cap per message.
const messageLimit = 2000

// Handle is the Discord adapter: one bot account in the bound channels.
type Handle struct {
	cfg      config.DiscordConfig
	selfName string
	loc      *time.Location

	bound map[string]bool // channel ids from the bindings

	mu        sync.Mutex
	session   *discordgo.Session
	botUserID string
}

// New builds the adapter. channels are the channel ids from the
// bindings.
func New(cfg config.DiscordConfig, selfName string, channels []string, loc *time.Location) *Handle {
	bound := make(map[string]bool, len(channels))
	for _, ch := range channels {
		bound[ch] = true
	}
	return &Handle{cfg: cfg, selfName: selfName, loc: loc, bound: bound}
}

func (h *Handle) Tag() string { return bus.ChannelDiscord }

func (h *Handle) Capabilities() adapters.Caps {
	return adapters.Caps{SupportsMultiline: true, SupportsPhoto: true}
}

// ReceiveLoop opens the gateway session and pumps message-create events
// until ctx ends. discordgo reconnects dropped gateways itself.
func (h *Handle) ReceiveLoop(ctx context.Context, publish bus.PublishFunc) error {
	session, err := discordgo.New("Bot " + h.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent

	remove := session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		h.handleMessage(ctx, m, publish)
	})
	defer remove()

	// Identity first, so the own-message filter is armed before any
	// gateway event can arrive.
	user, err := session.User("@me")
	if err != nil {
		return fmt.Errorf("discord: identity: %w", err)
	}
	h.mu.Lock()
	h.botUserID = user.ID
	h.mu.Unlock()

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: open: %w", err)
	}
	h.mu.Lock()
	h.session = session
	h.mu.Unlock()
	slog.Info("discord: connected", "username", user.Username)

	<-ctx.Done()

	h.mu.Lock()
	h.session = nil
	h.mu.Unlock()
	if err := session.Close(); err != nil {
		slog.Warn("discord: close failed", "error", err)
	}
	return nil
}

func (h *Handle) sessionRef() *discordgo.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}

func (h *Handle) handleMessage(ctx context.Context, m *discordgo.MessageCreate, publish bus.PublishFunc) {
	h.mu.Lock()
	botID := h.botUserID
	h.mu.Unlock()

	if m.Author == nil || m.Author.ID == botID {
		return
	}
	if !h.bound[m.ChannelID] {
		return
	}

	sender := displayName(m.Member, m.Author)
	if sender == "" {
		return
	}

	opt := &bus.Option{Username: m.Author.Username}
	h.fillReply(opt, m.ReferencedMessage)

	if m.Content != "" {
		msg := bus.New(bus.ChannelDiscord, sender, m.ChannelID, m.Content, h.loc)
		msg.MType = adapters.Classify(m.Content, h.selfName)
		msg.Opt = opt
		h.stamp(msg, m.Timestamp)
		if err := publish(ctx, msg); err != nil {
			slog.Warn("discord: publish failed", "error", err)
		}
	}

	for _, att := range m.Attachments {
		content, mtype, mediaURL := attachmentContent(att)
		msg := bus.New(bus.ChannelDiscord, sender, m.ChannelID, content, h.loc)
		msg.MType = mtype
		msg.MediaURL = mediaURL
		h.stamp(msg, m.Timestamp)
		if err := publish(ctx, msg); err != nil {
			slog.Warn("discord: publish failed", "error", err)
		}
	}
}

func (h *Handle) stamp(m *bus.Message, ts time.Time) {
	if !ts.IsZero() {
		m.Date, m.Time = bus.DateTime(ts.Unix(), h.loc)
	}
}

// fillReply records who the replied-to line belongs to. Replies to our
// own bridged lines unpack the original sender from the [nick] prefix.
func (h *Handle) fillReply(opt *bus.Option, ref *discordgo.Message) {
	if ref == nil || ref.Author == nil || ref.Content == "" {
		return
	}
	if ref.Author.Bot {
		if nick, body, ok := adapters.ParseBridged(ref.Content); ok {
			opt.ReplyTo = nick
			opt.ReplyText = body
			return
		}
	}
	opt.ReplyTo = displayName(ref.Member, ref.Author)
	opt.ReplyText = ref.Content
}

// displayName prefers server nickname, then global name, then username.
func displayName(member *discordgo.Member, author *discordgo.User) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if author == nil {
		return ""
	}
	if author.GlobalName != "" {
		return author.GlobalName
	}
	return author.Username
}

func attachmentContent(att *discordgo.MessageAttachment) (string, bus.MType, string) {
	if strings.HasPrefix(att.ContentType, "image/") {
		return att.URL + " (photo)", bus.Photo, att.URL
	}
	name := att.Filename
	if name == "" {
		name = "unnamed"
	}
	return fmt.Sprintf("%s (file: %s)", att.URL, name), bus.File, ""
}

// SendText sends the whole batch as one message, split only when it
// exceeds the Discord length cap.
func (h *Handle) SendText(ctx context.Context, target, content string, o *adapters.SendOptions) error {
	s := h.sessionRef()
	if s == nil {
		return errors.New("discord: not connected")
	}

	text := content
	if o != nil && o.Sender != "" {
		text = "**[" + o.Sender + "]** " + content
	}
	if o != nil && o.First && o.ReplyTo != "" && o.ReplyText != "" {
		text = fmt.Sprintf("> [%s] %s\n%s", o.ReplyTo, quotableLine(o.ReplyText), text)
	}
	return h.sendChunked(s, target, text)
}

func (h *Handle) sendChunked(s *discordgo.Session, target, content string) error {
	for len(content) > 0 {
		chunk := content
		if len(chunk) > messageLimit {
			cutAt := messageLimit
			if idx := strings.LastIndexByte(content[:messageLimit], '\n'); idx > messageLimit/2 {
				cutAt = idx + 1
			}
			chunk = content[:cutAt]
			content = content[cutAt:]
		} else {
			content = ""
		}
		if _, err := s.ChannelMessageSend(target, chunk); err != nil {
			return fmt.Errorf("discord: send: %w", err)
		}
	}
	return nil
}

// SendPhoto uploads the bytes as an attachment with the bridged sender
// as the message body.
func (h *Handle) SendPhoto(ctx context.Context, target string, data []byte, sender string) error {
	s := h.sessionRef()
	if s == nil {
		return errors.New("discord: not connected")
	}

	name := photoName(data)
	var err error
	if sender != "" {
		_, err = s.ChannelFileSendWithMessage(target, "**["+sender+"]**", name, bytes.NewReader(data))
	} else {
		_, err = s.ChannelFileSend(target, name, bytes.NewReader(data))
	}
	if err != nil {
		return fmt.Errorf("discord: send photo: %w", err)
	}
	return nil
}

// photoName picks a filename extension the client renders inline.
func photoName(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/png":
		return "photo.png"
	case "image/gif":
		return "photo.gif"
	case "image/webp":
		return "photo.webp"
	default:
		return "photo.jpg"
	}
}

// quotableLine picks the first line of a reply that is not itself a
// quote, so chained replies do not nest forever.
func quotableLine(text string) string {
	lines := strings.Split(text, "\n")
	for _, l := range lines {
		if l != "" && !strings.HasPrefix(l, ">") {
			return l
		}
	}
	return lines[0]
}
