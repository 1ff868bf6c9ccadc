// Package wechat bridges WeChat group chats over the web protocol.
// Groups have no stable id across logins, so bindings name them by their
// saved nickname and the adapter resolves the real group objects after
// each login. The web session dies whenever the phone kicks it, and only
// a fresh QR scan brings it back, so a logout is broadcast to the peers
// as an event before the loop exits.
package wechat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/eatmoreapple/openwechat"

	"github.com/tuna/fishroom/internal/adapters"
	"github.com/tuna/fishroom/internal/bus"
	"github.com/tuna/fishroom/internal/config"
	"github.com/tuna/fishroom/internal/filestore"
)

const logoutNotice = "Wechat is logged out!"

const maxMediaBytes = 20 << 20

// Handle is the WeChat adapter: one web-protocol login forwarding the
// bound groups.
type Handle struct {
	cfg      config.WeChatConfig
	selfName string
	loc      *time.Location
	uploads  filestore.Uploader

	bound map[string]bool // group nicknames from the bindings

	mu     sync.Mutex
	groups map[string]*openwechat.Group // bound nickname -> logged-in group
}

// New builds the adapter. rooms are the saved group nicknames from the
// bindings; uploads may be nil, which degrades media to placeholders.
func New(cfg config.WeChatConfig, selfName string, rooms []string, uploads filestore.Uploader, loc *time.Location) *Handle {
	bound := make(map[string]bool, len(rooms))
	for _, r := range rooms {
		bound[r] = true
	}
	return &Handle{
		cfg:      cfg,
		selfName: selfName,
		loc:      loc,
		uploads:  uploads,
		bound:    bound,
		groups:   make(map[string]*openwechat.Group, len(rooms)),
	}
}

func (h *Handle) Tag() string { return bus.ChannelWeChat }

func (h *Handle) Capabilities() adapters.Caps {
	return adapters.Caps{SupportsMultiline: true, SupportsPhoto: true}
}

// ReceiveLoop logs in (hot login when a session dir is configured, QR
// scan on the terminal otherwise), resolves the bound groups, and blocks
// until the web session dies or ctx ends.
func (h *Handle) ReceiveLoop(ctx context.Context, publish bus.PublishFunc) error {
	bot := openwechat.DefaultBot(openwechat.Desktop)
	bot.UUIDCallback = openwechat.PrintlnQrcodeUrl
	bot.MessageHandler = func(msg *openwechat.Message) {
		h.handleMessage(ctx, msg, publish)
	}
	bot.LogoutCallBack = func(*openwechat.Bot) {
		// Exit() on shutdown also lands here; only a real logout is news.
		if ctx.Err() != nil {
			return
		}
		h.publishLogout(ctx, publish)
	}

	var err error
	if h.cfg.HotLoginDir != "" {
		storage := openwechat.NewFileHotReloadStorage(filepath.Join(h.cfg.HotLoginDir, "wechat.json"))
		defer storage.Close()
		err = bot.HotLogin(storage, openwechat.NewRetryLoginOption())
	} else {
		err = bot.Login()
	}
	if err != nil {
		return fmt.Errorf("wechat: login: %w", err)
	}

	self, err := bot.GetCurrentUser()
	if err != nil {
		return fmt.Errorf("wechat: current user: %w", err)
	}
	slog.Info("wechat: logged in", "user", self.NickName)

	groups, err := self.Groups(true)
	if err != nil {
		return fmt.Errorf("wechat: groups: %w", err)
	}
	h.bindGroups(groups)

	stop := context.AfterFunc(ctx, bot.Exit)
	defer stop()

	err = bot.Block()
	if ctx.Err() != nil {
		return nil
	}
	if err == nil {
		err = errors.New("session ended")
	}
	return fmt.Errorf("wechat: %w", err)
}

// bindGroups matches the account's group list against the bound
// nicknames. Groups joined after login are not picked up until the next
// restart, same as the room bindings themselves.
func (h *Handle) bindGroups(groups openwechat.Groups) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, g := range groups {
		if !h.bound[g.NickName] {
			slog.Debug("wechat: group not bound", "group", g.NickName)
			continue
		}
		h.groups[g.NickName] = g
		slog.Info("wechat: group bound", "group", g.NickName)
	}
	for name := range h.bound {
		if h.groups[name] == nil {
			slog.Warn("wechat: bound group not found in account", "group", name)
		}
	}
}

func (h *Handle) group(target string) *openwechat.Group {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.groups[target]
}

func (h *Handle) handleMessage(ctx context.Context, msg *openwechat.Message, publish bus.PublishFunc) {
	if !msg.IsSendByGroup() || msg.IsSendBySelf() {
		return
	}
	group, err := msg.Sender()
	if err != nil {
		return
	}
	if !h.bound[group.NickName] {
		return
	}
	member, err := msg.SenderInGroup()
	if err != nil {
		// System notes carry no attributable member.
		return
	}
	h.publishGroupMessage(ctx, publish, group.NickName, memberNick(member), msg)
}

func (h *Handle) publishGroupMessage(ctx context.Context, publish bus.PublishFunc, room, nick string, msg *openwechat.Message) {
	if nick == "" {
		return
	}
	content, mtype, mediaURL := h.resolveContent(ctx, msg)
	if content == "" {
		return
	}

	m := bus.New(bus.ChannelWeChat, nick, room, content, h.loc)
	m.MType = mtype
	m.MediaURL = mediaURL
	if mtype == bus.Text {
		m.MType = adapters.Classify(content, h.selfName)
	}
	if msg.CreateTime > 0 {
		m.Date, m.Time = bus.DateTime(msg.CreateTime, h.loc)
	}
	if err := publish(ctx, m); err != nil {
		slog.Warn("wechat: publish failed", "error", err)
	}
}

// memberNick prefers the member's in-group alias over the account
// nickname, matching what the other group members see.
func memberNick(u *openwechat.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.NickName
}

func (h *Handle) resolveContent(ctx context.Context, msg *openwechat.Message) (string, bus.MType, string) {
	switch {
	case msg.IsLocation():
		return "(Map message received)", bus.Location, ""
	case msg.IsText():
		return msg.Content, bus.Text, ""
	case msg.IsPicture():
		return h.mediaContent(ctx, msg, "photo.jpg", "photo", bus.Photo)
	case msg.IsEmoticon():
		return h.mediaContent(ctx, msg, "sticker.gif", "sticker", bus.Sticker)
	case msg.IsCard():
		return "(Card message received)", bus.Text, ""
	case msg.IsVoice():
		return "(Voice message received)", bus.Audio, ""
	case msg.IsVideo():
		return "(Video message received)", bus.Video, ""
	case msg.IsMedia():
		if msg.Url != "" {
			// Link share: the URL is the whole story.
			return msg.Url, bus.Text, ""
		}
		return h.attachmentContent(ctx, msg)
	default:
		return "", bus.Text, ""
	}
}

func (h *Handle) mediaContent(ctx context.Context, msg *openwechat.Message, filename, kind string, mtype bus.MType) (string, bus.MType, string) {
	degraded := "(" + kind + ")"
	if h.uploads == nil {
		return degraded, mtype, ""
	}
	data, err := download(msg)
	if err != nil {
		slog.Warn("wechat: media download failed", "kind", kind, "error", err)
		return degraded, mtype, ""
	}
	url, err := h.uploads.Upload(ctx, data, filename)
	if err != nil {
		slog.Warn("wechat: media upload failed", "kind", kind, "error", err)
		return degraded, mtype, ""
	}
	return url + " (" + kind + ")", mtype, url
}

func (h *Handle) attachmentContent(ctx context.Context, msg *openwechat.Message) (string, bus.MType, string) {
	name := msg.FileName
	if name == "" {
		// App message with neither a link nor a file, mini programs
		// mostly. Nothing worth a bridge line.
		return "", bus.Text, ""
	}
	placeholder := fmt.Sprintf("(file: %s)", name)
	if h.uploads == nil {
		return placeholder, bus.File, ""
	}
	data, err := download(msg)
	if err != nil {
		slog.Warn("wechat: attachment download failed", "file", name, "error", err)
		return placeholder, bus.File, ""
	}
	url, err := h.uploads.Upload(ctx, data, name)
	if err != nil {
		slog.Warn("wechat: attachment upload failed", "file", name, "error", err)
		return placeholder, bus.File, ""
	}
	return fmt.Sprintf("%s (file: %s)", url, name), bus.File, ""
}

func download(msg *openwechat.Message) ([]byte, error) {
	resp, err := msg.GetFile()
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty download")
	}
	if len(data) > maxMediaBytes {
		return nil, fmt.Errorf("media exceeds %d bytes", maxMediaBytes)
	}
	return data, nil
}

// publishLogout tells every bridged group that this side went dark.
func (h *Handle) publishLogout(ctx context.Context, publish bus.PublishFunc) {
	h.mu.Lock()
	rooms := make([]string, 0, len(h.groups))
	for name := range h.groups {
		rooms = append(rooms, name)
	}
	h.mu.Unlock()
	sort.Strings(rooms)

	for _, room := range rooms {
		m := bus.New(bus.ChannelWeChat, "_fishroom_", room, logoutNotice, h.loc)
		m.MType = bus.Event
		if err := publish(ctx, m); err != nil {
			slog.Warn("wechat: logout notice failed", "room", room, "error", err)
		}
	}
}

// SendText sends into the group, prefixed with the bridged sender.
func (h *Handle) SendText(ctx context.Context, target, content string, o *adapters.SendOptions) error {
	g := h.group(target)
	if g == nil {
		return fmt.Errorf("wechat: group %q not bound to this login", target)
	}
	line := content
	if o != nil && o.Sender != "" {
		line = adapters.FormatSender(o.Sender, content)
	}
	if _, err := g.SendText(line); err != nil {
		return fmt.Errorf("wechat: send: %w", err)
	}
	return nil
}

// SendPhoto prefaces the image with a line naming the sender, since the
// image itself arrives attributed to the bot account.
func (h *Handle) SendPhoto(ctx context.Context, target string, data []byte, sender string) error {
	g := h.group(target)
	if g == nil {
		return fmt.Errorf("wechat: group %q not bound to this login", target)
	}
	if sender != "" {
		if _, err := g.SendText(fmt.Sprintf("%s sent a photo...", sender)); err != nil {
			return fmt.Errorf("wechat: send: %w", err)
		}
	}
	if _, err := g.SendImage(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("wechat: send image: %w", err)
	}
	return nil
}
