// Package irc bridges IRC channels over a single client connection.
// Inbound PRIVMSGs in bound channels become bus messages with their
// mIRC formatting lifted into rich text; outbound lines carry a
// color-hashed "[sender]" prefix. IRC has neither photos nor multiline
// messages, so the egress worker downgrades both.
package irc

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ergochat/irc-go/ircevent"
	"github.com/ergochat/irc-go/ircmsg"

	"github.com/tuna/fishroom/internal/adapters"
	"github.com/tuna/fishroom/internal/bus"
	"github.com/tuna/fishroom/internal/config"
)

// Handle is the IRC adapter. One instance owns one server connection.
type Handle struct {
	cfg       config.IRCConfig
	selfName  string
	channels  map[string]bool // lowercased, for the bound-channel filter
	joinList  []string
	loc       *time.Location
	blacklist map[string]bool

	mu   sync.Mutex
	conn *ircevent.Connection
}

// New builds the adapter for the bound channels. selfName is the bot
// name commands may be addressed to.
func New(cfg config.IRCConfig, selfName string, channels []string, loc *time.Location) *Handle {
	bound := make(map[string]bool, len(channels))
	for _, ch := range channels {
		bound[strings.ToLower(ch)] = true
	}
	bl := make(map[string]bool, len(cfg.Blacklist))
	for _, nick := range cfg.Blacklist {
		bl[strings.ToLower(nick)] = true
	}
	return &Handle{
		cfg:       cfg,
		selfName:  selfName,
		channels:  bound,
		joinList:  channels,
		loc:       loc,
		blacklist: bl,
	}
}

func (h *Handle) Tag() string { return bus.ChannelIRC }

func (h *Handle) Capabilities() adapters.Caps { return adapters.Caps{} }

// ReceiveLoop connects and pumps PRIVMSGs until ctx ends. The client
// library reconnects and re-runs the connect callback on its own, so
// channel joins survive netsplits.
func (h *Handle) ReceiveLoop(ctx context.Context, publish bus.PublishFunc) error {
	conn := &ircevent.Connection{
		Server:        net.JoinHostPort(h.cfg.Server, strconv.Itoa(h.cfg.Port)),
		Nick:          h.cfg.Nick,
		User:          h.cfg.Nick,
		RealName:      h.cfg.Nick,
		Password:      h.cfg.Password,
		SASLLogin:     h.cfg.SASLLogin,
		SASLPassword:  h.cfg.SASLPassword,
		UseTLS:        h.cfg.UseSSL,
		QuitMessage:   "I'll be back",
		ReconnectFreq: time.Minute,
		KeepAlive:     4 * time.Minute,
		Timeout:       time.Minute,
	}

	conn.AddConnectCallback(func(e ircmsg.Message) {
		slog.Info("irc: connected", "server", conn.Server, "nick", conn.CurrentNick())
		for _, channel := range h.joinList {
			if err := conn.Join(channel); err != nil {
				slog.Warn("irc: join failed", "channel", channel, "error", err)
			}
		}
	})
	conn.AddCallback("PRIVMSG", func(e ircmsg.Message) {
		if len(e.Params) < 2 {
			return
		}
		nick, _, ok := strings.Cut(e.Source, "!")
		if !ok || nick == "" || nick == conn.CurrentNick() {
			return
		}
		h.handleInbound(ctx, nick, e.Params[0], e.Params[1], publish)
	})

	if err := conn.Connect(); err != nil {
		return fmt.Errorf("irc: connect %s: %w", conn.Server, err)
	}
	h.mu.Lock()
	h.conn = conn
	h.mu.Unlock()

	stop := context.AfterFunc(ctx, conn.Quit)
	defer stop()

	conn.Loop()
	if ctx.Err() != nil {
		return nil
	}
	return errors.New("irc: connection loop ended")
}

func (h *Handle) handleInbound(ctx context.Context, nick, target, text string, publish bus.PublishFunc) {
	if !h.channels[strings.ToLower(target)] {
		return
	}
	if h.blacklist[strings.ToLower(nick)] {
		return
	}

	// /me lines arrive CTCP-wrapped
	if strings.HasPrefix(text, "\x01ACTION ") && strings.HasSuffix(text, "\x01") {
		text = "*" + nick + "* " + strings.TrimSuffix(strings.TrimPrefix(text, "\x01ACTION "), "\x01")
	}

	rich := ParseFormatting(text)
	m := bus.New(bus.ChannelIRC, nick, target, rich.String(), h.loc)
	if Styled(rich) {
		m.RichText = rich
	}
	m.MType = adapters.Classify(m.Content, h.selfName)

	if err := publish(ctx, m); err != nil {
		slog.Warn("irc: publish failed", "error", err)
	}
}

// SendText writes one line to the target channel. The sender prefix is
// color-hashed; a reply quote goes on the first line only.
func (h *Handle) SendText(ctx context.Context, target, content string, o *adapters.SendOptions) error {
	conn := h.current()
	if conn == nil {
		return errors.New("irc: not connected")
	}
	line := content
	if o != nil && o.Sender != "" {
		line = coloredSender(o.Sender) + " " + line
	}
	if o != nil && o.First && o.ReplyTo != "" && o.ReplyText != "" {
		if excerpt := replyExcerpt(o.ReplyText); excerpt != "" {
			line = "\"" + excerpt + "\" <- " + line
		}
	}
	return conn.Privmsg(target, line)
}

// SendPhoto is never reached: Capabilities reports no photo support.
func (h *Handle) SendPhoto(ctx context.Context, target string, data []byte, sender string) error {
	return errors.New("irc: photos not supported")
}

func (h *Handle) current() *ircevent.Connection {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn
}

// Colors 2..13: the mIRC palette minus white, black and the grays,
// which vanish on someone's theme.
var nickPalette = []int{2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13}

// coloredSender renders "[sender]" in a color stable for the name, so
// readers can track speakers across a busy channel. Two-digit color
// codes keep a digit-leading name from bleeding into the color.
func coloredSender(sender string) string {
	fh := fnv.New32a()
	fh.Write([]byte(sender))
	color := nickPalette[fh.Sum32()%uint32(len(nickPalette))]
	return fmt.Sprintf("\x03%02d[%s]\x0f", color, sender)
}

// replyExcerpt picks the first non-blank line of the quoted text,
// clipped so the quote cannot dwarf the message.
func replyExcerpt(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if runes := []rune(line); len(runes) > 80 {
			return string(runes[:80]) + "..."
		}
		return line
	}
	return ""
}
