// Package xmpp bridges XMPP multi-user chat rooms. The stream manager
// reconnects on its own and re-joins every bound room, so the receive
// loop survives server restarts without help.
package xmpp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"gosrc.io/xmpp"
	"gosrc.io/xmpp/stanza"

	"github.com/tuna/fishroom/internal/adapters"
	"github.com/tuna/fishroom/internal/bus"
	"github.com/tuna/fishroom/internal/config"
)

// Handle is the XMPP adapter: one client account joined to the bound
// MUC rooms.
type Handle struct {
	cfg      config.XMPPConfig
	selfName string
	rooms    []string
	loc      *time.Location

	mu     sync.Mutex
	sender xmpp.Sender
}

// New builds the adapter. rooms are the bare MUC JIDs from the
// bindings; selfName is the bot name commands may be addressed to.
func New(cfg config.XMPPConfig, selfName string, rooms []string, loc *time.Location) *Handle {
	return &Handle{cfg: cfg, selfName: selfName, rooms: rooms, loc: loc}
}

func (h *Handle) Tag() string { return bus.ChannelXMPP }

func (h *Handle) Capabilities() adapters.Caps { return adapters.Caps{} }

// ReceiveLoop connects, joins the bound rooms, and pumps groupchat
// messages until ctx ends.
func (h *Handle) ReceiveLoop(ctx context.Context, publish bus.PublishFunc) error {
	router := xmpp.NewRouter()
	router.HandleFunc("message", func(s xmpp.Sender, p stanza.Packet) {
		msg, ok := p.(stanza.Message)
		if !ok {
			return
		}
		h.handleGroupchat(ctx, msg, publish)
	})

	cfg := &xmpp.Config{
		TransportConfiguration: xmpp.TransportConfiguration{
			Address: net.JoinHostPort(h.cfg.Server, strconv.Itoa(h.cfg.Port)),
		},
		Jid:        h.cfg.JID,
		Credential: xmpp.Password(h.cfg.Password),
	}

	client, err := xmpp.NewClient(cfg, router, func(err error) {
		slog.Warn("xmpp: stream error", "error", err)
	})
	if err != nil {
		return fmt.Errorf("xmpp: client: %w", err)
	}

	sm := xmpp.NewStreamManager(client, func(c xmpp.Sender) {
		slog.Info("xmpp: connected", "jid", h.cfg.JID)
		h.mu.Lock()
		h.sender = c
		h.mu.Unlock()
		h.joinRooms(c)
	})

	stop := context.AfterFunc(ctx, sm.Stop)
	defer stop()

	err = sm.Run()
	if ctx.Err() != nil {
		return nil
	}
	if err == nil {
		err = errors.New("stream manager stopped")
	}
	return fmt.Errorf("xmpp: %w", err)
}

func (h *Handle) joinRooms(c xmpp.Sender) {
	for _, room := range h.rooms {
		join := stanza.Presence{
			Attrs:      stanza.Attrs{To: room + "/" + h.cfg.Nick},
			Extensions: []stanza.PresExtension{stanza.MucPresence{}},
		}
		if err := c.Send(join); err != nil {
			slog.Warn("xmpp: join failed", "room", room, "error", err)
		}
	}
}

func (h *Handle) handleGroupchat(ctx context.Context, msg stanza.Message, publish bus.PublishFunc) {
	if msg.Type != stanza.MessageTypeGroupchat || msg.Body == "" {
		return
	}
	// Replayed history and room subjects come without an id.
	if msg.Attrs.Id == "" {
		return
	}
	room, nick, ok := strings.Cut(msg.Attrs.From, "/")
	if !ok || nick == "" || nick == h.cfg.Nick {
		return
	}

	m := bus.New(bus.ChannelXMPP, nick, room, msg.Body, h.loc)
	m.MType = adapters.Classify(msg.Body, h.selfName)
	if err := publish(ctx, m); err != nil {
		slog.Warn("xmpp: publish failed", "error", err)
	}
}

// SendText sends one groupchat line, prefixed with the bridged sender.
func (h *Handle) SendText(ctx context.Context, target, content string, o *adapters.SendOptions) error {
	h.mu.Lock()
	c := h.sender
	h.mu.Unlock()
	if c == nil {
		return errors.New("xmpp: not connected")
	}

	line := content
	if o != nil && o.Sender != "" {
		line = adapters.FormatSender(o.Sender, content)
	}
	return c.Send(stanza.Message{
		Attrs: stanza.Attrs{To: target, Type: stanza.MessageTypeGroupchat},
		Body:  line,
	})
}

// SendPhoto is never reached: Capabilities reports no photo support.
func (h *Handle) SendPhoto(ctx context.Context, target string, data []byte, sender string) error {
	return errors.New("xmpp: photos not supported")
}
