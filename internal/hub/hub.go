// Package hub is the routing engine: the single consumer of the ingress
// bus. It resolves each message to a room, fans out to API clients,
// appends to the chat log, dispatches commands, off-loads overlong text,
// and publishes the routed message on the egress bus.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tuna/fishroom/internal/bus"
	"github.com/tuna/fishroom/internal/command"
	"github.com/tuna/fishroom/internal/config"
	"github.com/tuna/fishroom/internal/store"
	"github.com/tuna/fishroom/internal/textstore"
)

// Overflow thresholds. A message over either limit is off-loaded to the
// text store before egress so line-oriented targets get one short line.
const (
	overflowNewlines = 5
	overflowBytes    = 400
)

// Filter runs on every ingress message before routing and may mutate it
// (the imglink filter rewrites bare image URLs into photo messages).
type Filter func(ctx context.Context, m *bus.Message)

// Hub routes messages between the two bus directions. It must be the
// only ingress consumer in the deployment: chat-log indices, command
// replies, and bot-message re-injection all assume sequential
// processing.
type Hub struct {
	cfg     *config.Config
	ingress *bus.Bus
	egress  *bus.Bus
	chatLog *store.ChatLog
	clients *store.APIClientRegistry
	pastes  textstore.Store
	filters []Filter
	tracer  trace.Tracer
}

// New wires the hub to its collaborators. Filters run in order on every
// ingress message.
func New(cfg *config.Config, ingress, egress *bus.Bus, chatLog *store.ChatLog,
	clients *store.APIClientRegistry, pastes textstore.Store, filters ...Filter) *Hub {
	return &Hub{
		cfg:     cfg,
		ingress: ingress,
		egress:  egress,
		chatLog: chatLog,
		clients: clients,
		pastes:  pastes,
		filters: filters,
		tracer:  otel.Tracer("fishroom/hub"),
	}
}

// Run consumes the ingress stream until ctx is cancelled. A dead
// subscription is fatal; per-message failures are logged and the loop
// keeps going.
func (h *Hub) Run(ctx context.Context) error {
	stream, err := h.ingress.Subscribe(ctx)
	if err != nil {
		return err
	}

	slog.Info("hub started")
	for m := range stream {
		h.process(ctx, m)
	}

	if ctx.Err() != nil {
		slog.Info("hub stopped")
		return nil
	}
	return errors.New("hub: ingress subscription closed")
}

// process runs the full pipeline for one message. Order matters: the
// chat-log index is captured before command dispatch so overflow links
// point at the triggering message, and command replies re-enter through
// ingress so they are logged and fanned out like any other message.
func (h *Hub) process(ctx context.Context, m *bus.Message) {
	ctx, span := h.tracer.Start(ctx, "hub.route", trace.WithAttributes(
		attribute.String("channel", m.Channel),
		attribute.String("mtype", string(m.MType)),
	))
	defer span.End()

	for _, f := range h.filters {
		f(ctx, m)
	}

	room, binding := h.resolveRoom(m)
	if binding == nil {
		slog.Debug("hub: no binding, dropping",
			"channel", m.Channel, "receiver", m.Receiver, "room", m.Room)
		return
	}
	m.Room = room
	span.SetAttributes(attribute.String("room", room))

	if err := h.clients.Publish(ctx, m); err != nil {
		slog.Warn("hub: api client fan-out failed", "error", err)
	}

	logID, err := h.chatLog.Log(ctx, room, m)
	if err != nil {
		slog.Error("hub: chat log append failed", "room", room, "error", err)
		return
	}

	if m.MType == bus.Command {
		h.dispatchCommand(ctx, m, room)
	}

	if m.MType != bus.Event && overflows(m.Content) {
		url, err := h.pastes.NewPaste(ctx, m, logID)
		if err != nil {
			slog.Error("hub: text overflow paste failed", "room", room, "error", err)
			return
		}
		if m.Opt == nil {
			m.Opt = &bus.Option{}
		}
		m.Opt.TextURL = url
	}

	m.Route = h.cfg.Bindings[room]
	if err := h.egress.Publish(ctx, m); err != nil {
		slog.Error("hub: egress publish failed", "room", room, "error", err)
	}
}

// resolveRoom maps the message onto a configured room. A pre-set room
// (API posts) skips the reverse lookup but still must name a binding.
func (h *Hub) resolveRoom(m *bus.Message) (string, config.RoomBinding) {
	if m.Room != "" {
		return m.Room, h.cfg.Bindings[m.Room]
	}
	if m.Receiver == "" {
		return "", nil
	}
	tag := strings.ToLower(m.Channel)
	for _, room := range h.cfg.RoomNames() {
		b := h.cfg.Bindings[room]
		if b[tag] == m.Receiver {
			return room, b
		}
	}
	return "", nil
}

// dispatchCommand parses and runs a command message. Unparseable or
// unregistered commands demote to plain text; a handler error is logged
// and the message continues through the pipeline without a reply.
func (h *Hub) dispatchCommand(ctx context.Context, m *bus.Message, room string) {
	name, args, err := command.Parse(m.Content, h.cfg.Name)
	if err != nil {
		m.MType = bus.Text
		return
	}
	handler, ok := command.Lookup(name)
	if !ok {
		m.MType = bus.Text
		return
	}

	reply, err := handler.Func(ctx, &command.Request{Cmd: name, Args: args, Msg: m, Room: room})
	if err != nil {
		slog.Error("hub: command handler failed", "cmd", name, "room", room, "error", err)
		return
	}
	if reply == "" {
		return
	}

	// The reply circles back through ingress so it is logged and reaches
	// every bound adapter, the originating one included.
	botMsg := &bus.Message{
		Channel:  m.Channel,
		Sender:   h.cfg.Name,
		Receiver: m.Receiver,
		Content:  reply,
		MType:    bus.Text,
		Date:     m.Date,
		Time:     m.Time,
		BotMsg:   true,
		Room:     room,
	}
	if err := h.ingress.Publish(ctx, botMsg); err != nil {
		slog.Error("hub: bot reply publish failed", "cmd", name, "error", err)
	}
}

// overflows reports whether content needs the long-text off-load.
func overflows(content string) bool {
	return strings.Count(content, "\n") > overflowNewlines || len(content) >= overflowBytes
}
