// Package adapters defines the contract between the hub and the IM
// protocol bridges. Each adapter owns one network connection: its
// ReceiveLoop turns protocol events into bus messages for the hub, and
// its send primitives deliver hub-routed messages back out. The egress
// procedure shared by every adapter lives here too, so a protocol
// package only implements Tag, Capabilities, and the three verbs.
package adapters

import (
	"context"
	"strings"

	"github.com/tuna/fishroom/internal/bus"
	"github.com/tuna/fishroom/internal/command"
)

// Caps describes what an adapter's send side can do. The egress
// procedure degrades messages that exceed these.
type Caps struct {
	SupportsMultiline bool
	SupportsPhoto     bool
}

// SendOptions carries per-send rendering hints. A nil options pointer
// means a bare system line (events, notices) with no sender prefix.
type SendOptions struct {
	// Sender is the display name to prefix. Empty for bot and event
	// messages, which render without attribution.
	Sender string

	// First marks the first line of a line-split delivery. Reply
	// quotes are prepended only when First is set.
	First bool

	// ReplyTo and ReplyText describe the message being replied to,
	// for adapters that render quotes.
	ReplyTo   string
	ReplyText string

	// RichText holds the styled form of the content when the source
	// network had formatting worth carrying over.
	RichText bus.RichText

	// MType and MediaURL describe the message behind this send, so
	// markdown-speaking adapters can render re-hosted media inline
	// instead of as a bare URL.
	MType    bus.MType
	MediaURL string
}

// Adapter is one protocol bridge. Implementations live in the
// subpackages (irc, xmpp, telegram, ...) and are wired together by the
// Manager at startup.
//
// ReceiveLoop blocks until ctx ends or the connection fails fatally;
// transient errors are handled inside with reconnects. It publishes
// exactly one message per human-observable event, with channel, sender,
// receiver, date and time set. SendText and SendPhoto are best-effort:
// callers log failures and move on.
type Adapter interface {
	Tag() string
	Capabilities() Caps
	ReceiveLoop(ctx context.Context, publish bus.PublishFunc) error
	SendText(ctx context.Context, target, content string, o *SendOptions) error
	SendPhoto(ctx context.Context, target string, data []byte, sender string) error
}

// Classify returns Command when text invokes a registered command
// (optionally addressed to selfName), Text otherwise. Receive loops
// run every inbound text line through this.
func Classify(text, selfName string) bus.MType {
	if command.IsCommand(text, selfName) {
		return bus.Command
	}
	return bus.Text
}

// ParseBridged unpacks the "[nick] body" form that bridged messages
// carry on every network. Adapters use it to recover the original
// sender when rendering reply quotes.
func ParseBridged(content string) (nick, body string, ok bool) {
	if !strings.HasPrefix(content, "[") {
		return "", "", false
	}
	end := strings.Index(content, "] ")
	if end <= 1 {
		return "", "", false
	}
	return content[1:end], content[end+2:], true
}

// FormatSender renders the standard bridged prefix.
func FormatSender(sender, content string) string {
	if sender == "" {
		return content
	}
	return "[" + sender + "] " + content
}
