package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"

	"github.com/tuna/fishroom/internal/adapters"
	"github.com/tuna/fishroom/internal/bus"
)

// handleMessage normalizes one incoming Telegram message and publishes
// it on the ingress bus.
func (h *Handle) handleMessage(ctx context.Context, msg *telego.Message, publish bus.PublishFunc) {
	user := msg.From
	if user == nil {
		return
	}
	if h.blacklist[strconv.FormatInt(user.ID, 10)] {
		return
	}

	content, mtype, mediaURL := h.resolveContent(ctx, msg)
	if content == "" {
		return
	}
	if msg.ForwardOrigin != nil {
		content += forwardSuffix(msg.ForwardOrigin)
	}

	nick := h.nicks.Nickname(ctx, user.ID, user.Username)
	receiver := strconv.FormatInt(msg.Chat.ID, 10)

	m := bus.New(bus.ChannelTelegram, nick, receiver, content, h.loc)
	m.MType = mtype
	m.MediaURL = mediaURL
	if mtype == bus.Text {
		m.MType = adapters.Classify(content, h.selfName)
	}
	if msg.Date > 0 {
		m.Date, m.Time = bus.DateTime(msg.Date, h.loc)
	}

	opt := &bus.Option{MsgID: int64(msg.MessageID)}
	if user.Username != "" {
		opt.Username = user.Username
	}
	if msg.ReplyToMessage != nil {
		h.fillReply(ctx, opt, msg.ReplyToMessage)
	}
	m.Opt = opt

	h.replies.put(replyKey(receiver, nick, content), msg.MessageID)

	if err := publish(ctx, m); err != nil {
		slog.Warn("telegram: publish failed", "error", err)
	}
}

// fillReply records who and what this message replies to. Replies to
// our own bridged lines unpack the original sender from the
// "[nick] body" form; replies to humans use their stored nickname.
func (h *Handle) fillReply(ctx context.Context, opt *bus.Option, r *telego.Message) {
	text := r.Text
	if text == "" {
		text = r.Caption
	}
	if r.From == nil || text == "" {
		return
	}
	if r.From.IsBot {
		if nick, body, ok := adapters.ParseBridged(text); ok {
			opt.ReplyTo, opt.ReplyText = nick, body
			return
		}
	}
	opt.ReplyTo = h.nicks.Nickname(ctx, r.From.ID, r.From.Username)
	opt.ReplyText = text
}

func forwardSuffix(origin telego.MessageOrigin) string {
	switch o := origin.(type) {
	case *telego.MessageOriginUser:
		return " <forwarded from " + displayName(&o.SenderUser) + ">"
	case *telego.MessageOriginHiddenUser:
		return " <forwarded from " + o.SenderUserName + ">"
	case *telego.MessageOriginChat:
		return " <forwarded from " + o.SenderChat.Title + ">"
	case *telego.MessageOriginChannel:
		return " <forwarded from " + o.Chat.Title + ">"
	}
	return ""
}

func displayName(u *telego.User) string {
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	return strings.TrimSpace(name)
}

// resolveContent maps the message payload to bridge content, an mtype,
// and the re-hosted media URL when there is one.
func (h *Handle) resolveContent(ctx context.Context, msg *telego.Message) (string, bus.MType, string) {
	switch {
	case msg.Text != "":
		return msg.Text, bus.Text, ""

	case len(msg.Photo) > 0:
		// Sizes are ordered small to large; take the best one.
		return h.photoContent(ctx, msg.Photo[len(msg.Photo)-1].FileID, msg.Caption)

	case msg.Sticker != nil:
		return h.stickerContent(ctx, msg.Sticker.FileID)

	case msg.NewChatTitle != "":
		content := fmt.Sprintf("%s changed group name to %s", displayName(msg.From), msg.NewChatTitle)
		return content, bus.Event, ""

	case msg.Document != nil:
		name := msg.Document.FileName
		if name == "" {
			name = "unnamed"
		}
		return withCaption(fmt.Sprintf("(file: %s)", name), msg.Caption), bus.File, ""

	case msg.Audio != nil, msg.Voice != nil:
		return withCaption("(audio message)", msg.Caption), bus.Audio, ""

	case msg.Video != nil, msg.VideoNote != nil:
		return withCaption("(video message)", msg.Caption), bus.Video, ""

	case msg.Animation != nil:
		return withCaption("(GIF)", msg.Caption), bus.Animation, ""

	case msg.Location != nil:
		content := fmt.Sprintf("(location: %.5f, %.5f)", msg.Location.Latitude, msg.Location.Longitude)
		return content, bus.Location, ""

	default:
		// Joins, leaves, pins and the other service noise carry no
		// user content and are not worth a bridge line.
		if msg.Contact == nil && msg.Venue == nil && msg.Poll == nil && msg.Dice == nil {
			return "", bus.Text, ""
		}
		return "(unsupported message type)", bus.Text, ""
	}
}

func withCaption(placeholder, caption string) string {
	if caption == "" {
		return placeholder
	}
	return placeholder + " " + caption
}
