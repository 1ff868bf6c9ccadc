// Package bus defines the normalized message that every component
// exchanges, its wire codec, and the two pub/sub directions (ingress:
// adapters to hub, egress: hub to adapters) over the broker.
package bus

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// MType is the semantic type of a message.
type MType string

const (
	Text      MType = "text"
	Command   MType = "command"
	Photo     MType = "photo"
	Sticker   MType = "sticker"
	Animation MType = "animation"
	Video     MType = "video"
	Audio     MType = "audio"
	File      MType = "file"
	Location  MType = "location"
	Event     MType = "event"
)

// Adapter tags. Each adapter owns exactly one tag; "fishroom" marks
// hub/system messages and "api-<name>" prefixes API client posts.
const (
	ChannelIRC      = "irc"
	ChannelXMPP     = "xmpp"
	ChannelTelegram = "telegram"
	ChannelMatrix   = "matrix"
	ChannelGitter   = "gitter"
	ChannelWeChat   = "wechat"
	ChannelDiscord  = "discord"
	ChannelWeb      = "web"
	ChannelAPI      = "api"
	ChannelFishroom = "fishroom"
)

// Message is the sole transport unit between adapters, hub, stores, and
// the web surface.
//
// Content always carries the plain-text body; RichText, when present,
// concatenates to exactly Content. Room and Route are empty on ingress
// and filled by the hub before the egress publish.
type Message struct {
	Channel  string            `json:"channel"`
	Sender   string            `json:"sender"`
	Receiver string            `json:"receiver"`
	Content  string            `json:"content"`
	RichText RichText          `json:"rich_text,omitempty"`
	MType    MType             `json:"mtype"`
	MediaURL string            `json:"media_url,omitempty"`
	Date     string            `json:"date"`
	Time     string            `json:"time"`
	BotMsg   bool              `json:"botmsg,omitempty"`
	Room     string            `json:"room,omitempty"`
	Route    map[string]string `json:"route,omitempty"`
	Opt      *Option           `json:"opt,omitempty"`
}

// New builds a text message stamped with the current date and time in loc.
func New(channel, sender, receiver, content string, loc *time.Location) *Message {
	date, tm := NowDateTime(loc)
	return &Message{
		Channel:  channel,
		Sender:   sender,
		Receiver: receiver,
		Content:  content,
		MType:    Text,
		Date:     date,
		Time:     tm,
	}
}

// NowDateTime formats the current wall clock as the wire date and time
// fields (YYYY-MM-DD, HH:MM:SS).
func NowDateTime(loc *time.Location) (date, tm string) {
	return DateTime(time.Now().Unix(), loc)
}

// DateTime formats a unix timestamp as the wire date and time fields.
// Networks that stamp their own timestamps (telegram) go through this
// so the bridge clock and the network clock agree on the day boundary.
func DateTime(ts int64, loc *time.Location) (date, tm string) {
	if loc == nil {
		loc = time.Local
	}
	t := time.Unix(ts, 0).In(loc)
	return t.Format("2006-01-02"), t.Format("15:04:05")
}

// Encode serializes the message to its JSON wire form.
func (m *Message) Encode() ([]byte, error) {
	data, err := codec.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("bus: encode message: %w", err)
	}
	return data, nil
}

// Decode parses a wire payload back into a message.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := codec.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("bus: decode message: %w", err)
	}
	return &m, nil
}

// Marshal encodes v with the same codec the wire format uses. Stored
// side records (pastes, digests) go through this so their JSON stays
// byte-compatible with the messages around them.
func Marshal(v any) ([]byte, error) {
	return codec.Marshal(v)
}

// Unmarshal is the inverse of Marshal.
func Unmarshal(data []byte, v any) error {
	return codec.Unmarshal(data, v)
}

// String renders a short human form for logs.
func (m *Message) String() string {
	return fmt.Sprintf("[%s] %s -> %s: %s", m.Channel, m.Sender, m.Receiver, m.Content)
}

// TextURL reports the overflow paste URL, when the hub attached one.
func (m *Message) TextURL() string {
	if m.Opt == nil {
		return ""
	}
	return m.Opt.TextURL
}

// ErrorMessage is the sentinel yielded by a bus subscription when a
// payload cannot be decoded. The stream must keep flowing: the hub's
// liveness depends on it.
func ErrorMessage() *Message {
	return &Message{Channel: ChannelFishroom, Content: "Error", MType: Text}
}
