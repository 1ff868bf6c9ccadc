package xmpp

import (
	"context"
	"testing"
	"time"

	"gosrc.io/xmpp/stanza"

	"github.com/tuna/fishroom/internal/bus"
	"github.com/tuna/fishroom/internal/config"
)

func testHandle() *Handle {
	cfg := config.XMPPConfig{
		Server:   "xmpp.example.net",
		Port:     5222,
		JID:      "fishroom@example.net",
		Password: "hunter2",
		Nick:     "fishroom",
	}
	return New(cfg, "fishroom", []string{"lounge@conference.example.net"}, time.UTC)
}

func capture(msgs *[]*bus.Message) bus.PublishFunc {
	return func(ctx context.Context, m *bus.Message) error {
		*msgs = append(*msgs, m)
		return nil
	}
}

func groupchat(from, id, body string) stanza.Message {
	return stanza.Message{
		Attrs: stanza.Attrs{
			From: from,
			Id:   id,
			Type: stanza.MessageTypeGroupchat,
		},
		Body: body,
	}
}

func TestHandleGroupchat(t *testing.T) {
	h := testHandle()
	var msgs []*bus.Message

	h.handleGroupchat(context.Background(), groupchat("lounge@conference.example.net/alice", "m1", "hello"), capture(&msgs))

	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.Channel != bus.ChannelXMPP || m.Sender != "alice" || m.Receiver != "lounge@conference.example.net" {
		t.Fatalf("bad header: %+v", m)
	}
	if m.Content != "hello" || m.MType != bus.Text {
		t.Fatalf("bad body: content=%q mtype=%q", m.Content, m.MType)
	}
	if m.Date == "" || m.Time == "" {
		t.Fatal("message not timestamped")
	}
}

func TestHandleGroupchatSkipsOwnNick(t *testing.T) {
	h := testHandle()
	var msgs []*bus.Message

	h.handleGroupchat(context.Background(), groupchat("lounge@conference.example.net/fishroom", "m2", "echo"), capture(&msgs))

	if len(msgs) != 0 {
		t.Fatalf("own messages must not loop back, got %d", len(msgs))
	}
}

func TestHandleGroupchatSkipsHistory(t *testing.T) {
	h := testHandle()
	var msgs []*bus.Message

	h.handleGroupchat(context.Background(), groupchat("lounge@conference.example.net/alice", "", "old news"), capture(&msgs))

	if len(msgs) != 0 {
		t.Fatalf("id-less history replay must be dropped, got %d", len(msgs))
	}
}

func TestHandleGroupchatSkipsDirectMessages(t *testing.T) {
	h := testHandle()
	var msgs []*bus.Message

	direct := groupchat("alice@example.net/desktop", "m3", "psst")
	direct.Type = stanza.MessageTypeChat
	h.handleGroupchat(context.Background(), direct, capture(&msgs))

	if len(msgs) != 0 {
		t.Fatalf("non-groupchat messages must be dropped, got %d", len(msgs))
	}
}

func TestHandleGroupchatSkipsBareRoomJID(t *testing.T) {
	h := testHandle()
	var msgs []*bus.Message

	h.handleGroupchat(context.Background(), groupchat("lounge@conference.example.net", "m4", "system notice"), capture(&msgs))

	if len(msgs) != 0 {
		t.Fatalf("messages without a nick resource must be dropped, got %d", len(msgs))
	}
}

func TestSendTextNotConnected(t *testing.T) {
	h := testHandle()
	err := h.SendText(context.Background(), "lounge@conference.example.net", "hi", nil)
	if err == nil {
		t.Fatal("expected an error before the stream is up")
	}
}
