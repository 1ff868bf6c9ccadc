package telegram

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mymmrac/telego"
	"github.com/redis/go-redis/v9"

	"github.com/tuna/fishroom/internal/broker"
	"github.com/tuna/fishroom/internal/bus"
	"github.com/tuna/fishroom/internal/config"
	"github.com/tuna/fishroom/internal/store"
)

func testHandle(t *testing.T) *Handle {
	t.Helper()
	mr := miniredis.RunT(t)
	client := broker.WithRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "fishroom")
	return &Handle{
		cfg:       config.TelegramConfig{Token: "123456:TESTTOKEN"},
		selfName:  "fishroom",
		loc:       time.UTC,
		nicks:     store.NewNickStore(client),
		stickers:  store.NewStickerCache(client),
		blacklist: map[string]bool{"666": true},
		replies:   newReplyCache(8),
	}
}

func capture(msgs *[]*bus.Message) bus.PublishFunc {
	return func(ctx context.Context, m *bus.Message) error {
		*msgs = append(*msgs, m)
		return nil
	}
}

func textMessage(userID int64, username, text string) *telego.Message {
	return &telego.Message{
		MessageID: 77,
		From:      &telego.User{ID: userID, Username: username, FirstName: "Alice"},
		Chat:      telego.Chat{ID: -100123, Type: "supergroup"},
		Date:      1456148400,
		Text:      text,
	}
}

func TestHandleMessage(t *testing.T) {
	h := testHandle(t)
	var msgs []*bus.Message

	h.handleMessage(context.Background(), textMessage(42, "alice", "hello"), capture(&msgs))

	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.Channel != bus.ChannelTelegram || m.Sender != "alice" || m.Receiver != "-100123" {
		t.Fatalf("bad header: %+v", m)
	}
	if m.Content != "hello" || m.MType != bus.Text {
		t.Fatalf("bad body: content=%q mtype=%q", m.Content, m.MType)
	}
	if m.Date != "2016-02-22" {
		t.Fatalf("date not taken from the update timestamp: %q", m.Date)
	}
	if m.Opt == nil || m.Opt.MsgID != 77 || m.Opt.Username != "alice" {
		t.Fatalf("bad opt: %+v", m.Opt)
	}
}

func TestHandleMessageNickFallback(t *testing.T) {
	h := testHandle(t)
	var msgs []*bus.Message

	h.handleMessage(context.Background(), textMessage(42, "", "hi"), capture(&msgs))

	if len(msgs) != 1 || msgs[0].Sender != "tg-42" {
		t.Fatalf("expected the tg-<id> fallback nick, got %+v", msgs)
	}
}

func TestHandleMessageStoredNickWins(t *testing.T) {
	h := testHandle(t)
	ctx := context.Background()
	if err := h.nicks.SetNickname(ctx, 42, "queen"); err != nil {
		t.Fatal(err)
	}
	var msgs []*bus.Message

	h.handleMessage(ctx, textMessage(42, "alice", "hi"), capture(&msgs))

	if len(msgs) != 1 || msgs[0].Sender != "queen" {
		t.Fatalf("stored nick must override the username hint, got %+v", msgs)
	}
}

func TestHandleMessageBlacklist(t *testing.T) {
	h := testHandle(t)
	var msgs []*bus.Message

	h.handleMessage(context.Background(), textMessage(666, "spammer", "buy now"), capture(&msgs))

	if len(msgs) != 0 {
		t.Fatalf("blacklisted user ids must be dropped, got %d", len(msgs))
	}
}

func TestHandleMessageCommand(t *testing.T) {
	h := testHandle(t)
	var msgs []*bus.Message

	h.handleMessage(context.Background(), textMessage(42, "alice", "/help"), capture(&msgs))

	if len(msgs) != 1 || msgs[0].MType != bus.Command {
		t.Fatalf("expected a command message, got %+v", msgs)
	}
}

func TestHandleMessageReplyToBridgedLine(t *testing.T) {
	h := testHandle(t)
	var msgs []*bus.Message

	msg := textMessage(42, "alice", "agreed")
	msg.ReplyToMessage = &telego.Message{
		From: &telego.User{ID: 1000, Username: "fishroom_bot", IsBot: true},
		Text: "[bob] shall we deploy?",
	}
	h.handleMessage(context.Background(), msg, capture(&msgs))

	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	opt := msgs[0].Opt
	if opt == nil || opt.ReplyTo != "bob" || opt.ReplyText != "shall we deploy?" {
		t.Fatalf("bridged reply not unpacked: %+v", opt)
	}
}

func TestHandleMessageReplyToHuman(t *testing.T) {
	h := testHandle(t)
	var msgs []*bus.Message

	msg := textMessage(42, "alice", "sounds good")
	msg.ReplyToMessage = &telego.Message{
		From: &telego.User{ID: 43, Username: "bob"},
		Text: "lunch?",
	}
	h.handleMessage(context.Background(), msg, capture(&msgs))

	opt := msgs[0].Opt
	if opt == nil || opt.ReplyTo != "bob" || opt.ReplyText != "lunch?" {
		t.Fatalf("human reply not recorded: %+v", opt)
	}
}

func TestHandleMessageForward(t *testing.T) {
	h := testHandle(t)
	var msgs []*bus.Message

	msg := textMessage(42, "alice", "check this out")
	msg.ForwardOrigin = &telego.MessageOriginUser{
		SenderUser: telego.User{FirstName: "Carol", LastName: "Chan"},
	}
	h.handleMessage(context.Background(), msg, capture(&msgs))

	want := "check this out <forwarded from Carol Chan>"
	if len(msgs) != 1 || msgs[0].Content != want {
		t.Fatalf("forward suffix missing: %+v", msgs)
	}
}

func TestResolveContentEvent(t *testing.T) {
	h := testHandle(t)

	msg := textMessage(42, "alice", "")
	msg.NewChatTitle = "fish tank"
	content, mtype, _ := h.resolveContent(context.Background(), msg)

	if mtype != bus.Event || content != "Alice changed group name to fish tank" {
		t.Fatalf("got %q (%s)", content, mtype)
	}
}

func TestResolveContentDocument(t *testing.T) {
	h := testHandle(t)

	msg := textMessage(42, "alice", "")
	msg.Document = &telego.Document{FileID: "f1", FileName: "notes.txt"}
	msg.Caption = "meeting notes"
	content, mtype, _ := h.resolveContent(context.Background(), msg)

	if mtype != bus.File || content != "(file: notes.txt) meeting notes" {
		t.Fatalf("got %q (%s)", content, mtype)
	}
}

func TestResolveContentLocation(t *testing.T) {
	h := testHandle(t)

	msg := textMessage(42, "alice", "")
	msg.Location = &telego.Location{Latitude: 39.99704, Longitude: 116.32637}
	content, mtype, _ := h.resolveContent(context.Background(), msg)

	if mtype != bus.Location || !strings.Contains(content, "39.99704") {
		t.Fatalf("got %q (%s)", content, mtype)
	}
}

func TestResolveContentServiceMessageSkipped(t *testing.T) {
	h := testHandle(t)

	msg := textMessage(42, "alice", "")
	msg.NewChatMembers = []telego.User{{ID: 99, FirstName: "Dave"}}
	content, _, _ := h.resolveContent(context.Background(), msg)

	if content != "" {
		t.Fatalf("service messages must produce no bridge line, got %q", content)
	}
}

func TestResolveContentUnsupported(t *testing.T) {
	h := testHandle(t)

	msg := textMessage(42, "alice", "")
	msg.Contact = &telego.Contact{PhoneNumber: "555", FirstName: "Dave"}
	content, mtype, _ := h.resolveContent(context.Background(), msg)

	if content != "(unsupported message type)" || mtype != bus.Text {
		t.Fatalf("got %q (%s)", content, mtype)
	}
}

func TestResolveContentPhotoWithoutUploader(t *testing.T) {
	h := testHandle(t)

	msg := textMessage(42, "alice", "")
	msg.Photo = []telego.PhotoSize{{FileID: "small"}, {FileID: "big"}}
	content, mtype, mediaURL := h.resolveContent(context.Background(), msg)

	if mtype != bus.Photo || content != "(photo)" || mediaURL != "" {
		t.Fatalf("got %q (%s) url=%q", content, mtype, mediaURL)
	}
}

func TestReplyCacheEviction(t *testing.T) {
	c := newReplyCache(2)
	c.put("a", 1)
	c.put("b", 2)
	c.put("c", 3)

	if _, ok := c.get("a"); ok {
		t.Fatal("oldest entry should have been evicted")
	}
	if id, ok := c.get("c"); !ok || id != 3 {
		t.Fatalf("newest entry missing: %d %v", id, ok)
	}
}

func TestReplyCacheUpdateKeepsSize(t *testing.T) {
	c := newReplyCache(2)
	c.put("a", 1)
	c.put("a", 9)
	c.put("b", 2)

	if id, ok := c.get("a"); !ok || id != 9 {
		t.Fatalf("update lost: %d %v", id, ok)
	}
}

func TestReplyKeyFirstLineOnly(t *testing.T) {
	k1 := replyKey("42", "alice", "hello\nworld")
	k2 := replyKey("42", "alice", "hello\nthere")
	if k1 != k2 {
		t.Fatal("reply keys must only depend on the first line")
	}
}
