package matrix

import (
	"context"
	"testing"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/tuna/fishroom/internal/bus"
)

const lounge = "#lounge:example.org"

func testHandle() *Handle {
	h := &Handle{
		selfName:    "fishroom",
		loc:         time.UTC,
		userID:      id.UserID("@fishroom:example.org"),
		started:     1000,
		roomAlias:   map[id.RoomID]string{"!abc:example.org": lounge},
		aliasRoom:   map[string]id.RoomID{lounge: "!abc:example.org"},
		displayname: make(map[string]string),
	}
	h.lookupName = func(ctx context.Context, user id.UserID) string {
		return "Alice"
	}
	return h
}

func capture(msgs *[]*bus.Message) bus.PublishFunc {
	return func(ctx context.Context, m *bus.Message) error {
		*msgs = append(*msgs, m)
		return nil
	}
}

func textEvent(sender id.UserID, room id.RoomID, body string) *event.Event {
	return &event.Event{
		Sender:    sender,
		RoomID:    room,
		Timestamp: 1456148400000,
		Type:      event.EventMessage,
		Content: event.Content{
			Parsed: &event.MessageEventContent{MsgType: event.MsgText, Body: body},
		},
	}
}

func TestHandleEvent(t *testing.T) {
	h := testHandle()
	var msgs []*bus.Message

	h.handleEvent(context.Background(), textEvent("@alice:example.org", "!abc:example.org", "hello"), capture(&msgs))

	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.Channel != bus.ChannelMatrix || m.Sender != "Alice" || m.Receiver != lounge {
		t.Fatalf("bad header: %+v", m)
	}
	if m.Content != "hello" || m.MType != bus.Text {
		t.Fatalf("bad body: content=%q mtype=%q", m.Content, m.MType)
	}
	if m.Date != "2016-02-22" {
		t.Fatalf("date not taken from the event timestamp: %q", m.Date)
	}
	if m.Opt == nil || m.Opt.MatrixUser != "@alice:example.org" {
		t.Fatalf("matrix_user opt missing: %+v", m.Opt)
	}
}

func TestHandleEventSkipsOwnUser(t *testing.T) {
	h := testHandle()
	var msgs []*bus.Message

	h.handleEvent(context.Background(), textEvent("@fishroom:example.org", "!abc:example.org", "echo"), capture(&msgs))

	if len(msgs) != 0 {
		t.Fatalf("own events must not loop back, got %d", len(msgs))
	}
}

func TestHandleEventSkipsHistory(t *testing.T) {
	h := testHandle()
	h.started = time.Now().UnixMilli()
	var msgs []*bus.Message

	evt := textEvent("@alice:example.org", "!abc:example.org", "old news")
	evt.Timestamp = h.started - 60_000
	h.handleEvent(context.Background(), evt, capture(&msgs))

	if len(msgs) != 0 {
		t.Fatalf("events from before startup must be dropped, got %d", len(msgs))
	}
}

func TestHandleEventSkipsUnboundRoom(t *testing.T) {
	h := testHandle()
	var msgs []*bus.Message

	h.handleEvent(context.Background(), textEvent("@alice:example.org", "!other:example.org", "hi"), capture(&msgs))

	if len(msgs) != 0 {
		t.Fatalf("unbound rooms must be dropped, got %d", len(msgs))
	}
}

func TestHandleEventCommand(t *testing.T) {
	h := testHandle()
	var msgs []*bus.Message

	h.handleEvent(context.Background(), textEvent("@alice:example.org", "!abc:example.org", "/help"), capture(&msgs))

	if len(msgs) != 1 || msgs[0].MType != bus.Command {
		t.Fatalf("expected a command message, got %+v", msgs)
	}
}

func TestHandleEventImageWithoutUploader(t *testing.T) {
	h := testHandle()
	var msgs []*bus.Message

	evt := textEvent("@alice:example.org", "!abc:example.org", "")
	evt.Content.Parsed = &event.MessageEventContent{
		MsgType: event.MsgImage,
		Body:    "cat.jpg",
		URL:     "mxc://example.org/abcdef",
	}
	h.handleEvent(context.Background(), evt, capture(&msgs))

	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.MType != bus.Photo || m.Content != "cat.jpg (photo)" || m.MediaURL != "" {
		t.Fatalf("degraded image line wrong: %+v", m)
	}
}

func TestHandleEventSkipsNonMessageContent(t *testing.T) {
	h := testHandle()
	var msgs []*bus.Message

	evt := textEvent("@alice:example.org", "!abc:example.org", "")
	evt.Content.Parsed = nil
	h.handleEvent(context.Background(), evt, capture(&msgs))

	if len(msgs) != 0 {
		t.Fatalf("unparsed events must be dropped, got %d", len(msgs))
	}
}

func TestDisplayNameCachedPerRoom(t *testing.T) {
	h := testHandle()
	calls := 0
	h.lookupName = func(ctx context.Context, user id.UserID) string {
		calls++
		return "Alice"
	}

	ctx := context.Background()
	h.displayName(ctx, "!abc:example.org", "@alice:example.org")
	h.displayName(ctx, "!abc:example.org", "@alice:example.org")
	if calls != 1 {
		t.Fatalf("lookup ran %d times, want 1", calls)
	}

	h.displayName(ctx, "!other:example.org", "@alice:example.org")
	if calls != 2 {
		t.Fatalf("a new room must trigger a fresh lookup, got %d calls", calls)
	}
}

func TestDisplayNameFallsBackToUserID(t *testing.T) {
	h := testHandle()
	h.lookupName = func(ctx context.Context, user id.UserID) string { return "" }

	got := h.displayName(context.Background(), "!abc:example.org", "@bob:example.org")
	if got != "@bob:example.org" {
		t.Fatalf("got %q", got)
	}
}

func TestSendTextNotJoined(t *testing.T) {
	h := testHandle()
	err := h.SendText(context.Background(), "#nowhere:example.org", "hi", nil)
	if err == nil {
		t.Fatal("expected an error for an unjoined room")
	}
}
