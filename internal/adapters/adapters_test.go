package adapters

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/tuna/fishroom/internal/broker"
	"github.com/tuna/fishroom/internal/bus"
)

type sentText struct {
	target  string
	content string
	opts    *SendOptions
}

type sentPhoto struct {
	target string
	data   []byte
	sender string
}

type fakeAdapter struct {
	tag  string
	caps Caps

	mu      sync.Mutex
	texts   []sentText
	photos  []sentPhoto
	textErr error

	receive func(ctx context.Context, publish bus.PublishFunc) error
}

func (f *fakeAdapter) Tag() string {
	if f.tag == "" {
		return "fake"
	}
	return f.tag
}

func (f *fakeAdapter) Capabilities() Caps { return f.caps }

func (f *fakeAdapter) ReceiveLoop(ctx context.Context, publish bus.PublishFunc) error {
	if f.receive != nil {
		return f.receive(ctx, publish)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeAdapter) SendText(ctx context.Context, target, content string, o *SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o != nil {
		copied := *o
		o = &copied
	}
	f.texts = append(f.texts, sentText{target: target, content: content, opts: o})
	return f.textErr
}

func (f *fakeAdapter) SendPhoto(ctx context.Context, target string, data []byte, sender string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.photos = append(f.photos, sentPhoto{target: target, data: data, sender: sender})
	return nil
}

func (f *fakeAdapter) sentTexts() []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentText, len(f.texts))
	copy(out, f.texts)
	return out
}

func (f *fakeAdapter) sentPhotos() []sentPhoto {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentPhoto, len(f.photos))
	copy(out, f.photos)
	return out
}

func routedMessage(content string) *bus.Message {
	return &bus.Message{
		Channel: "telegram", Sender: "alice", Receiver: "42",
		Content: content, MType: bus.Text,
		Date: "2016-05-14", Time: "20:03:41",
		Room:  "lounge",
		Route: map[string]string{"irc": "#l", "telegram": "42", "fake": "f1"},
	}
}

func TestParseBridged(t *testing.T) {
	tests := []struct {
		in         string
		nick, body string
		ok         bool
	}{
		{"[alice] hello there", "alice", "hello there", true},
		{"[alice] ", "alice", "", true},
		{"no brackets at all", "", "", false},
		{"[] empty nick", "", "", false},
		{"[unterminated hello", "", "", false},
		{"mid [alice] sentence", "", "", false},
	}
	for _, tt := range tests {
		nick, body, ok := ParseBridged(tt.in)
		if nick != tt.nick || body != tt.body || ok != tt.ok {
			t.Errorf("ParseBridged(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.in, nick, body, ok, tt.nick, tt.body, tt.ok)
		}
	}
}

func TestFormatSender(t *testing.T) {
	if got := FormatSender("alice", "hi"); got != "[alice] hi" {
		t.Errorf("FormatSender() = %q", got)
	}
	if got := FormatSender("", "hi"); got != "hi" {
		t.Errorf("FormatSender() with empty sender = %q, want bare content", got)
	}
}

// TestDeliverable: every message an adapter would send satisfies
// botmsg or channel != tag, and the target comes from the route.
func TestDeliverable(t *testing.T) {
	a := &fakeAdapter{tag: "telegram"}

	tests := []struct {
		name   string
		mutate func(m *bus.Message)
		target string
		ok     bool
	}{
		{"bound other-network message", func(m *bus.Message) { m.Channel = "irc" }, "42", true},
		{"no route", func(m *bus.Message) { m.Route = nil }, "", false},
		{"tag not in route", func(m *bus.Message) { delete(m.Route, "telegram") }, "", false},
		{"own traffic", func(m *bus.Message) {}, "", false},
		{"own bot traffic", func(m *bus.Message) { m.BotMsg = true }, "42", true},
	}
	for _, tt := range tests {
		m := routedMessage("hi")
		tt.mutate(m)
		target, ok := Deliverable(a, m)
		if target != tt.target || ok != tt.ok {
			t.Errorf("%s: Deliverable() = (%q, %v), want (%q, %v)",
				tt.name, target, ok, tt.target, tt.ok)
		}
	}
}

// TestForwardLineSplit: single-line networks get one send per non-blank
// line, sender attached, First only on the leading line.
func TestForwardLineSplit(t *testing.T) {
	a := &fakeAdapter{}
	m := routedMessage("one\n\n   \ntwo\nthree")

	ForwardFromHub(context.Background(), a, m)

	texts := a.sentTexts()
	if len(texts) != 3 {
		t.Fatalf("sent %d lines, want 3 (blanks dropped): %+v", len(texts), texts)
	}
	wantLines := []string{"one", "two", "three"}
	for i, sent := range texts {
		if sent.target != "f1" {
			t.Errorf("line %d target = %q, want f1", i, sent.target)
		}
		if sent.content != wantLines[i] {
			t.Errorf("line %d content = %q, want %q", i, sent.content, wantLines[i])
		}
		if sent.opts == nil || sent.opts.Sender != "alice" {
			t.Errorf("line %d sender opts = %+v, want alice", i, sent.opts)
		}
		if got, want := sent.opts.First, i == 0; got != want {
			t.Errorf("line %d First = %v, want %v", i, got, want)
		}
	}
}

// TestForwardMultiline: multiline-capable adapters get the whole
// content in one send.
func TestForwardMultiline(t *testing.T) {
	a := &fakeAdapter{caps: Caps{SupportsMultiline: true}}
	m := routedMessage("one\ntwo\nthree")

	ForwardFromHub(context.Background(), a, m)

	texts := a.sentTexts()
	if len(texts) != 1 || texts[0].content != "one\ntwo\nthree" {
		t.Fatalf("sent %+v, want one full-content send", texts)
	}
	if !texts[0].opts.First {
		t.Error("single multiline send should carry First")
	}
}

// TestForwardTextURL: when the hub attached a paste URL, single-line
// networks send exactly one pointer line instead of the content.
func TestForwardTextURL(t *testing.T) {
	a := &fakeAdapter{}
	m := routedMessage(strings.Repeat("x", 500))
	m.Opt = &bus.Option{TextURL: "https://fish.example.com/text/8f2a"}

	ForwardFromHub(context.Background(), a, m)

	texts := a.sentTexts()
	if len(texts) != 1 {
		t.Fatalf("sent %d messages, want 1", len(texts))
	}
	if want := "https://fish.example.com/text/8f2a (long text)"; texts[0].content != want {
		t.Errorf("content = %q, want %q", texts[0].content, want)
	}
}

// TestForwardEvent: events go out as a bare system line.
func TestForwardEvent(t *testing.T) {
	a := &fakeAdapter{}
	m := routedMessage("bob joined the room")
	m.MType = bus.Event
	m.Sender = "bob"

	ForwardFromHub(context.Background(), a, m)

	texts := a.sentTexts()
	if len(texts) != 1 || texts[0].opts != nil {
		t.Fatalf("event sent as %+v, want one send with nil options", texts)
	}
}

// TestForwardBotMsg: bot messages render without a sender prefix.
func TestForwardBotMsg(t *testing.T) {
	a := &fakeAdapter{}
	m := routedMessage("pong")
	m.BotMsg = true
	m.Sender = "fishroom"

	ForwardFromHub(context.Background(), a, m)

	texts := a.sentTexts()
	if len(texts) != 1 {
		t.Fatalf("sent %d messages, want 1", len(texts))
	}
	if texts[0].opts == nil || texts[0].opts.Sender != "" {
		t.Errorf("bot message opts = %+v, want empty sender", texts[0].opts)
	}
}

// TestForwardReplyOptions: reply fields ride along on the first line only.
func TestForwardReplyOptions(t *testing.T) {
	a := &fakeAdapter{}
	m := routedMessage("sure\nwill do")
	m.Opt = &bus.Option{ReplyTo: "bob", ReplyText: "can you deploy?"}

	ForwardFromHub(context.Background(), a, m)

	texts := a.sentTexts()
	if len(texts) != 2 {
		t.Fatalf("sent %d lines, want 2", len(texts))
	}
	for i, sent := range texts {
		if sent.opts.ReplyTo != "bob" || sent.opts.ReplyText != "can you deploy?" {
			t.Errorf("line %d reply opts = %+v", i, sent.opts)
		}
	}
	if !texts[0].opts.First || texts[1].opts.First {
		t.Error("First must be set on the leading line only")
	}
}

// TestForwardSendFailureKeepsGoing: a failing send must not abort the
// remaining lines.
func TestForwardSendFailureKeepsGoing(t *testing.T) {
	a := &fakeAdapter{textErr: errors.New("socket gone")}
	m := routedMessage("one\ntwo\nthree")

	ForwardFromHub(context.Background(), a, m)

	if texts := a.sentTexts(); len(texts) != 3 {
		t.Errorf("attempted %d sends, want all 3 despite errors", len(texts))
	}
}

// TestForwardPhoto: photo-capable adapters receive the downloaded
// bytes; the URL text path is skipped.
func TestForwardPhoto(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(png)
	}))
	defer srv.Close()

	a := &fakeAdapter{caps: Caps{SupportsPhoto: true}}
	m := routedMessage(srv.URL + "/cat.png (photo)")
	m.MType = bus.Photo
	m.MediaURL = srv.URL + "/cat.png"

	ForwardFromHub(context.Background(), a, m)

	photos := a.sentPhotos()
	if len(photos) != 1 {
		t.Fatalf("SendPhoto called %d times, want 1", len(photos))
	}
	if string(photos[0].data) != string(png) || photos[0].sender != "alice" {
		t.Errorf("photo = %d bytes from %q", len(photos[0].data), photos[0].sender)
	}
	if texts := a.sentTexts(); len(texts) != 0 {
		t.Errorf("unexpected text sends %+v", texts)
	}
}

// TestForwardPhotoUnsupported: adapters without photo support send the
// text form, which carries the URL.
func TestForwardPhotoUnsupported(t *testing.T) {
	a := &fakeAdapter{}
	m := routedMessage("https://img.example.com/cat.png (photo)")
	m.MType = bus.Photo
	m.MediaURL = "https://img.example.com/cat.png"

	ForwardFromHub(context.Background(), a, m)

	texts := a.sentTexts()
	if len(texts) != 1 || !strings.Contains(texts[0].content, "https://img.example.com/cat.png") {
		t.Fatalf("sent %+v, want one text line carrying the URL", texts)
	}
	if o := texts[0].opts; o == nil || o.MType != bus.Photo || o.MediaURL != m.MediaURL {
		t.Errorf("send options should describe the media: %+v", texts[0].opts)
	}
	if photos := a.sentPhotos(); len(photos) != 0 {
		t.Errorf("unexpected photo sends %+v", photos)
	}
}

// TestForwardPhotoBadContentType: a media URL that does not serve an
// image degrades to the text path.
func TestForwardPhotoBadContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>not a cat</html>"))
	}))
	defer srv.Close()

	a := &fakeAdapter{caps: Caps{SupportsPhoto: true}}
	m := routedMessage(srv.URL + "/cat.png (photo)")
	m.MType = bus.Photo
	m.MediaURL = srv.URL + "/cat.png"

	ForwardFromHub(context.Background(), a, m)

	if photos := a.sentPhotos(); len(photos) != 0 {
		t.Fatalf("SendPhoto called despite bad content type: %+v", photos)
	}
	if texts := a.sentTexts(); len(texts) != 1 {
		t.Errorf("sent %+v, want the text fallback", texts)
	}
}

func testBroker(t *testing.T) *broker.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return broker.WithRedis(rdb, "fishroom")
}

// publishUntilSubscribed retries a raw publish until the broker reports
// at least n subscribers on the channel, so tests do not race the
// worker's subscription setup.
func publishUntilSubscribed(t *testing.T, client *broker.Client, channel string, m *bus.Message, n int64) {
	t.Helper()
	payload, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := client.RDB.Publish(context.Background(), channel, payload).Result()
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
		if got >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("no subscriber appeared on %s", channel)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestRunEgress: the worker consumes the egress bus, delivers bound
// messages, and stops cleanly on cancel.
func TestRunEgress(t *testing.T) {
	client := testBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := &fakeAdapter{}
	done := make(chan error, 1)
	go func() {
		done <- RunEgress(ctx, a, bus.NewEgress(client), rate.NewLimiter(rate.Inf, 1))
	}()

	publishUntilSubscribed(t, client, client.Keys.Egress(), routedMessage("hi"), 1)
	waitFor(t, "egress delivery", func() bool { return len(a.sentTexts()) >= 1 })

	if texts := a.sentTexts(); texts[0].content != "hi" || texts[0].target != "f1" {
		t.Errorf("delivered %+v, want hi to f1", texts[0])
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("RunEgress() error = %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunEgress() did not stop on cancel")
	}
}

// TestManagerRun: the receive loop's publishes land on the ingress bus;
// cancel stops everything with a nil error.
func TestManagerRun(t *testing.T) {
	client := testBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ingress := bus.NewIngress(client)
	sub, err := ingress.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe ingress: %v", err)
	}

	a := &fakeAdapter{receive: func(ctx context.Context, publish bus.PublishFunc) error {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				publish(ctx, routedMessage("from the wire"))
			}
		}
	}}

	mgr := NewManager(ingress, bus.NewEgress(client))
	mgr.Register(a, nil)
	if tags := mgr.Tags(); len(tags) != 1 || tags[0] != "fake" {
		t.Fatalf("Tags() = %v", tags)
	}
	if _, ok := mgr.Get("fake"); !ok {
		t.Fatal("Get(fake) not found")
	}

	done := make(chan error, 1)
	go func() { done <- mgr.Run(ctx) }()

	select {
	case m := <-sub:
		if m.Content != "from the wire" {
			t.Errorf("ingress message = %q", m.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receive loop never published")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop on cancel")
	}
}

// TestManagerRunReceiveFailure: a dying receive loop takes the manager
// down with its error.
func TestManagerRunReceiveFailure(t *testing.T) {
	client := testBroker(t)

	a := &fakeAdapter{receive: func(ctx context.Context, publish bus.PublishFunc) error {
		return errors.New("connection torn down")
	}}
	mgr := NewManager(bus.NewIngress(client), bus.NewEgress(client))
	mgr.Register(a, nil)

	err := mgr.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "connection torn down") {
		t.Errorf("Run() error = %v, want the receive failure", err)
	}
}
