package plugins

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tuna/fishroom/internal/broker"
	"github.com/tuna/fishroom/internal/bus"
	"github.com/tuna/fishroom/internal/command"
	"github.com/tuna/fishroom/internal/hub"
	"github.com/tuna/fishroom/internal/store"
)

var (
	testClient  *broker.Client
	testLog     *store.ChatLog
	testFilters []hub.Filter
)

// The command registry is process-wide and panics on duplicates, so all
// plugins register exactly once here.
func TestMain(m *testing.M) {
	mr, err := miniredis.Run()
	if err != nil {
		panic(err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	testClient = broker.WithRedis(rdb, "fishroom")
	testLog = store.NewChatLog(testClient, time.UTC)

	testFilters, err = Register(Deps{
		Limiter: store.NewRateLimiter(testClient),
		Votes:   store.NewVoteStore(testClient),
		ChatLog: testLog,
		Loc:     time.UTC,
	}, "pia", "vote", "stats", "hualao", "imglink")
	if err != nil {
		panic(err)
	}

	code := m.Run()
	rdb.Close()
	mr.Close()
	os.Exit(code)
}

func run(t *testing.T, name, room, sender string, args ...string) (string, error) {
	t.Helper()
	h, ok := command.Lookup(name)
	if !ok {
		t.Fatalf("command %q not registered", name)
	}
	msg := &bus.Message{
		Channel: "irc", Sender: sender, Receiver: "#" + room,
		Content: "/" + name + " " + strings.Join(args, " "),
		MType:   bus.Command, Date: "2016-05-14", Time: "20:03:41",
	}
	return h.Func(context.Background(), &command.Request{Cmd: name, Args: args, Msg: msg, Room: room})
}

func mustRun(t *testing.T, name, room, sender string, args ...string) string {
	t.Helper()
	reply, err := run(t, name, room, sender, args...)
	if err != nil {
		t.Fatalf("/%s %v error = %v", name, args, err)
	}
	return reply
}

func TestRegisterUnknownPlugin(t *testing.T) {
	if _, err := Register(Deps{}, "telepathy"); err == nil {
		t.Error("Register(unknown) error = nil, want error")
	}
	if len(testFilters) != 1 {
		t.Errorf("registered filters = %d, want 1 (imglink)", len(testFilters))
	}
}

func TestPiaFamily(t *testing.T) {
	if got := mustRun(t, "pia", "p1", "alice"); got != piaPrefix+" alice" {
		t.Errorf("pia self = %q", got)
	}
	if got := mustRun(t, "pia", "p1", "alice", "bob"); got != piaPrefix+" bob" {
		t.Errorf("pia bob = %q", got)
	}
	// Third trigger inside the window stays silent.
	if got := mustRun(t, "pia", "p1", "alice", "carol"); got != "" {
		t.Errorf("rate-limited pia = %q, want silence", got)
	}

	if got := mustRun(t, "pia", "p2", "alice", "b", "c"); got != "Too many persons to "+piaPrefix {
		t.Errorf("pia crowd = %q", got)
	}

	if got := mustRun(t, "mua", "p3", "alice"); got != "alice "+muaPrefix+" himself/herself" {
		t.Errorf("mua self = %q", got)
	}
	if got := mustRun(t, "hug", "p4", "alice", "bob"); got != hugPrefix+" bob" {
		t.Errorf("hug bob = %q", got)
	}
}

func TestVoteLifecycle(t *testing.T) {
	room := "v1"

	if got := mustRun(t, "vote", room, "alice"); got != "No on-going voting" {
		t.Fatalf("empty status = %q", got)
	}

	got := mustRun(t, "vote", room, "alice", "new", "what", "for", "lunch")
	want := "👍 alice created vote: what for lunch\n" +
		"use /vote add <option> to add options\n" +
		"and /vote start to start voting"
	if got != want {
		t.Fatalf("new = %q, want %q", got, want)
	}
	if got := mustRun(t, "vote", room, "alice", "new", "again"); got != "There is an on-going voting, end it before creating new." {
		t.Errorf("duplicate new = %q", got)
	}

	if got := mustRun(t, "vote", room, "alice", "add", "pizza"); got != "👍" {
		t.Errorf("add = %q", got)
	}
	mustRun(t, "vote", room, "alice", "add", "noodles")

	if got := mustRun(t, "vote", room, "alice", "1"); got != "vote not started" {
		t.Errorf("early cast = %q", got)
	}

	got = mustRun(t, "vote", room, "alice", "start")
	want = "what for lunch\n" +
		"1. pizza:  0\n" +
		"2. noodles:  0\n" +
		"use /vote <number> to vote for your option\n" +
		"use /vote to show vote status"
	if got != want {
		t.Fatalf("start = %q, want %q", got, want)
	}

	if got := mustRun(t, "vote", room, "alice", "1"); got != "⭐" {
		t.Errorf("alice cast = %q", got)
	}
	if got := mustRun(t, "vote", room, "bob", "2"); got != "👍" {
		t.Errorf("bob cast = %q", got)
	}
	if got := mustRun(t, "vote", room, "carol", "for", "noodles"); got != "👍" {
		t.Errorf("carol cast = %q", got)
	}
	if got := mustRun(t, "vote", room, "mallory", "9"); got != "invalid option" {
		t.Errorf("out-of-range cast = %q", got)
	}
	if got := mustRun(t, "vote", room, "mallory", "whatever"); got != "" {
		t.Errorf("garbage cast = %q, want silence", got)
	}

	if got := mustRun(t, "vote", room, "alice", "add", "late"); got != "vote started, cannot add options now" {
		t.Errorf("late add = %q", got)
	}
	if got := mustRun(t, "vote", room, "alice", "start"); got != "cannot start a vote twice" {
		t.Errorf("double start = %q", got)
	}

	got = mustRun(t, "vote", room, "alice")
	want = "what for lunch\n" +
		"1. pizza: ⭐ 1\n" +
		"2. noodles: 👍👍 2\n" +
		"use /vote <number> to vote for your option"
	if got != want {
		t.Fatalf("status = %q, want %q", got, want)
	}

	got = mustRun(t, "vote", room, "alice", "end")
	want = "❤  End vote, final result: \n" +
		"what for lunch\n" +
		"1. pizza: ⭐ 1\n" +
		"2. noodles: 👍👍 2"
	if got != want {
		t.Fatalf("end = %q, want %q", got, want)
	}

	if got := mustRun(t, "vote", room, "alice"); got != "No on-going voting" {
		t.Errorf("status after end = %q", got)
	}
}

func seedLog(t *testing.T, room string, senders ...string) {
	t.Helper()
	ctx := context.Background()
	for i, sender := range senders {
		m := &bus.Message{
			Channel: "irc", Sender: sender, Receiver: "#" + room,
			Content: fmt.Sprintf("message %d", i), MType: bus.Text,
			Date: testLog.Today(), Time: "20:03:41", Room: room,
		}
		if _, err := testLog.Log(ctx, room, m); err != nil {
			t.Fatalf("seed log: %v", err)
		}
	}
}

func TestStats(t *testing.T) {
	seedLog(t, "s1", "alice", "bob", "alice")

	got := mustRun(t, "stats", "s1", "alice")
	if !strings.HasPrefix(got, "Total 3 messages in the past 1 days\nAverage 1.50/person, ") {
		t.Errorf("stats = %q", got)
	}

	if got := mustRun(t, "stats", "s2", "alice", "0"); got != "stats: invalid days" {
		t.Errorf("stats 0 = %q", got)
	}

	if _, err := run(t, "stats", "s3", "alice", "soon"); err == nil {
		t.Error("stats soon error = nil, want parse error")
	}

	// Two triggers consume the window, the third stays silent.
	run(t, "stats", "s4", "alice")
	run(t, "stats", "s4", "alice")
	if got, err := run(t, "stats", "s4", "alice"); err != nil || got != "" {
		t.Errorf("rate-limited stats = %q, %v; want silence", got, err)
	}
}

func TestHualao(t *testing.T) {
	seedLog(t, "h1", "alice", "alice", "bob", "alice")

	got := mustRun(t, "hualao", "h1", "alice")
	want := "Most talkative 10 individuals within 7 days:\n" +
		"alice: ⭐️⭐️⭐️⭐️⭐️ 3\n" +
		"bob: ⭐️⭐️ 1"
	if got != want {
		t.Errorf("hualao = %q, want %q", got, want)
	}

	got = mustRun(t, "hualao", "h1", "alice", "1")
	want = "Most talkative 1 individuals within 7 days:\n" +
		"alice: ⭐️⭐️⭐️⭐️⭐️ 3"
	if got != want {
		t.Errorf("hualao 1 = %q, want %q", got, want)
	}

	if got := mustRun(t, "hualao", "h2", "alice", "11"); got != "hualao: toooooo many hualaos" {
		t.Errorf("hualao 11 = %q", got)
	}
}

func TestImageLink(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		mtype     bus.MType
		wantPhoto bool
	}{
		{"bare png", "https://i.example.com/cat.png", bus.Text, true},
		{"bare jpeg upper", "HTTPS://I.EXAMPLE.COM/CAT.JPEG", bus.Text, true},
		{"padded gif", "  http://x.example.com/dog.gif \n", bus.Text, true},
		{"url inside sentence", "look https://i.example.com/cat.png wow", bus.Text, false},
		{"non-image url", "https://example.com/page.html", bus.Text, false},
		{"not text", "https://i.example.com/cat.png", bus.Sticker, false},
		{"plain words", "no links here", bus.Text, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &bus.Message{Channel: "irc", Content: tt.content, MType: tt.mtype}
			ImageLink(context.Background(), m)
			isPhoto := m.MType == bus.Photo
			if isPhoto != tt.wantPhoto {
				t.Errorf("mtype = %s, wantPhoto %v", m.MType, tt.wantPhoto)
			}
			if tt.wantPhoto && m.MediaURL != strings.TrimSpace(tt.content) {
				t.Errorf("MediaURL = %q, want trimmed content", m.MediaURL)
			}
		})
	}
}
