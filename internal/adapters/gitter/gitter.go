// Package gitter bridges Gitter rooms. Receive rides the streaming API
// (one long-lived GET per bound room, newline-delimited JSON with blank
// heartbeat lines); send posts markdown to the REST API.
package gitter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tuna/fishroom/internal/adapters"
	"github.com/tuna/fishroom/internal/bus"
	"github.com/tuna/fishroom/internal/config"
)

const (
	defaultStreamAPI = "https://stream.gitter.im/v1/rooms/%s/chatMessages"
	defaultPostAPI   = "https://api.gitter.im/v1/rooms/%s/chatMessages"

	maxBackoff = time.Minute
)

var errAuth = errors.New("authentication rejected")

// Handle is the Gitter adapter. Rooms are addressed by their id, as
// written in the bindings.
type Handle struct {
	cfg      config.GitterConfig
	selfName string
	rooms    []string
	loc      *time.Location

	streamAPI string
	postAPI   string
	streamc   *http.Client // no client timeout, streams are long-lived
	postc     *http.Client
}

// New builds the adapter. rooms are the bound room ids.
func New(cfg config.GitterConfig, selfName string, rooms []string, loc *time.Location) *Handle {
	return &Handle{
		cfg:       cfg,
		selfName:  selfName,
		rooms:     rooms,
		loc:       loc,
		streamAPI: defaultStreamAPI,
		postAPI:   defaultPostAPI,
		streamc:   &http.Client{},
		postc:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (h *Handle) Tag() string { return bus.ChannelGitter }

func (h *Handle) Capabilities() adapters.Caps {
	return adapters.Caps{SupportsMultiline: true}
}

// ReceiveLoop runs one stream per bound room until ctx ends. Streams
// reconnect with backoff; an authentication rejection is fatal.
func (h *Handle) ReceiveLoop(ctx context.Context, publish bus.PublishFunc) error {
	if len(h.rooms) == 0 {
		slog.Warn("gitter: no rooms bound")
		<-ctx.Done()
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, room := range h.rooms {
		g.Go(func() error {
			return h.streamRoom(ctx, room, publish)
		})
	}
	return g.Wait()
}

func (h *Handle) streamRoom(ctx context.Context, room string, publish bus.PublishFunc) error {
	backoff := time.Second
	for {
		gotData, err := h.streamOnce(ctx, room, publish)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, errAuth) {
			return fmt.Errorf("gitter: room %s: %w", room, err)
		}
		if err != nil {
			slog.Warn("gitter: stream interrupted", "room", room, "error", err)
		}
		if gotData {
			backoff = time.Second
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

// streamOnce holds one streaming connection open and publishes every
// message on it. It reports whether any data arrived, so the caller
// can reset its backoff.
func (h *Handle) streamOnce(ctx context.Context, room string, publish bus.PublishFunc) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(h.streamAPI, room), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.cfg.Token)

	resp, err := h.streamc.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return false, fmt.Errorf("%w: status %d", errAuth, resp.StatusCode)
	default:
		return false, fmt.Errorf("stream status %d", resp.StatusCode)
	}
	slog.Info("gitter: stream connected", "room", room)

	gotData := false
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			// heartbeat
			continue
		}
		gotData = true
		h.handleLine(ctx, room, []byte(line), publish)
	}
	return gotData, scanner.Err()
}

type streamMessage struct {
	Text     string `json:"text"`
	Sent     string `json:"sent"`
	FromUser struct {
		Username string `json:"username"`
	} `json:"fromUser"`
}

func (h *Handle) handleLine(ctx context.Context, room string, line []byte, publish bus.PublishFunc) {
	var jmsg streamMessage
	if err := json.Unmarshal(line, &jmsg); err != nil {
		slog.Warn("gitter: bad stream line", "room", room, "error", err)
		return
	}
	if jmsg.FromUser.Username == "" || jmsg.FromUser.Username == h.cfg.Me {
		return
	}

	replyTo, replyText, content := parseReply(jmsg.Text)
	if content == "" {
		return
	}

	m := bus.New(bus.ChannelGitter, jmsg.FromUser.Username, room, content, h.loc)
	m.MType = adapters.Classify(content, h.selfName)
	if t, err := time.Parse(time.RFC3339, jmsg.Sent); err == nil {
		m.Date, m.Time = bus.DateTime(t.Unix(), h.loc)
	}
	if replyTo != "" {
		m.Opt = &bus.Option{ReplyTo: replyTo, ReplyText: replyText}
	}

	if err := publish(ctx, m); err != nil {
		slog.Warn("gitter: publish failed", "error", err)
	}
}

var (
	quoteBlock  = regexp.MustCompile(`^> \[([^\]]+)\] ([^\n]*)\n+`)
	mentionLead = regexp.MustCompile(`^@([\w-]+)[:,]? `)
)

// parseReply recognizes the two reply shapes gitter users produce: our
// own "> [nick] text" quote rendering echoed back, and a leading
// @mention. The quote block is stripped from the content; a mention
// stays in place.
func parseReply(text string) (replyTo, replyText, content string) {
	if m := quoteBlock.FindStringSubmatch(text); m != nil {
		return m[1], m[2], strings.TrimSpace(text[len(m[0]):])
	}
	if m := mentionLead.FindStringSubmatch(text); m != nil {
		return m[1], "", text
	}
	return "", "", text
}

var markdownEscaper = strings.NewReplacer("[", `\[`, "*", `\*`, "_", `\_`, "#", `\#`)

// SendText posts one markdown message. Photos and stickers render as
// inline images; replies quote the first quotable line.
func (h *Handle) SendText(ctx context.Context, target, content string, o *adapters.SendOptions) error {
	var buf strings.Builder
	if o != nil && o.First && o.ReplyTo != "" && o.ReplyText != "" {
		fmt.Fprintf(&buf, "> [%s] %s\n\n", o.ReplyTo, quotableLine(o.ReplyText))
	}
	if o != nil && o.MediaURL != "" && (o.MType == bus.Photo || o.MType == bus.Sticker) {
		content = string(o.MType) + "\n![img](" + o.MediaURL + ")"
	}
	if o != nil && o.Sender != "" {
		fmt.Fprintf(&buf, "**[%s]** %s", markdownEscaper.Replace(o.Sender), content)
	} else {
		buf.WriteString(content)
	}
	return h.post(ctx, target, buf.String())
}

// SendPhoto is never reached: photos render inline through SendText.
func (h *Handle) SendPhoto(ctx context.Context, target string, data []byte, sender string) error {
	return errors.New("gitter: photo upload not supported")
}

// quotableLine picks the line to quote from a reply: the first one
// that is not itself a quote.
func quotableLine(text string) string {
	lines := strings.Split(text, "\n")
	for _, line := range lines {
		if !strings.HasPrefix(line, ">") {
			return line
		}
	}
	return lines[0]
}

func (h *Handle) post(ctx context.Context, room, text string) error {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf(h.postAPI, room), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.cfg.Token)

	resp, err := h.postc.Do(req)
	if err != nil {
		return fmt.Errorf("gitter: post: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gitter: post: status %d", resp.StatusCode)
	}
	return nil
}
