package adapters

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tuna/fishroom/internal/bus"
)

const imageFetchTimeout = 10 * time.Second

var imageClient = &http.Client{Timeout: imageFetchTimeout}

// Deliverable resolves the egress target for one adapter. It returns
// false for messages the adapter must not send: unrouted ones, rooms
// the adapter is not bound to, and the adapter's own traffic coming
// back around (unless the bot produced it).
func Deliverable(a Adapter, m *bus.Message) (string, bool) {
	if len(m.Route) == 0 {
		return "", false
	}
	target, ok := m.Route[a.Tag()]
	if !ok || target == "" {
		return "", false
	}
	if m.Channel == a.Tag() && !m.BotMsg {
		return "", false
	}
	return target, true
}

// ForwardFromHub delivers one hub-routed message through the adapter's
// send primitives. Photos degrade to their text form when the adapter
// cannot take them or the bytes cannot be fetched; overlong content
// degrades to the paste URL; everything else splits into lines for
// single-line networks. Send failures are logged, never returned: one
// dead target must not stall the worker.
func ForwardFromHub(ctx context.Context, a Adapter, m *bus.Message) {
	target, ok := Deliverable(a, m)
	if !ok {
		return
	}
	deliver(ctx, a, m, target)
}

func deliver(ctx context.Context, a Adapter, m *bus.Message, target string) {
	caps := a.Capabilities()

	if m.MType == bus.Photo && caps.SupportsPhoto && m.MediaURL != "" {
		data, err := fetchImage(ctx, m.MediaURL)
		if err == nil {
			if err := a.SendPhoto(ctx, target, data, m.Sender); err != nil {
				slog.Warn("adapter: photo send failed",
					"adapter", a.Tag(), "target", target, "error", err)
			}
			return
		}
		slog.Warn("adapter: image fetch failed, falling back to text",
			"adapter", a.Tag(), "url", m.MediaURL, "error", err)
	}

	if m.MType == bus.Event {
		if err := a.SendText(ctx, target, m.Content, nil); err != nil {
			slog.Warn("adapter: event send failed",
				"adapter", a.Tag(), "target", target, "error", err)
		}
		return
	}

	o := &SendOptions{First: true, RichText: m.RichText, MType: m.MType, MediaURL: m.MediaURL}
	if !m.BotMsg {
		o.Sender = m.Sender
	}
	if m.Opt != nil {
		o.ReplyTo = m.Opt.ReplyTo
		o.ReplyText = m.Opt.ReplyText
	}

	if caps.SupportsMultiline {
		if err := a.SendText(ctx, target, m.Content, o); err != nil {
			slog.Warn("adapter: send failed",
				"adapter", a.Tag(), "target", target, "error", err)
		}
		return
	}

	if url := m.TextURL(); url != "" {
		if err := a.SendText(ctx, target, url+" (long text)", o); err != nil {
			slog.Warn("adapter: send failed",
				"adapter", a.Tag(), "target", target, "error", err)
		}
		return
	}

	first := true
	for _, line := range strings.Split(m.Content, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lo := *o
		lo.First = first
		first = false
		if err := a.SendText(ctx, target, line, &lo); err != nil {
			slog.Warn("adapter: send failed",
				"adapter", a.Tag(), "target", target, "error", err)
		}
	}
}

// RunEgress is the per-adapter egress worker: it subscribes to the
// egress bus and forwards every deliverable message, pacing sends with
// the limiter when one is given. It returns nil on context cancel and
// an error when the subscription dies underneath it.
func RunEgress(ctx context.Context, a Adapter, egress *bus.Bus, limiter *rate.Limiter) error {
	stream, err := egress.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("adapters: %s egress: %w", a.Tag(), err)
	}

	slog.Info("adapter: egress worker started", "adapter", a.Tag())
	for m := range stream {
		target, ok := Deliverable(a, m)
		if !ok {
			continue
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				// ctx canceled, shutting down
				return nil
			}
		}
		deliver(ctx, a, m, target)
	}

	if ctx.Err() != nil {
		slog.Info("adapter: egress worker stopped", "adapter", a.Tag())
		return nil
	}
	return fmt.Errorf("adapters: %s egress subscription closed", a.Tag())
}

// fetchImage downloads photo bytes from a media URL. Responses that are
// slow, non-200, or not image/* count as failures so the caller can
// fall back to the text form.
func fetchImage(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, imageFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := imageClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("fetch image: content type %q", ct)
	}
	return io.ReadAll(resp.Body)
}
