// Package digest posts scheduled room activity summaries. Each config
// entry pairs a room with a cron expression; when it matches, the
// previous day's chat log is summarized and published through ingress
// as a bot message, so it fans out to every bound network like any
// other post.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/tuna/fishroom/internal/bus"
	"github.com/tuna/fishroom/internal/config"
	"github.com/tuna/fishroom/internal/store"
)

const topTalkers = 3

// Worker evaluates digest schedules once a minute.
type Worker struct {
	name    string
	entries []config.DigestEntry
	chatLog *store.ChatLog
	publish bus.PublishFunc
	loc     *time.Location
}

// New builds the worker and rejects broken schedules up front, so a
// typo in the config fails at startup instead of silently never firing.
func New(cfg *config.Config, chatLog *store.ChatLog, publish bus.PublishFunc) (*Worker, error) {
	gron := gronx.New()
	for _, e := range cfg.Digest.Entries {
		if e.Room == "" {
			return nil, fmt.Errorf("digest: entry without a room")
		}
		if !gron.IsValid(e.Cron) {
			return nil, fmt.Errorf("digest: invalid cron %q for room %s", e.Cron, e.Room)
		}
	}
	return &Worker{
		name:    cfg.Name,
		entries: cfg.Digest.Entries,
		chatLog: chatLog,
		publish: publish,
		loc:     cfg.Location(),
	}, nil
}

// Run fires at each minute boundary until ctx is cancelled. Schedules
// are evaluated against the boundary itself, so a digest due at 09:30
// runs when the clock reads exactly 09:30 regardless of startup time.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("digest started", "entries", len(w.entries))
	for {
		now := time.Now().In(w.loc)
		boundary := now.Truncate(time.Minute).Add(time.Minute)
		timer := time.NewTimer(boundary.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("digest stopped")
			return nil
		case <-timer.C:
		}
		w.tick(ctx, boundary)
	}
}

func (w *Worker) tick(ctx context.Context, now time.Time) {
	gron := gronx.New()
	for _, e := range w.entries {
		due, err := gron.IsDue(e.Cron, now)
		if err != nil {
			slog.Warn("digest: schedule check failed", "room", e.Room, "cron", e.Cron, "error", err)
			continue
		}
		if !due {
			continue
		}
		if err := w.post(ctx, e.Room, now); err != nil {
			slog.Error("digest: post failed", "room", e.Room, "error", err)
		}
	}
}

// post publishes the previous day's summary for one room. Silent days
// produce nothing.
func (w *Worker) post(ctx context.Context, room string, now time.Time) error {
	date := now.AddDate(0, 0, -1).Format("2006-01-02")
	text, err := w.summary(ctx, room, date)
	if err != nil {
		return err
	}
	if text == "" {
		return nil
	}

	m := bus.New(bus.ChannelFishroom, w.name, room, text, w.loc)
	m.BotMsg = true
	return w.publish(ctx, m)
}

// summary renders one day of a room's chat log. Bot posts count toward
// the total but stay out of the talker ranking.
func (w *Worker) summary(ctx context.Context, room, date string) (string, error) {
	total, err := w.chatLog.Len(ctx, room, date)
	if err != nil {
		return "", err
	}
	if total == 0 {
		return "", nil
	}

	msgs, err := w.chatLog.Range(ctx, room, date, 0, -1)
	if err != nil {
		return "", err
	}
	counts := make(map[string]int)
	for _, m := range msgs {
		if m.BotMsg {
			continue
		}
		counts[m.Sender]++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Daily digest for %s: %d messages", date, total)
	if ranked := rank(counts); len(ranked) > 0 {
		b.WriteString("\nTop talkers: ")
		for i, t := range ranked {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s (%d)", t.name, t.count)
		}
	}
	return b.String(), nil
}

type talker struct {
	name  string
	count int
}

// rank orders senders by message count, name breaking ties, and keeps
// the head of the list.
func rank(counts map[string]int) []talker {
	ranked := make([]talker, 0, len(counts))
	for name, n := range counts {
		ranked = append(ranked, talker{name, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].name < ranked[j].name
	})
	if len(ranked) > topTalkers {
		ranked = ranked[:topTalkers]
	}
	return ranked
}
