package plugins

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/tuna/fishroom/internal/command"
	"github.com/tuna/fishroom/internal/store"
)

const (
	statsPeriod = 30 * time.Second
	statsCount  = 2

	// Look-back cap shared by stats and hualao.
	maxStatDays = 21
)

func registerStats(chatLog *store.ChatLog, limiter *store.RateLimiter, loc *time.Location) {
	command.Register("stats", command.Handler{
		Func:  statsHandler(chatLog, limiter, loc),
		Desc:  "channel message statistics",
		Usage: "stats [days]",
	})
}

func statsHandler(chatLog *store.ChatLog, limiter *store.RateLimiter, loc *time.Location) command.HandlerFunc {
	return func(ctx context.Context, req *command.Request) (string, error) {
		if !limiter.Allow(ctx, req.Room, req.Cmd, statsPeriod, statsCount) {
			return "", nil
		}

		days := 1
		if len(req.Args) >= 1 {
			n, err := strconv.Atoi(req.Args[0])
			if err != nil {
				return "", fmt.Errorf("stats: bad day count %q", req.Args[0])
			}
			days = n
		}
		if days <= 0 {
			return "stats: invalid days", nil
		}
		if days > maxStatDays {
			days = maxStatDays
		}

		var total int64
		senders := map[string]struct{}{}
		now := time.Now().In(loc)
		day := now
		for i := 0; i < days; i++ {
			date := day.Format("2006-01-02")
			n, err := chatLog.Len(ctx, req.Room, date)
			if err != nil {
				return "", err
			}
			total += n
			msgs, err := chatLog.Range(ctx, req.Room, date, 0, -1)
			if err != nil {
				return "", err
			}
			for _, m := range msgs {
				senders[m.Sender] = struct{}{}
			}
			day = day.AddDate(0, 0, -1)
		}

		talked := len(senders)
		if talked == 0 {
			return "", fmt.Errorf("stats: no messages in %s over %d days", req.Room, days)
		}

		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
		seconds := float64(86400*(days-1)) + now.Sub(midnight).Seconds()

		return fmt.Sprintf(
			"Total %d messages in the past %d days\n"+
				"Average %.2f/person, %.2f/second",
			total, days, float64(total)/float64(talked), float64(total)/seconds), nil
	}
}
