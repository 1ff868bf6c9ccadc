package plugins

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tuna/fishroom/internal/command"
	"github.com/tuna/fishroom/internal/store"
)

func registerHualao(chatLog *store.ChatLog, limiter *store.RateLimiter, loc *time.Location) {
	command.Register("hualao", command.Handler{
		Func:  hualaoHandler(chatLog, limiter, loc),
		Desc:  "show top-n talkative individuals",
		Usage: "hualao [topn] [days]",
	})
}

func hualaoHandler(chatLog *store.ChatLog, limiter *store.RateLimiter, loc *time.Location) command.HandlerFunc {
	return func(ctx context.Context, req *command.Request) (string, error) {
		if !limiter.Allow(ctx, req.Room, req.Cmd, statsPeriod, statsCount) {
			return "", nil
		}

		topn, days := 10, 7
		switch len(req.Args) {
		case 0:
		case 1:
			n, err := strconv.Atoi(req.Args[0])
			if err != nil {
				return "", fmt.Errorf("hualao: bad top count %q", req.Args[0])
			}
			topn = n
		case 2:
			n, err := strconv.Atoi(req.Args[0])
			if err != nil {
				return "", fmt.Errorf("hualao: bad top count %q", req.Args[0])
			}
			d, err := strconv.Atoi(req.Args[1])
			if err != nil {
				return "", fmt.Errorf("hualao: bad day count %q", req.Args[1])
			}
			topn, days = n, d
		default:
			return "hualao: invalid arguments", nil
		}

		if topn > 10 {
			return "hualao: toooooo many hualaos", nil
		}
		if days > maxStatDays {
			days = maxStatDays
		}

		counts := map[string]int{}
		var seen []string
		day := time.Now().In(loc)
		for i := 0; i < days; i++ {
			msgs, err := chatLog.Range(ctx, req.Room, day.Format("2006-01-02"), 0, -1)
			if err != nil {
				return "", err
			}
			for _, m := range msgs {
				if _, ok := counts[m.Sender]; !ok {
					seen = append(seen, m.Sender)
				}
				counts[m.Sender]++
			}
			day = day.AddDate(0, 0, -1)
		}
		if len(seen) == 0 {
			return "", fmt.Errorf("hualao: no messages in %s over %d days", req.Room, days)
		}

		// Rank by count, first appearance breaking ties.
		sort.SliceStable(seen, func(i, j int) bool {
			return counts[seen[i]] > counts[seen[j]]
		})
		if len(seen) > topn {
			seen = seen[:topn]
		}
		most := counts[seen[0]]

		var b strings.Builder
		fmt.Fprintf(&b, "Most talkative %d individuals within %d days:", topn, days)
		for _, u := range seen {
			fmt.Fprintf(&b, "\n%s: %s %d", u, stars(counts[u], most), counts[u])
		}
		return b.String(), nil
	}
}

// stars draws a bar of one to five stars proportional to the leader.
func stars(n, most int) string {
	w := int(math.Round(5 * float64(n) / float64(most)))
	if w == 0 {
		return "⭐️"
	}
	return strings.Repeat("⭐️", w)
}
