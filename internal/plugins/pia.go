package plugins

import (
	"context"
	"fmt"
	"time"

	"github.com/tuna/fishroom/internal/command"
	"github.com/tuna/fishroom/internal/store"
)

const (
	piaPrefix = "Pia!<(=ｏ ‵-′)ノ☆ "
	muaPrefix = "💋 Mua!  "
	hugPrefix = "🤗 Hug!  "

	playfulPeriod = 15 * time.Second
	playfulCount  = 2
)

// registerPia installs the playful poke commands. Each is rate limited
// per (room, command); over the limit the command stays silent.
func registerPia(limiter *store.RateLimiter) {
	command.Register("pia", command.Handler{
		Func: playful(limiter, piaPrefix, func(prefix, sender string) string {
			return fmt.Sprintf("%s %s", prefix, sender)
		}),
		Desc:  "Pia somebody",
		Usage: "pia [name]",
	})
	command.Register("mua", command.Handler{
		Func: playful(limiter, muaPrefix, func(prefix, sender string) string {
			return fmt.Sprintf("%s %s himself/herself", sender, prefix)
		}),
		Desc:  "mua somebody",
		Usage: "mua [name]",
	})
	command.Register("hug", command.Handler{
		Func: playful(limiter, hugPrefix, func(prefix, sender string) string {
			return fmt.Sprintf("%s %s", prefix, sender)
		}),
		Desc:  "hug somebody",
		Usage: "hug [name]",
	})
}

// playful builds a handler around a prefix and a no-argument rendering
// (what happens when the sender pokes nobody in particular).
func playful(limiter *store.RateLimiter, prefix string, self func(prefix, sender string) string) command.HandlerFunc {
	return func(ctx context.Context, req *command.Request) (string, error) {
		if !limiter.Allow(ctx, req.Room, req.Cmd, playfulPeriod, playfulCount) {
			return "", nil
		}
		switch len(req.Args) {
		case 0:
			return self(prefix, req.Msg.Sender), nil
		case 1:
			return fmt.Sprintf("%s %s", prefix, req.Args[0]), nil
		default:
			return fmt.Sprintf("Too many persons to %s", prefix), nil
		}
	}
}
