// Package plugins holds the optional chat commands and ingress filters.
// Each plugin receives its collaborators at registration; nothing here
// reaches for globals.
package plugins

import (
	"fmt"
	"time"

	"github.com/tuna/fishroom/internal/hub"
	"github.com/tuna/fishroom/internal/store"
)

// Deps are the shared collaborators plugins draw from.
type Deps struct {
	Limiter *store.RateLimiter
	Votes   *store.VoteStore
	ChatLog *store.ChatLog
	Loc     *time.Location
}

// Register wires the named plugins into the command registry and
// returns the ingress filters they contribute. Called once at startup;
// an unknown name is a config error.
func Register(deps Deps, names ...string) ([]hub.Filter, error) {
	var filters []hub.Filter
	for _, name := range names {
		switch name {
		case "pia":
			registerPia(deps.Limiter)
		case "vote":
			registerVote(deps.Votes)
		case "stats":
			registerStats(deps.ChatLog, deps.Limiter, deps.Loc)
		case "hualao":
			registerHualao(deps.ChatLog, deps.Limiter, deps.Loc)
		case "imglink":
			filters = append(filters, ImageLink)
		default:
			return nil, fmt.Errorf("plugins: unknown plugin %q", name)
		}
	}
	return filters, nil
}
