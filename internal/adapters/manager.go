package adapters

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tuna/fishroom/internal/bus"
)

// Manager owns the registered adapters and runs their workers: one
// receive loop publishing to ingress and one egress worker per adapter.
// Registration happens at startup; Run blocks for the process lifetime.
type Manager struct {
	mu      sync.RWMutex
	entries []managed
	ingress *bus.Bus
	egress  *bus.Bus
}

type managed struct {
	adapter Adapter
	limiter *rate.Limiter
}

// NewManager creates an empty manager bound to the two bus directions.
func NewManager(ingress, egress *bus.Bus) *Manager {
	return &Manager{ingress: ingress, egress: egress}
}

// Register adds an adapter and its egress pacing limiter. A nil limiter
// means unpaced sends.
func (m *Manager) Register(a Adapter, limiter *rate.Limiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, managed{adapter: a, limiter: limiter})
}

// Get returns a registered adapter by tag.
func (m *Manager) Get(tag string) (Adapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if e.adapter.Tag() == tag {
			return e.adapter, true
		}
	}
	return nil, false
}

// Tags returns the registered adapter tags in registration order.
func (m *Manager) Tags() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tags := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		tags = append(tags, e.adapter.Tag())
	}
	return tags
}

// Run starts every adapter's receive loop and egress worker and blocks
// until ctx ends or one worker fails. A failing worker cancels the
// rest; the first error comes back so the supervisor can take the
// process down.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.RLock()
	entries := make([]managed, len(m.entries))
	copy(entries, m.entries)
	m.mu.RUnlock()

	if len(entries) == 0 {
		slog.Warn("adapters: none registered")
		<-ctx.Done()
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	publish := m.ingress.Publish
	for _, e := range entries {
		a, lim := e.adapter, e.limiter
		slog.Info("adapter: starting", "adapter", a.Tag())
		g.Go(func() error {
			err := a.ReceiveLoop(ctx, publish)
			if ctx.Err() != nil {
				return nil
			}
			// A receive loop has no business returning while the
			// process lives, so a clean return is a failure too.
			if err == nil {
				err = errors.New("receive loop returned")
			}
			return fmt.Errorf("adapters: %s receive: %w", a.Tag(), err)
		})
		g.Go(func() error {
			return RunEgress(ctx, a, m.egress, lim)
		})
	}
	err := g.Wait()
	slog.Info("adapters: all workers stopped")
	return err
}
