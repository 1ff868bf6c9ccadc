// Package runner supervises the bridge's long-lived workers as one
// unit. A half-dead bridge silently eats messages, so any worker
// exiting on its own brings the whole process down; restarting is the
// process manager's job.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

const notifyTimeout = 10 * time.Second

// Notifier tells the admins the bridge is going down. Best effort;
// delivery failures are the notifier's to log.
type Notifier func(ctx context.Context, text string)

// Runner collects named workers and runs them together.
type Runner struct {
	notify  Notifier
	workers []worker
}

type worker struct {
	name string
	run  func(context.Context) error
}

// New builds a runner. notify may be nil.
func New(notify Notifier) *Runner {
	return &Runner{notify: notify}
}

// Go registers a worker under the name used in logs and the crash note.
// Workers start when Run is called.
func (r *Runner) Go(name string, run func(context.Context) error) {
	r.workers = append(r.workers, worker{name: name, run: run})
}

// Run starts every registered worker and blocks. A cancelled ctx is a
// clean shutdown: workers drain and Run returns nil. Any worker exiting
// before that, error or not, cancels the rest, notifies the admins, and
// returns the cause.
func (r *Runner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range r.workers {
		g.Go(func() error {
			err := w.run(gctx)
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				return fmt.Errorf("%s: %w", w.name, err)
			}
			return fmt.Errorf("%s exited", w.name)
		})
	}
	slog.Info("runner: workers started", "count", len(r.workers))

	err := g.Wait()
	if err == nil {
		slog.Info("runner: clean shutdown")
		return nil
	}

	slog.Error("Everybody died, I don't wanna live any more! T_T", "cause", err)
	if r.notify != nil {
		// The group context is already dead; the crash note gets its own.
		nctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		r.notify(nctx, fmt.Sprintf("fishroom is going down: %v", err))
	}
	return err
}
