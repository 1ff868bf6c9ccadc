//go:build tsnet

package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"tailscale.com/tsnet"

	"github.com/tuna/fishroom/internal/config"
)

// initTailscale serves the web mux on an additional tailnet listener.
// Returns a cleanup func, or nil when no hostname is configured or the
// listener could not come up; the main listener is unaffected either way.
func initTailscale(ctx context.Context, cfg *config.Config, mux *http.ServeMux) func() {
	ts := cfg.Web.Tailscale
	if ts.Hostname == "" {
		return nil
	}

	srv := &tsnet.Server{
		Hostname:  ts.Hostname,
		Dir:       config.ExpandHome(ts.StateDir),
		AuthKey:   ts.AuthKey,
		Ephemeral: ts.Ephemeral,
	}

	var (
		ln  net.Listener
		err error
	)
	if ts.EnableTLS {
		ln, err = srv.ListenTLS("tcp", ":443")
	} else {
		ln, err = srv.Listen("tcp", ":80")
	}
	if err != nil {
		slog.Error("tailscale listener failed", "hostname", ts.Hostname, "error", err)
		srv.Close()
		return nil
	}

	slog.Info("tailscale: listening", "hostname", ts.Hostname, "tls", ts.EnableTLS)

	httpServer := &http.Server{Handler: mux}
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("tailscale serve error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		httpServer.Close()
	}()

	return func() {
		httpServer.Close()
		srv.Close()
	}
}
