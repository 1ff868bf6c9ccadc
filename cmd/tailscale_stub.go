//go:build !tsnet

package cmd

import (
	"context"
	"net/http"

	"github.com/tuna/fishroom/internal/config"
)

// initTailscale is a no-op unless built with `-tags tsnet`.
func initTailscale(_ context.Context, _ *config.Config, _ *http.ServeMux) func() {
	return nil
}
