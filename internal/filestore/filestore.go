package filestore

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tuna/fishroom/internal/config"
)

// Uploader re-hosts media bytes and returns a public URL.
type Uploader interface {
	Upload(ctx context.Context, data []byte, filename string) (string, error)
}

const uploadTimeout = 10 * time.Second

// New builds the uploader named by the config section. A max_width
// caps photo width before the bytes reach the host.
func New(cfg config.StoreConfig) (Uploader, error) {
	var up Uploader
	switch cfg.Provider {
	case "vim-cn":
		up = NewVimCN()
	case "imgur":
		clientID := cfg.Options["client_id"]
		if clientID == "" {
			return nil, fmt.Errorf("filestore: imgur needs options.client_id")
		}
		up = NewImgur(clientID)
	default:
		return nil, fmt.Errorf("filestore: unknown provider %q", cfg.Provider)
	}
	if cfg.MaxWidth > 0 {
		up = &downscaler{next: up, maxWidth: cfg.MaxWidth}
	}
	return up, nil
}

// downscaler shrinks oversized photos on the way to the backing host.
type downscaler struct {
	next     Uploader
	maxWidth int
}

func (d *downscaler) Upload(ctx context.Context, data []byte, filename string) (string, error) {
	return d.next.Upload(ctx, Downscale(data, d.maxWidth), filename)
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: uploadTimeout}
}
