package textstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tuna/fishroom/internal/bus"
)

const vinergyURL = "http://cfp.vim-cn.com/"

// Vinergy pastes to the vim-cn pastebin, which answers a form POST with
// the bare URL of the paste.
type Vinergy struct {
	url   string
	httpc *http.Client
}

func NewVinergy() *Vinergy {
	return &Vinergy{
		url:   vinergyURL,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (v *Vinergy) NewPaste(ctx context.Context, m *bus.Message, _ int64) (string, error) {
	form := url.Values{"vimcn": {m.Content}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("vinergy paste: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("vinergy paste: status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	link := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(link, "http") {
		return "", fmt.Errorf("vinergy paste: unexpected response %q", link)
	}
	return link, nil
}
