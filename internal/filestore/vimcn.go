package filestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

const vimCNURL = "https://img.vim-cn.com/"

// VimCN uploads to the vim-cn image host, which answers a multipart POST
// with the bare URL of the hosted file.
type VimCN struct {
	url   string
	httpc *http.Client
}

func NewVimCN() *VimCN {
	return &VimCN{url: vimCNURL, httpc: newHTTPClient()}
}

func (v *VimCN) Upload(ctx context.Context, data []byte, filename string) (string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	fw, err := w.CreateFormFile("image", filename)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := v.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("vim-cn upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("vim-cn upload: status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	url := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(url, "http") {
		return "", fmt.Errorf("vim-cn upload: unexpected response %q", url)
	}
	return url, nil
}
