package filestore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const imgurURL = "https://api.imgur.com/3/image?_format=json"

// Imgur uploads through the anonymous imgur API using a registered
// application's client id.
type Imgur struct {
	url      string
	clientID string
	httpc    *http.Client
}

func NewImgur(clientID string) *Imgur {
	return &Imgur{url: imgurURL, clientID: clientID, httpc: newHTTPClient()}
}

type imgurResponse struct {
	Status  int  `json:"status"`
	Success bool `json:"success"`
	Data    struct {
		Link  string `json:"link"`
		Error string `json:"error"`
	} `json:"data"`
}

func (i *Imgur) Upload(ctx context.Context, data []byte, filename string) (string, error) {
	form := url.Values{
		"image": {base64.StdEncoding.EncodeToString(data)},
		"type":  {"base64"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.url, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Client-ID "+i.clientID)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := i.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("imgur upload: %w", err)
	}
	defer resp.Body.Close()

	var ret imgurResponse
	if err := json.NewDecoder(resp.Body).Decode(&ret); err != nil {
		return "", fmt.Errorf("imgur upload: decode response: %w", err)
	}
	if ret.Status != 200 || !ret.Success {
		return "", fmt.Errorf("imgur upload: status %d: %s", ret.Status, ret.Data.Error)
	}
	if ret.Data.Link == "" {
		return "", fmt.Errorf("imgur upload: response carried no link")
	}
	return ret.Data.Link, nil
}
