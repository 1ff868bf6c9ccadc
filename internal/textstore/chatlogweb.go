package textstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/tuna/fishroom/internal/bus"
)

// ChatLogWeb does not upload anything: the message is already in the chat
// log by the time overflow runs, so the paste URL is simply the web view
// of that log entry.
type ChatLogWeb struct {
	baseURL string
}

func NewChatLogWeb(baseURL string) *ChatLogWeb {
	return &ChatLogWeb{baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *ChatLogWeb) NewPaste(ctx context.Context, m *bus.Message, logID int64) (string, error) {
	if m.Room == "" || m.Date == "" || logID < 0 {
		return "", fmt.Errorf("textstore: message has no chat log position")
	}
	return fmt.Sprintf("%s/log/%s/%s/%d", s.baseURL, m.Room, m.Date, logID), nil
}
