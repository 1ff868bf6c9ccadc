package textstore

import (
	"context"
	"fmt"

	"github.com/tuna/fishroom/internal/broker"
	"github.com/tuna/fishroom/internal/bus"
	"github.com/tuna/fishroom/internal/config"
)

// Store turns an overlong message into a URL where the full text can be
// read. The hub calls it during long-text overflow with the message's
// chat-log index; a failed paste drops the message. logID is the chat-log
// position, distinct from opt.msg_id (the source network's id).
type Store interface {
	NewPaste(ctx context.Context, m *bus.Message, logID int64) (string, error)
}

// New builds the store named by the config section.
func New(cfg config.TextStoreConfig, client *broker.Client, baseURL string) (Store, error) {
	switch cfg.Provider {
	case "chat_logger":
		if baseURL == "" {
			return nil, fmt.Errorf("textstore: chat_logger needs baseurl")
		}
		return NewChatLogWeb(baseURL), nil
	case "redis":
		if baseURL == "" {
			return nil, fmt.Errorf("textstore: redis needs baseurl")
		}
		return NewBroker(client, baseURL), nil
	case "vinergy":
		return NewVinergy(), nil
	default:
		return nil, fmt.Errorf("textstore: unknown provider %q", cfg.Provider)
	}
}
