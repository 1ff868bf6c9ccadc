package textstore

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tuna/fishroom/internal/broker"
	"github.com/tuna/fishroom/internal/bus"
)

// Paste is the stored shape of a broker-backed paste, served verbatim by
// the web's /text/{id} endpoint.
type Paste struct {
	Title   string `json:"title"`
	Time    string `json:"time"`
	Content string `json:"content"`
}

// Broker keeps pastes in the broker under short random ids.
type Broker struct {
	client  *broker.Client
	baseURL string
	newID   func() string
}

func NewBroker(client *broker.Client, baseURL string) *Broker {
	return &Broker{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		newID: func() string {
			id := uuid.New()
			return hex.EncodeToString(id[:4])
		},
	}
}

func (s *Broker) NewPaste(ctx context.Context, m *bus.Message, _ int64) (string, error) {
	paste := Paste{
		Title:   fmt.Sprintf("Text from %s", m.Sender),
		Time:    fmt.Sprintf("%s %s", m.Date, m.Time),
		Content: m.Content,
	}
	data, err := bus.Marshal(paste)
	if err != nil {
		return "", err
	}

	id := s.newID()
	if err := s.client.RDB.Set(ctx, s.client.Keys.TextStore(id), data, 0).Err(); err != nil {
		return "", fmt.Errorf("textstore: store paste: %w", err)
	}
	return fmt.Sprintf("%s/text/%s", s.baseURL, id), nil
}

// GetPaste loads a stored paste by id, or nil when unknown.
func GetPaste(ctx context.Context, client *broker.Client, id string) (*Paste, error) {
	data, err := client.RDB.Get(ctx, client.Keys.TextStore(id)).Bytes()
	if err != nil {
		if broker.IsNil(err) {
			return nil, nil
		}
		return nil, err
	}
	var p Paste
	if err := bus.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
