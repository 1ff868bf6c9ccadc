package store

import (
	"context"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tuna/fishroom/internal/broker"
	"github.com/tuna/fishroom/internal/bus"
)

// ErrTokenExists is returned when adding a token id that is already registered.
var ErrTokenExists = errors.New("token id already exists")

const (
	apiQueueMax = 15
	apiQueueTTL = 60 * time.Second
)

// APIClientRegistry manages API tokens and the per-client outbound queues
// that the HTTP long-polling endpoint drains. Token keys are stored as raw
// sha1 digests; the key itself is only ever shown once, at creation.
type APIClientRegistry struct {
	client *broker.Client
}

func NewAPIClientRegistry(client *broker.Client) *APIClientRegistry {
	return &APIClientRegistry{client: client}
}

// APIClient pairs a token id with its display name.
type APIClient struct {
	TokenID string
	Name    string
}

// NewToken generates a token id and key pair from UUIDs.
func NewToken() (tokenID, tokenKey string) {
	id := uuid.New()
	key := uuid.New()
	return hex.EncodeToString(id[:4]), strings.ReplaceAll(key.String(), "-", "")
}

// Add registers a token under a display name.
func (reg *APIClientRegistry) Add(ctx context.Context, tokenID, tokenKey, name string) error {
	exists, err := reg.Exists(ctx, tokenID)
	if err != nil {
		return err
	}
	if exists {
		return ErrTokenExists
	}

	sum := sha1.Sum([]byte(tokenKey))
	if err := reg.client.RDB.HSet(ctx, reg.client.Keys.APIClients(), tokenID, sum[:]).Err(); err != nil {
		return err
	}
	return reg.client.RDB.HSet(ctx, reg.client.Keys.APIClientNames(), tokenID, name).Err()
}

// Auth verifies a token key against the stored digest.
func (reg *APIClientRegistry) Auth(ctx context.Context, tokenID, tokenKey string) bool {
	saved, err := reg.client.RDB.HGet(ctx, reg.client.Keys.APIClients(), tokenID).Result()
	if err != nil {
		return false
	}
	sum := sha1.Sum([]byte(tokenKey))
	return subtle.ConstantTimeCompare([]byte(saved), sum[:]) == 1
}

// Exists reports whether a token id is registered.
func (reg *APIClientRegistry) Exists(ctx context.Context, tokenID string) (bool, error) {
	return reg.client.RDB.HExists(ctx, reg.client.Keys.APIClients(), tokenID).Result()
}

// Name returns the display name behind a token id, or "" when unknown.
func (reg *APIClientRegistry) Name(ctx context.Context, tokenID string) string {
	n, err := reg.client.RDB.HGet(ctx, reg.client.Keys.APIClientNames(), tokenID).Result()
	if err != nil {
		return ""
	}
	return n
}

// List returns every registered client sorted by token id. Clients whose
// name record is missing show up as "nobot".
func (reg *APIClientRegistry) List(ctx context.Context) ([]APIClient, error) {
	ids, err := reg.client.RDB.HKeys(ctx, reg.client.Keys.APIClients()).Result()
	if err != nil {
		return nil, err
	}
	names, err := reg.client.RDB.HGetAll(ctx, reg.client.Keys.APIClientNames()).Result()
	if err != nil {
		return nil, err
	}

	clients := make([]APIClient, 0, len(ids))
	for _, id := range ids {
		name, ok := names[id]
		if !ok {
			name = "nobot"
		}
		clients = append(clients, APIClient{TokenID: id, Name: name})
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].TokenID < clients[j].TokenID })
	return clients, nil
}

// Revoke removes a token and drops its pending queue.
func (reg *APIClientRegistry) Revoke(ctx context.Context, tokenID string) error {
	if err := reg.client.RDB.HDel(ctx, reg.client.Keys.APIClients(), tokenID).Err(); err != nil {
		return err
	}
	return reg.client.RDB.Del(ctx, reg.client.Keys.APIQueue(tokenID)).Err()
}

// Publish fans a message out to every registered client queue, trimming
// each queue to the newest entries and refreshing its TTL so queues of
// dead clients drain themselves.
func (reg *APIClientRegistry) Publish(ctx context.Context, m *bus.Message) error {
	ids, err := reg.client.RDB.HKeys(ctx, reg.client.Keys.APIClients()).Result()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	data, err := m.Encode()
	if err != nil {
		return err
	}

	pipe := reg.client.RDB.Pipeline()
	for _, id := range ids {
		k := reg.client.Keys.APIQueue(id)
		pipe.RPush(ctx, k, data)
		pipe.LTrim(ctx, k, -apiQueueMax, -1)
		pipe.Expire(ctx, k, apiQueueTTL)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Drain empties a client's queue, or blocks up to timeout for one message
// when the queue is empty. Used by the long-polling endpoint.
func (reg *APIClientRegistry) Drain(ctx context.Context, tokenID string, timeout time.Duration) ([]*bus.Message, error) {
	queue := reg.client.Keys.APIQueue(tokenID)

	vals, err := reg.client.RDB.LRange(ctx, queue, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) > 0 {
		reg.client.RDB.Del(ctx, queue)
		return decodeAll(vals), nil
	}

	ret, err := reg.client.RDB.BLPop(ctx, timeout, queue).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BLPop returns [key, value]
	if len(ret) == 2 {
		return decodeAll(ret[1:]), nil
	}
	return nil, nil
}

func decodeAll(vals []string) []*bus.Message {
	msgs := make([]*bus.Message, 0, len(vals))
	for _, v := range vals {
		if m, err := bus.Decode([]byte(v)); err == nil {
			msgs = append(msgs, m)
		}
	}
	return msgs
}
