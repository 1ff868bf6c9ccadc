package bus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tuna/fishroom/internal/broker"
)

// Direction selects which of the two bus topics an instance is bound to.
type Direction int

const (
	// Ingress carries adapter-produced messages to the hub.
	Ingress Direction = iota
	// Egress carries hub-routed messages to the adapters.
	Egress
)

func (d Direction) String() string {
	if d == Ingress {
		return "ingress"
	}
	return "egress"
}

// PublishFunc is the hub publisher handed to adapters and handlers, so
// nothing below the composition root holds a bus instance it does not
// need.
type PublishFunc func(ctx context.Context, m *Message) error

// Bus is one direction of the two-stage pipeline, backed by a broker
// pub/sub channel.
type Bus struct {
	client  *broker.Client
	dir     Direction
	channel string
}

// NewIngress binds a bus instance to the adapters-to-hub channel.
func NewIngress(client *broker.Client) *Bus {
	return &Bus{client: client, dir: Ingress, channel: client.Keys.Ingress()}
}

// NewEgress binds a bus instance to the hub-to-adapters channel.
func NewEgress(client *broker.Client) *Bus {
	return &Bus{client: client, dir: Egress, channel: client.Keys.Egress()}
}

// Publish encodes the message and publishes it on this direction's
// channel.
func (b *Bus) Publish(ctx context.Context, m *Message) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	if err := b.client.RDB.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("bus: publish %s: %w", b.dir, err)
	}
	return nil
}

// Subscribe opens the stream of messages for this direction. The channel
// closes when ctx ends or the broker subscription dies; a payload that
// fails to decode yields the sentinel error message instead of ending
// the stream, because the consumer loop's liveness depends on it.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *Message, error) {
	sub := b.client.RDB.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("bus: subscribe %s: %w", b.dir, err)
	}

	out := make(chan *Message)
	go func() {
		defer close(out)
		defer sub.Close()

		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case rm, ok := <-in:
				if !ok {
					return
				}
				m, err := Decode([]byte(rm.Payload))
				if err != nil {
					slog.Warn("bus: dropping undecodable payload", "direction", b.dir.String(), "error", err)
					m = ErrorMessage()
				}
				select {
				case out <- m:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
