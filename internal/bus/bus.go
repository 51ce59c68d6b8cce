// Package bus carries analysis requests and results between the API and
// the background worker.
package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-health/kestrel/internal/domain"
)

// DefaultRequestTimeout bounds Request when ctx has no deadline.
const DefaultRequestTimeout = 30 * time.Second

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus is closed")

// New creates an event bus based on configuration.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case "nats":
		return NewNATSBus(cfg)
	case "kafka":
		return NewKafkaBus(cfg)
	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

func requireTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}
	return nil
}

func newMessage(tenantID, topic string, payload []byte, metadata map[string]string) *domain.Message {
	if metadata == nil {
		metadata = make(map[string]string)
	}
	return &domain.Message{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  metadata,
		Timestamp: time.Now().UnixNano(),
	}
}

// transport is what request needs from a bus.
type transport interface {
	send(ctx context.Context, msg *domain.Message) error
	Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error)
}

// request publishes payload with a private reply topic and waits for the
// first message on it.
func request(ctx context.Context, b transport, tenantID, topic string, payload []byte) ([]byte, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultRequestTimeout)
		defer cancel()
	}

	replies := make(chan []byte, 1)
	replyTopic := topic + ".reply." + uuid.NewString()
	sub, err := b.Subscribe(ctx, tenantID, replyTopic, func(_ context.Context, msg *domain.Message) error {
		select {
		case replies <- msg.Payload:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	msg := newMessage(tenantID, topic, payload, map[string]string{domain.MetadataReplyTo: replyTopic})
	if err := b.send(ctx, msg); err != nil {
		return nil, err
	}

	select {
	case reply := <-replies:
		return reply, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("request on %s: %w", topic, ctx.Err())
	}
}

// Reply answers msg when its sender is waiting in Request. Messages
// without a reply topic are ignored.
func Reply(ctx context.Context, b domain.EventBus, msg *domain.Message, payload []byte) error {
	replyTo := msg.Metadata[domain.MetadataReplyTo]
	if replyTo == "" {
		return nil
	}
	return b.Publish(ctx, msg.TenantID, replyTo, payload)
}
