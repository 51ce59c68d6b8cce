package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/opensource-health/kestrel/internal/domain"
)

// ChannelBus is an in-process EventBus over buffered Go channels.
// Used as the community tier bus.
type ChannelBus struct {
	mu         sync.RWMutex
	bufferSize int
	subs       map[string]map[string]*channelSubscription
	closed     bool
	wg         sync.WaitGroup
}

type channelSubscription struct {
	id      string
	key     string
	topic   string
	handler domain.MessageHandler
	msgCh   chan *domain.Message
	done    chan struct{}
	once    sync.Once
	bus     *ChannelBus
}

// NewChannelBus creates a bus whose subscribers buffer bufferSize messages.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		subs:       make(map[string]map[string]*channelSubscription),
	}
}

func channelKey(tenantID, topic string) string {
	return tenantID + ":" + topic
}

// Publish delivers payload to every subscriber of the tenant's topic.
// A subscriber whose buffer is full misses the message.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	return b.send(ctx, newMessage(tenantID, topic, payload, nil))
}

func (b *ChannelBus) send(_ context.Context, msg *domain.Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for _, sub := range b.subs[channelKey(msg.TenantID, msg.Topic)] {
		select {
		case sub.msgCh <- msg:
		default:
			slog.Warn("subscriber buffer full, dropping message",
				"tenant_id", msg.TenantID,
				"topic", msg.Topic,
				"message_id", msg.ID,
			)
		}
	}
	return nil
}

// Subscribe starts a handler goroutine. It stops on Unsubscribe, Close or
// when ctx is cancelled.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	sub := &channelSubscription{
		id:      uuid.NewString(),
		key:     channelKey(tenantID, topic),
		topic:   topic,
		handler: handler,
		msgCh:   make(chan *domain.Message, b.bufferSize),
		done:    make(chan struct{}),
		bus:     b,
	}
	if b.subs[sub.key] == nil {
		b.subs[sub.key] = make(map[string]*channelSubscription)
	}
	b.subs[sub.key][sub.id] = sub

	b.wg.Add(1)
	go b.run(ctx, sub)
	return sub, nil
}

func (b *ChannelBus) run(ctx context.Context, sub *channelSubscription) {
	defer b.wg.Done()
	for {
		select {
		case <-sub.done:
			return
		case <-ctx.Done():
			sub.Unsubscribe()
			return
		case msg := <-sub.msgCh:
			if err := sub.handler(ctx, msg); err != nil {
				slog.Error("handler error",
					"tenant_id", msg.TenantID,
					"topic", msg.Topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Request publishes and waits for a reply.
func (b *ChannelBus) Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error) {
	return request(ctx, b, tenantID, topic, payload)
}

// Ping fails once the bus is closed.
func (b *ChannelBus) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops every subscription and waits for in-flight handlers.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.once.Do(func() { close(sub.done) })
		}
	}
	b.subs = make(map[string]map[string]*channelSubscription)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

func (b *ChannelBus) remove(sub *channelSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subs[sub.key]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(b.subs, sub.key)
		}
	}
}

// Unsubscribe stops delivery. Messages still buffered are discarded.
func (s *channelSubscription) Unsubscribe() error {
	s.once.Do(func() { close(s.done) })
	s.bus.remove(s)
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
