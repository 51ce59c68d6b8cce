package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/opensource-health/kestrel/internal/domain"
)

// KafkaBus is an EventBus over Kafka topics. Messages are keyed by tenant
// so a tenant's events stay ordered within one partition. Each tenant
// subscription consumes in its own consumer group.
type KafkaBus struct {
	writer  *kafka.Writer
	brokers []string
	groupID string

	mu     sync.Mutex
	subs   map[string]*kafkaSubscription
	closed bool
}

type kafkaSubscription struct {
	id     string
	topic  string
	reader *kafka.Reader
	cancel context.CancelFunc
	done   chan struct{}
	bus    *KafkaBus
}

// NewKafkaBus creates the shared writer. Brokers are dialled lazily.
func NewKafkaBus(cfg domain.EventBusConfig) (*KafkaBus, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("%w: kafka brokers are required", domain.ErrInvalidInput)
	}
	groupID := cfg.KafkaGroupID
	if groupID == "" {
		groupID = "kestrel"
	}
	return &KafkaBus{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.KafkaBrokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
		brokers: cfg.KafkaBrokers,
		groupID: groupID,
		subs:    make(map[string]*kafkaSubscription),
	}, nil
}

// encodeKafka wraps msg in a Kafka record keyed by tenant.
func encodeKafka(msg *domain.Message) (kafka.Message, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal message: %w", err)
	}
	return kafka.Message{
		Topic: msg.Topic,
		Key:   []byte(msg.TenantID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "tenant_id", Value: []byte(msg.TenantID)},
			{Key: "message_id", Value: []byte(msg.ID)},
		},
	}, nil
}

// decodeKafka unwraps a record. ok is false for another tenant's record.
func decodeKafka(m kafka.Message, tenantID string) (msg *domain.Message, ok bool, err error) {
	if string(m.Key) != tenantID {
		return nil, false, nil
	}
	var out domain.Message
	if err := json.Unmarshal(m.Value, &out); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal kafka message: %w", err)
	}
	if out.TenantID != tenantID {
		return nil, false, nil
	}
	return &out, true, nil
}

// Publish writes payload to the topic, keyed by tenant.
func (b *KafkaBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	return b.send(ctx, newMessage(tenantID, topic, payload, nil))
}

func (b *KafkaBus) send(ctx context.Context, msg *domain.Message) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}
	record, err := encodeKafka(msg)
	if err != nil {
		return err
	}
	if err := b.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Subscribe consumes the topic in the group "<groupID>.<tenantID>", so
// other tenants' records are skipped and committed.
func (b *KafkaBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &kafkaSubscription{
		id:    uuid.NewString(),
		topic: topic,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     b.brokers,
			GroupID:     b.groupID + "." + tenantID,
			Topic:       topic,
			MinBytes:    1,
			MaxBytes:    10e6,
			StartOffset: kafka.LastOffset,
		}),
		cancel: cancel,
		done:   make(chan struct{}),
		bus:    b,
	}
	b.subs[sub.id] = sub

	go sub.consume(subCtx, tenantID, handler)
	return sub, nil
}

func (s *kafkaSubscription) consume(ctx context.Context, tenantID string, handler domain.MessageHandler) {
	defer close(s.done)
	for {
		m, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			slog.Error("kafka fetch failed", "topic", s.topic, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		msg, ok, err := decodeKafka(m, tenantID)
		if err != nil {
			slog.Error("dropping kafka message", "topic", s.topic, "offset", m.Offset, "error", err)
		}
		if ok {
			if err := handler(ctx, msg); err != nil {
				slog.Error("handler error",
					"tenant_id", tenantID,
					"topic", s.topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
		if err := s.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			slog.Warn("kafka commit failed", "topic", s.topic, "offset", m.Offset, "error", err)
		}
	}
}

// Request is not offered on Kafka; per-request reply topics would each
// need their own consumer group.
func (b *KafkaBus) Request(context.Context, string, string, []byte) ([]byte, error) {
	return nil, fmt.Errorf("kafka bus request: %w", errors.ErrUnsupported)
}

// Ping dials the first reachable broker.
func (b *KafkaBus) Ping(ctx context.Context) error {
	var lastErr error
	for _, broker := range b.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err == nil {
			return conn.Close()
		}
		lastErr = err
	}
	return fmt.Errorf("no kafka broker reachable: %w", lastErr)
}

// Close stops every consumer and flushes the writer.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*kafkaSubscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[string]*kafkaSubscription)
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.stop()
	}
	return b.writer.Close()
}

func (s *kafkaSubscription) stop() error {
	s.cancel()
	<-s.done
	return s.reader.Close()
}

// Unsubscribe stops the consumer and leaves its group.
func (s *kafkaSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	_, ok := s.bus.subs[s.id]
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	if !ok {
		return nil
	}
	return s.stop()
}

// Topic returns the subscribed topic.
func (s *kafkaSubscription) Topic() string {
	return s.topic
}
