package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community), NATS or Kafka (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	// The handler answers by publishing to the topic in Metadata[MetadataReplyTo].
	Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel", "nats" or "kafka"
	Type string

	ChannelBufferSize int

	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds

	KafkaBrokers []string
	KafkaGroupID string
}

// MetadataReplyTo names the topic a request expects its reply on.
const MetadataReplyTo = "reply_to"

// Topics of the asynchronous analysis pipeline.
const (
	TopicAnalysisRequested = "kestrel.analysis.requested"
	TopicAnalysisCompleted = "kestrel.analysis.completed"
	TopicAlertRaised       = "kestrel.alert.raised"
)

// AnalysisRequested is published to run a dashboard in the background.
type AnalysisRequested struct {
	ReportID string           `json:"reportId"`
	Request  DashboardRequest `json:"request"`
}

// AnalysisCompleted reports the outcome of a background analysis.
type AnalysisCompleted struct {
	ReportID     string       `json:"reportId"`
	Kind         AnalysisKind `json:"kind"`
	ClusterCount int          `json:"clusterCount"`
	AlertCount   int          `json:"alertCount"`
	Outbreak     bool         `json:"outbreakDetected"`
	Error        string       `json:"error,omitempty"`
}
