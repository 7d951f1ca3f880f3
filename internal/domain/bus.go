package domain

import (
	"context"
)

// EventBus carries asynchronous parse requests and their outcomes.
// All methods require tenantID so coverage libraries stay isolated.
type EventBus interface {
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	Ping(ctx context.Context) error

	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the bus envelope.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `json:"type" yaml:"type"`

	ChannelBufferSize int `json:"channelBufferSize" yaml:"channel_buffer_size"`

	NATSUrl           string `json:"natsUrl" yaml:"nats_url"`
	NATSToken         string `json:"-" yaml:"-"`
	NATSMaxReconnects int    `json:"natsMaxReconnects" yaml:"nats_max_reconnects"`
	NATSReconnectWait int    `json:"natsReconnectWait" yaml:"nats_reconnect_wait"` // seconds
}

// Topics for the asynchronous parse pipeline.
const (
	TopicParseRequested = "coverage.parse.requested"
	TopicParseCompleted = "coverage.parse.completed"
	TopicParseFailed    = "coverage.parse.failed"
)

// ParseJob is the payload of TopicParseRequested.
type ParseJob struct {
	RecordID string `json:"recordId"`

	// TenantID owns the record when the job is published on a shared
	// subject; empty means the publishing tenant.
	TenantID     string      `json:"tenantId,omitempty"`
	Input        ClauseInput `json:"input"`
	CoverageName string      `json:"coverageName,omitempty"`
	PolicyDocID  string      `json:"policyDocumentId,omitempty"`
}

// ParseEvent is the payload of TopicParseCompleted and TopicParseFailed.
type ParseEvent struct {
	RecordID string        `json:"recordId"`
	Status   OutcomeStatus `json:"status"`
	Method   ParseMethod   `json:"parseMethod,omitempty"`
	Failure  *ParseFailure `json:"failure,omitempty"`
}
