package domain

import (
	"context"
)

// EventBus carries return-lifecycle events between the API and the async
// worker. Every operation takes a tenantID; implementations must never
// deliver one tenant's events to another tenant's subscribers.
type EventBus interface {
	// Publish sends a payload to the tenant's topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for the tenant's topic.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Request publishes and waits for a single reply.
	Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler processes one delivered message. Returning an error logs
// the failure; messages are not redelivered.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope every bus implementation delivers.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription is a live topic registration.
type Subscription interface {
	// Unsubscribe stops delivery to this subscription's handler.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig selects and configures the bus implementation.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `mapstructure:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `mapstructure:"channel_buffer_size"`

	// NATS settings (Pro tier)
	NATSUrl           string `mapstructure:"nats_url"`
	NATSToken         string `mapstructure:"nats_token"`
	NATSMaxReconnects int    `mapstructure:"nats_max_reconnects"`
	NATSReconnectWait int    `mapstructure:"nats_reconnect_wait"` // seconds
}

// Standard topic names for the evaluation pipeline.
const (
	TopicReturnRequested     = "kestrel.return.requested"
	TopicEvaluationCompleted = "kestrel.evaluation.completed"
	TopicEvaluationReview    = "kestrel.evaluation.review"
	TopicEvaluationRejected  = "kestrel.evaluation.rejected"
	TopicPolicyActivated     = "kestrel.policy.activated"
)
