package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error)

	// Reply answers a message received through Request. It is a no-op for
	// messages that did not ask for a reply.
	Reply(ctx context.Context, msg *Message, payload []byte) error

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

// MetadataReplyTo is the message metadata key carrying the reply address
// of a request.
const MetadataReplyTo = "reply_to"

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `koanf:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `koanf:"channel_buffer_size"`

	// NATS settings (Pro tier)
	NATSUrl           string `koanf:"nats_url"`
	NATSToken         string `koanf:"nats_token"`
	NATSMaxReconnects int    `koanf:"nats_max_reconnects"`
	NATSReconnectWait int    `koanf:"nats_reconnect_wait"` // seconds

	// NATSQueueGroup load-balances subscriptions across instances so each
	// submitted invoice is scored once. Empty means fan-out.
	NATSQueueGroup string `koanf:"nats_queue_group"`
}

// Standard topic names for the scoring pipeline.
const (
	TopicInvoiceSubmitted = "kestrel.invoice.submitted"
	TopicInvoiceScored    = "kestrel.invoice.scored"
	TopicInvoiceAlert     = "kestrel.invoice.alert"
	TopicModelRetrain     = "kestrel.model.retrain"
	TopicModelTrained     = "kestrel.model.trained"
)
