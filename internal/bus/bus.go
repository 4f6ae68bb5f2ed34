// Package bus provides publish/consume access to the Kafka command bus.
// Delivery is at-least-once: consumers commit offsets only after a handler
// succeeds, so every handler must tolerate re-delivery.
package bus

import "context"

// Publisher publishes a typed payload to a topic. Payloads are JSON-encoded;
// the key decides partition placement so messages for the same entity stay
// ordered relative to each other.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload any) error
	Close() error
}

// Message is a single delivery handed to a HandlerFunc.
type Message struct {
	Topic string
	Key   []byte
	Value []byte
}

// HandlerFunc processes one message. Returning an error triggers bounded
// redelivery and eventually the DLQ.
type HandlerFunc func(ctx context.Context, msg Message) error
