package bus

import (
	"context"
	"encoding/json"
	"time"
)

// DeadLetter wraps a message that exhausted its handler retries.
type DeadLetter struct {
	OriginalPayload json.RawMessage `json:"originalPayload"`
	Key             string          `json:"key"`
	SourceTopic     string          `json:"sourceTopic"`
	ErrorReason     string          `json:"errorReason"`
	Attempts        int             `json:"attempts"`
	FailedAt        time.Time       `json:"failedAt"`
}

// DLQProducer routes poison messages to a dead letter topic so the source
// partition is never wedged by a message that cannot be processed.
type DLQProducer struct {
	publisher Publisher
	topic     string
}

// NewDLQProducer creates a DLQ producer on top of an existing publisher.
func NewDLQProducer(publisher Publisher, topic string) *DLQProducer {
	return &DLQProducer{publisher: publisher, topic: topic}
}

// Send writes the failed message to the DLQ topic, keyed by the original
// message key so repeated failures of one entity stay on one partition.
func (p *DLQProducer) Send(ctx context.Context, msg Message, attempts int, cause error) error {
	return p.publisher.Publish(ctx, p.topic, string(msg.Key), DeadLetter{
		OriginalPayload: json.RawMessage(msg.Value),
		Key:             string(msg.Key),
		SourceTopic:     msg.Topic,
		ErrorReason:     cause.Error(),
		Attempts:        attempts,
		FailedAt:        time.Now().UTC(),
	})
}
