package bus

import (
	"context"
	"encoding/json"
	"sync"
)

// Recorded is one message captured by a MemoryPublisher.
type Recorded struct {
	Topic string
	Key   string
	Value []byte
}

// MemoryPublisher records published messages in memory. Used by tests and
// by handlers that only need to observe outbound traffic.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages []Recorded
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(_ context.Context, topic, key string, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, Recorded{Topic: topic, Key: key, Value: value})
	return nil
}

func (p *MemoryPublisher) Close() error { return nil }

// Messages returns a copy of everything published so far.
func (p *MemoryPublisher) Messages() []Recorded {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Recorded, len(p.messages))
	copy(out, p.messages)
	return out
}

// MessagesOn returns the messages published to one topic.
func (p *MemoryPublisher) MessagesOn(topic string) []Recorded {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Recorded
	for _, m := range p.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
