package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/chungtau/ledger-payments/internal/telemetry"
)

// ConsumerConfig configures a competing consumer on a single topic.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	// Workers bounds the number of concurrent fetch/process loops.
	Workers int
	// Retries is the number of handler attempts before a message is
	// dead-lettered. Minimum 1.
	Retries int
	DLQ     *DLQProducer
	Logger  *zap.Logger
}

// Consumer reads messages from one topic with competing-consumer semantics.
// Offsets are committed only after the handler succeeds or the message is
// dead-lettered, giving at-least-once delivery.
type Consumer struct {
	reader  *kafka.Reader
	handler HandlerFunc
	cfg     ConsumerConfig
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewConsumer creates a consumer; Run must be called to start it.
func NewConsumer(cfg ConsumerConfig, handler HandlerFunc) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 1
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID, // Load balancing across instances
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})

	return &Consumer{
		reader:  reader,
		handler: handler,
		cfg:     cfg,
		logger:  cfg.Logger.Named("consumer").With(zap.String("topic", cfg.Topic)),
	}
}

// Run blocks until ctx is cancelled, dispatching messages to the configured
// number of workers.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer started",
		zap.String("group", c.cfg.GroupID),
		zap.Int("workers", c.cfg.Workers))

	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go c.loop(ctx)
	}
	c.wg.Wait()

	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("close reader for %s: %w", c.cfg.Topic, err)
	}
	c.logger.Info("consumer stopped")
	return nil
}

func (c *Consumer) loop(ctx context.Context) {
	defer c.wg.Done()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, kafka.ErrGroupClosed) {
				return
			}
			c.logger.Error("fetch error", zap.Error(err))
			continue
		}

		telemetry.MessagesConsumed.WithLabelValues(c.cfg.Topic).Inc()

		msg := Message{Topic: c.cfg.Topic, Key: m.Key, Value: m.Value}
		if err := c.process(ctx, msg); err != nil {
			// Dead-lettering failed too; leave the offset uncommitted so
			// the message is redelivered after a rebalance.
			c.logger.Error("message abandoned uncommitted",
				zap.ByteString("key", m.Key), zap.Error(err))
			continue
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.Error("commit error", zap.Error(err))
		}
	}
}

// process runs the handler with bounded retries, then dead-letters.
func (c *Consumer) process(ctx context.Context, msg Message) error {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.Retries; attempt++ {
		lastErr = c.handler(ctx, msg)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("handler failed",
			zap.Int("attempt", attempt),
			zap.ByteString("key", msg.Key),
			zap.Error(lastErr))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}

	if c.cfg.DLQ == nil {
		return lastErr
	}
	if err := c.cfg.DLQ.Send(ctx, msg, c.cfg.Retries, lastErr); err != nil {
		return fmt.Errorf("send to DLQ: %w", err)
	}
	telemetry.MessagesDeadLettered.WithLabelValues(c.cfg.Topic).Inc()
	c.logger.Warn("message dead-lettered", zap.ByteString("key", msg.Key))
	return nil
}
