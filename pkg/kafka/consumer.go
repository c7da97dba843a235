// Package kafka carries transcript chunks and analytics events between
// services over segmentio/kafka-go. Values are JSON; keys are session ids.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/config"
)

// ErrPoison marks a message that can never be processed. The consumer
// commits past it instead of leaving it uncommitted.
var ErrPoison = errors.New("poison message")

type MessageHandler func(ctx context.Context, key, value []byte) error

type ConsumerOption func(*kafka.ReaderConfig)

// FromBeginning starts a new group at the oldest offset, so chunks
// published before the first consumer came up are not lost.
func FromBeginning() ConsumerOption {
	return func(rc *kafka.ReaderConfig) { rc.StartOffset = kafka.FirstOffset }
}

// WithGroup overrides the configured consumer group.
func WithGroup(group string) ConsumerOption {
	return func(rc *kafka.ReaderConfig) { rc.GroupID = group }
}

type Consumer struct {
	reader  *kafka.Reader
	handler MessageHandler
	logger  *slog.Logger
}

func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	rc := kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	}
	for _, opt := range opts {
		opt(&rc)
	}
	return &Consumer{
		reader:  kafka.NewReader(rc),
		handler: handler,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic, "group", rc.GroupID),
	}
}

// Start fetches and handles messages until ctx is done. A message is
// committed after it is handled or found to be poison.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}

		err = c.handler(ctx, msg.Key, msg.Value)
		switch {
		case err == nil:
		case errors.Is(err, ErrPoison):
			c.logger.Warn("skipping poison message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		default:
			c.logger.Error("failed to process message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"key", string(msg.Key),
				"error", err,
			)
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to commit message", "offset", msg.Offset, "error", err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON unmarshals value into T. Decode failures are poison.
func DecodeJSON[T any](value []byte) (T, error) {
	var out T
	if err := json.Unmarshal(value, &out); err != nil {
		return out, fmt.Errorf("%w: decoding: %v", ErrPoison, err)
	}
	return out, nil
}
