package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	apperrors "github.com/Adithya-Monish-Kumar-K/bani-align/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/proto"
)

const maxTrackedSeqs = 10_000

// ChunkConsumer applies transcript chunks read from Kafka to the manager's
// sessions. Sessions are created on first sight. A chunk whose sequence
// number is not above the last one applied for its session is a redelivery
// and is skipped, except seq 1, which starts a new sequence after an
// ingestion restart.
type ChunkConsumer struct {
	manager *Manager
	logger  *slog.Logger

	mu   sync.Mutex
	seqs *lru.Cache[string, int64]
}

func NewChunkConsumer(m *Manager) (*ChunkConsumer, error) {
	seqs, err := lru.New[string, int64](maxTrackedSeqs)
	if err != nil {
		return nil, fmt.Errorf("creating sequence cache: %w", err)
	}
	return &ChunkConsumer{
		manager: m,
		seqs:    seqs,
		logger:  slog.Default().With("component", "chunk-consumer"),
	}, nil
}

// Handler adapts the consumer to kafka.NewConsumer.
func (c *ChunkConsumer) Handler() kafka.MessageHandler {
	return func(ctx context.Context, key, value []byte) error {
		chunk, err := kafka.DecodeJSON[proto.TranscriptChunk](value)
		if err != nil {
			return err
		}
		return c.Apply(ctx, chunk)
	}
}

// Apply processes one chunk. Invalid chunks are reported as poison so the
// consumer moves past them.
func (c *ChunkConsumer) Apply(ctx context.Context, chunk proto.TranscriptChunk) error {
	if err := c.manager.Ensure(chunk.SessionID); err != nil {
		return fmt.Errorf("%w: %v", kafka.ErrPoison, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.seqs.Get(chunk.SessionID); ok && chunk.Seq > 1 && chunk.Seq <= last {
		c.logger.Debug("skipping redelivered chunk", "session_id", chunk.SessionID, "seq", chunk.Seq, "last", last)
		return nil
	}

	_, err := c.manager.ProcessChunk(ctx, chunk.SessionID, chunk.Text)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidInput) {
			return fmt.Errorf("%w: %v", kafka.ErrPoison, err)
		}
		return err
	}
	if chunk.Seq > 0 {
		c.seqs.Add(chunk.SessionID, chunk.Seq)
	}
	return nil
}
