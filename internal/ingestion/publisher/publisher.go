// Package publisher stamps transcript chunks with a per-session sequence
// number and publishes them to Kafka keyed by session, so one partition
// carries each session's chunks in order. Recently seen idempotency keys
// are answered from memory without republishing.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/bani-align/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/proto"
)

const (
	sessionCapacity = 10000
	keyCapacity     = 50000
)

// Producer writes chunk events. *kafka.Producer satisfies it.
type Producer interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Observer counts accepted chunks. *metrics.Metrics satisfies it.
type Observer interface {
	ChunkIngested(status string)
}

type Publisher struct {
	producer Producer
	observer Observer
	now      func() time.Time
	logger   *slog.Logger

	mu   sync.Mutex
	seqs *lru.Cache[string, int64]
	seen *lru.Cache[string, ingestion.ChunkResponse]
}

func New(producer Producer, observer Observer) (*Publisher, error) {
	seqs, err := lru.New[string, int64](sessionCapacity)
	if err != nil {
		return nil, fmt.Errorf("creating sequence cache: %w", err)
	}
	seen, err := lru.New[string, ingestion.ChunkResponse](keyCapacity)
	if err != nil {
		return nil, fmt.Errorf("creating idempotency cache: %w", err)
	}
	return &Publisher{
		producer: producer,
		observer: observer,
		now:      time.Now,
		logger:   slog.Default().With("component", "chunk-publisher"),
		seqs:     seqs,
		seen:     seen,
	}, nil
}

// Ingest publishes one chunk.
func (p *Publisher) Ingest(ctx context.Context, req *ingestion.ChunkRequest) (*ingestion.ChunkResponse, error) {
	out, err := p.IngestBatch(ctx, []ingestion.ChunkRequest{*req})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

// IngestBatch publishes chunks in request order as one Kafka write.
// Sequence numbers are only consumed when the write succeeds.
func (p *Publisher) IngestBatch(ctx context.Context, reqs []ingestion.ChunkRequest) ([]ingestion.ChunkResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]ingestion.ChunkResponse, len(reqs))
	next := make(map[string]int64)
	keys := make(map[string]int)
	events := make([]kafka.Event, 0, len(reqs))
	at := p.now().UTC()

	for i, req := range reqs {
		id := strings.TrimSpace(req.SessionID)
		if req.IdempotencyKey != "" {
			if prev, ok := p.seen.Get(req.IdempotencyKey); ok {
				prev.Status = ingestion.StatusDuplicate
				out[i] = prev
				continue
			}
			if j, ok := keys[req.IdempotencyKey]; ok {
				out[i] = out[j]
				out[i].Status = ingestion.StatusDuplicate
				continue
			}
			keys[req.IdempotencyKey] = i
		}

		seq, ok := next[id]
		if !ok {
			seq, _ = p.seqs.Get(id)
		}
		seq++
		next[id] = seq

		out[i] = ingestion.ChunkResponse{SessionID: id, Seq: seq, Status: ingestion.StatusAccepted}
		events = append(events, kafka.Event{
			Key: id,
			Value: proto.TranscriptChunk{
				SessionID:  id,
				Seq:        seq,
				Text:       req.Text,
				Confidence: req.Confidence,
				ReceivedAt: at,
			},
		})
	}

	if len(events) > 0 {
		if err := p.producer.PublishBatch(ctx, events); err != nil {
			p.logger.Error("failed to publish chunks", "count", len(events), "error", err)
			return nil, fmt.Errorf("%w: publishing chunks: %v", apperrors.ErrUnavailable, err)
		}
	}

	for id, seq := range next {
		p.seqs.Add(id, seq)
	}
	for key, i := range keys {
		p.seen.Add(key, out[i])
	}
	if p.observer != nil {
		for _, r := range out {
			p.observer.ChunkIngested(r.Status)
		}
	}
	return out, nil
}
