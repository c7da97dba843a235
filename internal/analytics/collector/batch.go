// Package collector buffers analytics events in memory and flushes them to
// Kafka in batches, so a search never waits on the broker.
package collector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/proto"
)

// BatchPublisher writes a batch. *kafka.Producer satisfies it.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// BatchCollector flushes when batchSize events are buffered or every
// flushInterval. Failed batches are re-queued up to maxBuffered events;
// beyond that the oldest are dropped.
type BatchCollector struct {
	publisher     BatchPublisher
	batchSize     int
	maxBuffered   int
	flushInterval time.Duration
	kick          chan struct{}
	done          chan struct{}
	logger        *slog.Logger

	mu      sync.Mutex
	buffer  []kafka.Event
	dropped int64
}

func NewBatchCollector(p BatchPublisher, batchSize int, flushInterval time.Duration) *BatchCollector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &BatchCollector{
		publisher:     p,
		batchSize:     batchSize,
		maxBuffered:   batchSize * 10,
		flushInterval: flushInterval,
		buffer:        make([]kafka.Event, 0, batchSize),
		kick:          make(chan struct{}, 1),
		done:          make(chan struct{}),
		logger:        slog.Default().With("component", "batch-collector"),
	}
}

// Start runs the flush loop in a goroutine until ctx ends, then flushes
// once more.
func (bc *BatchCollector) Start(ctx context.Context) {
	go func() {
		defer close(bc.done)
		ticker := time.NewTicker(bc.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				bc.Flush(ctx)
			case <-bc.kick:
				bc.Flush(ctx)
			case <-ctx.Done():
				final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				bc.Flush(final)
				cancel()
				return
			}
		}
	}()
	bc.logger.Info("batch collector started",
		"batch_size", bc.batchSize,
		"flush_interval", bc.flushInterval,
	)
}

// Track buffers an event without blocking.
func (bc *BatchCollector) Track(ev proto.AnalyticsEvent, key string) {
	bc.add(kafka.Event{Key: key, Value: ev})
}

// Publish buffers event; it lets the collector stand in for a producer.
func (bc *BatchCollector) Publish(ctx context.Context, event kafka.Event) error {
	bc.add(event)
	return nil
}

func (bc *BatchCollector) add(ev kafka.Event) {
	bc.mu.Lock()
	bc.buffer = append(bc.buffer, ev)
	full := len(bc.buffer) >= bc.batchSize
	bc.mu.Unlock()
	if full {
		select {
		case bc.kick <- struct{}{}:
		default:
		}
	}
}

// Flush publishes everything buffered.
func (bc *BatchCollector) Flush(ctx context.Context) {
	bc.mu.Lock()
	if len(bc.buffer) == 0 {
		bc.mu.Unlock()
		return
	}
	batch := bc.buffer
	bc.buffer = make([]kafka.Event, 0, bc.batchSize)
	bc.mu.Unlock()

	if err := bc.publisher.PublishBatch(ctx, batch); err != nil {
		bc.logger.Error("batch flush failed", "batch_size", len(batch), "error", err)
		bc.mu.Lock()
		bc.buffer = append(batch, bc.buffer...)
		if over := len(bc.buffer) - bc.maxBuffered; over > 0 {
			bc.buffer = append([]kafka.Event(nil), bc.buffer[over:]...)
			bc.dropped += int64(over)
			bc.logger.Warn("buffer overflow, events dropped", "dropped", over)
		}
		bc.mu.Unlock()
		return
	}
	bc.logger.Debug("batch flushed", "events", len(batch))
}

// Close waits for the flush loop started by Start to finish.
func (bc *BatchCollector) Close() {
	<-bc.done
}

func (bc *BatchCollector) BufferLen() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return len(bc.buffer)
}

func (bc *BatchCollector) Dropped() int64 {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.dropped
}
