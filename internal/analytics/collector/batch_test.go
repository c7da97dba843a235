package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/proto"
)

type fakePublisher struct {
	mu      sync.Mutex
	fail    bool
	batches [][]kafka.Event
}

func (f *fakePublisher) PublishBatch(ctx context.Context, events []kafka.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker down")
	}
	f.batches = append(f.batches, append([]kafka.Event(nil), events...))
	return nil
}

func (f *fakePublisher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func matchEvent(q string) proto.AnalyticsEvent {
	return proto.AnalyticsEvent{Type: proto.EventMatch, Match: &proto.MatchEvent{Query: q}}
}

func TestFlushPublishesBuffered(t *testing.T) {
	pub := &fakePublisher{}
	bc := NewBatchCollector(pub, 10, time.Hour)
	bc.Track(matchEvent("a"), "a")
	bc.Publish(context.Background(), kafka.Event{Key: "s1", Value: "x"})
	if bc.BufferLen() != 2 {
		t.Fatalf("BufferLen = %d", bc.BufferLen())
	}
	bc.Flush(context.Background())
	if pub.total() != 2 || bc.BufferLen() != 0 {
		t.Fatalf("published %d, buffered %d", pub.total(), bc.BufferLen())
	}
	if pub.batches[0][1].Key != "s1" {
		t.Errorf("order not kept: %+v", pub.batches[0])
	}
}

func TestFailedFlushRequeuesAndCaps(t *testing.T) {
	pub := &fakePublisher{fail: true}
	bc := NewBatchCollector(pub, 2, time.Hour)
	for i := 0; i < 25; i++ {
		bc.add(kafka.Event{Key: "k"})
		bc.Flush(context.Background())
	}
	if bc.BufferLen() != 20 {
		t.Fatalf("BufferLen = %d, want cap 20", bc.BufferLen())
	}
	if bc.Dropped() != 5 {
		t.Errorf("Dropped = %d, want 5", bc.Dropped())
	}

	pub.mu.Lock()
	pub.fail = false
	pub.mu.Unlock()
	bc.Flush(context.Background())
	if pub.total() != 20 {
		t.Errorf("published %d after recovery", pub.total())
	}
}

func TestFullBatchTriggersFlush(t *testing.T) {
	pub := &fakePublisher{}
	bc := NewBatchCollector(pub, 3, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	bc.Start(ctx)
	for i := 0; i < 3; i++ {
		bc.Track(matchEvent("q"), "q")
	}

	deadline := time.Now().Add(2 * time.Second)
	for pub.total() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if pub.total() != 3 {
		t.Fatalf("published %d, want 3", pub.total())
	}

	bc.Track(matchEvent("last"), "last")
	cancel()
	bc.Close()
	if pub.total() != 4 {
		t.Errorf("final flush published %d, want 4", pub.total())
	}
}
