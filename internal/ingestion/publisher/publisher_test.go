package publisher

import (
	"context"
	"errors"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/bani-align/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/proto"
)

type fakeProducer struct {
	batches [][]kafka.Event
	err     error
}

func (f *fakeProducer) PublishBatch(ctx context.Context, events []kafka.Event) error {
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, events)
	return nil
}

type countingObserver map[string]int

func (o countingObserver) ChunkIngested(status string) { o[status]++ }

func newPublisher(t *testing.T, p Producer, o Observer) *Publisher {
	t.Helper()
	pub, err := New(p, o)
	if err != nil {
		t.Fatal(err)
	}
	return pub
}

func TestSequencePerSession(t *testing.T) {
	prod := &fakeProducer{}
	pub := newPublisher(t, prod, nil)
	ctx := context.Background()

	var seqs []int64
	for _, id := range []string{"a", "b", "a", "a"} {
		resp, err := pub.Ingest(ctx, &ingestion.ChunkRequest{SessionID: id, Text: "ਸਤਿ"})
		if err != nil {
			t.Fatal(err)
		}
		seqs = append(seqs, resp.Seq)
	}
	want := []int64{1, 1, 2, 3}
	for i := range want {
		if seqs[i] != want[i] {
			t.Fatalf("seqs = %v, want %v", seqs, want)
		}
	}

	ev := prod.batches[3][0]
	chunk, ok := ev.Value.(proto.TranscriptChunk)
	if ev.Key != "a" || !ok || chunk.Seq != 3 || chunk.ReceivedAt.IsZero() {
		t.Errorf("event = %+v", ev)
	}
}

func TestIdempotencyKey(t *testing.T) {
	prod := &fakeProducer{}
	obs := countingObserver{}
	pub := newPublisher(t, prod, obs)
	ctx := context.Background()

	out, err := pub.IngestBatch(ctx, []ingestion.ChunkRequest{
		{SessionID: "s", Text: "one", IdempotencyKey: "k1"},
		{SessionID: "s", Text: "one", IdempotencyKey: "k1"},
		{SessionID: "s", Text: "two"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out[1].Status != ingestion.StatusDuplicate || out[1].Seq != 1 || out[2].Seq != 2 {
		t.Errorf("batch = %+v", out)
	}
	if len(prod.batches) != 1 || len(prod.batches[0]) != 2 {
		t.Errorf("published = %v", prod.batches)
	}

	again, err := pub.Ingest(ctx, &ingestion.ChunkRequest{SessionID: "s", Text: "one", IdempotencyKey: "k1"})
	if err != nil {
		t.Fatal(err)
	}
	if again.Status != ingestion.StatusDuplicate || again.Seq != 1 || len(prod.batches) != 1 {
		t.Errorf("retry = %+v, batches = %d", again, len(prod.batches))
	}
	if obs[ingestion.StatusAccepted] != 2 || obs[ingestion.StatusDuplicate] != 2 {
		t.Errorf("observer = %v", obs)
	}
}

func TestPublishFailureKeepsSequence(t *testing.T) {
	prod := &fakeProducer{err: errors.New("broker down")}
	pub := newPublisher(t, prod, nil)
	ctx := context.Background()

	_, err := pub.Ingest(ctx, &ingestion.ChunkRequest{SessionID: "s", Text: "x", IdempotencyKey: "k"})
	if !errors.Is(err, apperrors.ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}

	prod.err = nil
	resp, err := pub.Ingest(ctx, &ingestion.ChunkRequest{SessionID: "s", Text: "x", IdempotencyKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Seq != 1 || resp.Status != ingestion.StatusAccepted {
		t.Errorf("resp = %+v, want a fresh seq 1", resp)
	}
}
