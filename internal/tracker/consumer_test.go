package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/proto"
)

func TestChunkConsumerSkipsRedelivery(t *testing.T) {
	m := NewManager(stableSearcher{}, DefaultParams(), time.Minute)
	c, err := NewChunkConsumer(m)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	handle := c.Handler()

	for _, raw := range []string{
		`{"session_id":"mic-1","seq":1,"text":"ਸਤਿ ਨਾਮੁ"}`,
		`{"session_id":"mic-1","seq":2,"text":"ਕਰਤਾ ਪੁਰਖੁ"}`,
		`{"session_id":"mic-1","seq":2,"text":"ਕਰਤਾ ਪੁਰਖੁ"}`,
		`{"session_id":"mic-1","seq":3,"text":"ਨਿਰਭਉ ਨਿਰਵੈਰੁ"}`,
		`{"session_id":"mic-1","seq":2,"text":"ਕਰਤਾ ਪੁਰਖੁ"}`,
	} {
		if err := handle(ctx, []byte("mic-1"), []byte(raw)); err != nil {
			t.Fatalf("handle %s: %v", raw, err)
		}
	}

	info, err := m.Get("mic-1")
	if err != nil {
		t.Fatal(err)
	}
	if info.Chunks != 3 {
		t.Errorf("Chunks = %d, want 3", info.Chunks)
	}
	if !info.State.Confirmed {
		t.Errorf("session not confirmed: %+v", info)
	}
}

func TestChunkConsumerUnnumberedChunksAlwaysApply(t *testing.T) {
	m := NewManager(stableSearcher{}, DefaultParams(), time.Minute)
	c, err := NewChunkConsumer(m)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := c.Apply(ctx, proto.TranscriptChunk{SessionID: "s", Text: "ਸਤਿ ਨਾਮੁ"}); err != nil {
			t.Fatal(err)
		}
	}
	info, _ := m.Get("s")
	if info.Chunks != 3 {
		t.Errorf("Chunks = %d, want 3", info.Chunks)
	}
}

func TestChunkConsumerSequenceRestart(t *testing.T) {
	m := NewManager(stableSearcher{}, DefaultParams(), time.Minute)
	c, err := NewChunkConsumer(m)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for _, seq := range []int64{1, 2, 3, 1, 2} {
		if err := c.Apply(ctx, proto.TranscriptChunk{SessionID: "s", Seq: seq, Text: "ਸਤਿ ਨਾਮੁ"}); err != nil {
			t.Fatal(err)
		}
	}
	info, _ := m.Get("s")
	if info.Chunks != 5 {
		t.Errorf("Chunks = %d, want 5", info.Chunks)
	}
}

func TestChunkConsumerPoison(t *testing.T) {
	m := NewManager(stableSearcher{}, DefaultParams(), time.Minute)
	c, err := NewChunkConsumer(m)
	if err != nil {
		t.Fatal(err)
	}
	handle := c.Handler()
	ctx := context.Background()

	if err := handle(ctx, nil, []byte(`{not json`)); !errors.Is(err, kafka.ErrPoison) {
		t.Errorf("bad json: err = %v, want ErrPoison", err)
	}
	if err := handle(ctx, nil, []byte(`{"seq":1,"text":"ਸਤਿ"}`)); !errors.Is(err, kafka.ErrPoison) {
		t.Errorf("missing session: err = %v, want ErrPoison", err)
	}
	if m.Len() != 0 {
		t.Errorf("Len = %d, want 0", m.Len())
	}
}
