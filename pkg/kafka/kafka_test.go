package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/proto"
)

func TestDecodeJSON(t *testing.T) {
	chunk, err := DecodeJSON[proto.TranscriptChunk]([]byte(`{"session_id":"s1","seq":4,"text":"ਸਤਿ ਨਾਮੁ"}`))
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if chunk.SessionID != "s1" || chunk.Seq != 4 || chunk.Text != "ਸਤਿ ਨਾਮੁ" {
		t.Errorf("decoded %+v", chunk)
	}

	_, err = DecodeJSON[proto.TranscriptChunk]([]byte(`{not json`))
	if !errors.Is(err, ErrPoison) {
		t.Fatalf("expected ErrPoison, got %v", err)
	}
}

func TestPublishBatchRejectsUnencodable(t *testing.T) {
	p := NewProducer(config.KafkaConfig{Brokers: []string{"127.0.0.1:1"}}, "t")
	defer p.Close()
	err := p.PublishBatch(context.Background(), []Event{{Key: "k", Value: func() {}}})
	if err == nil {
		t.Fatal("expected marshal error")
	}
	if err := p.PublishBatch(context.Background(), nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
}
