package validator

import (
	"errors"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/ingestion"
)

func TestValidateChunk(t *testing.T) {
	v := New(16)
	tests := []struct {
		name  string
		req   ingestion.ChunkRequest
		field string
	}{
		{"valid", ingestion.ChunkRequest{SessionID: "s1", Text: "ਸਤਿ"}, ""},
		{"missing session", ingestion.ChunkRequest{Text: "ਸਤਿ"}, "session_id"},
		{"long session", ingestion.ChunkRequest{SessionID: strings.Repeat("x", 129), Text: "a"}, "session_id"},
		{"blank text", ingestion.ChunkRequest{SessionID: "s1", Text: "   "}, "text"},
		{"text too large", ingestion.ChunkRequest{SessionID: "s1", Text: strings.Repeat("ਸ", 6)}, "text"},
		{"invalid utf8", ingestion.ChunkRequest{SessionID: "s1", Text: "\xff\xfe"}, "text"},
		{"bad confidence", ingestion.ChunkRequest{SessionID: "s1", Text: "a", Confidence: 1.5}, "confidence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateChunk(&tt.req)
			if tt.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("error = %v, want ValidationError", err)
			}
			if _, ok := ve.Fields[tt.field]; !ok {
				t.Errorf("fields = %v, want %s", ve.Fields, tt.field)
			}
		})
	}
}

func TestValidateBatch(t *testing.T) {
	v := New(0)
	if err := v.ValidateBatch(&ingestion.BatchRequest{}); err == nil {
		t.Error("empty batch accepted")
	}
	err := v.ValidateBatch(&ingestion.BatchRequest{Chunks: []ingestion.ChunkRequest{
		{SessionID: "s1", Text: "a"},
		{SessionID: "s1"},
	}})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error = %v", err)
	}
	if _, ok := ve.Fields["chunks[1].text"]; !ok || len(ve.Fields) != 1 {
		t.Errorf("fields = %v", ve.Fields)
	}
}
