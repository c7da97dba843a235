// Package validator checks ingestion requests and reports per-field errors.
package validator

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/ingestion"
)

const (
	maxSessionIDLength = 128
	maxKeyLength       = 255
	maxBatchSize       = 100
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// Validator enforces the configured chunk size limit.
type Validator struct {
	maxChunkSize int
}

func New(maxChunkSize int) *Validator {
	if maxChunkSize <= 0 {
		maxChunkSize = 4096
	}
	return &Validator{maxChunkSize: maxChunkSize}
}

// ValidateChunk checks session id, text and idempotency key.
func (v *Validator) ValidateChunk(req *ingestion.ChunkRequest) error {
	errs := make(map[string]string)
	v.check(req, "", errs)
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// ValidateBatch checks every chunk; field names carry the chunk index.
func (v *Validator) ValidateBatch(req *ingestion.BatchRequest) error {
	errs := make(map[string]string)
	switch {
	case len(req.Chunks) == 0:
		errs["chunks"] = "at least one chunk is required"
	case len(req.Chunks) > maxBatchSize:
		errs["chunks"] = fmt.Sprintf("at most %d chunks per batch", maxBatchSize)
	default:
		for i := range req.Chunks {
			v.check(&req.Chunks[i], fmt.Sprintf("chunks[%d].", i), errs)
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func (v *Validator) check(req *ingestion.ChunkRequest, prefix string, errs map[string]string) {
	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		errs[prefix+"session_id"] = "session_id is required"
	} else if len(id) > maxSessionIDLength {
		errs[prefix+"session_id"] = fmt.Sprintf("session_id must be at most %d characters", maxSessionIDLength)
	}

	switch {
	case strings.TrimSpace(req.Text) == "":
		errs[prefix+"text"] = "text is required"
	case len(req.Text) > v.maxChunkSize:
		errs[prefix+"text"] = fmt.Sprintf("text must be at most %d bytes", v.maxChunkSize)
	case !utf8.ValidString(req.Text):
		errs[prefix+"text"] = "text must be valid UTF-8"
	}

	if req.Confidence < 0 || req.Confidence > 1 {
		errs[prefix+"confidence"] = "confidence must be in [0,1]"
	}
	if len(req.IdempotencyKey) > maxKeyLength {
		errs[prefix+"idempotency_key"] = fmt.Sprintf("idempotency key must be at most %d characters", maxKeyLength)
	}
}
