// Package ingestion defines the request/response types of the transcript
// chunk ingestion service. Accepted chunks are published to Kafka as
// proto.TranscriptChunk, keyed by session.
package ingestion

// ChunkRequest is the JSON body accepted by the ingestion endpoint.
type ChunkRequest struct {
	SessionID      string  `json:"session_id"`
	Text           string  `json:"text"`
	Confidence     float64 `json:"confidence,omitempty"`
	IdempotencyKey string  `json:"idempotency_key,omitempty"`
}

// ChunkResponse is returned once a chunk is queued for the tracker.
type ChunkResponse struct {
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
	Status    string `json:"status"`
}

// BatchRequest carries several chunks, published in order.
type BatchRequest struct {
	Chunks []ChunkRequest `json:"chunks"`
}

type BatchResponse struct {
	Accepted []ChunkResponse `json:"accepted"`
}

const (
	StatusAccepted  = "ACCEPTED"
	StatusDuplicate = "DUPLICATE"
)
