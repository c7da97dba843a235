// Package proto defines the message types exchanged between services over
// the JSON-over-TCP RPC layer (pkg/rpc) and the Kafka topics.
package proto

import "time"

// RPC method names served by cmd/searcher.
const (
	MethodSearchGlobal  = "MatchService.SearchGlobal"
	MethodSearchSection = "MatchService.SearchSection"
	MethodHealth        = "MatchService.Health"
)

// ---------- Match ----------

// Match is a collaborator search result: the matched span text, the section
// of its anchor line and its score in [0,100].
type Match struct {
	MatchedText string  `json:"matched_text"`
	SectionID   string  `json:"section_id"`
	Score       float64 `json:"score"`
	LineID      int     `json:"line_id,omitempty"`
}

// SearchGlobalRequest asks for the best match anywhere in the corpus.
type SearchGlobalRequest struct {
	Query string `json:"query"`
}

// SearchSectionRequest asks for the best match inside one section.
type SearchSectionRequest struct {
	SectionID string `json:"section_id"`
	Query     string `json:"query"`
}

// SearchResponse carries a match or nothing. Found=false is a normal
// outcome.
type SearchResponse struct {
	Found bool   `json:"found"`
	Match *Match `json:"match,omitempty"`
}

// HealthCheckResponse reports whether the serving side is ready.
type HealthCheckResponse struct {
	Status string `json:"status"` // SERVING, NOT_SERVING
}

// ---------- Streaming ----------

// TranscriptChunk is one fragment of a live transcript, keyed by session so
// that a Kafka partition preserves per-session order.
type TranscriptChunk struct {
	SessionID  string    `json:"session_id"`
	Seq        int64     `json:"seq"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// ---------- Analytics ----------

// Event types published to the analytics topic.
const (
	EventMatch   = "match"
	EventTracker = "tracker"
)

// AnalyticsEvent is the envelope on the analytics topic. Exactly one of
// Match or Tracker is set, according to Type.
type AnalyticsEvent struct {
	Type      string        `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Match     *MatchEvent   `json:"match,omitempty"`
	Tracker   *TrackerEvent `json:"tracker,omitempty"`
}

// MatchEvent describes one executed search.
type MatchEvent struct {
	Query      string  `json:"query"`
	Found      bool    `json:"found"`
	Weak       bool    `json:"weak"`
	Score      float64 `json:"score"`
	SectionID  string  `json:"section_id,omitempty"`
	Stage      string  `json:"stage"`
	Candidates int     `json:"candidates"`
	LatencyMs  float64 `json:"latency_ms"`
	Cached     bool    `json:"cached"`
}

// TrackerEvent describes one processed transcript chunk.
type TrackerEvent struct {
	SessionID string  `json:"session_id"`
	Status    string  `json:"status"`
	AnchorID  string  `json:"anchor_id,omitempty"`
	Score     float64 `json:"score,omitempty"`
	Failures  int     `json:"failures"`
}
