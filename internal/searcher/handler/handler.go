// Package handler exposes the match engine over HTTP: line search,
// transcription matching, retrieval diagnostics, weighted comparison with
// history, and streaming tracker sessions.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/history"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/searcher/span"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/tracker"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/bani-align/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/proto"
)

// EventTracker receives match events for the analytics topic.
// *collector.BatchCollector satisfies it.
type EventTracker interface {
	Track(ev proto.AnalyticsEvent, key string)
}

type Option func(*Handler)

func WithCache(c *cache.Cache[executor.Result]) Option {
	return func(h *Handler) { h.cache = c }
}

func WithHistory(s *history.Store) Option {
	return func(h *Handler) { h.history = s }
}

func WithSessions(m *tracker.Manager) Option {
	return func(h *Handler) { h.sessions = m }
}

func WithCollector(c EventTracker) Option {
	return func(h *Handler) { h.collector = c }
}

// WithLimits applies top-k bounds and the concurrent query limit.
func WithLimits(cfg config.SearchConfig) Option {
	return func(h *Handler) {
		if cfg.DefaultTopK > 0 {
			h.defaultTopK = cfg.DefaultTopK
		}
		if cfg.MaxTopK > 0 {
			h.maxTopK = cfg.MaxTopK
		}
		if cfg.MaxConcurrentQueries > 0 {
			h.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrentQueries))
		}
	}
}

// WithOriginCheck replaces the websocket origin check. The default accepts
// only same-host origins.
func WithOriginCheck(fn func(r *http.Request) bool) Option {
	return func(h *Handler) { h.upgrader.CheckOrigin = fn }
}

type Handler struct {
	exec        *executor.Executor
	cache       *cache.Cache[executor.Result]
	history     *history.Store
	sessions    *tracker.Manager
	collector   EventTracker
	sem         *semaphore.Weighted
	defaultTopK int
	maxTopK     int
	upgrader    websocket.Upgrader
	now         func() time.Time
	logger      *slog.Logger
}

func New(exec *executor.Executor, opts ...Option) *Handler {
	h := &Handler{
		exec:        exec,
		sem:         semaphore.NewWeighted(64),
		defaultTopK: 10,
		maxTopK:     100,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		now:    time.Now,
		logger: slog.Default().With("component", "search-handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers every endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("POST /api/v1/transcribe", h.Transcribe)
	mux.HandleFunc("GET /api/v1/candidates", h.Candidates)

	mux.HandleFunc("POST /api/v1/compare", h.Compare)
	mux.HandleFunc("POST /api/v1/compare/weights", h.CompareWeights)
	mux.HandleFunc("POST /api/v1/compare/individual", h.CompareIndividual)
	mux.HandleFunc("GET /api/v1/compare/methods", h.CompareMethods)
	mux.HandleFunc("GET /api/v1/history", h.History)
	mux.HandleFunc("GET /api/v1/history/export", h.HistoryExport)

	mux.HandleFunc("POST /api/v1/sessions", h.CreateSession)
	mux.HandleFunc("GET /api/v1/sessions", h.ListSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", h.GetSession)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", h.ResetSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/chunks", h.ProcessChunk)
	mux.HandleFunc("GET /api/v1/sessions/{id}/stream", h.Stream)

	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	threshold := h.exec.Params().Threshold
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		t, err := strconv.ParseFloat(raw, 64)
		if err != nil || t < 0 || t > 100 {
			h.writeError(w, http.StatusBadRequest, "threshold must be a number in [0,100]")
			return
		}
		threshold = t
	}

	res, err := h.search(r.Context(), q, threshold)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

type transcribeRequest struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	SessionID  string  `json:"session_id,omitempty"`
}

type transcribeResponse struct {
	TranscribedText string    `json:"transcribed_text"`
	Confidence      float64   `json:"confidence"`
	SessionID       string    `json:"session_id,omitempty"`
	MatchFound      bool      `json:"match_found"`
	Weak            bool      `json:"weak"`
	BestMatch       *string   `json:"best_match"`
	BestScore       *float64  `json:"best_score"`
	LineID          int       `json:"line_id,omitempty"`
	SectionID       string    `json:"section_id,omitempty"`
	Span            span.Span `json:"span"`
	Timestamp       float64   `json:"timestamp"`
}

// Transcribe matches one transcribed utterance against the corpus.
func (h *Handler) Transcribe(w http.ResponseWriter, r *http.Request) {
	var req transcribeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Text == "" {
		h.writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	res, err := h.search(r.Context(), req.Text, h.exec.Params().Threshold)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	out := transcribeResponse{
		TranscribedText: req.Text,
		Confidence:      req.Confidence,
		SessionID:       req.SessionID,
		MatchFound:      res.Found && !res.Weak,
		Weak:            res.Weak,
		Timestamp:       float64(h.now().UnixMilli()) / 1000,
	}
	if res.Found {
		out.BestMatch = &res.Text
		out.BestScore = &res.Score
		out.LineID = res.LineID
		out.SectionID = res.SectionID
		out.Span = res.Span
	}
	h.writeJSON(w, http.StatusOK, out)
}

// Candidates reports what retrieval alone produces for a query.
func (h *Handler) Candidates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	rep, err := h.exec.Candidates(r.Context(), q)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	st := h.cache.Stats()
	var hitRate float64
	if total := st.Hits + st.Misses; total > 0 {
		hitRate = float64(st.Hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     st.Hits,
		"misses":   st.Misses,
		"size":     st.Size,
		"capacity": st.Capacity,
		"shared":   st.Shared,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	if err := h.cache.Purge(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// Stats summarizes the loaded corpus and live sessions.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	c := h.exec.Corpus()
	out := map[string]any{
		"lines":       c.Len(),
		"sections":    len(c.Sections()),
		"fingerprint": c.Fingerprint(),
		"params":      h.exec.Params(),
	}
	if h.sessions != nil {
		out["active_sessions"] = h.sessions.Len()
	}
	if h.history != nil {
		if n, err := h.history.Count(r.Context()); err == nil {
			out["saved_comparisons"] = n
		}
	}
	h.writeJSON(w, http.StatusOK, out)
}

// search runs one bounded query and reports it to analytics.
func (h *Handler) search(ctx context.Context, q string, threshold float64) (executor.Result, error) {
	if err := h.acquire(ctx); err != nil {
		return executor.Result{}, err
	}
	defer h.sem.Release(1)

	start := h.now()
	res, err := h.exec.Search(ctx, q, threshold)
	if err != nil {
		return executor.Result{}, err
	}
	elapsed := h.now().Sub(start)

	logger.FromContext(ctx).Info("search completed",
		"query", res.Normalized,
		"found", res.Found,
		"weak", res.Weak,
		"score", res.Score,
		"stage", res.Stage,
		"cached", res.Cached,
		"latency_ms", elapsed.Milliseconds(),
	)
	if h.collector != nil {
		ev := analytics.NewMatchEvent(res, elapsed, h.now())
		h.collector.Track(ev, analytics.EventKey(ev))
	}
	return res, nil
}

func (h *Handler) acquire(ctx context.Context) error {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: waiting for a query slot: %v", apperrors.ErrTimeout, err)
	}
	return nil
}

func (h *Handler) topK(requested int) int {
	switch {
	case requested <= 0:
		return h.defaultTopK
	case requested > h.maxTopK:
		return h.maxTopK
	default:
		return requested
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeErr maps err onto a status. Server-side failures are logged and
// reported without detail.
func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
		h.writeError(w, status, "internal error")
		return
	}
	h.writeError(w, status, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
