package handler

import (
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/similarity"
)

type compareRequest struct {
	Query     string         `json:"query"`
	Weights   ranker.Weights `json:"weights"`
	TopK      int            `json:"top_k"`
	SessionID string         `json:"session_id,omitempty"`
	LogMode   string         `json:"log_mode,omitempty"`
}

type compareResponse struct {
	*executor.Ranking
	ComparisonID int64   `json:"comparison_id"`
	Saved        bool    `json:"saved"`
	Timestamp    float64 `json:"timestamp"`
}

// Compare ranks lines with caller-supplied weights. Rankings whose best
// score reaches the history threshold are saved.
func (h *Handler) Compare(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Query == "" {
		h.writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if len(req.Weights) == 0 {
		req.Weights = h.exec.Params().Weights
	}

	ctx := r.Context()
	if err := h.acquire(ctx); err != nil {
		h.writeErr(w, r, err)
		return
	}
	ranking, err := h.exec.Rank(ctx, req.Query, req.Weights, h.topK(req.TopK))
	h.sem.Release(1)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	out := compareResponse{Ranking: ranking, Timestamp: float64(h.now().UnixMilli()) / 1000}
	if h.history != nil {
		id, saved, err := h.history.Save(ctx, ranking, req.SessionID, req.LogMode)
		if err != nil {
			// The ranking is still useful without the history row.
			logger.FromContext(ctx).Error("saving comparison failed", "error", err)
		}
		out.ComparisonID, out.Saved = id, saved
	}
	h.writeJSON(w, http.StatusOK, out)
}

type compareWeightsRequest struct {
	Query      string           `json:"query"`
	WeightSets []ranker.Weights `json:"weight_sets"`
	TopK       int              `json:"top_k"`
}

// CompareWeights ranks one query under several weight sets.
func (h *Handler) CompareWeights(w http.ResponseWriter, r *http.Request) {
	var req compareWeightsRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Query == "" || len(req.WeightSets) == 0 {
		h.writeError(w, http.StatusBadRequest, "query and weight_sets are required")
		return
	}
	if len(req.WeightSets) > 10 {
		h.writeError(w, http.StatusBadRequest, "at most 10 weight sets")
		return
	}

	if err := h.acquire(r.Context()); err != nil {
		h.writeErr(w, r, err)
		return
	}
	rankings, err := h.exec.CompareWeights(r.Context(), req.Query, req.WeightSets, h.topK(req.TopK))
	h.sem.Release(1)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"query":       req.Query,
		"comparisons": rankings,
	})
}

type individualRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// CompareIndividual ranks lines by each similarity metric on its own.
func (h *Handler) CompareIndividual(w http.ResponseWriter, r *http.Request) {
	var req individualRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Query == "" {
		h.writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	topK := req.TopK
	if topK <= 0 {
		topK = 5
	}

	if err := h.acquire(r.Context()); err != nil {
		h.writeErr(w, r, err)
		return
	}
	byMetric, err := h.exec.RankByMetric(r.Context(), req.Query, h.topK(topK))
	h.sem.Release(1)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"query":                     req.Query,
		"individual_method_results": byMetric,
		"timestamp":                 float64(h.now().UnixMilli()) / 1000,
	})
}

var methodDescriptions = map[string]string{
	similarity.MetricRatio:          "Simple ratio comparison",
	similarity.MetricPartialRatio:   "Best-aligned substring comparison",
	similarity.MetricTokenSortRatio: "Ratio of the sorted word lists",
	similarity.MetricTokenSetRatio:  "Ratio over shared and distinct word sets",
	similarity.MetricWRatio:         "Weighted blend of the other methods",
}

type method struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CompareMethods lists the metrics a weight set may reference.
func (h *Handler) CompareMethods(w http.ResponseWriter, r *http.Request) {
	methods := make([]method, 0, len(similarity.Metrics))
	for _, name := range similarity.MetricNames() {
		methods = append(methods, method{Name: name, Description: methodDescriptions[name]})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"methods":         methods,
		"default_weights": h.exec.Params().Weights,
	})
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.writeError(w, http.StatusServiceUnavailable, "history is disabled")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	records, err := h.history.List(r.Context(), limit)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"history": records})
}

// HistoryExport streams every saved comparison as one JSON document.
func (h *Handler) HistoryExport(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.writeError(w, http.StatusServiceUnavailable, "history is disabled")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="comparison_history.json"`)
	n, err := h.history.Export(r.Context(), w)
	if err != nil {
		// Headers are gone by now; all we can do is log.
		logger.FromContext(r.Context()).Error("history export failed", "written", n, "error", err)
		return
	}
	logger.FromContext(r.Context()).Info("history exported", "comparisons", n)
}
