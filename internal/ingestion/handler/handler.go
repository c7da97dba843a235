package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/bani-align/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/logger"
)

type Handler struct {
	publisher *publisher.Publisher
	validator *validator.Validator
	logger    *slog.Logger
}

func New(pub *publisher.Publisher, v *validator.Validator) *Handler {
	return &Handler{
		publisher: pub,
		validator: v,
		logger:    slog.Default().With("component", "ingestion-handler"),
	}
}

func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/chunks", h.Ingest)
	mux.HandleFunc("POST /api/v1/chunks/batch", h.IngestBatch)
}

func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ingestion.ChunkRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.validator.ValidateChunk(&req); err != nil {
		h.writeValidation(w, err)
		return
	}

	resp, err := h.publisher.Ingest(ctx, &req)
	if err != nil {
		statusCode := apperrors.HTTPStatusCode(err)
		logger.FromContext(ctx).Error("ingestion failed", "error", err, "status_code", statusCode)
		h.writeError(w, statusCode, "ingestion failed")
		return
	}
	logger.FromContext(logger.WithSession(ctx, resp.SessionID)).Debug("chunk accepted",
		"seq", resp.Seq,
		"status", resp.Status,
	)
	h.writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ingestion.BatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.validator.ValidateBatch(&req); err != nil {
		h.writeValidation(w, err)
		return
	}

	accepted, err := h.publisher.IngestBatch(ctx, req.Chunks)
	if err != nil {
		statusCode := apperrors.HTTPStatusCode(err)
		logger.FromContext(ctx).Error("batch ingestion failed", "error", err, "chunks", len(req.Chunks))
		h.writeError(w, statusCode, "ingestion failed")
		return
	}
	logger.FromContext(ctx).Info("chunk batch accepted", "chunks", len(accepted))
	h.writeJSON(w, http.StatusAccepted, ingestion.BatchResponse{Accepted: accepted})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 4<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (h *Handler) writeValidation(w http.ResponseWriter, err error) {
	var validationErr *validator.ValidationError
	if errors.As(err, &validationErr) {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": validationErr.Fields,
		})
		return
	}
	h.writeError(w, http.StatusBadRequest, err.Error())
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
