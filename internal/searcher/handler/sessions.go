package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/tracker"
	apperrors "github.com/Adithya-Monish-Kumar-K/bani-align/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/logger"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsWriteWait  = 10 * time.Second
	wsMaxMessage = 8 << 10
)

type chunkRequest struct {
	Text string `json:"text"`
}

func (h *Handler) sessionsEnabled(w http.ResponseWriter) bool {
	if h.sessions == nil {
		h.writeError(w, http.StatusServiceUnavailable, "sessions are disabled")
		return false
	}
	return true
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	if !h.sessionsEnabled(w) {
		return
	}
	id := h.sessions.Create()
	h.writeJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	if !h.sessionsEnabled(w) {
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"sessions": h.sessions.List()})
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	if !h.sessionsEnabled(w) {
		return
	}
	info, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

// ResetSession returns the session to Unconfirmed. The session id stays
// valid.
func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	if !h.sessionsEnabled(w) {
		return
	}
	id := r.PathValue("id")
	if err := h.sessions.ResetSession(id); err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "reset"})
}

func (h *Handler) ProcessChunk(w http.ResponseWriter, r *http.Request) {
	if !h.sessionsEnabled(w) {
		return
	}
	var req chunkRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.processChunk(r.Context(), r.PathValue("id"), req.Text)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}

// processChunk runs one chunk under a query slot. A chunk may issue several
// searches; they share the slot.
func (h *Handler) processChunk(ctx context.Context, id, text string) (tracker.Outcome, error) {
	if err := h.acquire(ctx); err != nil {
		return tracker.Outcome{}, err
	}
	defer h.sem.Release(1)
	return h.sessions.ProcessChunk(ctx, id, text)
}

// Stream upgrades to a websocket. Each text message is a chunk, either raw
// text or {"text": ...}; each reply is the chunk's outcome in order.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	if !h.sessionsEnabled(w) {
		return
	}
	id := r.PathValue("id")
	if _, err := h.sessions.Get(id); err != nil {
		h.writeErr(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		return
	}
	defer conn.Close()

	ctx := logger.WithSession(r.Context(), id)
	log := logger.FromContext(ctx)
	log.Info("stream opened")

	conn.SetReadLimit(wsMaxMessage)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			}
		}
	}()

	var seq int64
	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("stream closed unexpectedly", "error", err)
			}
			break
		}
		if kind != websocket.TextMessage {
			continue
		}
		seq++

		reply := map[string]any{"seq": seq}
		out, err := h.processChunk(ctx, id, chunkText(msg))
		if err != nil {
			reply["error"] = err.Error()
			reply["code"] = apperrors.HTTPStatusCode(err)
		} else {
			reply["outcome"] = out
		}

		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(reply); err != nil {
			log.Warn("stream write failed", "error", err)
			break
		}
	}
	log.Info("stream closed", "chunks", seq)
}

// chunkText accepts either a JSON chunk object or raw text.
func chunkText(msg []byte) string {
	trimmed := strings.TrimSpace(string(msg))
	if strings.HasPrefix(trimmed, "{") {
		var req chunkRequest
		if err := json.Unmarshal(msg, &req); err == nil {
			return req.Text
		}
	}
	return string(msg)
}
