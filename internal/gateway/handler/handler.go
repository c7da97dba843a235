// Package handler implements the API gateway: reverse proxies to the match,
// ingestion, analytics and tracker services plus API key administration.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/auth/apikey"
	gwmw "github.com/Adithya-Monish-Kumar-K/bani-align/internal/gateway/middleware"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/health"
	pkgmw "github.com/Adithya-Monish-Kumar-K/bani-align/pkg/middleware"
)

// KeyStore manages API keys. *apikey.Validator satisfies it.
type KeyStore interface {
	CreateKey(ctx context.Context, name string, rateLimit int, expiresAt *time.Time) (string, *apikey.KeyInfo, error)
	RevokeKey(ctx context.Context, id string) error
	ListKeys(ctx context.Context) ([]apikey.KeyInfo, error)
}

type Handler struct {
	searcher  *httputil.ReverseProxy
	ingestion *httputil.ReverseProxy
	analytics *httputil.ReverseProxy
	tracker   *httputil.ReverseProxy
	backends  map[string]*url.URL
	keys      KeyStore
	adminName string
	logger    *slog.Logger
}

func New(cfg config.GatewayConfig, keys KeyStore) (*Handler, error) {
	h := &Handler{
		backends:  make(map[string]*url.URL),
		keys:      keys,
		adminName: cfg.AdminKeyName,
		logger:    slog.Default().With("component", "gateway-handler"),
	}
	for _, b := range []struct {
		name  string
		raw   string
		proxy **httputil.ReverseProxy
	}{
		{"searcher", cfg.SearcherURL, &h.searcher},
		{"ingestion", cfg.IngestionURL, &h.ingestion},
		{"analytics", cfg.AnalyticsURL, &h.analytics},
		{"tracker", cfg.TrackerURL, &h.tracker},
	} {
		u, err := url.Parse(b.raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid %s url %q", b.name, b.raw)
		}
		h.backends[b.name] = u
		*b.proxy = h.newProxy(b.name, u)
	}
	return h, nil
}

func (h *Handler) newProxy(name string, target *url.URL) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			if id := pkgmw.GetRequestID(pr.In.Context()); id != "" {
				pr.Out.Header.Set(pkgmw.RequestIDHeader, id)
			}
			// The key stays at the gateway.
			pr.Out.Header.Del("Authorization")
			pr.Out.Header.Del("X-API-Key")
			q := pr.Out.URL.Query()
			if q.Has("api_key") {
				q.Del("api_key")
				pr.Out.URL.RawQuery = q.Encode()
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			h.logger.Warn("backend request failed", "backend", name, "path", r.URL.Path, "error", err)
			h.writeError(w, http.StatusBadGateway, name+" service unavailable")
		},
	}
}

// Routes registers the gateway's endpoints. Anything under /api/v1/ that is
// not claimed by another backend goes to the match service.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/chunks", h.ingestion.ServeHTTP)
	mux.HandleFunc("POST /api/v1/chunks/batch", h.ingestion.ServeHTTP)

	mux.HandleFunc("GET /api/v1/analytics", h.analytics.ServeHTTP)
	mux.HandleFunc("GET /api/v1/analytics/snapshots", h.analytics.ServeHTTP)

	mux.HandleFunc("GET /api/v1/tracker/sessions", h.TrackerSessions)

	mux.Handle("/api/v1/", h.searcher)

	mux.HandleFunc("POST /api/v1/admin/keys", h.CreateAPIKey)
	mux.HandleFunc("GET /api/v1/admin/keys", h.ListAPIKeys)
	mux.HandleFunc("DELETE /api/v1/admin/keys/{id}", h.RevokeAPIKey)
}

// TrackerSessions lists the sessions of the stream tracker service.
func (h *Handler) TrackerSessions(w http.ResponseWriter, r *http.Request) {
	r2 := r.Clone(r.Context())
	r2.URL.Path = "/api/v1/sessions"
	r2.URL.RawPath = ""
	h.tracker.ServeHTTP(w, r2)
}

// RegisterChecks adds a readiness probe per backend. Backends are optional:
// the gateway still answers for the ones that are up.
func (h *Handler) RegisterChecks(c *health.Checker, client *http.Client) {
	for name, u := range h.backends {
		liveURL := u.JoinPath("/health/live").String()
		c.Optional(name, func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, liveURL, nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("status %d", resp.StatusCode)
			}
			return nil
		})
	}
}

type createKeyRequest struct {
	Name      string `json:"name"`
	RateLimit int    `json:"rate_limit"`
	ExpiresIn string `json:"expires_in,omitempty"`
}

func (h *Handler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	if !h.admin(w, r) {
		return
	}
	var req createKeyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		h.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.RateLimit < 0 {
		h.writeError(w, http.StatusBadRequest, "rate_limit must not be negative")
		return
	}

	var expiresAt *time.Time
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			h.writeError(w, http.StatusBadRequest, "expires_in must be a positive duration such as 720h")
			return
		}
		t := time.Now().Add(d)
		expiresAt = &t
	}

	raw, info, err := h.keys.CreateKey(r.Context(), req.Name, req.RateLimit, expiresAt)
	if err != nil {
		h.logger.Error("failed to create api key", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create api key")
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{
		"api_key": raw,
		"key":     info,
	})
}

func (h *Handler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	if !h.admin(w, r) {
		return
	}
	keys, err := h.keys.ListKeys(r.Context())
	if err != nil {
		h.logger.Error("failed to list api keys", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list api keys")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"keys":  keys,
		"count": len(keys),
	})
}

func (h *Handler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	if !h.admin(w, r) {
		return
	}
	id := r.PathValue("id")
	err := h.keys.RevokeKey(r.Context(), id)
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "revoked"})
	case errors.Is(err, apikey.ErrInvalidKey):
		h.writeError(w, http.StatusNotFound, "api key not found")
	default:
		h.logger.Error("failed to revoke api key", "id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to revoke api key")
	}
}

// admin allows only the key named adminName. An empty adminName lets any
// valid key through.
func (h *Handler) admin(w http.ResponseWriter, r *http.Request) bool {
	if h.adminName == "" {
		return true
	}
	info := gwmw.GetKeyInfo(r.Context())
	if info == nil || info.Name != h.adminName {
		h.writeError(w, http.StatusForbidden, "admin key required")
		return false
	}
	return true
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
