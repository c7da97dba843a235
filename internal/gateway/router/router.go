// Package router assembles the gateway's routes and middleware.
package router

import (
	"net/http"

	gwhandler "github.com/Adithya-Monish-Kumar-K/bani-align/internal/gateway/handler"
	gwmw "github.com/Adithya-Monish-Kumar-K/bani-align/internal/gateway/middleware"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/health"
	pkgmw "github.com/Adithya-Monish-Kumar-K/bani-align/pkg/middleware"
)

// New builds the gateway handler.
//
//	POST   /api/v1/chunks[/batch]         ingestion service
//	GET    /api/v1/analytics[/snapshots]  analytics service
//	GET    /api/v1/tracker/sessions       tracker service
//	*      /api/v1/...                    match service (search, compare, sessions, ...)
//	POST   /api/v1/admin/keys             create API key
//	GET    /api/v1/admin/keys             list API keys
//	DELETE /api/v1/admin/keys/{id}        revoke API key
//	GET    /health/live, /health/ready    gateway health
//
// Middleware, outermost first: RequestID, CORS, Auth, RateLimit.
func New(h *gwhandler.Handler, validator gwmw.KeyValidator, limiter *pkgmw.Limiter, checker *health.Checker) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	h.Routes(mux)

	return pkgmw.Chain(mux,
		pkgmw.RequestID,
		pkgmw.CORS(pkgmw.DefaultCORSConfig()),
		gwmw.Auth(validator),
		gwmw.RateLimit(limiter),
	)
}
