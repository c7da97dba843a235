package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	pkgmw "github.com/Adithya-Monish-Kumar-K/bani-align/pkg/middleware"
)

// RateLimit enforces each API key's own rate_limit per limiter window.
// Requests without key info pass through; Auth has already rejected them
// unless the path is exempt.
func RateLimit(limiter *pkgmw.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/health") {
				next.ServeHTTP(w, r)
				return
			}
			info := GetKeyInfo(r.Context())
			if info == nil {
				next.ServeHTTP(w, r)
				return
			}

			ok, wait := limiter.AllowLimit("key:"+info.ID, info.RateLimit)
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(max(1, int(math.Ceil(wait.Seconds())))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			// Backends rate limit by client id; the key id is the client.
			r.Header.Set(pkgmw.ClientIDHeader, info.ID)
			next.ServeHTTP(w, r)
		})
	}
}
