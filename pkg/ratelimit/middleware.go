package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/wisbric/apitracker/internal/auth"
	"github.com/wisbric/apitracker/internal/httpserver"
)

// CeilingLookup resolves a caller's per-caller rate ceiling override, or 0
// to use the limiter's default.
type CeilingLookup interface {
	RateLimitFor(callerID string) int
}

// Middleware checks the authenticated caller's rate limit and sets the
// X-RateLimit-* headers on every response it has a decision for; on denial
// it responds 429 with Retry-After and error.code=RATE_LIMIT_EXCEEDED. If
// the limiter returns an error, the request passes through without them.
func Middleware(limiter *Limiter, ceilings CeilingLookup, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := auth.FromContext(r.Context())
			if id == nil {
				httpserver.RespondError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing credentials")
				return
			}

			ceiling := 0
			if ceilings != nil {
				ceiling = ceilings.RateLimitFor(id.CallerID)
			}

			decision, err := limiter.Check(r.Context(), id.CallerID, ceiling)
			if err != nil {
				// Rate-limit path fails open on limiter error.
				next.ServeHTTP(w, r)
				return
			}

			effectiveCeiling := ceiling
			if effectiveCeiling <= 0 {
				effectiveCeiling = limiter.defaultCeiling
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(effectiveCeiling))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(decision.Remaining, 0)))
			w.Header().Set("X-RateLimit-Reset", decision.ResetAt.UTC().Format(time.RFC3339))
			w.Header().Set("X-RateLimit-Window", strconv.Itoa(int(window.Seconds()))+"s")

			if !decision.Allowed {
				retryAfter := int(time.Until(decision.ResetAt).Seconds())
				if retryAfter < 0 {
					retryAfter = 0
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				httpserver.RespondError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
