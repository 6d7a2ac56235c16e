package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/skillhubio/shield/internal/ratelimit"
	"github.com/skillhubio/shield/pkg/apierror"
	"github.com/skillhubio/shield/pkg/logger"
)

// HeaderAPIKey carries the caller's API key for identifier resolution.
const HeaderAPIKey = "X-API-Key"

// RateLimit enforces one preset limiter on the wrapped routes. The
// identifier is the authenticated user when present, then the API key,
// then the client IP. Every response carries the standard rate limit
// headers; denials answer 429 with a Retry-After hint.
func RateLimit(limiter *ratelimit.Limiter, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier := ratelimit.ResolveIdentifier(
				GetUserID(r.Context()),
				r.Header.Get(HeaderAPIKey),
				GetClientIP(r),
			)

			result, err := limiter.Check(r.Context(), identifier)
			if err != nil {
				// Fail-open: a broken limiter must not take the API down.
				log.Error("rate limit check failed",
					"limiter", limiter.Name(),
					"identifier", identifier,
					"error", err,
					"request_id", GetRequestID(r.Context()),
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", result.ResetAt.UTC().Format(time.RFC3339))

			if !result.Allowed {
				retryAfter := int(result.ResetIn.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

				log.Warn("rate limit exceeded",
					"limiter", limiter.Name(),
					"identifier", identifier,
					"path", r.URL.Path,
					"request_id", GetRequestID(r.Context()),
				)
				apierror.RateLimitExceeded().WriteJSON(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
