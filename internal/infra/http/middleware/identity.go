package middleware

import (
	"context"
	"net/http"

	"github.com/skillhubio/shield/pkg/logger"
)

// HeaderUserID is set by the upstream auth gateway for authenticated
// requests. Session resolution itself happens outside this service.
const HeaderUserID = "X-User-ID"

// Identity copies the gateway-resolved user id into the request
// context for identifier resolution and logging.
func Identity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID := r.Header.Get(HeaderUserID); userID != "" {
				ctx := context.WithValue(r.Context(), logger.ContextKeyUserID, userID)
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetUserID extracts the authenticated user id from context.
func GetUserID(ctx context.Context) string {
	if id, ok := ctx.Value(logger.ContextKeyUserID).(string); ok {
		return id
	}
	return ""
}
