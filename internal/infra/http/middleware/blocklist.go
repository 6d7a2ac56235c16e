package middleware

import (
	"context"
	"net/http"

	"github.com/skillhubio/shield/pkg/apierror"
	"github.com/skillhubio/shield/pkg/logger"
)

// BlockChecker reports whether a source IP is under an active block.
type BlockChecker interface {
	IsIPBlocked(ctx context.Context, ip string) (bool, error)
}

// IPBlocklist rejects requests from IPs blocked by the auto-mitigator
// or alert rules. Checker failures fail open: a broken store must not
// lock everyone out.
func IPBlocklist(checker BlockChecker, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := GetClientIP(r)

			blocked, err := checker.IsIPBlocked(r.Context(), ip)
			if err != nil {
				log.Error("ip block check failed",
					"ip", ip,
					"error", err,
					"request_id", GetRequestID(r.Context()),
				)
				next.ServeHTTP(w, r)
				return
			}

			if blocked {
				log.Warn("blocked ip rejected",
					"ip", ip,
					"path", r.URL.Path,
					"request_id", GetRequestID(r.Context()),
				)
				apierror.Forbidden("access temporarily blocked").WriteJSON(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
