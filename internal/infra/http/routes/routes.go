// Package routes registers all HTTP routes for the service.
package routes

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	infrahttp "github.com/skillhubio/shield/internal/infra/http"
	"github.com/skillhubio/shield/internal/infra/http/handler"
	"github.com/skillhubio/shield/internal/infra/http/middleware"
	"github.com/skillhubio/shield/internal/ratelimit"
	"github.com/skillhubio/shield/pkg/logger"
)

// Middleware is an alias to the http package's Middleware type.
type Middleware = infrahttp.Middleware

// Router is an alias to the http package's Router interface.
type Router = infrahttp.Router

// Handlers holds all HTTP handlers for route registration.
type Handlers struct {
	Health    *handler.HealthHandler
	Event     *handler.EventHandler
	Dashboard *handler.DashboardHandler
	Rule      *handler.RuleHandler
	Block     *handler.BlockHandler
}

// Deps holds the cross-cutting collaborators routes need.
type Deps struct {
	// Limiters provides the preset rate limiters. Nil disables
	// rate limiting entirely.
	Limiters *ratelimit.Set

	// Blocklist answers whether a source IP is under an active block.
	// Nil disables the blocklist gate.
	Blocklist middleware.BlockChecker

	Logger *logger.Logger
}

// Register registers all application routes.
// This keeps route definitions in the infrastructure layer, not in main.
func Register(router Router, h Handlers, deps Deps) {
	// Health and metrics routes (public, never rate limited)
	registerHealthRoutes(router, h.Health)

	apiMiddlewares := []Middleware{}
	if deps.Blocklist != nil {
		apiMiddlewares = append(apiMiddlewares, middleware.IPBlocklist(deps.Blocklist, deps.Logger))
	}

	var limitAPI, limitPublic Middleware
	if deps.Limiters != nil {
		limitAPI = middleware.RateLimit(deps.Limiters.API, deps.Logger)
		limitPublic = middleware.RateLimit(deps.Limiters.Public, deps.Logger)
	}

	router.Group("/api/v1", func(r Router) {
		// Event intake and lookup (service-to-service traffic)
		r.POST("/events", h.Event.Record, only(limitAPI)...)
		r.GET("/events/{id}", h.Event.Get, only(limitAPI)...)
		r.POST("/events/{id}/false-positive", h.Event.MarkFalsePositive, only(limitAPI)...)

		// Read-only reporting (dashboards, operator tooling)
		r.GET("/dashboard", h.Dashboard.Dashboard, only(limitPublic)...)
		r.GET("/patterns/{ip}", h.Dashboard.Patterns, only(limitPublic)...)

		// Runtime alert rule management
		r.GET("/rules", h.Rule.List, only(limitAPI)...)
		r.POST("/rules", h.Rule.Create, only(limitAPI)...)
		r.DELETE("/rules/{id}", h.Rule.Delete, only(limitAPI)...)

		// Containment state
		r.GET("/blocks", h.Block.List, only(limitPublic)...)
		r.GET("/blocks/{ip}", h.Block.Status, only(limitPublic)...)
		r.DELETE("/blocks/{ip}", h.Block.Unblock, only(limitAPI)...)
	}, apiMiddlewares...)
}

// registerHealthRoutes registers health check endpoints.
func registerHealthRoutes(router Router, h *handler.HealthHandler) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	router.GET("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})
}

// only drops nil middlewares so disabled features vanish from the chain.
func only(mws ...Middleware) []Middleware {
	out := make([]Middleware, 0, len(mws))
	for _, mw := range mws {
		if mw != nil {
			out = append(out, mw)
		}
	}
	return out
}
