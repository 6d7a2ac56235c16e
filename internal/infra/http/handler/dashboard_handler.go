package handler

import (
	"net/http"
	"time"

	infrahttp "github.com/skillhubio/shield/internal/infra/http"
	"github.com/skillhubio/shield/internal/security"
)

// DashboardHandler serves the operator dashboard and pattern reports.
type DashboardHandler struct {
	monitor *security.Monitor
}

// NewDashboardHandler creates a dashboard handler.
func NewDashboardHandler(monitor *security.Monitor) *DashboardHandler {
	return &DashboardHandler{monitor: monitor}
}

// Dashboard handles GET /api/v1/dashboard?range=3600 (seconds).
func (h *DashboardHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	rangeSecs := infrahttp.QueryParamInt(r, "range", 3600)
	if rangeSecs < 1 {
		rangeSecs = 3600
	}

	dash := h.monitor.GetDashboard(time.Duration(rangeSecs) * time.Second)
	writeJSON(w, http.StatusOK, dash)
}

// Patterns handles GET /api/v1/patterns/{ip}?window=3600 (seconds).
func (h *DashboardHandler) Patterns(w http.ResponseWriter, r *http.Request) {
	ip := infrahttp.PathParam(r, "ip")
	windowSecs := infrahttp.QueryParamInt(r, "window", 3600)

	report := h.monitor.Detector().Detect(r.Context(), ip, time.Duration(windowSecs)*time.Second)
	writeJSON(w, http.StatusOK, report)
}
