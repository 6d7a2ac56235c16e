package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infrahttp "github.com/skillhubio/shield/internal/infra/http"
	"github.com/skillhubio/shield/internal/security"
	"github.com/skillhubio/shield/pkg/logger"
)

func newRuleTestServer(t *testing.T) (infrahttp.Router, *security.RuleEngine) {
	t.Helper()
	store := security.NewMemoryStore()
	monitor, err := security.NewMonitor(store, 100, logger.NewNop())
	require.NoError(t, err)

	h := NewRuleHandler(monitor.Rules())
	router := infrahttp.NewChiRouter()
	router.GET("/rules", h.List)
	router.POST("/rules", h.Create)
	router.DELETE("/rules/{id}", h.Delete)
	return router, monitor.Rules()
}

func TestRuleHandler_ListIncludesDefaults(t *testing.T) {
	router, _ := newRuleTestServer(t)

	rec := httptest.NewRecorder()
	router.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rules", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Rules []map[string]any `json:"rules"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Rules, 2)
	assert.Equal(t, "brute-force-detection", resp.Rules[0]["id"])
	assert.Equal(t, "injection-detection", resp.Rules[1]["id"])

	// The window round-trips in the same unit rule creation accepts.
	assert.Equal(t, float64(300), resp.Rules[0]["time_window_seconds"])
	assert.Equal(t, float64(60), resp.Rules[1]["time_window_seconds"])
	assert.NotContains(t, resp.Rules[0], "time_window")
}

func TestRuleHandler_Create(t *testing.T) {
	router, engine := newRuleTestServer(t)

	body := `{
		"id": "fraud-watch",
		"name": "Payment fraud watch",
		"event_type": "payment_fraud_attempt",
		"min_severity": "medium",
		"threshold": 3,
		"time_window_seconds": 600,
		"enabled": true,
		"recipients": ["fraud@skillhub.io"],
		"actions": [
			{"type": "lock_account", "config": {"duration_seconds": "86400"}, "enabled": true},
			{"type": "notify_admin", "enabled": true}
		]
	}`
	r := httptest.NewRequest(http.MethodPost, "/rules", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.Handler().ServeHTTP(rec, r)
	require.Equal(t, http.StatusCreated, rec.Code)

	rules := engine.Rules()
	require.Len(t, rules, 3)

	var created *security.AlertRule
	for _, rule := range rules {
		if rule.ID == "fraud-watch" {
			created = rule
		}
	}
	require.NotNil(t, created)
	assert.Equal(t, security.EventPaymentFraudAttempt, created.EventType)
	assert.Equal(t, security.SeverityMedium, created.MinSeverity)
	assert.Equal(t, 3, created.Threshold)
	require.Len(t, created.Actions, 2)
	assert.Equal(t, security.ActionTypeLockAccount, created.Actions[0].Type)
}

func TestRuleHandler_CreateRejectsBadPayloads(t *testing.T) {
	router, _ := newRuleTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"not json", "{", http.StatusBadRequest},
		{"missing name", `{"id": "x", "event_type": "api_abuse", "threshold": 1, "time_window_seconds": 60, "actions": [{"type": "notify_admin", "enabled": true}]}`, http.StatusUnprocessableEntity},
		{"bad action type", `{"id": "x", "name": "x", "event_type": "api_abuse", "threshold": 1, "time_window_seconds": 60, "actions": [{"type": "self_destruct", "enabled": true}]}`, http.StatusUnprocessableEntity},
		{"bad recipient", `{"id": "x", "name": "x", "event_type": "api_abuse", "threshold": 1, "time_window_seconds": 60, "recipients": ["not-an-email"], "actions": [{"type": "notify_admin", "enabled": true}]}`, http.StatusUnprocessableEntity},
		{"unknown event type", `{"id": "x", "name": "x", "event_type": "bogus", "threshold": 1, "time_window_seconds": 60, "actions": [{"type": "notify_admin", "enabled": true}]}`, http.StatusBadRequest},
		{"unknown severity", `{"id": "x", "name": "x", "event_type": "api_abuse", "min_severity": "extreme", "threshold": 1, "time_window_seconds": 60, "actions": [{"type": "notify_admin", "enabled": true}]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/rules", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			router.Handler().ServeHTTP(rec, r)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRuleHandler_Delete(t *testing.T) {
	router, engine := newRuleTestServer(t)

	r := httptest.NewRequest(http.MethodDelete, "/rules/brute-force-detection", nil)
	rec := httptest.NewRecorder()
	router.Handler().ServeHTTP(rec, r)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Len(t, engine.Rules(), 1)

	r = httptest.NewRequest(http.MethodDelete, "/rules/brute-force-detection", nil)
	rec = httptest.NewRecorder()
	router.Handler().ServeHTTP(rec, r)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
