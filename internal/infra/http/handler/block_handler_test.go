package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infrahttp "github.com/skillhubio/shield/internal/infra/http"
	"github.com/skillhubio/shield/internal/security"
)

func newBlockTestServer(t *testing.T) (infrahttp.Router, security.Store) {
	t.Helper()
	store := security.NewMemoryStore()

	h := NewBlockHandler(store)
	router := infrahttp.NewChiRouter()
	router.GET("/blocks", h.List)
	router.GET("/blocks/{ip}", h.Status)
	router.DELETE("/blocks/{ip}", h.Unblock)
	return router, store
}

func TestBlockHandler_List(t *testing.T) {
	router, store := newBlockTestServer(t)
	ctx := context.Background()

	require.NoError(t, store.BlockIP(ctx, "1.2.3.4", time.Hour, "brute force"))
	require.NoError(t, store.BlockIP(ctx, "5.6.7.8", time.Hour, "injection"))

	rec := httptest.NewRecorder()
	router.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/blocks", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		BlockedIPs []string `json:"blocked_ips"`
		Count      int      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.ElementsMatch(t, []string{"1.2.3.4", "5.6.7.8"}, resp.BlockedIPs)
}

func TestBlockHandler_Status(t *testing.T) {
	router, store := newBlockTestServer(t)

	require.NoError(t, store.BlockIP(context.Background(), "1.2.3.4", time.Hour, "brute force"))

	rec := httptest.NewRecorder()
	router.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/blocks/1.2.3.4", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "1.2.3.4", resp["ip"])
	assert.Equal(t, true, resp["blocked"])

	rec = httptest.NewRecorder()
	router.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/blocks/9.9.9.9", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["blocked"])
}

func TestBlockHandler_Unblock(t *testing.T) {
	router, store := newBlockTestServer(t)
	ctx := context.Background()

	require.NoError(t, store.BlockIP(ctx, "1.2.3.4", time.Hour, "brute force"))

	rec := httptest.NewRecorder()
	router.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/blocks/1.2.3.4", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	blocked, err := store.IsIPBlocked(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, blocked)
}
