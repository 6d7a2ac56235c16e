// Package handler implements the HTTP API surface: event recording,
// dashboard, pattern reports, rule management, and block status.
package handler

import (
	"encoding/json"
	"net/http"
)

// writeJSON encodes data as the response body.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
