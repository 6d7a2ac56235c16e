package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	infrahttp "github.com/skillhubio/shield/internal/infra/http"
	"github.com/skillhubio/shield/internal/infra/http/middleware"
	"github.com/skillhubio/shield/internal/security"
	"github.com/skillhubio/shield/pkg/apierror"
	"github.com/skillhubio/shield/pkg/validator"
)

// EventHandler records and reads security events.
type EventHandler struct {
	monitor  *security.Monitor
	validate *validator.Validator
}

// NewEventHandler creates an event handler.
func NewEventHandler(monitor *security.Monitor) *EventHandler {
	return &EventHandler{
		monitor:  monitor,
		validate: validator.New(),
	}
}

// RecordEventRequest is the payload collaborating services post when
// they observe something suspicious.
type RecordEventRequest struct {
	Type          string         `json:"type" validate:"required"`
	Severity      string         `json:"severity" validate:"required"`
	Description   string         `json:"description" validate:"required,max=2000"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	UserID        string         `json:"user_id,omitempty" validate:"omitempty,max=128"`
	IPAddress     string         `json:"ip_address,omitempty" validate:"omitempty,ip"`
	UserAgent     string         `json:"user_agent,omitempty" validate:"omitempty,max=512"`
	CorrelationID string         `json:"correlation_id,omitempty" validate:"omitempty,max=128"`
}

// Record handles POST /api/v1/events.
func (h *EventHandler) Record(w http.ResponseWriter, r *http.Request) {
	var req RecordEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.BadRequest("invalid JSON body").WriteJSON(w)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		var fieldErrs validator.FieldErrors
		if errors.As(err, &fieldErrs) {
			apierror.ValidationFailed("invalid event payload", fieldErrs).WriteJSON(w)
			return
		}
		apierror.BadRequest(err.Error()).WriteJSON(w)
		return
	}

	eventType := security.EventType(req.Type)
	if !eventType.IsValid() {
		apierror.BadRequest("unknown event type: " + req.Type).WriteJSON(w)
		return
	}
	severity, err := security.ParseSeverity(req.Severity)
	if err != nil {
		apierror.BadRequest(err.Error()).WriteJSON(w)
		return
	}

	ipAddress := req.IPAddress
	if ipAddress == "" {
		ipAddress = middleware.GetClientIP(r)
	}

	event, err := h.monitor.Record(r.Context(), security.RecordInput{
		Type:          eventType,
		Severity:      severity,
		Description:   req.Description,
		Metadata:      req.Metadata,
		UserID:        req.UserID,
		IPAddress:     ipAddress,
		UserAgent:     req.UserAgent,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		apierror.BadRequest(err.Error()).WriteJSON(w)
		return
	}

	writeJSON(w, http.StatusCreated, event)
}

// Get handles GET /api/v1/events/{id}.
func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := infrahttp.PathParam(r, "id")

	event, err := h.monitor.GetEvent(r.Context(), id)
	if errors.Is(err, security.ErrEventNotFound) {
		apierror.NotFound("event").WriteJSON(w)
		return
	}
	if err != nil {
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	writeJSON(w, http.StatusOK, event)
}

// MarkFalsePositive handles POST /api/v1/events/{id}/false-positive.
func (h *EventHandler) MarkFalsePositive(w http.ResponseWriter, r *http.Request) {
	id := infrahttp.PathParam(r, "id")

	err := h.monitor.MarkFalsePositive(r.Context(), id)
	if errors.Is(err, security.ErrEventNotFound) {
		apierror.NotFound("event").WriteJSON(w)
		return
	}
	if err != nil {
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
