package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	infrahttp "github.com/skillhubio/shield/internal/infra/http"
	"github.com/skillhubio/shield/internal/security"
	"github.com/skillhubio/shield/pkg/apierror"
	"github.com/skillhubio/shield/pkg/validator"
)

// RuleHandler manages alert rules at runtime.
type RuleHandler struct {
	engine   *security.RuleEngine
	validate *validator.Validator
}

// NewRuleHandler creates a rule handler.
func NewRuleHandler(engine *security.RuleEngine) *RuleHandler {
	return &RuleHandler{
		engine:   engine,
		validate: validator.New(),
	}
}

// List handles GET /api/v1/rules.
func (h *RuleHandler) List(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": h.engine.Rules(),
	})
}

// AlertActionRequest is one action in a rule creation payload.
type AlertActionRequest struct {
	Type    string            `json:"type" validate:"required,oneof=block_ip lock_account webhook email notify_admin"`
	Config  map[string]string `json:"config,omitempty"`
	Enabled bool              `json:"enabled"`
}

// CreateRuleRequest is the rule creation payload.
type CreateRuleRequest struct {
	ID                string               `json:"id" validate:"required,max=128"`
	Name              string               `json:"name" validate:"required,max=256"`
	EventType         string               `json:"event_type" validate:"required"`
	MinSeverity       string               `json:"min_severity,omitempty"`
	Threshold         int                  `json:"threshold" validate:"required,min=1"`
	TimeWindowSeconds int                  `json:"time_window_seconds" validate:"required,min=1"`
	Enabled           bool                 `json:"enabled"`
	Recipients        []string             `json:"recipients,omitempty" validate:"omitempty,dive,email"`
	Actions           []AlertActionRequest `json:"actions" validate:"required,min=1,dive"`
}

// Create handles POST /api/v1/rules.
func (h *RuleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.BadRequest("invalid JSON body").WriteJSON(w)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		var fieldErrs validator.FieldErrors
		if errors.As(err, &fieldErrs) {
			apierror.ValidationFailed("invalid rule payload", fieldErrs).WriteJSON(w)
			return
		}
		apierror.BadRequest(err.Error()).WriteJSON(w)
		return
	}

	minSeverity := security.SeverityInfo
	if req.MinSeverity != "" {
		parsed, err := security.ParseSeverity(req.MinSeverity)
		if err != nil {
			apierror.BadRequest(err.Error()).WriteJSON(w)
			return
		}
		minSeverity = parsed
	}

	actions := make([]security.AlertAction, len(req.Actions))
	for i, a := range req.Actions {
		actions[i] = security.AlertAction{
			Type:    security.ActionType(a.Type),
			Config:  a.Config,
			Enabled: a.Enabled,
		}
	}

	rule := &security.AlertRule{
		ID:          req.ID,
		Name:        req.Name,
		EventType:   security.EventType(req.EventType),
		MinSeverity: minSeverity,
		Threshold:   req.Threshold,
		TimeWindow:  time.Duration(req.TimeWindowSeconds) * time.Second,
		Enabled:     req.Enabled,
		Recipients:  req.Recipients,
		Actions:     actions,
	}
	if err := h.engine.AddRule(rule); err != nil {
		apierror.BadRequest(err.Error()).WriteJSON(w)
		return
	}

	writeJSON(w, http.StatusCreated, rule)
}

// Delete handles DELETE /api/v1/rules/{id}.
func (h *RuleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := infrahttp.PathParam(r, "id")

	if !h.engine.RemoveRule(id) {
		apierror.NotFound("rule").WriteJSON(w)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
