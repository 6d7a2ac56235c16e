package security

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skillhubio/shield/internal/metrics"
	"github.com/skillhubio/shield/pkg/logger"
)

// ActionType names an alert-rule response.
type ActionType string

const (
	ActionTypeBlockIP     ActionType = "block_ip"
	ActionTypeLockAccount ActionType = "lock_account"
	ActionTypeWebhook     ActionType = "webhook"
	ActionTypeEmail       ActionType = "email"
	ActionTypeNotifyAdmin ActionType = "notify_admin"
)

var knownActionTypes = map[ActionType]bool{
	ActionTypeBlockIP: true, ActionTypeLockAccount: true,
	ActionTypeWebhook: true, ActionTypeEmail: true,
	ActionTypeNotifyAdmin: true,
}

// AlertAction is one response executed when a rule fires.
type AlertAction struct {
	Type    ActionType        `json:"type" yaml:"type"`
	Config  map[string]string `json:"config,omitempty" yaml:"config,omitempty"`
	Enabled bool              `json:"enabled" yaml:"enabled"`
}

// AlertRule fires when enough events of one type arrive inside a
// time window.
type AlertRule struct {
	ID          string        `json:"id" yaml:"id"`
	Name        string        `json:"name" yaml:"name"`
	EventType   EventType     `json:"event_type" yaml:"event_type"`
	MinSeverity Severity      `json:"min_severity" yaml:"-"`
	Threshold   int           `json:"threshold" yaml:"threshold"`
	TimeWindow  time.Duration `json:"-" yaml:"-"`
	Enabled     bool          `json:"enabled" yaml:"enabled"`
	Recipients  []string      `json:"recipients,omitempty" yaml:"recipients,omitempty"`
	Actions     []AlertAction `json:"actions" yaml:"actions"`
}

// MarshalJSON renders the window as whole seconds so API responses
// use the same time_window_seconds field that rule creation accepts.
func (r *AlertRule) MarshalJSON() ([]byte, error) {
	type alias AlertRule
	return json.Marshal(&struct {
		*alias
		TimeWindowSeconds int `json:"time_window_seconds"`
	}{
		alias:             (*alias)(r),
		TimeWindowSeconds: int(r.TimeWindow / time.Second),
	})
}

// Validate checks the rule is executable.
func (r *AlertRule) Validate() error {
	if r.ID == "" {
		return errors.New("rule id is required")
	}
	if r.Name == "" {
		return errors.New("rule name is required")
	}
	if !r.EventType.IsValid() {
		return fmt.Errorf("rule %s: unknown event type %q", r.ID, r.EventType)
	}
	if r.Threshold < 1 {
		return fmt.Errorf("rule %s: threshold must be >= 1", r.ID)
	}
	if r.TimeWindow <= 0 {
		return fmt.Errorf("rule %s: time window must be positive", r.ID)
	}
	for _, a := range r.Actions {
		if !knownActionTypes[a.Type] {
			return fmt.Errorf("rule %s: unknown action type %q", r.ID, a.Type)
		}
	}
	return nil
}

// ActionDispatcher delivers webhook and email alert actions.
type ActionDispatcher interface {
	SendWebhook(ctx context.Context, url string, payload any) error
	SendEmail(ctx context.Context, subject, body string, recipients []string) error
}

// logDispatcher is the base dispatcher: it only logs.
type logDispatcher struct{ log *logger.Logger }

func (d *logDispatcher) SendWebhook(_ context.Context, url string, _ any) error {
	d.log.WithField("url", url).Info("webhook alert (delivery not configured)")
	return nil
}

func (d *logDispatcher) SendEmail(_ context.Context, subject, _ string, recipients []string) error {
	d.log.WithField("subject", subject).WithField("recipients", recipients).
		Info("email alert (delivery not configured)")
	return nil
}

// RuleEngine evaluates alert rules against each recorded event. Rules
// can be added and removed at runtime.
type RuleEngine struct {
	mu         sync.RWMutex
	rules      map[string]*AlertRule
	store      Store
	mitigator  *Mitigator
	dispatcher ActionDispatcher
	log        *logger.Logger
	now        func() time.Time
}

// NewRuleEngine returns an engine preloaded with the default rules.
func NewRuleEngine(store Store, mitigator *Mitigator, dispatcher ActionDispatcher, log *logger.Logger) (*RuleEngine, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if mitigator == nil {
		return nil, errors.New("mitigator is required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	if dispatcher == nil {
		dispatcher = &logDispatcher{log: log}
	}

	e := &RuleEngine{
		rules:      make(map[string]*AlertRule),
		store:      store,
		mitigator:  mitigator,
		dispatcher: dispatcher,
		log:        log,
		now:        time.Now,
	}
	for _, rule := range DefaultRules() {
		if err := e.AddRule(rule); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// DefaultRules returns the built-in rule set: repeated login failures
// and any injection attempt.
func DefaultRules() []*AlertRule {
	return []*AlertRule{
		{
			ID:          "brute-force-detection",
			Name:        "Brute force login detection",
			EventType:   EventLoginFailure,
			MinSeverity: SeverityLow,
			Threshold:   5,
			TimeWindow:  5 * time.Minute,
			Enabled:     true,
			Recipients:  []string{"security@skillhub.io"},
			Actions: []AlertAction{
				{Type: ActionTypeBlockIP, Config: map[string]string{"duration_seconds": "3600"}, Enabled: true},
				{Type: ActionTypeNotifyAdmin, Enabled: true},
			},
		},
		{
			ID:          "injection-detection",
			Name:        "SQL injection detection",
			EventType:   EventSQLInjection,
			MinSeverity: SeverityLow,
			Threshold:   1,
			TimeWindow:  time.Minute,
			Enabled:     true,
			Recipients:  []string{"security@skillhub.io", "oncall@skillhub.io"},
			Actions: []AlertAction{
				{Type: ActionTypeBlockIP, Config: map[string]string{"duration_seconds": "7200"}, Enabled: true},
				{Type: ActionTypeNotifyAdmin, Enabled: true},
			},
		},
	}
}

// AddRule validates and installs a rule, replacing any rule with the
// same id.
func (e *RuleEngine) AddRule(rule *AlertRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[rule.ID] = rule
	return nil
}

// RemoveRule uninstalls a rule by id.
func (e *RuleEngine) RemoveRule(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[id]; !ok {
		return false
	}
	delete(e.rules, id)
	return true
}

// Rules returns the installed rules sorted by id.
func (e *RuleEngine) Rules() []*AlertRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*AlertRule, 0, len(e.rules))
	for _, rule := range e.rules {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Evaluate checks every enabled rule against a freshly recorded event
// and fires those whose in-window count reaches the threshold. Store
// query failures skip the rule; the event record path is never failed.
func (e *RuleEngine) Evaluate(ctx context.Context, event *SecurityEvent) {
	for _, rule := range e.Rules() {
		if !rule.Enabled || rule.EventType != event.Type || event.Severity < rule.MinSeverity {
			continue
		}

		since := e.now().Add(-rule.TimeWindow)
		matched, err := e.store.EventsByType(ctx, rule.EventType, since)
		if err != nil {
			e.log.WithError(err).WithField("rule", rule.ID).
				Warn("rule evaluation query failed, skipping rule")
			continue
		}
		if len(matched) < rule.Threshold {
			continue
		}

		metrics.AlertRulesFired.WithLabelValues(rule.ID).Inc()
		e.log.WithField("rule", rule.ID).
			WithField("event_id", event.ID).
			WithField("count", len(matched)).
			Warn("alert rule fired")
		e.fire(ctx, rule, event)
	}
}

// fire executes every enabled action independently. One failing action
// never prevents the others from running.
func (e *RuleEngine) fire(ctx context.Context, rule *AlertRule, event *SecurityEvent) {
	mitigatedBefore := event.MitigationActions()

	for _, action := range rule.Actions {
		if !action.Enabled {
			continue
		}
		if err := e.execute(ctx, rule, action, event); err != nil {
			metrics.AlertActionsTotal.WithLabelValues(string(action.Type), "error").Inc()
			e.log.WithError(err).
				WithField("rule", rule.ID).
				WithField("action", string(action.Type)).
				WithField("event_id", event.ID).
				Error("alert action failed")
			continue
		}
		metrics.AlertActionsTotal.WithLabelValues(string(action.Type), "ok").Inc()
	}

	if len(event.MitigationActions()) > len(mitigatedBefore) {
		e.mitigator.Persist(ctx, event)
	}
}

func (e *RuleEngine) execute(ctx context.Context, rule *AlertRule, action AlertAction, event *SecurityEvent) error {
	switch action.Type {
	case ActionTypeBlockIP:
		if event.IPAddress == "" {
			return nil
		}
		e.mitigator.BlockIP(ctx, event, actionDuration(action, DefaultIPBlockDuration))
		return nil

	case ActionTypeLockAccount:
		if event.UserID == "" {
			return nil
		}
		e.mitigator.LockAccount(ctx, event, actionDuration(action, DefaultAccountLockDuration))
		return nil

	case ActionTypeWebhook:
		url := action.Config["url"]
		if url == "" {
			return errors.New("webhook action has no url configured")
		}
		return e.dispatcher.SendWebhook(ctx, url, map[string]any{
			"rule":  rule.ID,
			"event": event,
		})

	case ActionTypeEmail:
		subject := fmt.Sprintf("[shield] alert rule %s fired", rule.Name)
		body := fmt.Sprintf("rule=%s event=%s type=%s severity=%s ip=%s",
			rule.ID, event.ID, event.Type, event.Severity, event.IPAddress)
		return e.dispatcher.SendEmail(ctx, subject, body, rule.Recipients)

	case ActionTypeNotifyAdmin:
		e.mitigator.NotifyTeam(ctx, event, rule.Recipients)
		return nil

	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}

// actionDuration reads duration_seconds from the action config.
func actionDuration(action AlertAction, fallback time.Duration) time.Duration {
	raw, ok := action.Config["duration_seconds"]
	if !ok {
		return fallback
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

// rulesFile is the YAML shape of an operator-provided rule file.
type rulesFile struct {
	Rules []struct {
		ID                string        `yaml:"id"`
		Name              string        `yaml:"name"`
		EventType         string        `yaml:"event_type"`
		MinSeverity       string        `yaml:"min_severity"`
		Threshold         int           `yaml:"threshold"`
		TimeWindowSeconds int           `yaml:"time_window_seconds"`
		Enabled           bool          `yaml:"enabled"`
		Recipients        []string      `yaml:"recipients"`
		Actions           []AlertAction `yaml:"actions"`
	} `yaml:"rules"`
}

// LoadRulesFile parses an operator YAML rule file. Loaded rules are
// merged over the defaults by id.
func LoadRulesFile(path string) ([]*AlertRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}

	rules := make([]*AlertRule, 0, len(file.Rules))
	for _, raw := range file.Rules {
		minSeverity := SeverityInfo
		if raw.MinSeverity != "" {
			minSeverity, err = ParseSeverity(raw.MinSeverity)
			if err != nil {
				return nil, fmt.Errorf("rule %s: %w", raw.ID, err)
			}
		}
		rule := &AlertRule{
			ID:          raw.ID,
			Name:        raw.Name,
			EventType:   EventType(raw.EventType),
			MinSeverity: minSeverity,
			Threshold:   raw.Threshold,
			TimeWindow:  time.Duration(raw.TimeWindowSeconds) * time.Second,
			Enabled:     raw.Enabled,
			Recipients:  raw.Recipients,
			Actions:     raw.Actions,
		}
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
