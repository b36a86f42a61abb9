package monitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/distributed-profiler/internal/model"
)

// SubjectPrefix is prepended to the alert type to form the publish subject
const SubjectPrefix = "profiler.alert."

var (
	ErrRuleNotFound = errors.New("rule not found")
	ErrInvalidRule  = errors.New("invalid alert rule")
)

// Publisher delivers encoded alerts. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// AlertManager evaluates alert rules against completed profiles
type AlertManager struct {
	logger    *zap.Logger
	publisher Publisher
	rules     sync.Map
	now       func() time.Time
}

// NewAlertManager creates a new alert manager. publisher may be nil, in which
// case alerts are only logged.
func NewAlertManager(logger *zap.Logger, publisher Publisher) *AlertManager {
	return &AlertManager{
		logger:    logger.Named("alert-manager"),
		publisher: publisher,
		now:       time.Now,
	}
}

// GetRule returns a rule by ID
func (m *AlertManager) GetRule(id string) (*model.AlertRule, error) {
	value, ok := m.rules.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return value.(*model.AlertRule), nil
}

// Rules returns all rules ordered by creation time
func (m *AlertManager) Rules() []*model.AlertRule {
	var rules []*model.AlertRule
	m.rules.Range(func(_, value interface{}) bool {
		rules = append(rules, value.(*model.AlertRule))
		return true
	})
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].ID < rules[j].ID
		}
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
	return rules
}

// AddRule adds a new alert rule
func (m *AlertManager) AddRule(rule *model.AlertRule) error {
	if err := validate(rule); err != nil {
		return err
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.Severity == "" {
		rule.Severity = model.AlertSeverityWarning
	}
	rule.CreatedAt = m.now()
	rule.UpdatedAt = rule.CreatedAt
	m.rules.Store(rule.ID, rule)
	return nil
}

// UpdateRule updates an existing alert rule
func (m *AlertManager) UpdateRule(rule *model.AlertRule) error {
	if _, ok := m.rules.Load(rule.ID); !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.ID)
	}
	if err := validate(rule); err != nil {
		return err
	}
	rule.UpdatedAt = m.now()
	m.rules.Store(rule.ID, rule)
	return nil
}

// DeleteRule deletes an alert rule
func (m *AlertManager) DeleteRule(id string) error {
	if _, ok := m.rules.LoadAndDelete(id); !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return nil
}

func validate(rule *model.AlertRule) error {
	switch rule.Type {
	case model.AlertTypeScoreBelow, model.AlertTypeBottleneckImpact:
		if rule.Threshold <= 0 {
			return fmt.Errorf("%w: %s requires a positive threshold", ErrInvalidRule, rule.Type)
		}
	case model.AlertTypeNodeFailure:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidRule, rule.Type)
	}
	return nil
}

// Evaluate checks every unsilenced rule against the profile, publishes the
// resulting alerts and returns them in rule order.
func (m *AlertManager) Evaluate(profile *model.DistributedProfile) []*model.Alert {
	var alerts []*model.Alert
	for _, rule := range m.Rules() {
		if rule.Silenced {
			continue
		}
		for _, data := range match(rule, profile) {
			alert := m.createAlert(rule, profile, data)
			alerts = append(alerts, alert)
		}
	}
	return alerts
}

func match(rule *model.AlertRule, profile *model.DistributedProfile) []map[string]interface{} {
	var hits []map[string]interface{}

	switch rule.Type {
	case model.AlertTypeScoreBelow:
		if float64(profile.OverallScore) < rule.Threshold {
			hits = append(hits, map[string]interface{}{
				"score":     profile.OverallScore,
				"threshold": rule.Threshold,
			})
		}
	case model.AlertTypeNodeFailure:
		for _, n := range profile.Nodes {
			if n.Succeeded() {
				continue
			}
			hits = append(hits, map[string]interface{}{
				"node_id": n.NodeID,
				"status":  string(n.Status),
				"error":   n.Error,
			})
		}
	case model.AlertTypeBottleneckImpact:
		for _, b := range profile.Bottlenecks {
			if b.Impact < rule.Threshold {
				continue
			}
			hits = append(hits, map[string]interface{}{
				"bottleneck": string(b.Type),
				"location":   b.Location,
				"impact":     b.Impact,
				"nodes":      b.Nodes,
			})
		}
	}
	return hits
}

func message(rule *model.AlertRule, data map[string]interface{}) string {
	switch rule.Type {
	case model.AlertTypeScoreBelow:
		return fmt.Sprintf("%s: score %v below %v", rule.Name, data["score"], data["threshold"])
	case model.AlertTypeNodeFailure:
		return fmt.Sprintf("%s: node %v %v", rule.Name, data["node_id"], data["status"])
	case model.AlertTypeBottleneckImpact:
		return fmt.Sprintf("%s: %v bottleneck at %v with impact %.1f", rule.Name, data["bottleneck"], data["location"], data["impact"])
	}
	return fmt.Sprintf("Alert triggered for rule: %s", rule.Name)
}

// createAlert creates, logs and publishes a new alert
func (m *AlertManager) createAlert(rule *model.AlertRule, profile *model.DistributedProfile, data map[string]interface{}) *model.Alert {
	alert := &model.Alert{
		ID:        uuid.New().String(),
		RuleID:    rule.ID,
		ProfileID: profile.ID,
		Type:      rule.Type,
		Severity:  rule.Severity,
		Message:   message(rule, data),
		Data:      data,
		CreatedAt: m.now(),
	}

	m.logger.Warn("Alert triggered",
		zap.String("id", alert.ID),
		zap.String("rule_id", alert.RuleID),
		zap.String("profile_id", alert.ProfileID),
		zap.String("type", string(alert.Type)),
		zap.String("severity", string(alert.Severity)),
		zap.String("message", alert.Message))

	if m.publisher == nil {
		return alert
	}

	alertData, err := json.Marshal(alert)
	if err != nil {
		m.logger.Error("Failed to marshal alert", zap.String("id", alert.ID), zap.Error(err))
		return alert
	}
	if err := m.publisher.Publish(SubjectPrefix+string(alert.Type), alertData); err != nil {
		m.logger.Error("Failed to publish alert", zap.String("id", alert.ID), zap.Error(err))
	}
	return alert
}
