package model

import "time"

// AlertSeverity represents the severity level of an alert
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityError    AlertSeverity = "error"
	AlertSeverityCritical AlertSeverity = "critical"
)

// AlertType represents the type of alert
type AlertType string

const (
	AlertTypeScoreBelow       AlertType = "score_below"
	AlertTypeNodeFailure      AlertType = "node_failure"
	AlertTypeBottleneckImpact AlertType = "bottleneck_impact"
)

// AlertRule defines a rule evaluated against every completed profile
type AlertRule struct {
	ID        string        `json:"id" mapstructure:"id"`
	Name      string        `json:"name" mapstructure:"name"`
	Type      AlertType     `json:"type" mapstructure:"type"`
	Threshold float64       `json:"threshold,omitempty" mapstructure:"threshold"`
	Severity  AlertSeverity `json:"severity" mapstructure:"severity"`
	Silenced  bool          `json:"silenced" mapstructure:"silenced"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Alert represents an alert event
type Alert struct {
	ID        string                 `json:"id"`
	RuleID    string                 `json:"rule_id"`
	ProfileID string                 `json:"profile_id"`
	Type      AlertType              `json:"type"`
	Severity  AlertSeverity          `json:"severity"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
