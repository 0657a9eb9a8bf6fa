package models

import (
	"fmt"
	"time"
)

// RuleID identifies an alert rule.
type RuleID int64

// TemplateID identifies a notify template.
type TemplateID int64

// AlertState is the lifecycle state of a rule.
type AlertState string

const (
	StateOK       AlertState = "ok"
	StateAlerting AlertState = "alerting"
	StateSilenced AlertState = "silenced"
)

func (s AlertState) String() string {
	return string(s)
}

func (s AlertState) IsValid() bool {
	switch s {
	case StateOK, StateAlerting, StateSilenced:
		return true
	default:
		return false
	}
}

// Datasource selects the metric backend a rule's query runs against.
type Datasource string

const (
	DatasourcePrometheus Datasource = "prometheus"
	DatasourceClickHouse Datasource = "clickhouse"
)

func (d Datasource) String() string {
	return string(d)
}

func (d Datasource) IsValid() bool {
	switch d {
	case DatasourcePrometheus, DatasourceClickHouse:
		return true
	default:
		return false
	}
}

// ParseDatasource maps an empty value to Prometheus and rejects unknown kinds.
func ParseDatasource(s string) (Datasource, error) {
	if s == "" {
		return DatasourcePrometheus, nil
	}
	d := Datasource(s)
	if !d.IsValid() {
		return "", fmt.Errorf("unknown datasource %q", s)
	}
	return d, nil
}

const (
	// DefaultCategory is assigned to rules created without a category.
	DefaultCategory = "other"
	// DefaultMaxDurationSeconds bounds an alert episode when the rule leaves it unset.
	DefaultMaxDurationSeconds = 3600
)

// Rule is a named alerting policy evaluated on every pass.
type Rule struct {
	ID          RuleID            `json:"id"`
	Name        string            `json:"name"`
	Category    string            `json:"category"`
	Level       string            `json:"level"`
	Datasource  Datasource        `json:"datasource"`
	Query       string            `json:"query"`
	Condition   string            `json:"condition"`
	Description string            `json:"description,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`

	// Suppress is a duration string such as "5m" or "300".
	Suppress           string `json:"suppress,omitempty"`
	RepeatSeconds      int    `json:"repeat"`
	MaxDurationSeconds int    `json:"duration"`
	MaxSendCount       int    `json:"max_send_count"`

	SendCount          int        `json:"send_count"`
	AlertEpisodeStart  *time.Time `json:"alert_start_time,omitempty"`
	LastNotificationAt *time.Time `json:"last_alert_time,omitempty"`
	State              AlertState `json:"alert_state"`

	Enabled          bool        `json:"enabled"`
	NotifyTemplateID *TemplateID `json:"notify_template_id,omitempty"`
	Version          int64       `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RuleStateUpdate carries the engine-owned fields of a rule together with
// the version they were computed from.
type RuleStateUpdate struct {
	ID                 RuleID
	State              AlertState
	SendCount          int
	AlertEpisodeStart  *time.Time
	LastNotificationAt *time.Time
	ExpectedVersion    int64
}

var levelDisplay = map[string]string{
	"critical": "严重",
	"high":     "高",
	"medium":   "中",
	"low":      "低",
	"info":     "信息",
	"warning":  "警告",
	"error":    "错误",
}

// LevelDisplay returns the human readable name for a rule level, falling back
// to the level itself.
func LevelDisplay(level string) string {
	if d, ok := levelDisplay[level]; ok {
		return d
	}
	return level
}
