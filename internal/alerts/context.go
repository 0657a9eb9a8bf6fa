package alerts

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mr-karan/promalert/internal/backends"
	"github.com/mr-karan/promalert/pkg/models"
)

// TriggerTimeLayout formats trigger_time in notifications.
const TriggerTimeLayout = "2006-01-02 15:04:05"

// AlertContext is everything a channel may interpolate into a notification.
type AlertContext struct {
	RuleID       models.RuleID
	RuleName     string
	Category     string
	Level        string
	LevelDisplay string
	Condition    string
	Description  string
	Query        string
	Value        float64
	TriggerTime  time.Time
	Message      string
	State        models.AlertState
	// Labels are the rule labels overlaid with the sample labels.
	Labels map[string]string
}

// NewAlertContext builds the context for a notification about rule.
func NewAlertContext(rule *models.Rule, sample backends.Sample, state models.AlertState, now time.Time) AlertContext {
	labels := make(map[string]string, len(rule.Labels)+len(sample.Labels))
	for k, v := range rule.Labels {
		labels[k] = v
	}
	for k, v := range sample.Labels {
		labels[k] = v
	}

	value := FormatValue(sample.Value)
	return AlertContext{
		RuleID:       rule.ID,
		RuleName:     rule.Name,
		Category:     rule.Category,
		Level:        rule.Level,
		LevelDisplay: models.LevelDisplay(strings.ToLower(rule.Level)),
		Condition:    rule.Condition,
		Description:  rule.Description,
		Query:        rule.Query,
		Value:        sample.Value,
		TriggerTime:  now,
		Message:      fmt.Sprintf("[%s] %s 触发告警，当前值 %s %s", strings.ToUpper(rule.Category), rule.Name, value, rule.Condition),
		State:        state,
		Labels:       labels,
	}
}

// FormatValue renders a sample value the way it appears in notifications.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Vars returns the placeholder values for template rendering. Labels are
// exposed under their own names unless they collide with a built-in key.
func (c AlertContext) Vars() map[string]string {
	vars := make(map[string]string, 12+len(c.Labels))
	for k, v := range c.Labels {
		vars[k] = v
	}

	vars["rule_name"] = c.RuleName
	vars["category"] = c.Category
	vars["level"] = c.Level
	vars["level_display"] = c.LevelDisplay
	vars["condition"] = c.Condition
	vars["description"] = c.Description
	vars["promql"] = c.Query
	vars["query"] = c.Query
	vars["current_value"] = FormatValue(c.Value)
	vars["trigger_time"] = c.TriggerTime.Format(TriggerTimeLayout)
	vars["message"] = c.Message
	vars["alert_state"] = string(c.State)
	return vars
}
