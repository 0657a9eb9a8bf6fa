package models

import "time"

// HistoryID identifies an alert history row.
type HistoryID int64

// HistoryStatus captures the lifecycle of a history entry.
type HistoryStatus string

const (
	HistoryTriggered    HistoryStatus = "triggered"
	HistoryAcknowledged HistoryStatus = "acknowledged"
	HistoryResolved     HistoryStatus = "resolved"
)

// HistoryEntry is the audit record of one notification attempt.
type HistoryEntry struct {
	ID               HistoryID         `json:"id"`
	RuleID           RuleID            `json:"rule_id"`
	RuleName         string            `json:"rule_name"`
	Category         string            `json:"category"`
	Level            string            `json:"level"`
	Status           HistoryStatus     `json:"status"`
	Message          string            `json:"message"`
	AlertValue       string            `json:"alert_value"`
	Condition        string            `json:"condition"`
	Labels           map[string]string `json:"labels,omitempty"`
	Notified         bool              `json:"notified"`
	NotifiedAt       *time.Time        `json:"notified_at,omitempty"`
	DeliveryDetail   string            `json:"delivery_detail,omitempty"`
	Acknowledged     bool              `json:"acknowledged"`
	AcknowledgedAt   *time.Time        `json:"acknowledged_at,omitempty"`
	AcknowledgedBy   string            `json:"acknowledged_by,omitempty"`
	ResolvedAt       *time.Time        `json:"resolved_at,omitempty"`
	ResolutionReason string            `json:"resolution_reason,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// AcknowledgeRequest is the payload for acknowledging an alerting rule.
type AcknowledgeRequest struct {
	By string `json:"by"`
}

// ResolveRequest allows callers to provide context when manually resolving a rule.
type ResolveRequest struct {
	Reason string `json:"reason"`
}

// DefaultHistoryLimit controls the number of history entries returned when unspecified.
const DefaultHistoryLimit = 50
