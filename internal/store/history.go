package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mr-karan/promalert/pkg/models"
)

type historyRow struct {
	ID               int64          `db:"id"`
	RuleID           int64          `db:"rule_id"`
	RuleName         string         `db:"rule_name"`
	Category         string         `db:"category"`
	Level            string         `db:"level"`
	Status           string         `db:"status"`
	Message          string         `db:"message"`
	AlertValue       string         `db:"alert_value"`
	Condition        string         `db:"alert_condition"`
	Labels           sql.NullString `db:"labels"`
	Notified         bool           `db:"notified"`
	NotifiedAt       sql.NullTime   `db:"notified_at"`
	DeliveryDetail   sql.NullString `db:"delivery_detail"`
	Acknowledged     bool           `db:"acknowledged"`
	AcknowledgedAt   sql.NullTime   `db:"acknowledged_at"`
	AcknowledgedBy   sql.NullString `db:"acknowledged_by"`
	ResolvedAt       sql.NullTime   `db:"resolved_at"`
	ResolutionReason sql.NullString `db:"resolution_reason"`
	CreatedAt        time.Time      `db:"created_at"`
}

func (r historyRow) toModel() (*models.HistoryEntry, error) {
	h := &models.HistoryEntry{
		ID:               models.HistoryID(r.ID),
		RuleID:           models.RuleID(r.RuleID),
		RuleName:         r.RuleName,
		Category:         r.Category,
		Level:            r.Level,
		Status:           models.HistoryStatus(r.Status),
		Message:          r.Message,
		AlertValue:       r.AlertValue,
		Condition:        r.Condition,
		Notified:         r.Notified,
		NotifiedAt:       timePtr(r.NotifiedAt),
		DeliveryDetail:   r.DeliveryDetail.String,
		Acknowledged:     r.Acknowledged,
		AcknowledgedAt:   timePtr(r.AcknowledgedAt),
		AcknowledgedBy:   r.AcknowledgedBy.String,
		ResolvedAt:       timePtr(r.ResolvedAt),
		ResolutionReason: r.ResolutionReason.String,
		CreatedAt:        r.CreatedAt,
	}
	if r.Labels.Valid && r.Labels.String != "" {
		if err := json.Unmarshal([]byte(r.Labels.String), &h.Labels); err != nil {
			return nil, fmt.Errorf("decoding labels for history %d: %w", r.ID, err)
		}
	}
	return h, nil
}

// InsertHistory appends an audit record and fills in its id.
func (db *DB) InsertHistory(ctx context.Context, h *models.HistoryEntry) error {
	labels, err := encodeLabels(h.Labels)
	if err != nil {
		return err
	}
	if h.Status == "" {
		h.Status = models.HistoryTriggered
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}

	id, err := db.insert(ctx, db.writeDB, "insert-history",
		int64(h.RuleID),
		h.RuleName,
		h.Category,
		h.Level,
		string(h.Status),
		h.Message,
		h.AlertValue,
		h.Condition,
		labels,
		h.Notified,
		nullTime(h.NotifiedAt),
		nullableString(h.DeliveryDetail),
		false,
		h.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting history for rule %d: %w", h.RuleID, err)
	}
	h.ID = models.HistoryID(id)
	return nil
}

// GetHistory fetches a history entry by id.
func (db *DB) GetHistory(ctx context.Context, id models.HistoryID) (*models.HistoryEntry, error) {
	return db.getHistory(ctx, db.readDB, id)
}

// ListHistory returns the newest entries for a rule.
func (db *DB) ListHistory(ctx context.Context, ruleID models.RuleID, limit int) ([]*models.HistoryEntry, error) {
	if limit <= 0 {
		limit = models.DefaultHistoryLimit
	}

	var rows []historyRow
	if err := db.readDB.SelectContext(ctx, &rows, db.query("list-history"), int64(ruleID), limit); err != nil {
		return nil, fmt.Errorf("listing history for rule %d: %w", ruleID, err)
	}

	out := make([]*models.HistoryEntry, 0, len(rows))
	for _, row := range rows {
		h, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}
