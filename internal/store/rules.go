package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mr-karan/promalert/pkg/models"
)

type ruleRow struct {
	ID                 int64          `db:"id"`
	Name               string         `db:"name"`
	Category           string         `db:"category"`
	Level              string         `db:"level"`
	Datasource         string         `db:"datasource"`
	Query              string         `db:"query"`
	Condition          string         `db:"alert_condition"`
	Description        string         `db:"description"`
	Labels             sql.NullString `db:"labels"`
	Suppress           string         `db:"suppress"`
	RepeatSeconds      int            `db:"repeat_seconds"`
	MaxDurationSeconds int            `db:"max_duration_seconds"`
	MaxSendCount       int            `db:"max_send_count"`
	SendCount          int            `db:"send_count"`
	AlertEpisodeStart  sql.NullTime   `db:"alert_episode_start"`
	LastNotificationAt sql.NullTime   `db:"last_notification_at"`
	State              string         `db:"alert_state"`
	Enabled            bool           `db:"enabled"`
	NotifyTemplateID   sql.NullInt64  `db:"notify_template_id"`
	Version            int64          `db:"version"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

func (r ruleRow) toModel() (*models.Rule, error) {
	rule := &models.Rule{
		ID:                 models.RuleID(r.ID),
		Name:               r.Name,
		Category:           r.Category,
		Level:              r.Level,
		Datasource:         models.Datasource(r.Datasource),
		Query:              r.Query,
		Condition:          r.Condition,
		Description:        r.Description,
		Suppress:           r.Suppress,
		RepeatSeconds:      r.RepeatSeconds,
		MaxDurationSeconds: r.MaxDurationSeconds,
		MaxSendCount:       r.MaxSendCount,
		SendCount:          r.SendCount,
		AlertEpisodeStart:  timePtr(r.AlertEpisodeStart),
		LastNotificationAt: timePtr(r.LastNotificationAt),
		State:              models.AlertState(r.State),
		Enabled:            r.Enabled,
		Version:            r.Version,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.NotifyTemplateID.Valid {
		id := models.TemplateID(r.NotifyTemplateID.Int64)
		rule.NotifyTemplateID = &id
	}
	if r.Labels.Valid && r.Labels.String != "" {
		if err := json.Unmarshal([]byte(r.Labels.String), &rule.Labels); err != nil {
			return nil, fmt.Errorf("decoding labels for rule %d: %w", r.ID, err)
		}
	}
	return rule, nil
}

func encodeLabels(labels map[string]string) (sql.NullString, error) {
	if len(labels) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(labels)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encoding labels: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullTemplateID(id *models.TemplateID) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*id), Valid: true}
}

// ListEnabledRules returns every enabled rule ordered by id.
func (db *DB) ListEnabledRules(ctx context.Context) ([]*models.Rule, error) {
	var rows []ruleRow
	if err := db.readDB.SelectContext(ctx, &rows, db.query("list-enabled-rules"), true); err != nil {
		return nil, fmt.Errorf("listing enabled rules: %w", err)
	}

	rules := make([]*models.Rule, 0, len(rows))
	for _, row := range rows {
		rule, err := row.toModel()
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// GetRule fetches a rule by id.
func (db *DB) GetRule(ctx context.Context, id models.RuleID) (*models.Rule, error) {
	return db.getRule(ctx, db.readDB, id)
}

func (db *DB) getRule(ctx context.Context, q sqlx.QueryerContext, id models.RuleID) (*models.Rule, error) {
	var row ruleRow
	if err := sqlx.GetContext(ctx, q, &row, db.query("get-rule"), int64(id)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting rule %d: %w", id, err)
	}
	return row.toModel()
}

// GetRuleByName fetches the oldest rule with the given name.
func (db *DB) GetRuleByName(ctx context.Context, name string) (*models.Rule, error) {
	var row ruleRow
	if err := db.readDB.GetContext(ctx, &row, db.query("get-rule-by-name"), name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting rule %q: %w", name, err)
	}
	return row.toModel()
}

// CreateRule inserts a rule in the ok state and fills in its id, version
// and timestamps.
func (db *DB) CreateRule(ctx context.Context, rule *models.Rule) error {
	normalizeRule(rule)
	labels, err := encodeLabels(rule.Labels)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	id, err := db.insert(ctx, db.writeDB, "insert-rule",
		rule.Name,
		rule.Category,
		rule.Level,
		string(rule.Datasource),
		rule.Query,
		rule.Condition,
		rule.Description,
		labels,
		rule.Suppress,
		rule.RepeatSeconds,
		rule.MaxDurationSeconds,
		rule.MaxSendCount,
		rule.Enabled,
		nullTemplateID(rule.NotifyTemplateID),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("inserting rule %q: %w", rule.Name, err)
	}

	rule.ID = models.RuleID(id)
	rule.State = models.StateOK
	rule.SendCount = 0
	rule.AlertEpisodeStart = nil
	rule.LastNotificationAt = nil
	rule.Version = 1
	rule.CreatedAt = now
	rule.UpdatedAt = now
	return nil
}

// UpdateRuleDefinition updates the administrator-owned fields of a rule.
// State fields are untouched; the version is bumped so an in-flight engine
// write computed from the old definition is rejected.
func (db *DB) UpdateRuleDefinition(ctx context.Context, rule *models.Rule) error {
	normalizeRule(rule)
	labels, err := encodeLabels(rule.Labels)
	if err != nil {
		return err
	}

	res, err := db.writeDB.ExecContext(ctx, db.query("update-rule-definition"),
		rule.Category,
		rule.Level,
		string(rule.Datasource),
		rule.Query,
		rule.Condition,
		rule.Description,
		labels,
		rule.Suppress,
		rule.RepeatSeconds,
		rule.MaxDurationSeconds,
		rule.MaxSendCount,
		rule.Enabled,
		nullTemplateID(rule.NotifyTemplateID),
		time.Now().UTC(),
		int64(rule.ID),
	)
	if err != nil {
		return fmt.Errorf("updating rule %d: %w", rule.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateRuleState writes the engine-owned fields if the rule is still at
// the expected version. ErrVersionConflict means somebody else wrote first.
func (db *DB) UpdateRuleState(ctx context.Context, u models.RuleStateUpdate) error {
	return db.updateRuleState(ctx, db.writeDB, u)
}

func (db *DB) updateRuleState(ctx context.Context, ext sqlx.ExecerContext, u models.RuleStateUpdate) error {
	if !u.State.IsValid() {
		return fmt.Errorf("invalid state %q", u.State)
	}

	res, err := ext.ExecContext(ctx, db.query("update-rule-state"),
		string(u.State),
		u.SendCount,
		nullTime(u.AlertEpisodeStart),
		nullTime(u.LastNotificationAt),
		time.Now().UTC(),
		int64(u.ID),
		u.ExpectedVersion,
	)
	if err != nil {
		return fmt.Errorf("updating state of rule %d: %w", u.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating state of rule %d: %w", u.ID, err)
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

func normalizeRule(rule *models.Rule) {
	if rule.Category == "" {
		rule.Category = models.DefaultCategory
	}
	if rule.Datasource == "" {
		rule.Datasource = models.DatasourcePrometheus
	}
}
