package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mr-karan/promalert/pkg/models"
)

// AcknowledgeRule silences an alerting rule and marks its most recent
// unacknowledged history entry as acknowledged by by.
func (db *DB) AcknowledgeRule(ctx context.Context, ruleID models.RuleID, by string) (*models.Rule, error) {
	var out *models.Rule
	err := db.withTx(ctx, func(tx *sqlx.Tx) error {
		rule, err := db.getRule(ctx, tx, ruleID)
		if err != nil {
			return err
		}
		if rule.State != models.StateAlerting {
			return fmt.Errorf("%w: rule %d is %s", ErrInvalidState, ruleID, rule.State)
		}

		now := time.Now().UTC()
		if err := db.markSilenced(ctx, tx, rule); err != nil {
			return err
		}

		var historyID int64
		err = sqlx.GetContext(ctx, tx, &historyID, db.query("latest-unacknowledged-history"), int64(ruleID), false)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("finding history for rule %d: %w", ruleID, err)
		default:
			if _, err := tx.ExecContext(ctx, db.query("acknowledge-history"), true, now, by, historyID); err != nil {
				return fmt.Errorf("acknowledging history %d: %w", historyID, err)
			}
		}
		out = rule
		return nil
	})
	return out, err
}

// AcknowledgeHistory marks one history entry acknowledged and silences its
// rule if the rule is still alerting.
func (db *DB) AcknowledgeHistory(ctx context.Context, id models.HistoryID, by string) (*models.HistoryEntry, error) {
	var out *models.HistoryEntry
	err := db.withTx(ctx, func(tx *sqlx.Tx) error {
		h, err := db.getHistory(ctx, tx, id)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, db.query("acknowledge-history"), true, now, by, int64(id)); err != nil {
			return fmt.Errorf("acknowledging history %d: %w", id, err)
		}
		h.Acknowledged = true
		h.AcknowledgedAt = &now
		h.AcknowledgedBy = by

		rule, err := db.getRule(ctx, tx, h.RuleID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if rule != nil && rule.State == models.StateAlerting {
			if err := db.markSilenced(ctx, tx, rule); err != nil {
				return err
			}
		}
		out = h
		return nil
	})
	return out, err
}

// ResolveRule forces a rule back to ok and resolves its latest open history
// entry. Counters are cleared so the ok state carries no episode.
func (db *DB) ResolveRule(ctx context.Context, ruleID models.RuleID, reason string) (*models.Rule, error) {
	var out *models.Rule
	err := db.withTx(ctx, func(tx *sqlx.Tx) error {
		rule, err := db.getRule(ctx, tx, ruleID)
		if err != nil {
			return err
		}
		if rule.State == models.StateOK {
			return fmt.Errorf("%w: rule %d is already ok", ErrInvalidState, ruleID)
		}

		if err := db.markRecovered(ctx, tx, rule); err != nil {
			return err
		}

		var historyID int64
		err = sqlx.GetContext(ctx, tx, &historyID, db.query("latest-open-history"), int64(ruleID))
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("finding history for rule %d: %w", ruleID, err)
		default:
			if _, err := tx.ExecContext(ctx, db.query("resolve-history"), time.Now().UTC(), nullableString(reason), historyID); err != nil {
				return fmt.Errorf("resolving history %d: %w", historyID, err)
			}
		}
		out = rule
		return nil
	})
	return out, err
}

// ResolveHistory resolves one history entry and returns its rule to ok if
// the rule is alerting.
func (db *DB) ResolveHistory(ctx context.Context, id models.HistoryID, reason string) (*models.HistoryEntry, error) {
	var out *models.HistoryEntry
	err := db.withTx(ctx, func(tx *sqlx.Tx) error {
		h, err := db.getHistory(ctx, tx, id)
		if err != nil {
			return err
		}
		if h.Status == models.HistoryResolved {
			return fmt.Errorf("%w: history %d is already resolved", ErrInvalidState, id)
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, db.query("resolve-history"), now, nullableString(reason), int64(id)); err != nil {
			return fmt.Errorf("resolving history %d: %w", id, err)
		}
		h.Status = models.HistoryResolved
		h.ResolvedAt = &now
		h.ResolutionReason = reason

		rule, err := db.getRule(ctx, tx, h.RuleID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if rule != nil && rule.State == models.StateAlerting {
			if err := db.markRecovered(ctx, tx, rule); err != nil {
				return err
			}
		}
		out = h
		return nil
	})
	return out, err
}

func (db *DB) markSilenced(ctx context.Context, tx *sqlx.Tx, rule *models.Rule) error {
	u := models.RuleStateUpdate{
		ID:                 rule.ID,
		State:              models.StateSilenced,
		SendCount:          rule.SendCount,
		AlertEpisodeStart:  rule.AlertEpisodeStart,
		LastNotificationAt: rule.LastNotificationAt,
		ExpectedVersion:    rule.Version,
	}
	if u.AlertEpisodeStart == nil {
		now := time.Now().UTC()
		u.AlertEpisodeStart = &now
	}
	if err := db.updateRuleState(ctx, tx, u); err != nil {
		return err
	}
	rule.State = u.State
	rule.AlertEpisodeStart = u.AlertEpisodeStart
	rule.Version++
	return nil
}

func (db *DB) markRecovered(ctx context.Context, tx *sqlx.Tx, rule *models.Rule) error {
	u := models.RuleStateUpdate{
		ID:                 rule.ID,
		State:              models.StateOK,
		LastNotificationAt: rule.LastNotificationAt,
		ExpectedVersion:    rule.Version,
	}
	if err := db.updateRuleState(ctx, tx, u); err != nil {
		return err
	}
	rule.State = models.StateOK
	rule.SendCount = 0
	rule.AlertEpisodeStart = nil
	rule.Version++
	return nil
}

func (db *DB) getHistory(ctx context.Context, q sqlx.QueryerContext, id models.HistoryID) (*models.HistoryEntry, error) {
	var row historyRow
	if err := sqlx.GetContext(ctx, q, &row, db.query("get-history"), int64(id)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting history %d: %w", id, err)
	}
	return row.toModel()
}
