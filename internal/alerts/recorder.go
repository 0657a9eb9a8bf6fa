package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mr-karan/promalert/pkg/models"
)

// HistoryWriter persists history entries.
type HistoryWriter interface {
	InsertHistory(ctx context.Context, h *models.HistoryEntry) error
}

// HistoryPublisher announces new history entries to other systems.
type HistoryPublisher interface {
	PublishHistory(ctx context.Context, h *models.HistoryEntry) error
}

type RecorderOptions struct {
	Store     HistoryWriter
	Publisher HistoryPublisher // optional
	Logger    *slog.Logger
}

// Recorder writes one audit row per notification attempt.
type Recorder struct {
	store     HistoryWriter
	publisher HistoryPublisher
	logger    *slog.Logger
}

func NewRecorder(opts RecorderOptions) *Recorder {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:     opts.Store,
		publisher: opts.Publisher,
		logger:    logger.With("component", "alert_recorder"),
	}
}

// Record stores the attempt described by actx and result. Publishing is
// best effort; a publish failure is logged and not returned.
func (r *Recorder) Record(ctx context.Context, actx AlertContext, result DeliveryResult) (*models.HistoryEntry, error) {
	detail, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encoding delivery result: %w", err)
	}

	entry := &models.HistoryEntry{
		RuleID:         actx.RuleID,
		RuleName:       actx.RuleName,
		Category:       actx.Category,
		Level:          actx.Level,
		Status:         models.HistoryTriggered,
		Message:        actx.Message,
		AlertValue:     FormatValue(actx.Value),
		Condition:      actx.Condition,
		Labels:         actx.Labels,
		Notified:       result.Success,
		DeliveryDetail: string(detail),
		CreatedAt:      actx.TriggerTime.UTC(),
	}
	if result.Success {
		t := actx.TriggerTime.UTC()
		entry.NotifiedAt = &t
	}

	if err := r.store.InsertHistory(ctx, entry); err != nil {
		return nil, fmt.Errorf("recording history for rule %d: %w", actx.RuleID, err)
	}
	r.logger.Debug("history recorded", "rule_id", entry.RuleID, "history_id", entry.ID, "notified", entry.Notified)

	if r.publisher != nil {
		if err := r.publisher.PublishHistory(ctx, entry); err != nil {
			r.logger.Warn("error publishing history event", "history_id", entry.ID, "error", err)
		}
	}
	return entry, nil
}
