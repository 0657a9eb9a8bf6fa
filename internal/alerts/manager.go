package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/mr-karan/promalert/internal/backends"
	"github.com/mr-karan/promalert/internal/condition"
	"github.com/mr-karan/promalert/internal/store"
	"github.com/mr-karan/promalert/pkg/models"
)

// RuleStore is the part of the store the manager reads and writes.
type RuleStore interface {
	ListEnabledRules(ctx context.Context) ([]*models.Rule, error)
	UpdateRuleState(ctx context.Context, u models.RuleStateUpdate) error
}

// MetricSource returns the current sample of a rule's query.
type MetricSource interface {
	Query(ctx context.Context, ds models.Datasource, query string) (backends.Sample, error)
}

// Outcome summarises what happened to one rule during a pass.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeHeld     Outcome = "held"
	OutcomeSilenced Outcome = "silenced"
	OutcomeAlerting Outcome = "alerting"
	OutcomeNotified Outcome = "notified"
	OutcomeConflict Outcome = "conflict"
	OutcomeError    Outcome = "error"
)

// Result is the outcome of evaluating one rule.
type Result struct {
	RuleID   models.RuleID     `json:"rule_id"`
	RuleName string            `json:"rule_name"`
	Outcome  Outcome           `json:"outcome"`
	State    models.AlertState `json:"state"`
	Reason   Reason            `json:"reason,omitempty"`
	Value    *float64          `json:"value,omitempty"`
	Err      error             `json:"-"`
	Error    string            `json:"error,omitempty"`
}

// Report aggregates the results of one pass. Every result is counted once:
// conflicts first, then errors, then notifications, and the rest as OK.
type Report struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Results    []Result  `json:"results"`
	OK         int       `json:"ok"`
	Notified   int       `json:"notified"`
	Errored    int       `json:"errored"`
	Conflicts  int       `json:"conflicts"`
}

func (r *Report) add(res Result) {
	if res.Err != nil {
		res.Error = res.Err.Error()
	}
	switch {
	case res.Outcome == OutcomeConflict:
		r.Conflicts++
	case res.Err != nil:
		r.Errored++
	case res.Outcome == OutcomeNotified:
		r.Notified++
	default:
		r.OK++
	}
	r.Results = append(r.Results, res)
}

// Options encapsulates the dependencies required to run evaluation passes.
type Options struct {
	Rules      RuleStore
	Sources    MetricSource
	Dispatcher *Dispatcher
	Recorder   *Recorder
	Conditions *condition.Cache
	Logger     *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Manager evaluates every enabled rule once per pass.
type Manager struct {
	rules      RuleStore
	sources    MetricSource
	dispatcher *Dispatcher
	recorder   *Recorder
	conditions *condition.Cache
	log        *slog.Logger
	now        func() time.Time
}

// NewManager constructs a new alert manager instance.
func NewManager(opts Options) *Manager {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	conditions := opts.Conditions
	if conditions == nil {
		conditions = condition.NewCache()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		rules:      opts.Rules,
		sources:    opts.Sources,
		dispatcher: opts.Dispatcher,
		recorder:   opts.Recorder,
		conditions: conditions,
		log:        logger.With("component", "alert_manager"),
		now:        now,
	}
}

// EvaluatePass evaluates all enabled rules sequentially. It only fails when
// the rules cannot be loaded; per-rule failures are reported in the result.
func (m *Manager) EvaluatePass(ctx context.Context) (*Report, error) {
	report := &Report{ID: uuid.NewString(), StartedAt: m.now()}
	log := m.log.With("pass_id", report.ID)

	rules, err := m.rules.ListEnabledRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rules for evaluation: %w", err)
	}

	live := make(map[int64]struct{}, len(rules))
	for _, rule := range rules {
		live[int64(rule.ID)] = struct{}{}
	}
	m.conditions.Retain(live)

	for _, rule := range rules {
		res := m.evaluateRule(ctx, log, rule)
		observeResult(res.Outcome)
		report.add(res)
	}

	report.FinishedAt = m.now()
	log.Info("evaluation pass finished",
		"rules", len(rules),
		"ok", report.OK,
		"notified", report.Notified,
		"errored", report.Errored,
		"conflicts", report.Conflicts,
		"duration", report.FinishedAt.Sub(report.StartedAt))
	return report, nil
}

func (m *Manager) evaluateRule(ctx context.Context, log *slog.Logger, rule *models.Rule) (res Result) {
	log = log.With("rule_id", rule.ID, "rule_name", rule.Name)
	res = Result{RuleID: rule.ID, RuleName: rule.Name, State: rule.State}

	defer func() {
		if r := recover(); r != nil {
			rulePanics.Inc()
			log.Error("panic while evaluating rule", "kind", "rule_fault", "panic", r, "stack", string(debug.Stack()))
			res.Outcome = OutcomeError
			res.Err = fmt.Errorf("panic: %v", r)
		}
	}()

	sample, err := m.sources.Query(ctx, rule.Datasource, rule.Query)
	if err != nil {
		res.Outcome = OutcomeHeld
		if errors.Is(err, backends.ErrNoData) {
			log.Debug("no data for rule, holding state", "error", err)
		} else {
			log.Warn("metric query failed, holding state", "kind", "metric_query", "error", err)
			res.Err = err
		}
		return res
	}
	value := sample.Value
	res.Value = &value

	triggered := false
	cond, err := m.conditions.Get(int64(rule.ID), rule.Condition)
	if err != nil {
		log.Warn("invalid condition, treating as not triggered", "kind", "condition_parse", "condition", rule.Condition, "error", err)
		res.Err = err
	} else {
		triggered = cond.Eval(value)
	}

	limits, err := LimitsFor(rule)
	if err != nil {
		log.Warn("invalid suppress interval, ignoring it", "kind", "suppress_parse", "suppress", rule.Suppress, "error", err)
	}

	now := m.now()
	decision := Transition(SnapshotOf(rule), triggered, now, limits)
	next := decision.Next
	res.Reason = decision.Reason

	var target Target
	if decision.Notify {
		target, err = m.dispatcher.Resolve(ctx, rule)
		if err != nil {
			// Leave the stored state alone so the next pass sees the same edge.
			log.Warn("skipping notification", "kind", "template_missing", "error", err)
			res.Outcome = OutcomeError
			res.Err = err
			return res
		}
		next = decision.RecordSend(now)
	}

	err = m.rules.UpdateRuleState(ctx, models.RuleStateUpdate{
		ID:                 rule.ID,
		State:              next.State,
		SendCount:          next.SendCount,
		AlertEpisodeStart:  next.AlertEpisodeStart,
		LastNotificationAt: next.LastNotificationAt,
		ExpectedVersion:    rule.Version,
	})
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			log.Info("rule changed during evaluation, skipping", "version", rule.Version)
			res.Outcome = OutcomeConflict
			return res
		}
		log.Error("failed to persist rule state", "error", err)
		res.Outcome = OutcomeError
		res.Err = err
		return res
	}
	res.State = next.State

	if decision.Prev != next.State {
		log.Info("rule state changed", "from", decision.Prev, "to", next.State, "reason", decision.Reason, "value", value)
	}

	if !decision.Notify {
		res.Outcome = stateOutcome(next.State)
		return res
	}

	actx := NewAlertContext(rule, sample, next.State, now)
	result := m.dispatcher.Deliver(ctx, target, actx)
	if _, err := m.recorder.Record(ctx, actx, result); err != nil {
		log.Error("failed to record alert history", "error", err)
	}

	res.Outcome = OutcomeNotified
	if !result.Success {
		res.Err = fmt.Errorf("delivery failed: %s", result.Message)
	}
	return res
}

func stateOutcome(s models.AlertState) Outcome {
	switch s {
	case models.StateAlerting:
		return OutcomeAlerting
	case models.StateSilenced:
		return OutcomeSilenced
	default:
		return OutcomeOK
	}
}
