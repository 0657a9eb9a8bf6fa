package store

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr-karan/promalert/internal/config"
	"github.com/mr-karan/promalert/pkg/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config: config.StoreConfig{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "promalert.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func createTemplate(t *testing.T, db *DB) *models.NotifyTemplate {
	t.Helper()
	tmpl, created, err := db.CreateTemplate(context.Background(), models.CreateTemplateRequest{
		Name:   "ops-hook",
		Type:   models.ChannelHTTP,
		Params: json.RawMessage(`{"url":"https://hooks.example.com/a","body":{"text":"{message}"}}`),
	})
	require.NoError(t, err)
	require.True(t, created)
	return tmpl
}

func createRule(t *testing.T, db *DB, name string, tmpl *models.NotifyTemplate) *models.Rule {
	t.Helper()
	rule := &models.Rule{
		Name:               name,
		Level:              "critical",
		Query:              "up == 0",
		Condition:          "> 0",
		Labels:             map[string]string{"team": "infra"},
		RepeatSeconds:      300,
		MaxDurationSeconds: 3600,
		Enabled:            true,
	}
	if tmpl != nil {
		rule.NotifyTemplateID = &tmpl.ID
	}
	require.NoError(t, db.CreateRule(context.Background(), rule))
	return rule
}

func TestRuleLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	tmpl := createTemplate(t, db)

	rule := createRule(t, db, "host-down", tmpl)
	assert.NotZero(t, rule.ID)
	assert.Equal(t, int64(1), rule.Version)
	assert.Equal(t, models.DefaultCategory, rule.Category)

	disabled := createRule(t, db, "disabled", nil)
	disabled.Enabled = false
	require.NoError(t, db.UpdateRuleDefinition(ctx, disabled))

	rules, err := db.ListEnabledRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	got := rules[0]
	assert.Equal(t, "host-down", got.Name)
	assert.Equal(t, models.StateOK, got.State)
	assert.Equal(t, models.DatasourcePrometheus, got.Datasource)
	assert.Equal(t, "infra", got.Labels["team"])
	require.NotNil(t, got.NotifyTemplateID)
	assert.Equal(t, tmpl.ID, *got.NotifyTemplateID)

	byName, err := db.GetRuleByName(ctx, "host-down")
	require.NoError(t, err)
	assert.Equal(t, rule.ID, byName.ID)

	_, err = db.GetRule(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.GetRuleByName(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateRuleStateCompareAndSwap(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	rule := createRule(t, db, "host-down", nil)

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	u := models.RuleStateUpdate{
		ID:                 rule.ID,
		State:              models.StateAlerting,
		SendCount:          1,
		AlertEpisodeStart:  &start,
		LastNotificationAt: &start,
		ExpectedVersion:    rule.Version,
	}
	require.NoError(t, db.UpdateRuleState(ctx, u))

	got, err := db.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateAlerting, got.State)
	assert.Equal(t, 1, got.SendCount)
	require.NotNil(t, got.AlertEpisodeStart)
	assert.True(t, start.Equal(*got.AlertEpisodeStart))
	assert.Equal(t, rule.Version+1, got.Version)

	// Same expected version again loses.
	assert.ErrorIs(t, db.UpdateRuleState(ctx, u), ErrVersionConflict)

	// A definition edit bumps the version and invalidates in-flight writes.
	got.Condition = "> 5"
	require.NoError(t, db.UpdateRuleDefinition(ctx, got))
	u.ExpectedVersion = got.Version
	assert.ErrorIs(t, db.UpdateRuleState(ctx, u), ErrVersionConflict)

	u.State = "bogus"
	assert.Error(t, db.UpdateRuleState(ctx, u))
}

func TestTemplatesDeduplicate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	first := createTemplate(t, db)

	// Same params in a different key order.
	again, created, err := db.CreateTemplate(ctx, models.CreateTemplateRequest{
		Name:   "other-name",
		Type:   models.ChannelHTTP,
		Params: json.RawMessage(`{"body":{"text":"{message}"},"url":"https://hooks.example.com/a"}`),
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	_, _, err = db.CreateTemplate(ctx, models.CreateTemplateRequest{
		Name:   "broken",
		Type:   models.ChannelHTTP,
		Params: json.RawMessage(`{"url":"not a url"}`),
	})
	assert.ErrorIs(t, err, models.ErrInvalidParams)

	got, err := db.GetTemplate(ctx, first.ID)
	require.NoError(t, err)
	params, ok := got.Params.(models.HTTPParams)
	require.True(t, ok)
	assert.Equal(t, "https://hooks.example.com/a", params.URL)

	list, err := db.ListTemplates(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = db.GetTemplate(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func insertEntry(t *testing.T, db *DB, rule *models.Rule, at time.Time) *models.HistoryEntry {
	t.Helper()
	h := &models.HistoryEntry{
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		Level:      rule.Level,
		Message:    "host down",
		AlertValue: "1",
		Condition:  rule.Condition,
		Labels:     map[string]string{"instance": "db-1"},
		Notified:   true,
		NotifiedAt: &at,
		CreatedAt:  at,
	}
	require.NoError(t, db.InsertHistory(context.Background(), h))
	return h
}

func TestHistory(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	rule := createRule(t, db, "host-down", nil)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		insertEntry(t, db, rule, base.Add(time.Duration(i)*time.Minute))
	}

	list, err := db.ListHistory(ctx, rule.ID, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].CreatedAt.After(list[1].CreatedAt), "newest first")
	assert.Equal(t, models.HistoryTriggered, list[0].Status)
	assert.Equal(t, "db-1", list[0].Labels["instance"])

	one, err := db.GetHistory(ctx, list[1].ID)
	require.NoError(t, err)
	assert.True(t, one.Notified)
	require.NotNil(t, one.NotifiedAt)

	_, err = db.GetHistory(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func setAlerting(t *testing.T, db *DB, rule *models.Rule) *models.Rule {
	t.Helper()
	ctx := context.Background()
	current, err := db.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, db.UpdateRuleState(ctx, models.RuleStateUpdate{
		ID:                 rule.ID,
		State:              models.StateAlerting,
		SendCount:          2,
		AlertEpisodeStart:  &now,
		LastNotificationAt: &now,
		ExpectedVersion:    current.Version,
	}))
	current, err = db.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	return current
}

func TestAcknowledgeRule(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	rule := createRule(t, db, "host-down", nil)

	_, err := db.AcknowledgeRule(ctx, rule.ID, "alice")
	assert.ErrorIs(t, err, ErrInvalidState, "ok rules cannot be acknowledged")

	alerting := setAlerting(t, db, rule)
	h := insertEntry(t, db, rule, time.Now().UTC())

	acked, err := db.AcknowledgeRule(ctx, rule.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StateSilenced, acked.State)
	assert.Equal(t, alerting.SendCount, acked.SendCount)

	stored, err := db.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateSilenced, stored.State)
	assert.NotNil(t, stored.AlertEpisodeStart)
	assert.Equal(t, alerting.Version+1, stored.Version)

	entry, err := db.GetHistory(ctx, h.ID)
	require.NoError(t, err)
	assert.True(t, entry.Acknowledged)
	assert.Equal(t, "alice", entry.AcknowledgedBy)
	assert.NotNil(t, entry.AcknowledgedAt)

	_, err = db.AcknowledgeRule(ctx, 12345, "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveRule(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	rule := createRule(t, db, "host-down", nil)

	_, err := db.ResolveRule(ctx, rule.ID, "fixed")
	assert.ErrorIs(t, err, ErrInvalidState)

	setAlerting(t, db, rule)
	h := insertEntry(t, db, rule, time.Now().UTC())

	resolved, err := db.ResolveRule(ctx, rule.ID, "fixed by hand")
	require.NoError(t, err)
	assert.Equal(t, models.StateOK, resolved.State)

	stored, err := db.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateOK, stored.State)
	assert.Zero(t, stored.SendCount)
	assert.Nil(t, stored.AlertEpisodeStart)

	entry, err := db.GetHistory(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HistoryResolved, entry.Status)
	assert.Equal(t, "fixed by hand", entry.ResolutionReason)
	assert.NotNil(t, entry.ResolvedAt)
}

func TestHistoryOverrides(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	rule := createRule(t, db, "host-down", nil)
	setAlerting(t, db, rule)
	h := insertEntry(t, db, rule, time.Now().UTC())

	acked, err := db.AcknowledgeHistory(ctx, h.ID, "bob")
	require.NoError(t, err)
	assert.True(t, acked.Acknowledged)
	stored, err := db.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateSilenced, stored.State)

	resolved, err := db.ResolveHistory(ctx, h.ID, "noise")
	require.NoError(t, err)
	assert.Equal(t, models.HistoryResolved, resolved.Status)
	stored, err = db.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateSilenced, stored.State, "only alerting rules are recovered")

	_, err = db.ResolveHistory(ctx, h.ID, "again")
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = db.AcknowledgeHistory(ctx, 999, "bob")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSettings(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.GetSetting(ctx, "engine.interval")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 30*time.Second, db.GetDurationSetting(ctx, "engine.interval", 30*time.Second))

	require.NoError(t, db.UpsertSetting(ctx, "engine.interval", "1m"))
	require.NoError(t, db.UpsertSetting(ctx, "engine.interval", "2m"))
	assert.Equal(t, 2*time.Minute, db.GetDurationSetting(ctx, "engine.interval", 0))

	require.NoError(t, db.UpsertSetting(ctx, "engine.workers", "4"))
	assert.Equal(t, 4, db.GetIntSetting(ctx, "engine.workers", 1))
	require.NoError(t, db.UpsertSetting(ctx, "engine.enabled", "false"))
	assert.False(t, db.GetBoolSetting(ctx, "engine.enabled", true))
	require.NoError(t, db.UpsertSetting(ctx, "engine.workers", "many"))
	assert.Equal(t, 1, db.GetIntSetting(ctx, "engine.workers", 1))

	require.NoError(t, db.DeleteSetting(ctx, "engine.interval"))
	assert.Equal(t, "fallback", db.GetSettingWithDefault(ctx, "engine.interval", "fallback"))
}

func TestStoreMisc(t *testing.T) {
	db := newTestDB(t)
	assert.Equal(t, DriverSQLite, db.Driver())
	assert.NoError(t, db.Ping(context.Background()))

	_, err := New(Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config: config.StoreConfig{Driver: "oracle"},
	})
	assert.Error(t, err)

	dsn, err := mysqlDSN("user:pw@tcp(db:3306)/promalert")
	require.NoError(t, err)
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "clientFoundRows=true")
}
