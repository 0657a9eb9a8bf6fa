package rulefile

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr-karan/promalert/internal/store"
	"github.com/mr-karan/promalert/pkg/models"
)

const sample = `
templates:
  - name: ops-hook
    type: http
    params:
      url: https://hooks.example.com/alert
      body:
        text: "{message}"
rules:
  - name: cpu-high
    level: critical
    query: avg(rate(node_cpu_seconds_total{mode!="idle"}[5m])) * 100
    condition: "> 80"
    suppress: 5m
    repeat: 300
    template: ops-hook
    labels:
      team: infra
  - name: slow-queries
    level: warning
    datasource: clickhouse
    query: SELECT count() FROM system.query_log WHERE query_duration_ms > 1000
    condition: ">= 10"
    max_duration: 0
    enabled: false
`

type fakeStore struct {
	templates map[string]*models.NotifyTemplate
	rules     map[string]*models.Rule
	updated   []string
	nextID    int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{templates: map[string]*models.NotifyTemplate{}, rules: map[string]*models.Rule{}}
}

func (f *fakeStore) CreateTemplate(_ context.Context, req models.CreateTemplateRequest) (*models.NotifyTemplate, bool, error) {
	params, err := models.DecodeParams(req.Type, req.Params)
	if err != nil {
		return nil, false, err
	}
	key := string(req.Type) + string(req.Params)
	if t, ok := f.templates[key]; ok {
		return t, false, nil
	}
	f.nextID++
	t := &models.NotifyTemplate{ID: models.TemplateID(f.nextID), Name: req.Name, Type: req.Type, Params: params}
	f.templates[key] = t
	return t, true, nil
}

func (f *fakeStore) GetRuleByName(_ context.Context, name string) (*models.Rule, error) {
	r, ok := f.rules[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) CreateRule(_ context.Context, rule *models.Rule) error {
	f.nextID++
	rule.ID = models.RuleID(f.nextID)
	f.rules[rule.Name] = rule
	return nil
}

func (f *fakeStore) UpdateRuleDefinition(_ context.Context, rule *models.Rule) error {
	f.rules[rule.Name] = rule
	f.updated = append(f.updated, rule.Name)
	return nil
}

func TestParse(t *testing.T) {
	f, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, f.Templates, 1)
	require.Len(t, f.Rules, 2)

	params, err := json.Marshal(f.Templates[0].Params)
	require.NoError(t, err)
	assert.JSONEq(t, `{"url":"https://hooks.example.com/alert","body":{"text":"{message}"}}`, string(params))
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown key", "rules:\n  - name: a\n    level: low\n    query: q\n    condition: '> 1'\n    severity: x\n", "severity"},
		{"missing query", "rules:\n  - name: a\n    level: low\n    condition: '> 1'\n", "Query"},
		{"bad condition", "rules:\n  - name: a\n    level: low\n    query: q\n    condition: 'above 1'\n", "rule \"a\""},
		{"bad suppress", "rules:\n  - name: a\n    level: low\n    query: q\n    condition: '> 1'\n    suppress: soon\n", "suppress"},
		{"unknown template", "rules:\n  - name: a\n    level: low\n    query: q\n    condition: '> 1'\n    template: nope\n", "unknown template"},
		{"duplicate rule", "rules:\n  - {name: a, level: low, query: q, condition: '> 1'}\n  - {name: a, level: low, query: q, condition: '> 1'}\n", "duplicate"},
		{"bad datasource", "rules:\n  - {name: a, level: low, query: q, condition: '> 1', datasource: influx}\n", "Datasource"},
		{"bad channel", "templates:\n  - {name: t, type: sms, params: {a: b}}\n", "Type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseEmpty(t *testing.T) {
	f, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, f.Rules)
}

func TestApply(t *testing.T) {
	f, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	s := newFakeStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	sum, err := Apply(context.Background(), s, f, log)
	require.NoError(t, err)
	assert.Equal(t, Summary{TemplatesCreated: 1, RulesCreated: 2}, sum)

	cpu := s.rules["cpu-high"]
	require.NotNil(t, cpu)
	require.NotNil(t, cpu.NotifyTemplateID)
	assert.Equal(t, models.TemplateID(1), *cpu.NotifyTemplateID)
	assert.Equal(t, models.DatasourcePrometheus, cpu.Datasource)
	assert.Equal(t, models.DefaultMaxDurationSeconds, cpu.MaxDurationSeconds)
	assert.Equal(t, 300, cpu.RepeatSeconds)
	assert.True(t, cpu.Enabled)
	assert.Equal(t, "infra", cpu.Labels["team"])

	slow := s.rules["slow-queries"]
	require.NotNil(t, slow)
	assert.Equal(t, models.DatasourceClickHouse, slow.Datasource)
	assert.Zero(t, slow.MaxDurationSeconds, "explicit zero disables the limit")
	assert.False(t, slow.Enabled)
	assert.Nil(t, slow.NotifyTemplateID)

	cpuID := cpu.ID
	sum, err = Apply(context.Background(), s, f, log)
	require.NoError(t, err)
	assert.Equal(t, Summary{TemplatesReused: 1, RulesUpdated: 2}, sum)
	assert.Equal(t, cpuID, s.rules["cpu-high"].ID)
	assert.ElementsMatch(t, []string{"cpu-high", "slow-queries"}, s.updated)
}
