// Package rulefile loads rules and notify templates from a YAML file and
// applies them to the store.
package rulefile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/mr-karan/promalert/internal/alerts"
	"github.com/mr-karan/promalert/internal/condition"
	"github.com/mr-karan/promalert/internal/store"
	"github.com/mr-karan/promalert/pkg/models"
)

// File is the document layout of a rule file.
type File struct {
	Templates []Template `yaml:"templates" validate:"dive"`
	Rules     []Rule     `yaml:"rules" validate:"dive"`
}

// Template is a notify template definition. Params follow the channel's
// JSON parameter schema.
type Template struct {
	Name        string         `yaml:"name" validate:"required"`
	Type        string         `yaml:"type" validate:"required,oneof=email http chat"`
	Description string         `yaml:"description"`
	Params      map[string]any `yaml:"params" validate:"required"`
}

// Rule is a rule definition. Template refers to a template by name.
type Rule struct {
	Name         string            `yaml:"name" validate:"required"`
	Category     string            `yaml:"category"`
	Level        string            `yaml:"level" validate:"required"`
	Datasource   string            `yaml:"datasource" validate:"omitempty,oneof=prometheus clickhouse"`
	Query        string            `yaml:"query" validate:"required"`
	Condition    string            `yaml:"condition" validate:"required"`
	Description  string            `yaml:"description"`
	Labels       map[string]string `yaml:"labels"`
	Suppress     string            `yaml:"suppress"`
	Repeat       int               `yaml:"repeat" validate:"min=0"`
	MaxDuration  *int              `yaml:"max_duration" validate:"omitempty,min=0"`
	MaxSendCount int               `yaml:"max_send_count" validate:"min=0"`
	Enabled      *bool             `yaml:"enabled"`
	Template     string            `yaml:"template"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and validates a rule file.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening rule file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes and validates a rule file. Unknown keys are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file File
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding rule file: %w", err)
	}
	if err := validate.Struct(&file); err != nil {
		return nil, fmt.Errorf("invalid rule file: %w", err)
	}

	templates := make(map[string]struct{}, len(file.Templates))
	for _, t := range file.Templates {
		templates[t.Name] = struct{}{}
	}
	seen := make(map[string]struct{}, len(file.Rules))
	for _, r := range file.Rules {
		if _, ok := seen[r.Name]; ok {
			return nil, fmt.Errorf("duplicate rule %q", r.Name)
		}
		seen[r.Name] = struct{}{}

		if _, err := condition.Parse(r.Condition); err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		if _, err := alerts.ParseWindow(r.Suppress); err != nil {
			return nil, fmt.Errorf("rule %q: invalid suppress %q: %w", r.Name, r.Suppress, err)
		}
		if r.Template != "" {
			if _, ok := templates[r.Template]; !ok {
				return nil, fmt.Errorf("rule %q: unknown template %q", r.Name, r.Template)
			}
		}
	}
	return &file, nil
}

// Store is what Apply needs from the store.
type Store interface {
	CreateTemplate(ctx context.Context, req models.CreateTemplateRequest) (*models.NotifyTemplate, bool, error)
	GetRuleByName(ctx context.Context, name string) (*models.Rule, error)
	CreateRule(ctx context.Context, rule *models.Rule) error
	UpdateRuleDefinition(ctx context.Context, rule *models.Rule) error
}

// Summary counts what Apply changed.
type Summary struct {
	TemplatesCreated int `json:"templates_created"`
	TemplatesReused  int `json:"templates_reused"`
	RulesCreated     int `json:"rules_created"`
	RulesUpdated     int `json:"rules_updated"`
}

// Apply creates the templates of f and creates or updates its rules by
// name. Rule state is never touched.
func Apply(ctx context.Context, s Store, f *File, log *slog.Logger) (Summary, error) {
	var sum Summary
	ids := make(map[string]models.TemplateID, len(f.Templates))

	for _, t := range f.Templates {
		params, err := json.Marshal(t.Params)
		if err != nil {
			return sum, fmt.Errorf("template %q: encoding params: %w", t.Name, err)
		}
		tmpl, created, err := s.CreateTemplate(ctx, models.CreateTemplateRequest{
			Name:        t.Name,
			Type:        models.ChannelType(t.Type),
			Params:      params,
			Description: t.Description,
		})
		if err != nil {
			return sum, fmt.Errorf("template %q: %w", t.Name, err)
		}
		if created {
			sum.TemplatesCreated++
		} else {
			sum.TemplatesReused++
		}
		ids[t.Name] = tmpl.ID
	}

	for _, r := range f.Rules {
		rule, err := r.toModel(ids)
		if err != nil {
			return sum, err
		}

		existing, err := s.GetRuleByName(ctx, r.Name)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if err := s.CreateRule(ctx, rule); err != nil {
				return sum, fmt.Errorf("rule %q: %w", r.Name, err)
			}
			sum.RulesCreated++
			log.Info("rule created", "rule", r.Name, "id", rule.ID)
		case err != nil:
			return sum, fmt.Errorf("rule %q: %w", r.Name, err)
		default:
			rule.ID = existing.ID
			if err := s.UpdateRuleDefinition(ctx, rule); err != nil {
				return sum, fmt.Errorf("rule %q: %w", r.Name, err)
			}
			sum.RulesUpdated++
			log.Info("rule updated", "rule", r.Name, "id", rule.ID)
		}
	}
	return sum, nil
}

func (r Rule) toModel(templates map[string]models.TemplateID) (*models.Rule, error) {
	ds, err := models.ParseDatasource(r.Datasource)
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", r.Name, err)
	}

	rule := &models.Rule{
		Name:               r.Name,
		Category:           r.Category,
		Level:              r.Level,
		Datasource:         ds,
		Query:              r.Query,
		Condition:          r.Condition,
		Description:        r.Description,
		Labels:             r.Labels,
		Suppress:           r.Suppress,
		RepeatSeconds:      r.Repeat,
		MaxDurationSeconds: models.DefaultMaxDurationSeconds,
		MaxSendCount:       r.MaxSendCount,
		Enabled:            r.Enabled == nil || *r.Enabled,
	}
	if r.MaxDuration != nil {
		rule.MaxDurationSeconds = *r.MaxDuration
	}
	if r.Template != "" {
		id, ok := templates[r.Template]
		if !ok {
			return nil, fmt.Errorf("rule %q: unknown template %q", r.Name, r.Template)
		}
		rule.NotifyTemplateID = &id
	}
	return rule, nil
}
