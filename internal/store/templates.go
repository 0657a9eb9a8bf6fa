package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mr-karan/promalert/pkg/models"
)

type templateRow struct {
	ID          int64     `db:"id"`
	Name        string    `db:"name"`
	ChannelType string    `db:"channel_type"`
	Params      string    `db:"params"`
	ParamsHash  string    `db:"params_hash"`
	Description string    `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r templateRow) toModel() (*models.NotifyTemplate, error) {
	t := models.ChannelType(r.ChannelType)
	params, err := models.DecodeParams(t, []byte(r.Params))
	if err != nil {
		return nil, fmt.Errorf("template %d: %w", r.ID, err)
	}
	return &models.NotifyTemplate{
		ID:          models.TemplateID(r.ID),
		Name:        r.Name,
		Type:        t,
		Params:      params,
		Description: r.Description,
		CreatedAt:   r.CreatedAt,
	}, nil
}

// GetTemplate fetches a notify template by id.
func (db *DB) GetTemplate(ctx context.Context, id models.TemplateID) (*models.NotifyTemplate, error) {
	var row templateRow
	if err := db.readDB.GetContext(ctx, &row, db.query("get-template"), int64(id)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting template %d: %w", id, err)
	}
	return row.toModel()
}

// ListTemplates returns all templates ordered by id.
func (db *DB) ListTemplates(ctx context.Context) ([]*models.NotifyTemplate, error) {
	var rows []templateRow
	if err := db.readDB.SelectContext(ctx, &rows, db.query("list-templates")); err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	out := make([]*models.NotifyTemplate, 0, len(rows))
	for _, row := range rows {
		t, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// CreateTemplate validates and stores a template. When a template with the
// same channel type and parameters already exists it is returned instead
// and created is false.
func (db *DB) CreateTemplate(ctx context.Context, req models.CreateTemplateRequest) (tmpl *models.NotifyTemplate, created bool, err error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, false, fmt.Errorf("%w: name is required", models.ErrInvalidParams)
	}
	params, err := models.DecodeParams(req.Type, req.Params)
	if err != nil {
		return nil, false, err
	}
	canonical, hash, err := models.CanonicalParams(params)
	if err != nil {
		return nil, false, err
	}

	if existing, err := db.templateByHash(ctx, req.Type, hash); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	now := time.Now().UTC()
	id, err := db.insert(ctx, db.writeDB, "insert-template",
		req.Name, string(req.Type), string(canonical), hash, req.Description, now, now)
	if err != nil {
		// Lost a race against an identical insert.
		if existing, lookupErr := db.templateByHash(ctx, req.Type, hash); lookupErr == nil {
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("inserting template %q: %w", req.Name, err)
	}

	return &models.NotifyTemplate{
		ID:          models.TemplateID(id),
		Name:        req.Name,
		Type:        req.Type,
		Params:      params,
		Description: req.Description,
		CreatedAt:   now,
	}, true, nil
}

func (db *DB) templateByHash(ctx context.Context, t models.ChannelType, hash string) (*models.NotifyTemplate, error) {
	var row templateRow
	if err := db.writeDB.GetContext(ctx, &row, db.query("get-template-by-hash"), string(t), hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("looking up template: %w", err)
	}
	return row.toModel()
}
