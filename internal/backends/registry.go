package backends

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mr-karan/promalert/pkg/models"
)

// Registry routes queries to the source registered for a rule's datasource.
type Registry struct {
	mu      sync.RWMutex
	sources map[models.Datasource]Source
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		sources: make(map[models.Datasource]Source),
		logger:  logger,
	}
}

func (r *Registry) Register(ds models.Datasource, src Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[ds] = src
	r.logger.Debug("registered metric source", "datasource", ds)
}

func (r *Registry) Get(ds models.Datasource) (Source, error) {
	if ds == "" {
		ds = models.DatasourcePrometheus
	}

	r.mu.RLock()
	src, ok := r.sources[ds]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no source registered for datasource: %s", ds)
	}
	return src, nil
}

// Query runs query against the source registered for ds.
func (r *Registry) Query(ctx context.Context, ds models.Datasource, query string) (Sample, error) {
	src, err := r.Get(ds)
	if err != nil {
		return Sample{}, err
	}
	return src.Query(ctx, query)
}

func (r *Registry) Datasources() []models.Datasource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Datasource, 0, len(r.sources))
	for ds := range r.sources {
		out = append(out, ds)
	}
	return out
}
