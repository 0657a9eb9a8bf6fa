// Package backends queries metric backends for the current value of a rule's
// expression.
package backends

import (
	"context"
	"errors"
	"time"
)

// ErrNoData is returned when a query succeeds but yields no usable sample.
var ErrNoData = errors.New("no data")

// Sample is a single scalar observation with its labels.
type Sample struct {
	Value     float64
	Labels    map[string]string
	Timestamp time.Time
}

// Source runs an instant query and returns the first sample of the result.
type Source interface {
	Query(ctx context.Context, query string) (Sample, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, query string) (Sample, error)

func (f SourceFunc) Query(ctx context.Context, query string) (Sample, error) {
	return f(ctx, query)
}
