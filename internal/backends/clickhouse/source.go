// Package clickhouse evaluates scalar SQL queries against ClickHouse.
package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/mr-karan/promalert/internal/backends"
)

const (
	// DefaultQueryTimeout is the max_execution_time applied when none is configured.
	DefaultQueryTimeout = 30 * time.Second
	defaultPort         = ":9000"
)

var _ backends.Source = (*Source)(nil)

// Source runs a query whose first column is the value and whose remaining
// columns become labels.
type Source struct {
	db      *sql.DB
	timeout time.Duration
	logger  *slog.Logger
}

type Options struct {
	Addr     string
	Database string
	Username string
	Password string
	Timeout  time.Duration
}

func NewSource(opts Options, logger *slog.Logger) (*Source, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("clickhouse address is required")
	}
	addr := opts.Addr
	if !strings.Contains(addr, ":") {
		addr += defaultPort
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}

	db := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": int(timeout.Seconds()),
			"readonly":           1,
		},
		DialTimeout: 10 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		Protocol: clickhouse.Native,
	})

	logger.Debug("created clickhouse metric source", "addr", addr, "database", opts.Database)
	return &Source{db: db, timeout: timeout, logger: logger}, nil
}

// Query runs query and converts its first row into a sample.
func (s *Source) Query(ctx context.Context, query string) (backends.Sample, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return backends.Sample{}, fmt.Errorf("executing query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return backends.Sample{}, fmt.Errorf("reading columns: %w", err)
	}
	if len(cols) == 0 {
		return backends.Sample{}, backends.ErrNoData
	}

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return backends.Sample{}, fmt.Errorf("reading rows: %w", err)
		}
		return backends.Sample{}, backends.ErrNoData
	}

	values := make([]any, len(cols))
	dest := make([]any, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return backends.Sample{}, fmt.Errorf("scanning row: %w", err)
	}

	v, err := toFloat(values[0])
	if err != nil {
		return backends.Sample{}, err
	}

	labels := make(map[string]string, len(cols)-1)
	for i := 1; i < len(cols); i++ {
		labels[cols[i]] = toLabel(values[i])
	}
	return backends.Sample{Value: v, Labels: labels, Timestamp: time.Now()}, nil
}

func (s *Source) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Source) Close() error {
	return s.db.Close()
}

func toFloat(v any) (float64, error) {
	var f float64
	switch val := deref(v).(type) {
	case nil:
		return 0, backends.ErrNoData
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int8:
		f = float64(val)
	case int16:
		f = float64(val)
	case int32:
		f = float64(val)
	case int64:
		f = float64(val)
	case uint8:
		f = float64(val)
	case uint16:
		f = float64(val)
	case uint32:
		f = float64(val)
	case uint64:
		f = float64(val)
	case bool:
		if val {
			f = 1
		}
	default:
		parsed, err := strconv.ParseFloat(fmt.Sprint(val), 64)
		if err != nil {
			return 0, fmt.Errorf("value column is not numeric: %T", val)
		}
		f = parsed
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: non-finite value", backends.ErrNoData)
	}
	return f, nil
}

func toLabel(v any) string {
	switch val := deref(v).(type) {
	case nil:
		return ""
	case string:
		return val
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}

// deref unwraps the pointer types used for Nullable columns.
func deref(v any) any {
	switch p := v.(type) {
	case *string:
		if p == nil {
			return nil
		}
		return *p
	case *float64:
		if p == nil {
			return nil
		}
		return *p
	case *int64:
		if p == nil {
			return nil
		}
		return *p
	case *uint64:
		if p == nil {
			return nil
		}
		return *p
	case sql.NullString:
		if !p.Valid {
			return nil
		}
		return p.String
	case sql.NullFloat64:
		if !p.Valid {
			return nil
		}
		return p.Float64
	}
	return v
}
