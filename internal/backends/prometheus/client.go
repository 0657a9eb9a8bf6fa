// Package prometheus queries the Prometheus HTTP API for instant vectors.
package prometheus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/common/model"

	"github.com/mr-karan/promalert/internal/backends"
)

const (
	DefaultTimeout = 10 * time.Second
	queryPath      = "/api/v1/query"
	maxErrorBody   = 8 << 10
)

var _ backends.Source = (*Client)(nil)

type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

type ClientOptions struct {
	URL     string
	Timeout time.Duration
}

func NewClient(opts ClientOptions, logger *slog.Logger) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("prometheus URL is required")
	}
	if _, err := url.Parse(opts.URL); err != nil {
		return nil, fmt.Errorf("invalid prometheus URL: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(opts.URL, "/"),
		logger:     logger,
	}, nil
}

// queryResponse is the envelope returned by /api/v1/query.
type queryResponse struct {
	Status    string `json:"status"`
	ErrorType string `json:"errorType,omitempty"`
	Error     string `json:"error,omitempty"`
	Data      struct {
		ResultType model.ValueType `json:"resultType"`
		Result     json.RawMessage `json:"result"`
	} `json:"data"`
}

// Query runs an instant query and returns the first sample. A non-success
// status or an empty result yields backends.ErrNoData.
func (c *Client) Query(ctx context.Context, query string) (backends.Sample, error) {
	params := url.Values{}
	params.Set("query", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+queryPath+"?"+params.Encode(), nil)
	if err != nil {
		return backends.Sample{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return backends.Sample{}, fmt.Errorf("query request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return backends.Sample{}, fmt.Errorf("reading response: %w", err)
	}

	var qr queryResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backends.Sample{}, fmt.Errorf("query failed with status %d: %s", resp.StatusCode, truncate(body))
		}
		return backends.Sample{}, fmt.Errorf("decoding response: %w", err)
	}

	if qr.Status != "success" {
		c.logger.Debug("prometheus returned non-success status",
			"status", qr.Status, "error_type", qr.ErrorType, "error", qr.Error, "query", query)
		return backends.Sample{}, fmt.Errorf("%w: status %q: %s", backends.ErrNoData, qr.Status, qr.Error)
	}

	sample, err := firstSample(qr.Data.ResultType, qr.Data.Result)
	if err != nil {
		return backends.Sample{}, err
	}
	if math.IsNaN(sample.Value) || math.IsInf(sample.Value, 0) {
		return backends.Sample{}, fmt.Errorf("%w: non-finite value", backends.ErrNoData)
	}
	return sample, nil
}

func firstSample(vt model.ValueType, raw json.RawMessage) (backends.Sample, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return backends.Sample{}, backends.ErrNoData
	}

	switch vt {
	case model.ValScalar:
		var s model.Scalar
		if err := json.Unmarshal(raw, &s); err != nil {
			return backends.Sample{}, fmt.Errorf("decoding scalar result: %w", err)
		}
		return backends.Sample{
			Value:     float64(s.Value),
			Labels:    map[string]string{},
			Timestamp: s.Timestamp.Time(),
		}, nil
	case model.ValVector, model.ValNone:
		var v model.Vector
		if err := json.Unmarshal(raw, &v); err != nil {
			return backends.Sample{}, fmt.Errorf("decoding vector result: %w", err)
		}
		if len(v) == 0 {
			return backends.Sample{}, backends.ErrNoData
		}
		first := v[0]
		labels := make(map[string]string, len(first.Metric))
		for k, val := range first.Metric {
			labels[string(k)] = string(val)
		}
		return backends.Sample{
			Value:     float64(first.Value),
			Labels:    labels,
			Timestamp: first.Timestamp.Time(),
		}, nil
	default:
		return backends.Sample{}, fmt.Errorf("unsupported result type %q", vt)
	}
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody]
	}
	return strings.TrimSpace(string(b))
}
