// Package client provides the HTTP client for the promalert admin API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mr-karan/promalert/internal/alerts"
	"github.com/mr-karan/promalert/pkg/models"
)

// DefaultTimeout bounds a request when Options.Timeout is unset. Manual
// passes may take a while, so it is generous.
const DefaultTimeout = 2 * time.Minute

// Options configures a Client.
type Options struct {
	URL     string
	Timeout time.Duration
}

// Client is the promalert API client
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new promalert API client
func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	if _, err := url.Parse(opts.URL); err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		baseURL:    strings.TrimSuffix(opts.URL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Request options
type RequestOptions struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// APIError represents an error response from the API
type APIError struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	ErrorType  string `json:"error_type,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *APIError) Error() string {
	if e.ErrorType != "" {
		return fmt.Sprintf("%s: %s", e.ErrorType, e.Message)
	}
	return e.Message
}

// Do performs an HTTP request to the promalert API
func (c *Client) Do(ctx context.Context, opts RequestOptions) (*http.Response, error) {
	reqURL, err := url.Parse(c.baseURL + opts.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if opts.Query != nil {
		reqURL.RawQuery = opts.Query.Encode()
	}

	var body io.Reader
	if opts.Body != nil {
		data, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, reqURL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "promalert-cli/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// DoJSON performs a request and decodes the data field of the success
// envelope into result.
func (c *Client) DoJSON(ctx context.Context, opts RequestOptions, result any) error {
	resp, err := c.Do(ctx, opts)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr APIError
		if err := json.Unmarshal(respBody, &apiErr); err != nil || apiErr.Message == "" {
			return &APIError{
				Status:     "error",
				Message:    strings.TrimSpace(string(respBody)),
				StatusCode: resp.StatusCode,
			}
		}
		apiErr.StatusCode = resp.StatusCode
		return &apiErr
	}

	if result == nil {
		return nil
	}
	var env struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if err := json.Unmarshal(env.Data, result); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

// --- API Methods ---

// Health reports whether the server and its store are reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.DoJSON(ctx, RequestOptions{Method: http.MethodGet, Path: "/api/v1/health"}, nil)
}

// EngineStatus mirrors the scheduler status returned by the server.
type EngineStatus struct {
	Running    bool           `json:"running"`
	Active     bool           `json:"pass_active"`
	Interval   string         `json:"interval"`
	NextRun    *time.Time     `json:"next_run,omitempty"`
	LastRun    *time.Time     `json:"last_run,omitempty"`
	LastReport *alerts.Report `json:"last_report,omitempty"`
	LastError  string         `json:"last_error,omitempty"`
}

func (c *Client) EngineStatus(ctx context.Context) (*EngineStatus, error) {
	return c.engineCall(ctx, http.MethodGet, "/api/v1/engine/status")
}

func (c *Client) StartEngine(ctx context.Context) (*EngineStatus, error) {
	return c.engineCall(ctx, http.MethodPost, "/api/v1/engine/start")
}

func (c *Client) StopEngine(ctx context.Context) (*EngineStatus, error) {
	return c.engineCall(ctx, http.MethodPost, "/api/v1/engine/stop")
}

func (c *Client) engineCall(ctx context.Context, method, path string) (*EngineStatus, error) {
	var st EngineStatus
	if err := c.DoJSON(ctx, RequestOptions{Method: method, Path: path}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// RunPass triggers one evaluation pass and waits for its report.
func (c *Client) RunPass(ctx context.Context) (*alerts.Report, error) {
	var report alerts.Report
	err := c.DoJSON(ctx, RequestOptions{Method: http.MethodPost, Path: "/api/v1/engine/run"}, &report)
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *Client) AcknowledgeRule(ctx context.Context, id models.RuleID, by string) (*models.Rule, error) {
	var rule models.Rule
	err := c.DoJSON(ctx, RequestOptions{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/api/v1/rules/%d/acknowledge", id),
		Body:   models.AcknowledgeRequest{By: by},
	}, &rule)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (c *Client) ResolveRule(ctx context.Context, id models.RuleID, reason string) (*models.Rule, error) {
	var rule models.Rule
	err := c.DoJSON(ctx, RequestOptions{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/api/v1/rules/%d/resolve", id),
		Body:   models.ResolveRequest{Reason: reason},
	}, &rule)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// RuleHistory returns the newest history entries of a rule. A limit of
// zero uses the server default.
func (c *Client) RuleHistory(ctx context.Context, id models.RuleID, limit int) ([]models.HistoryEntry, error) {
	var query url.Values
	if limit > 0 {
		query = url.Values{"limit": []string{strconv.Itoa(limit)}}
	}
	var entries []models.HistoryEntry
	err := c.DoJSON(ctx, RequestOptions{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/api/v1/rules/%d/history", id),
		Query:  query,
	}, &entries)
	if err != nil {
		return nil, err
	}
	return entries, nil
}
