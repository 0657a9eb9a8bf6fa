package alerts

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mr-karan/promalert/internal/template"
	"github.com/mr-karan/promalert/pkg/models"
)

const maxResponseDetail = 512

// defaultHTTPBody is sent when an http template has no body.
func defaultHTTPBody() map[string]any {
	return map[string]any{
		"alert_type":    "prometheus",
		"rule_name":     "{rule_name}",
		"level":         "{level}",
		"condition":     "{condition}",
		"current_value": "{current_value}",
		"trigger_time":  "{trigger_time}",
		"message":       "{message}",
	}
}

type WebhookSenderOptions struct {
	// DefaultTimeout applies when a template sets no timeout.
	DefaultTimeout time.Duration
	Logger         *slog.Logger
}

// WebhookSender delivers the generic http channel.
type WebhookSender struct {
	client         *http.Client
	insecureClient *http.Client
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// HTTPRequest is a rendered http notification.
type HTTPRequest struct {
	Method    string
	URL       string
	Headers   map[string]string
	Body      []byte
	Timeout   time.Duration
	VerifySSL bool
}

func (HTTPRequest) Channel() models.ChannelType { return models.ChannelHTTP }

func NewWebhookSender(opts WebhookSenderOptions) *WebhookSender {
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	insecure := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, // #nosec G402
	}
	return &WebhookSender{
		client:         &http.Client{},
		insecureClient: &http.Client{Transport: insecure},
		defaultTimeout: timeout,
		logger:         logger.With("component", "alert_webhook_sender"),
	}
}

func (s *WebhookSender) Type() models.ChannelType { return models.ChannelHTTP }

// Render interpolates the URL, headers and body. Object bodies are rendered
// value by value and sent as JSON; string bodies are sent verbatim.
func (s *WebhookSender) Render(params models.ChannelParams, actx AlertContext) (Payload, error) {
	p, ok := params.(models.HTTPParams)
	if !ok {
		return nil, fmt.Errorf("http channel got %T params", params)
	}
	vars := actx.Vars()

	req := &HTTPRequest{
		Method:    strings.ToUpper(p.Method),
		URL:       template.Render(p.URL, vars),
		Headers:   make(map[string]string, len(p.Headers)+1),
		Timeout:   s.defaultTimeout,
		VerifySSL: p.VerifySSL == nil || *p.VerifySSL,
	}
	if req.Method == "" {
		req.Method = http.MethodPost
	}
	if p.Timeout > 0 {
		req.Timeout = time.Duration(p.Timeout) * time.Second
	}
	for k, v := range p.Headers {
		req.Headers[k] = template.Render(v, vars)
	}

	body := p.Body
	if body == nil {
		body = defaultHTTPBody()
	}
	switch b := body.(type) {
	case string:
		req.Body = []byte(template.Render(b, vars))
	case map[string]any:
		encoded, err := marshalJSON(template.RenderValue(b, vars))
		if err != nil {
			return nil, fmt.Errorf("encoding body: %w", err)
		}
		req.Body = encoded
		if !hasHeader(req.Headers, "Content-Type") {
			req.Headers["Content-Type"] = "application/json"
		}
	default:
		return nil, fmt.Errorf("unsupported body type %T", body)
	}
	return req, nil
}

func (s *WebhookSender) Send(ctx context.Context, payload Payload) DeliveryResult {
	r, ok := payload.(*HTTPRequest)
	if !ok {
		return failedResult(models.ChannelHTTP, "http channel got %T payload", payload)
	}

	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, r.Method, r.URL, bytes.NewReader(r.Body))
	if err != nil {
		return failedResult(models.ChannelHTTP, "creating request: %v", err)
	}
	for k, v := range r.Headers {
		request.Header.Set(k, v)
	}

	client := s.client
	if !r.VerifySSL {
		client = s.insecureClient
	}

	s.logger.Debug("sending http notification", "method", r.Method, "url", r.URL)
	response, err := client.Do(request)
	if err != nil {
		return failedResult(models.ChannelHTTP, "request failed: %v", err)
	}
	defer response.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(response.Body, maxResponseDetail))
	result := DeliveryResult{
		Channel:    models.ChannelHTTP,
		StatusCode: response.StatusCode,
		Response:   strings.TrimSpace(string(body)),
		Success:    response.StatusCode >= http.StatusOK && response.StatusCode < http.StatusMultipleChoices,
	}
	if result.Success {
		result.Message = "http notification sent"
	} else {
		result.Message = fmt.Sprintf("http request failed: status %d", response.StatusCode)
	}
	return result
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

// marshalJSON encodes v without escaping HTML characters.
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
