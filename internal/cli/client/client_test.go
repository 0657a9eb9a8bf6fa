package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantURL string
		wantErr bool
	}{
		{name: "valid", opts: Options{URL: "http://127.0.0.1:9095", Timeout: time.Second}, wantURL: "http://127.0.0.1:9095"},
		{name: "missing URL", opts: Options{}, wantErr: true},
		{name: "trailing slash", opts: Options{URL: "http://127.0.0.1:9095/"}, wantURL: "http://127.0.0.1:9095"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.opts)
			if tt.wantErr {
				if err == nil {
					t.Error("New() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() unexpected error: %v", err)
			}
			if client.baseURL != tt.wantURL {
				t.Errorf("New() baseURL = %q, want %q", client.baseURL, tt.wantURL)
			}
		})
	}
}

func TestNew_DefaultTimeout(t *testing.T) {
	client, err := New(Options{URL: "http://localhost"})
	if err != nil {
		t.Fatal(err)
	}
	if client.httpClient.Timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", client.httpClient.Timeout, DefaultTimeout)
	}
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	client, err := New(Options{URL: server.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func TestClient_DoJSON_UnwrapsData(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"data":   map[string]any{"id": 1, "name": "cpu"},
		})
	})

	var result struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	if err := client.DoJSON(context.Background(), RequestOptions{Method: http.MethodGet, Path: "/x"}, &result); err != nil {
		t.Fatalf("DoJSON() error = %v", err)
	}
	if result.ID != 1 || result.Name != "cpu" {
		t.Errorf("DoJSON() = %+v", result)
	}
}

func TestClient_DoJSON_Error(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
		wantType    string
	}{
		{
			name:        "envelope",
			status:      http.StatusConflict,
			body:        `{"status":"error","message":"evaluation pass already in progress","error_type":"conflict_error"}`,
			wantMessage: "evaluation pass already in progress",
			wantType:    "conflict_error",
		},
		{
			name:        "plain text",
			status:      http.StatusBadGateway,
			body:        "bad gateway\n",
			wantMessage: "bad gateway",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			err := client.DoJSON(context.Background(), RequestOptions{Method: http.MethodGet, Path: "/x"}, nil)
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("DoJSON() error type = %T, want *APIError", err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
			}
			if apiErr.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", apiErr.Message, tt.wantMessage)
			}
			if apiErr.ErrorType != tt.wantType {
				t.Errorf("ErrorType = %q, want %q", apiErr.ErrorType, tt.wantType)
			}
		})
	}
}

func TestClient_EngineStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/engine/status" || r.Method != http.MethodGet {
			t.Errorf("EngineStatus() request = %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"status":"success","data":{"running":true,"pass_active":false,"interval":"30s","last_report":{"id":"p1","ok":3}}}`))
	})

	st, err := client.EngineStatus(context.Background())
	if err != nil {
		t.Fatalf("EngineStatus() error = %v", err)
	}
	if !st.Running || st.Interval != "30s" {
		t.Errorf("EngineStatus() = %+v", st)
	}
	if st.LastReport == nil || st.LastReport.OK != 3 {
		t.Errorf("EngineStatus() last report = %+v", st.LastReport)
	}
}

func TestClient_RunPass(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/engine/run" || r.Method != http.MethodPost {
			t.Errorf("RunPass() request = %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"status":"success","data":{"id":"p2","notified":1,"results":[{"rule_id":4,"rule_name":"cpu","outcome":"notified","state":"alerting"}]}}`))
	})

	report, err := client.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if report.ID != "p2" || report.Notified != 1 || len(report.Results) != 1 {
		t.Errorf("RunPass() = %+v", report)
	}
	if report.Results[0].RuleName != "cpu" {
		t.Errorf("RunPass() result = %+v", report.Results[0])
	}
}

func TestClient_AcknowledgeRule(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/rules/7/acknowledge" {
			t.Errorf("AcknowledgeRule() path = %q", r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["by"] != "oncall" {
			t.Errorf("AcknowledgeRule() by = %q", body["by"])
		}
		w.Write([]byte(`{"status":"success","data":{"id":7,"name":"cpu","alert_state":"silenced"}}`))
	})

	rule, err := client.AcknowledgeRule(context.Background(), 7, "oncall")
	if err != nil {
		t.Fatalf("AcknowledgeRule() error = %v", err)
	}
	if rule.State != "silenced" {
		t.Errorf("AcknowledgeRule() state = %q", rule.State)
	}
}

func TestClient_ResolveRule(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["reason"] != "fixed" {
			t.Errorf("ResolveRule() reason = %q", body["reason"])
		}
		w.Write([]byte(`{"status":"success","data":{"id":7,"alert_state":"ok"}}`))
	})

	rule, err := client.ResolveRule(context.Background(), 7, "fixed")
	if err != nil {
		t.Fatalf("ResolveRule() error = %v", err)
	}
	if rule.State != "ok" {
		t.Errorf("ResolveRule() state = %q", rule.State)
	}
}

func TestClient_RuleHistory(t *testing.T) {
	tests := []struct {
		name      string
		limit     int
		wantQuery string
	}{
		{name: "server default", limit: 0, wantQuery: ""},
		{name: "explicit limit", limit: 5, wantQuery: "limit=5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.RawQuery != tt.wantQuery {
					t.Errorf("RuleHistory() query = %q, want %q", r.URL.RawQuery, tt.wantQuery)
				}
				w.Write([]byte(`{"status":"success","data":[{"id":1,"rule_id":3,"status":"triggered"},{"id":2,"rule_id":3,"status":"resolved"}]}`))
			})

			entries, err := client.RuleHistory(context.Background(), 3, tt.limit)
			if err != nil {
				t.Fatalf("RuleHistory() error = %v", err)
			}
			if len(entries) != 2 || entries[1].Status != "resolved" {
				t.Errorf("RuleHistory() = %+v", entries)
			}
		})
	}
}

func TestClient_Health(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"error","message":"store unavailable","error_type":"general_error"}`))
	})

	err := client.Health(context.Background())
	if err == nil || err.Error() != "general_error: store unavailable" {
		t.Errorf("Health() error = %v", err)
	}
}
