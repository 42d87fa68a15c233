package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"
)

// TestNew tests timeout defaults.
func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		want    time.Duration
	}{
		{name: "default timeout", timeout: 0, want: DefaultCheckTimeout},
		{name: "negative timeout", timeout: -time.Second, want: DefaultCheckTimeout},
		{name: "custom timeout", timeout: 10 * time.Second, want: 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := New(tt.timeout).checkTimeout; got != tt.want {
				t.Errorf("checkTimeout = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestChecker_Register tests registering and removing checks.
func TestChecker_Register(t *testing.T) {
	c := New(time.Second)
	ok := func(context.Context) error { return nil }

	c.RegisterCheck("idempotency_store", ok)
	c.RegisterCheck("action_log", ok)
	c.RegisterCheck("action_log", ok)

	if got, want := c.Checks(), []string{"action_log", "idempotency_store"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Checks() = %v, want %v", got, want)
	}

	c.UnregisterCheck("action_log")
	if got := c.Checks(); len(got) != 1 {
		t.Errorf("Checks() after unregister = %v", got)
	}
}

// TestChecker_Readiness tests aggregation of component checks.
func TestChecker_Readiness(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]CheckFunc
		wantStatus string
		wantFailed []string
	}{
		{
			name:       "no checks",
			checks:     nil,
			wantStatus: StatusReady,
		},
		{
			name: "all healthy",
			checks: map[string]CheckFunc{
				"a": func(context.Context) error { return nil },
				"b": func(context.Context) error { return nil },
			},
			wantStatus: StatusReady,
		},
		{
			name: "one failing",
			checks: map[string]CheckFunc{
				"a": func(context.Context) error { return nil },
				"b": func(context.Context) error { return errors.New("store closed") },
			},
			wantStatus: StatusDegraded,
			wantFailed: []string{"b"},
		},
		{
			name: "timeout",
			checks: map[string]CheckFunc{
				"slow": func(ctx context.Context) error {
					<-ctx.Done()
					time.Sleep(10 * time.Millisecond)
					return nil
				},
			},
			wantStatus: StatusDegraded,
			wantFailed: []string{"slow"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(50 * time.Millisecond)
			for name, check := range tt.checks {
				c.RegisterCheck(name, check)
			}

			report := c.Readiness(context.Background())
			if report.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", report.Status, tt.wantStatus)
			}
			if len(report.Checks) != len(tt.checks) {
				t.Errorf("len(Checks) = %d, want %d", len(report.Checks), len(tt.checks))
			}
			for _, name := range tt.wantFailed {
				if report.Checks[name].Status != StatusUnhealthy {
					t.Errorf("check %q status = %q, want unhealthy", name, report.Checks[name].Status)
				}
				if report.Checks[name].Message == "" {
					t.Errorf("check %q has no message", name)
				}
			}
		})
	}
}

// TestHandlers tests the HTTP probes.
func TestHandlers(t *testing.T) {
	failing := New(time.Second)
	failing.RegisterCheck("idempotency_store", func(context.Context) error { return errors.New("down") })

	tests := []struct {
		name     string
		handler  http.Handler
		method   string
		wantCode int
		wantKey  string
	}{
		{name: "liveness", handler: failing.LivenessHandler(), method: http.MethodGet, wantCode: http.StatusOK, wantKey: "status"},
		{name: "readiness degraded", handler: failing.ReadinessHandler(), method: http.MethodGet, wantCode: http.StatusServiceUnavailable, wantKey: "checks"},
		{name: "readiness ok", handler: New(time.Second).ReadinessHandler(), method: http.MethodGet, wantCode: http.StatusOK, wantKey: "status"},
		{name: "version", handler: VersionHandler(NewVersionInfo("1.2.0", "abc123", "2026-01-01")), method: http.MethodGet, wantCode: http.StatusOK, wantKey: "go_version"},
		{name: "head has no body", handler: failing.LivenessHandler(), method: http.MethodHead, wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.handler.ServeHTTP(rec, httptest.NewRequest(tt.method, "/", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			if tt.wantKey == "" {
				if rec.Body.Len() != 0 {
					t.Errorf("HEAD wrote body %q", rec.Body.String())
				}
				return
			}
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if _, ok := body[tt.wantKey]; !ok {
				t.Errorf("body %v missing %q", body, tt.wantKey)
			}
		})
	}
}
