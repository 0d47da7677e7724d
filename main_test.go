package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/olgasafonova/sefaria-mcp-server/internal/app"
	"github.com/olgasafonova/sefaria-mcp-server/internal/config"
)

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(10, time.Minute)
	defer rl.Close()

	if rl == nil {
		t.Fatal("NewRateLimiter returned nil")
	}
	if rl.rate != 10 {
		t.Errorf("rate = %d, want 10", rl.rate)
	}
	if rl.interval != time.Minute {
		t.Errorf("interval = %v, want %v", rl.interval, time.Minute)
	}
	if rl.stopCh == nil {
		t.Error("stopCh should be initialized")
	}
}

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(3, time.Second)
	defer rl.Close()

	ip := "192.168.1.1"

	// First 3 requests should be allowed
	for i := 0; i < 3; i++ {
		if !rl.Allow(ip) {
			t.Errorf("Request %d should be allowed", i+1)
		}
	}

	// 4th request should be denied
	if rl.Allow(ip) {
		t.Error("4th request should be denied")
	}
}

func TestRateLimiterMultipleIPs(t *testing.T) {
	rl := NewRateLimiter(2, time.Second)
	defer rl.Close()

	ip1 := "192.168.1.1"
	ip2 := "192.168.1.2"

	// Each IP should have its own bucket
	for i := 0; i < 2; i++ {
		if !rl.Allow(ip1) {
			t.Errorf("Request %d for ip1 should be allowed", i+1)
		}
		if !rl.Allow(ip2) {
			t.Errorf("Request %d for ip2 should be allowed", i+1)
		}
	}

	// Both should now be rate limited
	if rl.Allow(ip1) {
		t.Error("ip1 should be rate limited")
	}
	if rl.Allow(ip2) {
		t.Error("ip2 should be rate limited")
	}
}

func TestRateLimiterClose(t *testing.T) {
	rl := NewRateLimiter(10, time.Minute)

	// Close should not panic
	rl.Close()

	// Multiple closes should be safe
	rl.Close()
	rl.Close()
}

func TestRateLimiterRefill(t *testing.T) {
	rl := NewRateLimiter(1, 10*time.Millisecond)
	defer rl.Close()

	ip := "192.168.1.1"

	// First request allowed
	if !rl.Allow(ip) {
		t.Error("First request should be allowed")
	}

	// Immediate second should be denied
	if rl.Allow(ip) {
		t.Error("Immediate second request should be denied")
	}

	// Wait for refill
	time.Sleep(15 * time.Millisecond)

	// Should be allowed again
	if !rl.Allow(ip) {
		t.Error("Request after refill should be allowed")
	}
}

func TestRecoverPanic(t *testing.T) {
	// This test verifies recoverPanic properly catches panics
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	// Simulate panic recovery
	func() {
		defer recoverPanic(logger, "test operation")
		panic("test panic")
	}()

	// If we get here, the panic was recovered
}

// Mock handler for testing
type mockHandler struct {
	called bool
}

func (m *mockHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.called = true
	w.WriteHeader(http.StatusOK)
}

func TestSecurityMiddlewareBasic(t *testing.T) {
	// Test basic middleware functionality
	handler := &mockHandler{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	config := SecurityConfig{
		MaxBodySize: 1000,
	}

	sm := NewSecurityMiddleware(handler, logger, config)

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	w := httptest.NewRecorder()

	sm.ServeHTTP(w, req)

	if !handler.called {
		t.Error("Handler should have been called")
	}
}

func TestSecurityMiddlewareWithRateLimit(t *testing.T) {
	handler := &mockHandler{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	config := SecurityConfig{
		RateLimit:   2, // 2 requests per minute
		MaxBodySize: 1000,
	}

	sm := NewSecurityMiddleware(handler, logger, config)
	defer sm.Close()

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.168.1.1:12345"

	// First two requests should succeed
	for i := 0; i < 2; i++ {
		handler.called = false
		w := httptest.NewRecorder()
		sm.ServeHTTP(w, req)
		if !handler.called {
			t.Errorf("Request %d should have been allowed", i+1)
		}
	}

	// Third request should be rate limited
	handler.called = false
	w := httptest.NewRecorder()
	sm.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header on 429")
	}
}

func TestSecurityMiddlewareBodyTooLarge(t *testing.T) {
	handler := &mockHandler{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	sm := NewSecurityMiddleware(handler, logger, SecurityConfig{MaxBodySize: 16})
	defer sm.Close()

	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"jsonrpc":"2.0","method":"tools/list"}`))
	req.RemoteAddr = "192.168.1.1:12345"
	w := httptest.NewRecorder()
	sm.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected status 413, got %d", w.Code)
	}
	if handler.called {
		t.Error("Handler should not be called for oversized bodies")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		trustProxy bool
		want       string
	}{
		{"remote addr", "10.0.0.1:5555", "", false, "10.0.0.1"},
		{"ignores xff when untrusted", "10.0.0.1:5555", "203.0.113.9", false, "10.0.0.1"},
		{"first xff hop when trusted", "10.0.0.1:5555", "203.0.113.9, 10.0.0.2", true, "203.0.113.9"},
		{"empty xff falls back", "10.0.0.1:5555", " ", true, "10.0.0.1"},
		{"no port", "10.0.0.1", "", false, "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := clientIP(req, tt.trustProxy); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMetricsMux(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	a, err := app.New(config.Default(), logger)
	if err != nil {
		t.Fatalf("app.New() error = %v", err)
	}
	defer a.Close()
	mux := metricsMux(a)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("/healthz status = %d, want 200", w.Code)
	}
	var h app.Health
	if err := json.Unmarshal(w.Body.Bytes(), &h); err != nil {
		t.Fatalf("decode /healthz: %v", err)
	}
	if h.Status != "ok" || h.IndexEntries == 0 {
		t.Errorf("health = %+v, want ok with seeded catalogue", h)
	}
	if h.Upstream.State != "closed" {
		t.Errorf("upstream state = %q, want closed", h.Upstream.State)
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "sefaria_mcp_") {
		t.Error("/metrics should expose the server's collectors")
	}
}

func TestNewRootCmdFlags(t *testing.T) {
	cmd := newRootCmd()
	for _, name := range []string{"http", "metrics", "env-file", "rate-limit", "trust-proxy", "verbose"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("flag --%s not defined", name)
		}
	}
	if cmd.Version != app.ServerVersion {
		t.Errorf("Version = %q, want %q", cmd.Version, app.ServerVersion)
	}
}
