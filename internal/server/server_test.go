package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/Paul-frank/bluegreen-todo-api/internal/config"
	"github.com/Paul-frank/bluegreen-todo-api/internal/database"
	todohandlers "github.com/Paul-frank/bluegreen-todo-api/internal/handlers"
	"github.com/Paul-frank/bluegreen-todo-api/internal/logging"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	store, err := database.NewSQLiteStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close(context.Background()) })

	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.AppVersion = "green"
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, store, logging.Discard())
}

func serve(h http.Handler, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, func(c *config.Config) {
		c.RateLimitMax = 2
		c.RateLimitWindow = time.Minute
	})
	h := srv.Handler()

	for i, wantRemaining := range []string{"1", "0"} {
		rec := serve(h, http.MethodGet, "/todos", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
		if got := rec.Header().Get("RateLimit-Limit"); got != "2" {
			t.Errorf("request %d: RateLimit-Limit = %q", i, got)
		}
		if got := rec.Header().Get("RateLimit-Remaining"); got != wantRemaining {
			t.Errorf("request %d: RateLimit-Remaining = %q, want %q", i, got, wantRemaining)
		}
	}

	rec := serve(h, http.MethodGet, "/todos", "", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %s", rec.Code, rec.Body.String())
	}
	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	if err != nil || retryAfter < 1 || retryAfter > 60 {
		t.Errorf("unexpected Retry-After %q", rec.Header().Get("Retry-After"))
	}

	var body RateLimitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode 429 body: %v", err)
	}
	if body.Success || body.Error != "Too many requests" || body.Message == "" {
		t.Errorf("unexpected 429 body: %+v", body)
	}
	if !body.RetryAfter.After(time.Now().Add(-time.Second)) {
		t.Errorf("retryAfter %v is in the past", body.RetryAfter)
	}

	t.Run("health is exempt", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			rec := serve(h, http.MethodGet, "/health", "", nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("health %d: expected 200, got %d", i, rec.Code)
			}
			if rec.Header().Get("RateLimit-Limit") != "" {
				t.Errorf("health %d: counted against the limit", i)
			}
		}
	})

	t.Run("other clients have their own budget", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/todos", nil)
		req.RemoteAddr = "198.51.100.7:4242"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200 for a fresh client, got %d", rec.Code)
		}
	})
}

func TestRateLimitTrustProxy(t *testing.T) {
	srv := newTestServer(t, func(c *config.Config) {
		c.RateLimitMax = 1
		c.TrustProxy = true
	})
	h := srv.Handler()

	for i := 0; i < 3; i++ {
		header := http.Header{"X-Forwarded-For": {fmt.Sprintf("203.0.113.%d", i+1)}}
		if rec := serve(h, http.MethodGet, "/todos", "", header); rec.Code != http.StatusOK {
			t.Fatalf("client %d: expected 200, got %d", i, rec.Code)
		}
	}

	header := http.Header{"X-Forwarded-For": {"203.0.113.1"}}
	if rec := serve(h, http.MethodGet, "/todos", "", header); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for a repeat client, got %d", rec.Code)
	}
}

func TestRateLimitTrustProxyIgnoresBadAddress(t *testing.T) {
	srv := newTestServer(t, func(c *config.Config) {
		c.RateLimitMax = 1
		c.TrustProxy = true
	})
	h := srv.Handler()

	get := func(remote, forwarded string) int {
		req := httptest.NewRequest(http.MethodGet, "/todos", nil)
		req.RemoteAddr = remote
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := get("198.51.100.1:5000", "unknown"); code != http.StatusOK {
		t.Fatalf("first client: expected 200, got %d", code)
	}
	if code := get("198.51.100.2:5000", "not-an-ip"); code != http.StatusOK {
		t.Fatalf("second client shares a bucket with the first: got %d", code)
	}
	if code := get("198.51.100.1:6000", "garbage"); code != http.StatusTooManyRequests {
		t.Fatalf("repeat socket address: expected 429, got %d", code)
	}
}

func TestIsIP(t *testing.T) {
	tests := map[string]bool{
		"203.0.113.7":       true,
		"203.0.113.7:8080":  true,
		"2001:db8::1":       true,
		"[2001:db8::1]:443": true,
		"unknown":           false,
		"[2001:db8::1]":     false,
		"":                  false,
	}
	for addr, want := range tests {
		if got := isIP(addr); got != want {
			t.Errorf("isIP(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	h := newTestServer(t, nil).Handler()
	rec := serve(h, http.MethodGet, "/health", "", nil)

	want := map[string]string{
		"X-Frame-Options":         "DENY",
		"X-Content-Type-Options":  "nosniff",
		"X-Xss-Protection":        "1; mode=block",
		"Referrer-Policy":         "no-referrer",
		"Content-Security-Policy": "default-src 'self'",
	}
	got := map[string]string{}
	for k := range want {
		got[k] = rec.Header().Get(k)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("security headers mismatch (-want +got):\n%s", diff)
	}
}

func TestCORS(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	t.Run("simple request", func(t *testing.T) {
		rec := serve(h, http.MethodGet, "/todos", "", http.Header{"Origin": {"https://example.com"}})
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
		}
	})

	t.Run("preflight", func(t *testing.T) {
		rec := serve(h, http.MethodOptions, "/todos", "", http.Header{
			"Origin":                        {"https://example.com"},
			"Access-Control-Request-Method": {http.MethodPost},
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, http.MethodPost) {
			t.Errorf("Access-Control-Allow-Methods = %q", got)
		}
	})
}

func TestRequestID(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	rec := serve(h, http.MethodGet, "/health", "", http.Header{RequestIDHeader: {"abc-123"}})
	if got := rec.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("expected echoed request id, got %q", got)
	}

	rec = serve(h, http.MethodGet, "/health", "", nil)
	if _, err := uuid.Parse(rec.Header().Get(RequestIDHeader)); err != nil {
		t.Errorf("expected a generated uuid, got %q", rec.Header().Get(RequestIDHeader))
	}
}

func TestBodyLimit(t *testing.T) {
	h := newTestServer(t, func(c *config.Config) { c.BodyLimit = 64 }).Handler()

	rec := serve(h, http.MethodPost, "/todos", `{"title":"`+strings.Repeat("x", 128)+`"}`, nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = serve(h, http.MethodPost, "/todos", `{"title":"short"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRecovery(t *testing.T) {
	logger := logging.Discard()
	h := chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), recovery(logger), requestLog(logger))

	rec := serve(h, http.MethodGet, "/", "", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body todohandlers.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	want := todohandlers.ErrorResponse{Success: false, Message: "Internal server error"}
	if diff := cmp.Diff(want, body); diff != "" {
		t.Errorf("envelope mismatch (-want +got):\n%s", diff)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), mark("a"), mark("b"), mark("c"))

	serve(h, http.MethodGet, "/", "", nil)
	if diff := cmp.Diff([]string{"a", "b", "c", "handler"}, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestServeAndShutdown(t *testing.T) {
	srv := newTestServer(t, func(c *config.Config) { c.ShutdownTimeout = 2 * time.Second })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		cancel()
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestSecondsUntil(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		t    time.Time
		want int64
	}{
		{now.Add(-time.Second), 0},
		{now, 0},
		{now.Add(1500 * time.Millisecond), 2},
		{now.Add(15 * time.Minute), 900},
	}
	for _, tt := range tests {
		if got := secondsUntil(now, tt.t); got != tt.want {
			t.Errorf("secondsUntil(%v) = %d, want %d", tt.t.Sub(now), got, tt.want)
		}
	}
}
