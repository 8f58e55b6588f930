package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"clmhub.io/internal/obs"
)

func TestRateLimitPerClient(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequestID(RateLimit(base, 1, 1))

	req := httptest.NewRequest(http.MethodPost, "/functions/v1/sign-envelope", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req.Clone(context.Background()))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected first call 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req.Clone(context.Background()))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "1" {
		t.Fatalf("unexpected Retry-After: %q", rr.Header().Get("Retry-After"))
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode rate limit body: %v", err)
	}
	if body["error"] != "rate limit exceeded" || body["request_id"] != rr.Header().Get(requestIDHeader) {
		t.Fatalf("unexpected body: %v", body)
	}

	// another forwarded client has its own bucket
	other := req.Clone(context.Background())
	other.Header.Set("X-Forwarded-For", "198.51.100.5")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, other)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected a fresh bucket for another client, got %d", rr.Code)
	}
}

func TestLimiterSweepsIdleBuckets(t *testing.T) {
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	l := &limiter{
		buckets:   make(map[string]*bucket),
		burst:     1,
		perSecond: 1,
		ttl:       time.Minute,
		lastSweep: start,
	}

	if !l.allow("a", start) || l.allow("a", start) {
		t.Fatal("expected one request through and the next refused")
	}

	later := start.Add(2 * time.Minute)
	if !l.allow("b", later) {
		t.Fatal("expected b through")
	}
	if _, ok := l.buckets["a"]; ok {
		t.Fatal("idle bucket survived the sweep")
	}
	if len(l.buckets) != 1 || !l.lastSweep.Equal(later) {
		t.Fatalf("unexpected limiter state: %d buckets, swept at %v", len(l.buckets), l.lastSweep)
	}
}

func TestVersionedPreflight(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(http.MethodOptions, "/v1/companies", nil, map[string]string{
		"Origin":        "http://localhost:5173",
		requestIDHeader: "preflight-1",
	})
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()
	h := resp.Header
	if h.Get("Access-Control-Allow-Origin") != "http://localhost:5173" || h.Get("Vary") != "Origin" {
		t.Fatalf("local origin not echoed: %v", h)
	}
	if h.Get("Access-Control-Allow-Methods") != "GET,POST,PUT,PATCH,OPTIONS" {
		t.Fatalf("unexpected allow-methods: %q", h.Get("Access-Control-Allow-Methods"))
	}
	if h.Get(requestIDHeader) != "preflight-1" {
		t.Fatalf("request id not echoed: %q", h.Get(requestIDHeader))
	}
	if h.Get("X-Content-Type-Options") != "nosniff" || h.Get("X-Frame-Options") != "DENY" || h.Get("Referrer-Policy") != "no-referrer" {
		t.Fatalf("security headers missing: %v", h)
	}
	if !strings.Contains(h.Get("Content-Security-Policy"), "frame-ancestors 'none'") {
		t.Fatalf("unexpected CSP: %q", h.Get("Content-Security-Policy"))
	}

	resp = api.do(http.MethodOptions, "/v1/companies", nil, map[string]string{"Origin": "https://elsewhere.example"})
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("foreign origin allowed: %q", got)
	}
}

func TestBodyLimitAnswers413(t *testing.T) {
	api := newTestAPI(t)
	token := api.signUp("owner@example.com")
	oversized := `{"name":"` + strings.Repeat("a", jsonBodyLimit+1) + `"}`

	cases := []struct {
		path string
		want string
	}{
		{path: "/v1/companies", want: "http: request body too large"},
		{path: "/functions/v1/create-envelope", want: "request body too large"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, tc.path, strings.NewReader(oversized))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		api.handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("%s: expected 413, got %d: %s", tc.path, rr.Code, rr.Body.String())
		}
		var body map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: decode body: %v", tc.path, err)
		}
		if body["error"] != tc.want {
			t.Fatalf("%s: unexpected error %v", tc.path, body["error"])
		}
	}
}

func TestLoggingJSONEmitsStructuredEntry(t *testing.T) {
	logger := obs.Logger()
	origWriter := logger.Writer()
	logger.SetFlags(0)

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(origWriter)

	handler := RequestID(LoggingJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})))

	req := httptest.NewRequest(http.MethodPost, "/functions/v1/send-email", nil)
	req.Header.Set("User-Agent", "clm-web/1.0")
	req.Header.Set(requestIDHeader, "req-42")
	req.Header.Set("X-Forwarded-For", "203.0.113.9")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v (%q)", err, buf.String())
	}
	for _, key := range []string{"ts", "level", "msg", "duration_ms"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("expected key %q in log entry", key)
		}
	}
	want := map[string]any{
		"msg":        "request_complete",
		"request_id": "req-42",
		"method":     http.MethodPost,
		"path":       "/functions/v1/send-email",
		"status":     float64(http.StatusAccepted),
		"remote_ip":  "203.0.113.9",
		"user_agent": "clm-web/1.0",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Fatalf("%s: expected %v, got %v", k, v, entry[k])
		}
	}

	buf.Reset()
	long := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	long.Header.Set(requestIDHeader, strings.Repeat("x", 129))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, long)
	if rid := rr.Header().Get(requestIDHeader); len(rid) != 36 {
		t.Fatalf("expected a minted request id, got %q", rid)
	}
}
