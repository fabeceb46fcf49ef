package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/beautycita/schedule-service/libs/httpx"
)

func TestCORSPolicyFromEnv(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com, https://admin.example.com")
	t.Setenv("CORS_ALLOW_CREDENTIALS", "true")
	t.Setenv("CORS_MAX_AGE_SECONDS", "120")

	policy := corsPolicyFromEnv()
	if len(policy.AllowedOrigins) != 2 || policy.AllowedOrigins[1] != "https://admin.example.com" {
		t.Fatalf("unexpected origins: %v", policy.AllowedOrigins)
	}
	if !policy.AllowCredentials {
		t.Fatal("expected credentials allowed")
	}
	if policy.MaxAge != 2*time.Minute {
		t.Fatalf("unexpected max age: %s", policy.MaxAge)
	}

	h := httpx.WithCORS(policy)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "http://example.com/api/v1/public/slots", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if got := rw.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("expected allowed origin echoed, got %q", got)
	}

	reqDenied := httptest.NewRequest(http.MethodGet, "http://example.com/api/v1/public/slots", nil)
	reqDenied.Header.Set("Origin", "https://evil.example.com")
	rwDenied := httptest.NewRecorder()
	h.ServeHTTP(rwDenied, reqDenied)
	if got := rwDenied.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unknown origin must get no CORS headers, got %q", got)
	}
}

func TestCORSPolicyFromEnv_DefaultIsNoOp(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", "")

	h := httpx.WithCORS(corsPolicyFromEnv())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "http://example.com/api/v1/public/slots", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK || rw.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("expected pass-through without CORS headers, got %d %q",
			rw.Code, rw.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestParseList(t *testing.T) {
	got := parseList(" GET, POST ,,OPTIONS ")
	want := []string{"GET", "POST", "OPTIONS"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if out := parseList(""); len(out) != 0 {
		t.Fatalf("empty input must yield nothing, got %v", out)
	}
}

func TestIsTruthy(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", " yes ", "on"} {
		if !isTruthy(v) {
			t.Fatalf("%q should be truthy", v)
		}
	}
	for _, v := range []string{"", "0", "false", "off", "nope"} {
		if isTruthy(v) {
			t.Fatalf("%q should not be truthy", v)
		}
	}
}
