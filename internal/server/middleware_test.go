package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alfredjeanlab/flowcanvas/internal/auth"
)

func TestRecoveryMiddleware(t *testing.T) {
	h := requestIDMiddleware(recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Message != "internal server error" || body.Success {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "req-123" || rec.Header().Get(requestIDHeader) != "req-123" {
		t.Fatalf("expected caller id to propagate, got ctx=%q header=%q", seen, rec.Header().Get(requestIDHeader))
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, strings.Repeat("x", 200))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if len(seen) != 36 {
		t.Fatalf("expected a generated uuid for an oversized id, got %q", seen)
	}
}

func TestCORSMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	h := corsMiddleware([]string{"https://app.example.com"}, next)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/chatflows", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatal("expected allowed origin to be echoed")
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatal("expected credentials to be allowed")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/chatflows", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected request to pass through, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("expected no CORS headers for a foreign origin")
	}

	if got := corsMiddleware(nil, next); got == nil {
		t.Fatal("expected passthrough handler")
	}
}

func TestAuthMiddleware(t *testing.T) {
	a, err := auth.New(auth.Config{Mode: auth.ModeToken, Token: "s3cret"})
	if err != nil {
		t.Fatal(err)
	}
	var got auth.Principal
	h := authMiddleware(a, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.FromContext(r.Context())
	}))

	tests := []struct {
		name       string
		method     string
		path       string
		token      string
		wantStatus int
		wantKind   string
	}{
		{"ping exempt", http.MethodGet, "/api/v1/ping", "", http.StatusOK, ""},
		{"login exempt", http.MethodPost, "/api/v1/auth/login", "", http.StatusOK, ""},
		{"missing token", http.MethodGet, "/api/v1/chatflows", "", http.StatusUnauthorized, ""},
		{"wrong token", http.MethodGet, "/api/v1/chatflows", "nope", http.StatusUnauthorized, ""},
		{"valid token", http.MethodGet, "/api/v1/chatflows", "s3cret", http.StatusOK, "service"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got = nil
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantKind != "" && (got == nil || got.Kind() != tt.wantKind) {
				t.Fatalf("expected %s principal, got %v", tt.wantKind, got)
			}
		})
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	var got auth.Principal
	h := authMiddleware(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.FromContext(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/chatflows", nil))
	if got != auth.Anonymous {
		t.Fatalf("expected anonymous principal, got %v", got)
	}
}
