package bootstrap

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jobmill/jobmill/config"
)

func TestBuildAdminAuthNone(t *testing.T) {
	mw, err := BuildAdminAuth(context.Background(), config.AuthConfig{Mode: config.AuthModeNone}, slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mw != nil {
		t.Fatal("expected nil middleware for AUTH_MODE=none")
	}
}

func TestBuildAdminAuthMock(t *testing.T) {
	mw, err := BuildAdminAuth(context.Background(), config.AuthConfig{Mode: config.AuthModeMock}, slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mw == nil {
		t.Fatal("expected middleware for AUTH_MODE=mock")
	}

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	// Missing bearer token is rejected even in mock mode.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer token, got %d", rec.Code)
	}

	// Any non-empty token passes in mock mode.
	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected mock token to pass, got %d", rec.Code)
	}
}

func TestBuildAdminAuthUnknownMode(t *testing.T) {
	if _, err := BuildAdminAuth(context.Background(), config.AuthConfig{Mode: "saml"}, slog.Default()); err == nil {
		t.Fatal("expected error for unknown auth mode")
	}
}
