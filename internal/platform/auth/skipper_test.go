package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func pathContext(path string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath(path)
	return c
}

func TestAuthSkipper_PublicPaths(t *testing.T) {
	for _, p := range []string{"/health", "/health/db", "/ws", "/metrics"} {
		if !AuthSkipper(pathContext(p)) {
			t.Errorf("expected %s to be skipped", p)
		}
	}
}

func TestAuthSkipper_ProtectedPaths(t *testing.T) {
	for _, p := range []string{"/api/v1/bills", "/api/v1/patients", "/api/v1/session/logout"} {
		if AuthSkipper(pathContext(p)) {
			t.Errorf("expected %s to require auth", p)
		}
	}
}

func TestIsPublicPath(t *testing.T) {
	if !IsPublicPath("/health") {
		t.Error("expected /health to be public")
	}
	if IsPublicPath("/api/v1/bills/stats") {
		t.Error("expected /api/v1/bills/stats to be protected")
	}
}

func TestJWTMiddleware_SkipsPublicPaths(t *testing.T) {
	c := pathContext("/health")

	var handlerCalled bool
	handler := func(c echo.Context) error {
		handlerCalled = true
		return c.String(http.StatusOK, "ok")
	}

	cfg := JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper}
	if err := JWTMiddleware(cfg)(handler)(c); err != nil {
		t.Fatalf("expected no error for skipped path, got: %v", err)
	}
	if !handlerCalled {
		t.Error("expected handler to be called for skipped path")
	}
}

func TestJWTMiddleware_DoesNotSkipProtectedPaths(t *testing.T) {
	c := pathContext("/api/v1/bills")
	cfg := JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper}
	expectUnauthorized(t, JWTMiddleware(cfg)(okHandler)(c))
}
