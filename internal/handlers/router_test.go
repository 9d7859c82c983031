package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func TestNewRouterAllowsConfiguredOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := NewRouter(zap.NewNop(), []string{"https://app.example.com"}, MaxUploadSize)
	RegisterRoutes(router, &stubService{}, func(c *gin.Context) { c.Next() }, MaxUploadSize)

	req := httptest.NewRequest(http.MethodOptions, "/v1/predict", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("unexpected allow origin: %q", got)
	}
	if got := resp.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(strings.ToLower(got), "authorization") {
		t.Fatalf("expected Authorization in allowed headers, got %q", got)
	}
}

func TestNewRouterRejectsUnknownOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := NewRouter(zap.NewNop(), []string{"https://app.example.com"}, MaxUploadSize)
	RegisterRoutes(router, &stubService{}, func(c *gin.Context) { c.Next() }, MaxUploadSize)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status %d, got %d", http.StatusForbidden, resp.Code)
	}
}

func TestCORSConfigWildcard(t *testing.T) {
	cfg := corsConfig([]string{"https://a.example.com", "*"})
	if !cfg.AllowAllOrigins || len(cfg.AllowOrigins) != 0 {
		t.Fatalf("expected allow-all config, got %+v", cfg)
	}

	cfg = corsConfig(nil)
	if !cfg.AllowAllOrigins {
		t.Fatal("expected allow-all when no origins are configured")
	}
}

func TestNewRouterServesMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := NewRouter(zap.NewNop(), []string{"*"}, MaxUploadSize)
	RegisterRoutes(router, &stubService{}, func(c *gin.Context) { c.Next() }, MaxUploadSize)

	health := httptest.NewRecorder()
	router.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/health", nil))

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "hijaiyah_http_requests_total") {
		t.Fatal("expected request counter in metrics output")
	}
}

func TestNewRouterRecoversFromPanic(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := NewRouter(zap.NewNop(), []string{"*"}, MaxUploadSize)
	router.GET("/boom", func(*gin.Context) { panic("boom") })

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, resp.Code)
	}
}
