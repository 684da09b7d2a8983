package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	httpH "github.com/yungbote/neurobridge-explainer/internal/http/handlers"
	httpMW "github.com/yungbote/neurobridge-explainer/internal/http/middleware"
)

func TestRouterProtectsAPIButNotHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(RouterConfig{
		AuthMiddleware:   httpMW.NewAuthMiddleware(nil, "secret"),
		ExplainerHandler: httpH.NewExplainerHandler(nil, nil),
		HealthHandler:    httpH.NewHealthHandler(),
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status=%d", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" || rec.Header().Get("X-Trace-Id") == "" {
		t.Fatalf("trace headers missing: %v", rec.Header())
	}

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/v1/explainers"},
		{http.MethodGet, "/v1/explainers"},
		{http.MethodGet, "/v1/explainers/x"},
		{http.MethodPost, "/v1/explainers/x/cancel"},
		{http.MethodGet, "/v1/explainers/x/events"},
	} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s status=%d", tc.method, tc.path, rec.Code)
		}
	}
}

func TestRouterKeepsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(RouterConfig{HealthHandler: httpH.NewHealthHandler()})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "req-42")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got != "req-42" {
		t.Fatalf("request id=%q", got)
	}
}
