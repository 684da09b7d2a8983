package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neurobridge-explainer/internal/platform/ctxutil"
)

func traceRouter(seen *ctxutil.TraceData) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AttachTraceContext())
	r.GET("/v1/explainers/:id", func(c *gin.Context) {
		*seen = *ctxutil.GetTraceData(c.Request.Context())
		c.Status(http.StatusOK)
	})
	r.POST("/v1/explainers", func(c *gin.Context) {
		BindRunID(c, "run-created")
		*seen = *ctxutil.GetTraceData(c.Request.Context())
		c.Status(http.StatusAccepted)
	})
	return r
}

func TestAttachTraceContextRunID(t *testing.T) {
	var seen ctxutil.TraceData
	r := traceRouter(&seen)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/explainers/run-42", nil))
	if seen.RunID != "run-42" {
		t.Fatalf("run id=%q", seen.RunID)
	}
	if got := rec.Header().Get(headerRunID); got != "run-42" {
		t.Fatalf("%s=%q", headerRunID, got)
	}
	if seen.TraceID == "" || !validTraceID(seen.TraceID) {
		t.Fatalf("generated trace id %q is not a W3C trace id", seen.TraceID)
	}
	if seen.RequestID == "" || rec.Header().Get(headerRequestID) != seen.RequestID {
		t.Fatalf("request id=%q header=%q", seen.RequestID, rec.Header().Get(headerRequestID))
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/explainers", strings.NewReader("{}")))
	if seen.RunID != "run-created" || rec.Header().Get(headerRunID) != "run-created" {
		t.Fatalf("bound run id=%q header=%q", seen.RunID, rec.Header().Get(headerRunID))
	}
}

func TestAttachTraceContextClientHeaders(t *testing.T) {
	const valid = "4bf92f3577b34da6a3ce929d0e0e4736"
	tests := []struct {
		name      string
		traceID   string
		requestID string
		wantTrace string
		wantReq   string
	}{
		{name: "valid ids kept", traceID: valid, requestID: "req-1", wantTrace: valid, wantReq: "req-1"},
		{name: "upper-case trace id", traceID: strings.ToUpper(valid), wantTrace: valid},
		{name: "malformed trace id", traceID: "not-a-trace"},
		{name: "zero trace id", traceID: strings.Repeat("0", 32)},
		{name: "oversized request id", requestID: strings.Repeat("r", maxRequestIDLen+1)},
		{name: "control characters", requestID: "a\tb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen ctxutil.TraceData
			r := traceRouter(&seen)
			req := httptest.NewRequest(http.MethodGet, "/v1/explainers/x", nil)
			if tt.traceID != "" {
				req.Header.Set(headerTraceID, tt.traceID)
			}
			if tt.requestID != "" {
				req.Header.Set(headerRequestID, tt.requestID)
			}
			r.ServeHTTP(httptest.NewRecorder(), req)

			if tt.wantTrace != "" && seen.TraceID != tt.wantTrace {
				t.Fatalf("trace id=%q want %q", seen.TraceID, tt.wantTrace)
			}
			if tt.wantTrace == "" && (seen.TraceID == tt.traceID || !validTraceID(seen.TraceID)) {
				t.Fatalf("trace id=%q was not replaced", seen.TraceID)
			}
			if tt.wantReq != "" && seen.RequestID != tt.wantReq {
				t.Fatalf("request id=%q want %q", seen.RequestID, tt.wantReq)
			}
			if tt.wantReq == "" && (seen.RequestID == tt.requestID || seen.RequestID == "") {
				t.Fatalf("request id=%q was not replaced", seen.RequestID)
			}
		})
	}
}
