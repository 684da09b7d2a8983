package middleware

import (
	"encoding/hex"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/neurobridge-explainer/internal/platform/ctxutil"
)

const (
	headerTraceID   = "X-Trace-Id"
	headerRequestID = "X-Request-Id"
	headerRunID     = "X-Run-Id"

	maxRequestIDLen = 128
)

// AttachTraceContext puts trace, request and run identifiers on the request
// context and echoes them as response headers. The run id comes from the
// :id route parameter; Create fills it in once the run exists.
func AttachTraceContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := cleanRequestID(c.GetHeader(headerRequestID))
		if reqID == "" {
			reqID = uuid.New().String()
		}

		// an active span wins over whatever the client sent
		var traceID string
		span := trace.SpanFromContext(c.Request.Context())
		if sc := span.SpanContext(); sc.HasTraceID() {
			traceID = sc.TraceID().String()
		} else if id := strings.ToLower(strings.TrimSpace(c.GetHeader(headerTraceID))); validTraceID(id) {
			traceID = id
		} else {
			traceID = strings.ReplaceAll(uuid.New().String(), "-", "")
		}

		td := &ctxutil.TraceData{
			TraceID:   traceID,
			RequestID: reqID,
			RunID:     c.Param("id"),
		}
		c.Request = c.Request.WithContext(ctxutil.WithTraceData(c.Request.Context(), td))
		c.Set("trace_id", traceID)
		c.Set("request_id", reqID)
		c.Writer.Header().Set(headerTraceID, traceID)
		c.Writer.Header().Set(headerRequestID, reqID)
		if td.RunID != "" {
			c.Writer.Header().Set(headerRunID, td.RunID)
			span.SetAttributes(attribute.String("explainer.run_id", td.RunID))
		}
		c.Next()
	}
}

// BindRunID records the id of a run created while serving the request.
func BindRunID(c *gin.Context, runID string) {
	if td := ctxutil.GetTraceData(c.Request.Context()); td != nil {
		td.RunID = runID
	}
	trace.SpanFromContext(c.Request.Context()).SetAttributes(attribute.String("explainer.run_id", runID))
	c.Writer.Header().Set(headerRunID, runID)
}

// validTraceID accepts a W3C trace id: 32 lowercase hex digits, not all zero.
func validTraceID(id string) bool {
	if len(id) != 32 || strings.Trim(id, "0") == "" {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}

func cleanRequestID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > maxRequestIDLen {
		return ""
	}
	for _, r := range id {
		if r < 0x21 || r > 0x7e {
			return ""
		}
	}
	return id
}
