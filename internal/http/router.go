package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/neurobridge-explainer/internal/http/handlers"
	httpMW "github.com/yungbote/neurobridge-explainer/internal/http/middleware"
	"github.com/yungbote/neurobridge-explainer/internal/platform/logger"
)

type RouterConfig struct {
	Log             *logger.Logger
	ServiceName     string
	CORSOrigins     []string
	MaxRequestBytes int64

	AuthMiddleware   *httpMW.AuthMiddleware
	ExplainerHandler *httpH.ExplainerHandler
	HealthHandler    *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS(cfg.CORSOrigins))
	r.Use(httpMW.LimitBody(cfg.MaxRequestBytes))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}

	v1 := r.Group("/v1")
	if cfg.AuthMiddleware != nil {
		v1.Use(cfg.AuthMiddleware.RequireAuth())
	}
	if cfg.ExplainerHandler != nil {
		v1.POST("/explainers", cfg.ExplainerHandler.Create)
		v1.GET("/explainers", cfg.ExplainerHandler.List)
		v1.GET("/explainers/:id", cfg.ExplainerHandler.Get)
		v1.POST("/explainers/:id/cancel", cfg.ExplainerHandler.Cancel)
		v1.GET("/explainers/:id/events", cfg.ExplainerHandler.Events)
	}

	return r
}
