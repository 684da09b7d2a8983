package app

import (
	"github.com/yungbote/neurobridge-explainer/internal/config"
	"github.com/yungbote/neurobridge-explainer/internal/http"
	httpH "github.com/yungbote/neurobridge-explainer/internal/http/handlers"
	httpMW "github.com/yungbote/neurobridge-explainer/internal/http/middleware"
	"github.com/yungbote/neurobridge-explainer/internal/platform/logger"
)

type Middleware struct {
	Auth *httpMW.AuthMiddleware
}

type Handlers struct {
	Health    *httpH.HealthHandler
	Explainer *httpH.ExplainerHandler
}

func wireHandlers(log *logger.Logger, svc httpH.ExplainerService) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:    httpH.NewHealthHandler(),
		Explainer: httpH.NewExplainerHandler(log, svc),
	}
}

func wireMiddleware(log *logger.Logger, cfg config.HTTPConfig) Middleware {
	auth := httpMW.NewAuthMiddleware(log, cfg.JWTSecret)
	if !auth.Enabled() {
		log.Warn("jwt_secret not set; API is unauthenticated")
	}
	return Middleware{Auth: auth}
}

func routerConfig(log *logger.Logger, cfg *config.Config, handlers Handlers, middleware Middleware) http.RouterConfig {
	rc := http.RouterConfig{
		Log:              log,
		CORSOrigins:      cfg.HTTP.CORSOrigins,
		MaxRequestBytes:  cfg.HTTP.MaxRequestBytes,
		AuthMiddleware:   middleware.Auth,
		ExplainerHandler: handlers.Explainer,
		HealthHandler:    handlers.Health,
	}
	if cfg.OTel.Enabled {
		rc.ServiceName = cfg.OTel.ServiceName
	}
	return rc
}
