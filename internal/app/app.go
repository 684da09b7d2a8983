package app

import (
	"context"
	"fmt"

	"github.com/yungbote/neurobridge-explainer/internal/config"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/events"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/runner"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/store"
	"github.com/yungbote/neurobridge-explainer/internal/http"
	"github.com/yungbote/neurobridge-explainer/internal/observability"
	"github.com/yungbote/neurobridge-explainer/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	Cfg      *config.Config
	Pipeline *Pipeline
	Store    store.Store
	Bus      events.Bus
	Runner   *runner.Runner
	Server   *http.Server

	shutdownOTel func(context.Context) error
}

// NewLogger builds the process logger from cfg.Log.
func NewLogger(cfg *config.Config) (*logger.Logger, error) {
	log, err := logger.NewWithRedaction(cfg.Log.Mode, logger.Redaction{Enabled: cfg.Log.Redaction, HashSalt: cfg.Log.HashSalt})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return log, nil
}

// New wires the API server. Close releases everything New opened, including
// on error paths the caller never sees an App for.
func New(ctx context.Context, log *logger.Logger, cfg *config.Config, opts PipelineOptions) (a *App, err error) {
	a = &App{Log: log, Cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	a.shutdownOTel = observability.InitOTel(ctx, log, cfg.Env, cfg.OTel)

	if a.Pipeline, err = NewPipeline(ctx, log, cfg, opts); err != nil {
		return a, err
	}
	if a.Store, err = resolveStore(log, cfg.Store); err != nil {
		return a, err
	}
	if a.Bus, err = resolveBus(ctx, log, cfg.Events); err != nil {
		return a, err
	}
	a.Runner = runner.New(log, a.Store, a.Bus, a.Pipeline.Orchestrator, runner.Options{
		Workers: cfg.HTTP.MaxConcurrentRuns,
	})

	handlers := wireHandlers(log, a.Runner)
	middleware := wireMiddleware(log, cfg.HTTP)
	a.Server = http.NewServer(routerConfig(log, cfg, handlers, middleware), cfg.HTTP.ShutdownTimeout.Duration)
	return a, nil
}

// Run starts the workers and serves until ctx ends.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Runner.Start(ctx)
	defer a.Runner.Stop()
	return a.Server.Run(ctx, a.Cfg.HTTP.Addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Bus != nil {
		if err := a.Bus.Close(); err != nil {
			a.Log.Warn("event bus close failed", "error", err)
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Log.Warn("store close failed", "error", err)
		}
	}
	if a.shutdownOTel != nil {
		if err := a.shutdownOTel(context.Background()); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
