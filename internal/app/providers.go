package app

import (
	"context"
	"fmt"

	"github.com/yungbote/neurobridge-explainer/internal/config"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/events"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/llm"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/offline"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/publish"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/store"
	"github.com/yungbote/neurobridge-explainer/internal/platform/logger"
)

type BootstrapErrorCode string

const (
	BootstrapErrorInvalidMode   BootstrapErrorCode = "invalid_mode"
	BootstrapErrorConnectFailed BootstrapErrorCode = "connect_failed"
)

// BootstrapError reports a provider that could not be constructed at
// startup.
type BootstrapError struct {
	Provider string
	Code     BootstrapErrorCode
	Mode     string
	Cause    error
}

func (e *BootstrapError) Error() string {
	if e == nil {
		return "provider bootstrap failed"
	}
	return fmt.Sprintf("%s bootstrap failed (code=%s mode=%q): %v", e.Provider, e.Code, e.Mode, e.Cause)
}

func (e *BootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

var newHTTPClient = func(log *logger.Logger, cfg config.LLMConfig) (llm.Service, error) {
	return llm.NewHTTPClient(log, cfg)
}

func resolveLLM(log *logger.Logger, cfg config.LLMConfig) (llm.Service, error) {
	switch cfg.Mode {
	case "stub":
		log.Info("Selecting language model provider", "mode", cfg.Mode)
		return offline.New(), nil
	case "http":
		log.Info("Selecting language model provider", "mode", cfg.Mode, "base_url", cfg.BaseURL, "model", cfg.Model)
		svc, err := newHTTPClient(log, cfg)
		if err != nil {
			return nil, &BootstrapError{Provider: "llm", Code: BootstrapErrorConnectFailed, Mode: cfg.Mode, Cause: err}
		}
		return svc, nil
	default:
		return nil, &BootstrapError{Provider: "llm", Code: BootstrapErrorInvalidMode, Mode: cfg.Mode, Cause: fmt.Errorf("unsupported llm mode %q", cfg.Mode)}
	}
}

func resolveStore(log *logger.Logger, cfg config.StoreConfig) (store.Store, error) {
	log.Info("Selecting run store", "driver", cfg.Driver)
	st, err := store.Open(log, cfg)
	if err != nil {
		return nil, &BootstrapError{Provider: "store", Code: BootstrapErrorConnectFailed, Mode: cfg.Driver, Cause: err}
	}
	return st, nil
}

// resolveBus returns the redis bus when an address is configured, otherwise
// an in-process bus.
func resolveBus(ctx context.Context, log *logger.Logger, cfg config.EventsConfig) (events.Bus, error) {
	if cfg.RedisAddr == "" {
		log.Info("Selecting event bus", "mode", "memory")
		return events.NewMemory(), nil
	}
	log.Info("Selecting event bus", "mode", "redis", "addr", cfg.RedisAddr, "channel", cfg.Channel)
	bus, err := events.NewRedis(ctx, log, cfg)
	if err != nil {
		return nil, &BootstrapError{Provider: "events", Code: BootstrapErrorConnectFailed, Mode: "redis", Cause: err}
	}
	return bus, nil
}

// resolvePublisher returns nil when no bucket is configured.
func resolvePublisher(ctx context.Context, log *logger.Logger, cfg config.PublishConfig) (*publish.GCS, error) {
	if cfg.GCSBucket == "" {
		return nil, nil
	}
	p, err := publish.NewGCS(ctx, log, cfg)
	if err != nil {
		return nil, &BootstrapError{Provider: "publish", Code: BootstrapErrorConnectFailed, Mode: "gcs", Cause: err}
	}
	return p, nil
}
