// explainer-server serves the explainer HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/yungbote/neurobridge-explainer/internal/app"
	"github.com/yungbote/neurobridge-explainer/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfgPath, addr string
	fs := pflag.NewFlagSet("explainer-server", pflag.ExitOnError)
	fs.StringVar(&cfgPath, "config", "", "config file (default: $EXPLAINER_CONFIG_PATH or ./config/explainer.yaml)")
	fs.StringVar(&addr, "addr", "", "listen address (overrides http.addr)")
	_ = fs.Parse(os.Args[1:])

	var (
		cfg *config.Config
		err error
	)
	if cfgPath != "" {
		cfg, err = config.LoadFile(cfgPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.HTTP.Addr = addr
	}

	log, err := app.NewLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, log, cfg, app.PipelineOptions{})
	if err != nil {
		log.Error("startup failed", "error", err)
		log.Sync()
		return err
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		log.Error("server exited", "error", err)
		return err
	}
	log.Info("server stopped")
	return nil
}
