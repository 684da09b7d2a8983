// explainer turns a topic into an animated explainer video from the command
// line. It prints a JSON report per request and exits 0 when every request
// reached DONE, 2 when any run failed, 1 on usage or setup errors.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/neurobridge-explainer/internal/app"
	"github.com/yungbote/neurobridge-explainer/internal/config"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/content"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/pipeline"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/render"
)

const (
	exitFailed = 2
	exitSetup  = 1
)

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) ExitCode() int { return e.code }

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		code := exitSetup
		var ee *exitError
		if errors.As(err, &ee) {
			code = ee.code
		}
		if ee == nil || ee.err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(code)
	}
}

type report struct {
	RunID    string            `json:"run_id"`
	Topic    string            `json:"topic"`
	State    pipeline.State    `json:"state"`
	Render   *render.Result    `json:"render,omitempty"`
	Failure  *pipeline.Failure `json:"failure,omitempty"`
	Attempts int               `json:"attempts"`
}

func run(args []string, stdout io.Writer) error {
	var (
		topic, level, domain string
		batchPath, cfgPath   string
		offline, dryRun      bool
		concurrency          int
	)
	fs := pflag.NewFlagSet("explainer", pflag.ContinueOnError)
	fs.StringVar(&topic, "topic", "", "topic to explain")
	fs.StringVar(&domain, "domain", "", "subject domain (physics, chemistry, biology, earth-science, mathematics, computer-science)")
	fs.StringVar(&level, "level", string(content.LevelIntroductory), "audience level (introductory, intermediate, advanced)")
	fs.StringVar(&batchPath, "batch", "", "YAML file with a list of {topic, level, domain} requests")
	fs.StringVar(&cfgPath, "config", "", "config file (default: $EXPLAINER_CONFIG_PATH or ./config/explainer.yaml)")
	fs.BoolVar(&offline, "offline", false, "use the built-in deterministic model instead of the LLM endpoint")
	fs.BoolVar(&dryRun, "dry-run", false, "skip the render engine; report the video that would be produced")
	fs.IntVar(&concurrency, "concurrency", 2, "batch runs executed at once")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	var reqs []content.TopicRequest
	switch {
	case batchPath != "" && topic != "":
		return errors.New("--topic and --batch are mutually exclusive")
	case batchPath != "":
		b, err := readBatch(batchPath)
		if err != nil {
			return err
		}
		reqs = b
	case topic != "":
		req, err := parseRequest(topic, level, domain)
		if err != nil {
			return err
		}
		reqs = []content.TopicRequest{req}
	default:
		return errors.New("--topic or --batch required")
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	if offline {
		cfg.LLM.Mode = "stub"
	}
	log, err := app.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := app.NewPipeline(ctx, log, cfg, app.PipelineOptions{DryRun: dryRun})
	if err != nil {
		return err
	}

	reports := make([]report, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for i, req := range reqs {
		g.Go(func() error {
			res := p.Orchestrator("", nil).Run(gctx, req)
			reports[i] = report{
				RunID:    res.RunID,
				Topic:    req.Topic,
				State:    res.State,
				Render:   res.Render,
				Failure:  res.Failure,
				Attempts: len(res.Attempts),
			}
			return nil
		})
	}
	_ = g.Wait()

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	var out any = reports
	if batchPath == "" {
		out = reports[0]
	}
	if err := enc.Encode(out); err != nil {
		return err
	}
	for _, r := range reports {
		if r.State != pipeline.StateDone {
			return &exitError{code: exitFailed}
		}
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
