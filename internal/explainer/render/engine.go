package render

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/neurobridge-explainer/internal/config"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/failure"
	"github.com/yungbote/neurobridge-explainer/internal/platform/logger"
)

const sourceFile = "scene.py"

// Engine renders through the animation engine's command line.
type Engine struct {
	log       *logger.Logger
	cfg       config.RenderConfig
	outputDir string
	quality   Quality
	sandbox   *sandbox
	ffprobe   string
	tracer    trace.Tracer
}

func New(ctx context.Context, log *logger.Logger, cfg config.RenderConfig) (*Engine, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("component", "renderer")
	if len(cfg.EngineCommand) == 0 {
		return nil, fmt.Errorf("render: engine command required")
	}
	q, ok := QualityPreset(cfg.Quality)
	if !ok {
		return nil, fmt.Errorf("render: unknown quality %q", cfg.Quality)
	}
	if cfg.Timeout.Duration <= 0 {
		return nil, fmt.Errorf("render: timeout must be > 0")
	}
	outDir, err := filepath.Abs(cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("render: output dir: %w", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("render: create output dir: %w", err)
	}
	sb, err := newSandbox(ctx, log, cfg)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		log:       log,
		cfg:       cfg,
		outputDir: outDir,
		quality:   q,
		sandbox:   sb,
		tracer:    otel.Tracer("explainer/render"),
	}
	if cfg.Probe {
		if p, err := exec.LookPath("ffprobe"); err == nil {
			e.ffprobe = p
		} else {
			log.Warn("ffprobe not found; video metadata falls back to the quality preset")
		}
	}
	log.Info("renderer ready", "isolation", sb.mode, "quality", q.Flag, "output_dir", outDir, "limits", sb.scope != nil)
	return e, nil
}

// Isolation reports the resolved isolation mode.
func (e *Engine) Isolation() Isolation { return e.sandbox.mode }

// OutputDir is the absolute directory holding one subdirectory per run.
func (e *Engine) OutputDir() string { return e.outputDir }

func (e *Engine) Render(ctx context.Context, job Job) (Result, error) {
	if err := job.validate(); err != nil {
		return Result{}, err
	}
	ctx, span := e.tracer.Start(ctx, "render.run", trace.WithAttributes(
		attribute.String("run_id", job.RunID),
		attribute.String("scene", job.Artifact.SceneName),
		attribute.String("isolation", string(e.sandbox.mode)),
	))
	defer span.End()

	res, err := e.render(ctx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(failure.Of(err)))
	}
	return res, err
}

func (e *Engine) render(ctx context.Context, job Job) (Result, error) {
	log := e.log.With("run_id", job.RunID, "scene", job.Artifact.SceneName)
	runDir := filepath.Join(e.outputDir, job.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("render: create run dir: %w", err)
	}
	src := filepath.Join(runDir, sourceFile)
	if err := os.WriteFile(src, []byte(job.Artifact.Source), 0o644); err != nil {
		return Result{}, fmt.Errorf("render: write source: %w", err)
	}

	if e.cfg.TrialRender {
		trialDir := filepath.Join(runDir, "trial_media")
		trialQ := qualities["l"]
		if _, err := e.invoke(ctx, log, job, src, trialDir, trialQ, e.cfg.TrialTimeout.Duration, "trial"); err != nil {
			return Result{}, err
		}
		if err := os.RemoveAll(trialDir); err != nil {
			log.Warn("remove trial media failed", "error", err)
		}
	}

	mediaDir := filepath.Join(runDir, "media")
	video, err := e.invoke(ctx, log, job, src, mediaDir, e.quality, e.cfg.Timeout.Duration, "final")
	if err != nil {
		return Result{}, err
	}

	final := filepath.Join(runDir, job.Artifact.SceneName+".mp4")
	if video != final {
		if err := os.Rename(video, final); err != nil {
			return Result{}, fmt.Errorf("render: move video: %w", err)
		}
	}

	res := Result{
		VideoPath:   final,
		DurationSec: job.ExpectedDurationSec,
		Width:       e.quality.Width,
		Height:      e.quality.Height,
	}
	if e.ffprobe != "" {
		meta, err := probeVideo(ctx, e.ffprobe, final)
		if err != nil {
			log.Warn("video probe failed; using expected duration", "error", err)
		} else {
			res.DurationSec, res.Width, res.Height = meta.DurationSec, meta.Width, meta.Height
		}
	}
	log.Info("render complete", "video_path", final, "duration_sec", res.DurationSec, "width", res.Width, "height", res.Height)
	return res, nil
}

// invoke runs the engine once and returns the path of the produced video.
func (e *Engine) invoke(ctx context.Context, log *logger.Logger, job Job, src, mediaDir string, q Quality, timeout time.Duration, phase string) (string, error) {
	if err := os.RemoveAll(mediaDir); err != nil {
		return "", fmt.Errorf("render: clear media dir: %w", err)
	}
	if err := os.MkdirAll(mediaDir, 0o755); err != nil {
		return "", fmt.Errorf("render: create media dir: %w", err)
	}
	scene := job.Artifact.SceneName
	argv := expandCommand(e.cfg.EngineCommand, map[string]string{
		"source":      src,
		"scene":       scene,
		"media_dir":   mediaDir,
		"output_name": scene,
		"quality":     q.Flag,
	})
	runDir := filepath.Dir(src)
	wrapped, env := e.sandbox.wrap(argv, runDir, "explainer-render-"+job.RunID+"-"+phase)

	log.Info("render started", "phase", phase, "quality", q.Flag, "timeout", timeout.String())
	out, err := run(ctx, command{Argv: wrapped, Dir: runDir, Env: env, Timeout: timeout})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			log.Warn("render canceled", "phase", phase)
			return "", ctxErr
		}
		return "", fmt.Errorf("render: %w", err)
	}
	log.Debug("render process exited", "phase", phase, "exit_code", out.ExitCode, "elapsed", out.Elapsed.String())

	if f := classify(out, timeout.String()); f != nil {
		log.Warn("render failed", "phase", phase, "category", f.Kind, "exit_code", f.ExitCode, "message", f.Message)
		return "", f
	}

	expected := filepath.Join(mediaDir, "videos", strings.TrimSuffix(filepath.Base(src), ".py"), q.Dir, scene+".mp4")
	video, err := findVideo(mediaDir, expected, scene)
	if err != nil {
		msg := fmt.Sprintf("engine exited cleanly but produced no video for scene %s", scene)
		if !errors.Is(err, fs.ErrNotExist) {
			msg += ": " + err.Error()
		}
		return "", &Failure{Kind: failure.RenderNoOutput, Message: msg, Stderr: strings.TrimSpace(out.Stderr)}
	}
	return video, nil
}

// expandCommand substitutes {name} placeholders in every argument.
func expandCommand(tmpl []string, vars map[string]string) []string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)
	out := make([]string, len(tmpl))
	for i, a := range tmpl {
		out[i] = r.Replace(a)
	}
	return out
}
