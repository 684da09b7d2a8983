package app

import (
	"context"
	"fmt"

	"github.com/yungbote/neurobridge-explainer/internal/config"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/animation"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/content"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/llm"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/pipeline"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/poster"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/render"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/repair"
	"github.com/yungbote/neurobridge-explainer/internal/platform/logger"
)

type PipelineOptions struct {
	// DryRun replaces the render engine with a stub that produces no file.
	DryRun bool
}

// Pipeline holds the stage components shared by every run. All of them are
// safe for concurrent use.
type Pipeline struct {
	log       *logger.Logger
	cfg       *config.Config
	LLM       llm.Service
	Content   *content.Generator
	Code      *animation.Synthesizer
	Renderer  render.Renderer
	Poster    pipeline.PosterWriter
	Publisher pipeline.Publisher
}

func NewPipeline(ctx context.Context, log *logger.Logger, cfg *config.Config, opts PipelineOptions) (*Pipeline, error) {
	log.Info("Wiring pipeline...")
	svc, err := resolveLLM(log, cfg.LLM)
	if err != nil {
		return nil, err
	}
	budget := cfg.Pipeline.AttemptBudget

	vopts := animation.ValidatorOptions{ExtraPrimitives: cfg.Animation.ExtraPrimitives}
	if cfg.Animation.SyntaxProbe {
		probe, err := render.NewProbe(ctx, log, cfg.Animation, cfg.Render)
		if err != nil {
			return nil, fmt.Errorf("init syntax probe: %w", err)
		}
		vopts.Probe = probe
	}

	p := &Pipeline{
		log: log,
		cfg: cfg,
		LLM: svc,
		Content: content.NewGenerator(log, repair.New(log, svc, budget), content.GeneratorOptions{
			DurationTolerance:  cfg.Pipeline.DurationTolerance,
			RequireDomainMatch: cfg.Pipeline.RequireDomainMatch,
		}),
		Code: animation.NewSynthesizer(log, repair.New(log, svc, budget), animation.NewValidator(log, vopts)),
	}

	if opts.DryRun {
		log.Warn("dry run: render engine disabled")
		p.Renderer = render.NewStub(cfg.Render.OutputDir)
	} else {
		engine, err := render.New(ctx, log, cfg.Render)
		if err != nil {
			return nil, fmt.Errorf("init renderer: %w", err)
		}
		p.Renderer = engine
	}

	// the dry-run stub writes no video, so there is nothing to draw next to
	// or upload
	if cfg.Render.Poster && !opts.DryRun {
		d, err := poster.New(log, cfg.Render.PosterFont)
		if err != nil {
			return nil, fmt.Errorf("init poster: %w", err)
		}
		p.Poster = d
	}
	if !opts.DryRun {
		pub, err := resolvePublisher(ctx, log, cfg.Publish)
		if err != nil {
			return nil, err
		}
		if pub != nil {
			p.Publisher = pub
		}
	}
	return p, nil
}

// Orchestrator builds a single-use orchestrator for runID. It has the
// runner.Builder signature.
func (p *Pipeline) Orchestrator(runID string, observers []pipeline.Observer) *pipeline.Orchestrator {
	return pipeline.New(pipeline.Deps{
		Log:       p.log,
		Content:   p.Content,
		Code:      p.Code,
		Renderer:  p.Renderer,
		Poster:    p.Poster,
		Publisher: p.Publisher,
		Observers: observers,
	}, pipeline.Options{
		RunID:                     runID,
		CodeReentryOnRuntimeError: p.cfg.Pipeline.CodeReentryOnRuntimeError,
	})
}
