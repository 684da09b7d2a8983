package content

import (
	"context"
	"fmt"

	"github.com/yungbote/neurobridge-explainer/internal/explainer/repair"
	"github.com/yungbote/neurobridge-explainer/internal/platform/logger"
	"github.com/yungbote/neurobridge-explainer/internal/platform/promptstyle"
)

type GeneratorOptions struct {
	DurationTolerance  float64
	RequireDomainMatch bool
}

// Generator is the content stage: topic in, validated Document out.
type Generator struct {
	log    *logger.Logger
	repair *repair.Controller
	opts   GeneratorOptions
}

func NewGenerator(log *logger.Logger, rc *repair.Controller, opts GeneratorOptions) *Generator {
	if log == nil {
		log = logger.Nop()
	}
	return &Generator{log: log.With("component", "content"), repair: rc, opts: opts}
}

// Generate returns the validated document and every attempt made. On budget
// exhaustion the error is a *repair.ExhaustedError whose Last is the final
// *SchemaViolation; service failures are returned as the service reported them.
func (g *Generator) Generate(ctx context.Context, req TopicRequest) (Document, []repair.Attempt, error) {
	if err := req.Validate(); err != nil {
		return Document{}, nil, fmt.Errorf("content: invalid request: %w", err)
	}

	vopts := ValidateOptions{DurationTolerance: g.opts.DurationTolerance}
	if g.opts.RequireDomainMatch {
		vopts.ExpectDomain = req.Domain
	}

	doc, out, err := repair.Run(ctx, g.repair, repair.Task[Document]{
		Stage:       repair.StageContent,
		Instruction: BuildInstruction(req, g.opts.DurationTolerance),
		Validate: func(output string) (Document, error) {
			return Validate([]byte(promptstyle.StripFences(output)), vopts)
		},
	})
	if err != nil {
		g.log.Warn("content stage failed", "topic", req.Topic, "state", out.State, "attempts", len(out.Attempts), "error", err)
		return Document{}, out.Attempts, err
	}

	g.log.Info("content document accepted",
		"topic", req.Topic,
		"title", doc.Title,
		"steps", len(doc.Steps),
		"total_duration_sec", doc.TotalDurationSec,
		"attempts", len(out.Attempts),
	)
	return doc, out.Attempts, nil
}
