package animation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yungbote/neurobridge-explainer/internal/explainer/content"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/repair"
	"github.com/yungbote/neurobridge-explainer/internal/platform/logger"
	"github.com/yungbote/neurobridge-explainer/internal/platform/promptstyle"
)

// Markers the offline responder keys on.
const (
	TaskMarker      = "TASK: ANIMATION_CODE"
	ScenePrefix     = "SCENE_NAME: "
	DocumentBegin   = "CONTENT_DOCUMENT_JSON:"
	DocumentEnd     = "END_CONTENT_DOCUMENT_JSON"
	maxFeedbackTail = 4 << 10
)

// Synthesizer is the code stage: validated Document in, validated Artifact out.
type Synthesizer struct {
	log       *logger.Logger
	repair    *repair.Controller
	validator *Validator
}

func NewSynthesizer(log *logger.Logger, rc *repair.Controller, v *Validator) *Synthesizer {
	if log == nil {
		log = logger.Nop()
	}
	return &Synthesizer{log: log.With("component", "animation"), repair: rc, validator: v}
}

func (s *Synthesizer) Synthesize(ctx context.Context, doc content.Document) (Artifact, []repair.Attempt, error) {
	instr, err := s.BuildInstruction(doc)
	if err != nil {
		return Artifact{}, nil, err
	}
	return s.run(ctx, doc, instr)
}

// SynthesizeWithFeedback regenerates code after the renderer rejected a
// previously valid artifact at runtime. The failing source and error text are
// part of the instruction.
func (s *Synthesizer) SynthesizeWithFeedback(ctx context.Context, doc content.Document, priorSource, runtimeErr string) (Artifact, []repair.Attempt, error) {
	instr, err := s.BuildInstruction(doc)
	if err != nil {
		return Artifact{}, nil, err
	}
	if len(runtimeErr) > maxFeedbackTail {
		runtimeErr = "..." + runtimeErr[len(runtimeErr)-maxFeedbackTail:]
	}
	var b strings.Builder
	b.WriteString(instr)
	b.WriteString("\n\nA previous version of this scene passed static checks but failed when rendered.\n")
	b.WriteString("FAILED_SOURCE:\n<<<\n")
	b.WriteString(strings.TrimSpace(priorSource))
	b.WriteString("\n>>>\n\nRUNTIME_ERROR:\n")
	b.WriteString(strings.TrimSpace(runtimeErr))
	b.WriteString("\n\nWrite a corrected scene that avoids this error. Keep every step.")
	return s.run(ctx, doc, b.String())
}

func (s *Synthesizer) run(ctx context.Context, doc content.Document, instr string) (Artifact, []repair.Attempt, error) {
	art, out, err := repair.Run(ctx, s.repair, repair.Task[Artifact]{
		Stage:       repair.StageCode,
		Instruction: instr,
		Validate: func(output string) (Artifact, error) {
			return s.validator.ValidateContext(ctx, promptstyle.StripFences(output))
		},
	})
	if err != nil {
		s.log.Warn("code stage failed", "title", doc.Title, "state", out.State, "attempts", len(out.Attempts), "error", err)
		return Artifact{}, out.Attempts, err
	}
	s.log.Info("animation source accepted",
		"title", doc.Title,
		"scene", art.SceneName,
		"content_hash", art.ContentHash,
		"attempts", len(out.Attempts),
	)
	return art, out.Attempts, nil
}

// BuildInstruction embeds the document and the approved vocabulary.
func (s *Synthesizer) BuildInstruction(doc content.Document) (string, error) {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("animation: encode document: %w", err)
	}
	allow := s.validator.AllowList()
	scene := SceneName(doc.Title)

	var b strings.Builder
	b.WriteString(TaskMarker + "\n")
	b.WriteString(ScenePrefix + scene + "\n\n")
	b.WriteString("Write one Python source file for the Manim Community animation library that enacts every step of the content document below, in order.\n")
	b.WriteString("Rules:\n")
	b.WriteString("- The first line is `from manim import *`. Only `math`, `numpy as np` and `random` may also be imported.\n")
	fmt.Fprintf(&b, "- Define exactly one top-level scene class `%s(Scene)` with a `construct(self)` method.\n", scene)
	b.WriteString("- Each step should take about its duration_sec of scene time (use run_time and self.wait).\n")
	b.WriteString("- Draw each step's objects and show its narration as on-screen text; render equations with MathTex.\n")
	b.WriteString("- Never read or write files, start processes, use the network or call open, exec, eval, __import__ or getattr.\n")
	b.WriteString("- Call only the approved primitives listed below, plus functions and classes you define yourself.\n\n")
	b.WriteString("APPROVED_CONSTRUCTORS: " + strings.Join(allow.Constructors, ", ") + "\n")
	b.WriteString("APPROVED_FUNCTIONS: " + strings.Join(allow.Functions, ", ") + "\n")
	b.WriteString("APPROVED_SCENE_METHODS: self." + strings.Join(allow.SceneMethods, ", self.") + "\n\n")
	b.WriteString(DocumentBegin + "\n")
	b.Write(raw)
	b.WriteString("\n" + DocumentEnd + "\n")

	return promptstyle.Apply(b.String(), promptstyle.ModeCode), nil
}

// DocumentFromInstruction recovers the document embedded by BuildInstruction.
func DocumentFromInstruction(instr string) (content.Document, bool) {
	start := strings.Index(instr, DocumentBegin)
	if start < 0 {
		return content.Document{}, false
	}
	rest := instr[start+len(DocumentBegin):]
	end := strings.Index(rest, DocumentEnd)
	if end < 0 {
		return content.Document{}, false
	}
	var doc content.Document
	if err := json.Unmarshal([]byte(strings.TrimSpace(rest[:end])), &doc); err != nil {
		return content.Document{}, false
	}
	return doc, true
}
