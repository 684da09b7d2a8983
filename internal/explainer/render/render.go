// Package render executes validated animation source in a sandboxed
// subprocess and reports the produced video or a typed failure.
package render

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/yungbote/neurobridge-explainer/internal/explainer/animation"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/failure"
)

// Job is one render request. RunID names the per-run directory.
type Job struct {
	RunID               string
	Artifact            animation.Artifact
	ExpectedDurationSec float64
}

func (j Job) validate() error {
	id := strings.TrimSpace(j.RunID)
	if id == "" {
		return fmt.Errorf("render: run id required")
	}
	if id != filepath.Base(id) || id == "." || id == ".." {
		return fmt.Errorf("render: run id %q is not a single path element", j.RunID)
	}
	if strings.TrimSpace(j.Artifact.Source) == "" {
		return fmt.Errorf("render: artifact source is empty")
	}
	if strings.TrimSpace(j.Artifact.SceneName) == "" {
		return fmt.Errorf("render: artifact has no scene name")
	}
	return nil
}

// Result describes a finished video. It is terminal.
type Result struct {
	VideoPath   string  `json:"video_path"`
	DurationSec float64 `json:"duration_sec"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	PosterPath  string  `json:"poster_path,omitempty"`
	PublicURL   string  `json:"public_url,omitempty"`
}

// Failure is a classified render failure. Stderr holds the captured tail.
type Failure struct {
	Kind     failure.Category
	Message  string
	ExitCode int
	Stderr   string
}

func (f *Failure) Error() string {
	if f == nil {
		return "render failure"
	}
	if f.ExitCode != 0 {
		return fmt.Sprintf("%s (exit %d): %s", f.Kind, f.ExitCode, f.Message)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Category() failure.Category { return f.Kind }

// Renderer turns a validated artifact into a video.
type Renderer interface {
	Render(ctx context.Context, job Job) (Result, error)
}

// Quality is a render preset.
type Quality struct {
	Flag   string
	Width  int
	Height int
	// Dir is the engine's per-quality output directory name.
	Dir string
}

var qualities = map[string]Quality{
	"l": {Flag: "l", Width: 854, Height: 480, Dir: "480p15"},
	"m": {Flag: "m", Width: 1280, Height: 720, Dir: "720p30"},
	"h": {Flag: "h", Width: 1920, Height: 1080, Dir: "1080p60"},
}

// QualityPreset returns the preset for "l", "m" or "h".
func QualityPreset(flag string) (Quality, bool) {
	q, ok := qualities[strings.ToLower(strings.TrimSpace(flag))]
	return q, ok
}
