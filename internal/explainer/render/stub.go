package render

import (
	"context"
	"path/filepath"
	"sync"
)

// Stub is a Renderer that runs nothing. Each call consumes the next scripted
// error; a nil entry, or an exhausted script, succeeds with the job's
// expected duration.
type Stub struct {
	mu        sync.Mutex
	outputDir string
	quality   Quality
	script    []error
	jobs      []Job
}

func NewStub(outputDir string, script ...error) *Stub {
	return &Stub{outputDir: outputDir, quality: qualities["m"], script: script}
}

func (s *Stub) Render(ctx context.Context, job Job) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := job.validate(); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	var next error
	if len(s.script) > 0 {
		next, s.script = s.script[0], s.script[1:]
	}
	s.mu.Unlock()
	if next != nil {
		return Result{}, next
	}
	return Result{
		VideoPath:   filepath.Join(s.outputDir, job.RunID, job.Artifact.SceneName+".mp4"),
		DurationSec: job.ExpectedDurationSec,
		Width:       s.quality.Width,
		Height:      s.quality.Height,
	}, nil
}

// Jobs returns a copy of the jobs received so far.
func (s *Stub) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, len(s.jobs))
	copy(out, s.jobs)
	return out
}
