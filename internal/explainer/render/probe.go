package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-explainer/internal/config"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/animation"
	"github.com/yungbote/neurobridge-explainer/internal/platform/logger"
)

var probeLineRe = regexp.MustCompile(`line (\d+)`)

// Probe parses generated source with the interpreter's own parser, inside the
// same sandbox as the renderer. It implements animation.SyntaxProbe.
type Probe struct {
	log     *logger.Logger
	command []string
	timeout time.Duration
	workDir string
	sandbox *sandbox
}

var _ animation.SyntaxProbe = (*Probe)(nil)

func NewProbe(ctx context.Context, log *logger.Logger, acfg config.AnimationConfig, rcfg config.RenderConfig) (*Probe, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("component", "syntax_probe")
	if len(acfg.SyntaxProbeCommand) == 0 {
		return nil, fmt.Errorf("render: syntax probe command required")
	}
	outDir, err := filepath.Abs(rcfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("render: output dir: %w", err)
	}
	// The probe only parses; it needs no resource scope.
	rcfg.MemoryMax, rcfg.TasksMax = "", 0
	sb, err := newSandbox(ctx, log, rcfg)
	if err != nil {
		return nil, err
	}
	timeout := acfg.SyntaxProbeTimeout.Duration
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Probe{
		log:     log,
		command: acfg.SyntaxProbeCommand,
		timeout: timeout,
		workDir: filepath.Join(outDir, ".probe"),
		sandbox: sb,
	}, nil
}

// Probe returns nil when the source parses, *animation.ProbeRejection when
// the parser rejects it, and any other error when the probe could not run.
func (p *Probe) Probe(ctx context.Context, source string) error {
	dir := filepath.Join(p.workDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("probe: create work dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	src := filepath.Join(dir, sourceFile)
	if err := os.WriteFile(src, []byte(source), 0o644); err != nil {
		return fmt.Errorf("probe: write source: %w", err)
	}

	argv := expandCommand(p.command, map[string]string{"source": src})
	wrapped, env := p.sandbox.wrap(argv, dir, "")
	out, err := run(ctx, command{Argv: wrapped, Dir: dir, Env: env, Timeout: p.timeout})
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	if out.TimedOut {
		return fmt.Errorf("probe: timed out after %s", p.timeout)
	}
	if out.ExitCode == 0 && out.Signal == 0 {
		return nil
	}
	stderr := strings.TrimSpace(out.Stderr)
	if out.Signal != 0 || strings.HasPrefix(stderr, "bwrap:") || out.ExitCode == 126 || out.ExitCode == 127 {
		return fmt.Errorf("probe: interpreter unavailable (exit %d): %s", out.ExitCode, LastError(stderr))
	}

	rej := &animation.ProbeRejection{Message: LastError(stderr)}
	if m := probeLineRe.FindAllStringSubmatch(stderr, -1); len(m) > 0 {
		rej.Line, _ = strconv.Atoi(m[len(m)-1][1])
	}
	p.log.Debug("source rejected by parser", "line", rej.Line, "message", rej.Message)
	return rej
}
