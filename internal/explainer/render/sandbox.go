package render

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/yungbote/neurobridge-explainer/internal/config"
	"github.com/yungbote/neurobridge-explainer/internal/platform/logger"
)

type Isolation string

const (
	IsolationAuto  Isolation = "auto"
	IsolationBwrap Isolation = "bwrap"
	IsolationNone  Isolation = "none"
)

// System paths visible read-only inside the bubblewrap sandbox. Missing ones
// are skipped.
var defaultReadOnlyBinds = []string{"/usr", "/bin", "/sbin", "/lib", "/lib64", "/etc", "/opt"}

// sandbox wraps an engine command in the configured isolation layer.
type sandbox struct {
	mode      Isolation
	bwrapPath string
	roBinds   []string
	passEnv   []string
	scope     *systemdScope
}

func newSandbox(ctx context.Context, log *logger.Logger, cfg config.RenderConfig) (*sandbox, error) {
	s := &sandbox{
		roBinds: append(append([]string(nil), defaultReadOnlyBinds...), cfg.ReadOnlyBinds...),
		passEnv: cfg.PassEnv,
	}

	if Isolation(cfg.Isolation) == IsolationNone {
		s.mode = IsolationNone
		log.Warn("render isolation disabled; the engine runs with host filesystem and network access")
	} else {
		// auto never degrades to an unisolated engine; that takes an
		// explicit isolation=none.
		bwrap, err := exec.LookPath("bwrap")
		if err != nil {
			return nil, fmt.Errorf("render: isolation=%s but bwrap is not installed (set render.isolation=none to run unisolated): %w", cfg.Isolation, err)
		}
		s.mode, s.bwrapPath = IsolationBwrap, bwrap
	}
	if cfg.RequireIsolation && s.mode != IsolationBwrap {
		return nil, fmt.Errorf("render: isolation required but mode is %s", s.mode)
	}

	s.scope = newSystemdScope(ctx, log, cfg.MemoryMax, cfg.TasksMax)
	return s, nil
}

// wrap returns the argv and process environment for running argv inside
// runDir. unit names the systemd scope, when one is used.
func (s *sandbox) wrap(argv []string, runDir, unit string) ([]string, []string) {
	env := s.environment(runDir)
	out := argv
	procEnv := envList(env)
	if s.mode == IsolationBwrap {
		out = bwrapArgs(s.bwrapPath, runDir, s.roBinds, env, argv)
		// bwrap itself runs with a minimal environment; the child gets --setenv.
		procEnv = envList(map[string]string{"PATH": env["PATH"]})
	}
	if s.scope != nil {
		out = s.scope.wrap(out, unit)
		if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
			procEnv = append(procEnv, "XDG_RUNTIME_DIR="+xdg)
		}
		if bus := os.Getenv("DBUS_SESSION_BUS_ADDRESS"); bus != "" {
			procEnv = append(procEnv, "DBUS_SESSION_BUS_ADDRESS="+bus)
		}
	}
	return out, procEnv
}

// environment is the allow-listed environment of the engine process. HOME
// points at the run directory so nothing is written outside it.
func (s *sandbox) environment(runDir string) map[string]string {
	env := map[string]string{}
	for _, key := range s.passEnv {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if v, ok := os.LookupEnv(key); ok {
			env[key] = v
		}
	}
	if env["PATH"] == "" {
		env["PATH"] = "/usr/local/bin:/usr/bin:/bin"
	}
	env["HOME"] = runDir
	env["TMPDIR"] = runDir
	env["PYTHONDONTWRITEBYTECODE"] = "1"
	env["MPLCONFIGDIR"] = runDir
	return env
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// bwrapArgs builds a bubblewrap invocation: every namespace unshared (no
// network), system paths read-only, only runDir writable, clean environment.
func bwrapArgs(bwrap, runDir string, roBinds []string, env map[string]string, argv []string) []string {
	args := []string{
		bwrap,
		"--unshare-all",
		"--die-with-parent",
		"--new-session",
		"--clearenv",
	}
	seen := map[string]bool{}
	for _, p := range roBinds {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		args = append(args, "--ro-bind-try", p, p)
	}
	args = append(args,
		"--proc", "/proc",
		"--dev", "/dev",
		"--tmpfs", "/tmp",
		"--bind", runDir, runDir,
		"--chdir", runDir,
	)

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--setenv", k, env[k])
	}

	args = append(args, "--")
	return append(args, argv...)
}

// systemdScope applies memory and task limits through a transient user scope.
type systemdScope struct {
	memoryMax string
	tasksMax  int
}

// newSystemdScope returns nil when no limits are configured or when a user
// scope cannot be started on this host.
func newSystemdScope(ctx context.Context, log *logger.Logger, memoryMax string, tasksMax int) *systemdScope {
	memoryMax = strings.TrimSpace(memoryMax)
	if memoryMax == "" && tasksMax <= 0 {
		return nil
	}
	path, err := exec.LookPath("systemd-run")
	if err != nil {
		log.Warn("systemd-run not found; render resource limits are not enforced",
			"memory_max", memoryMax, "tasks_max", tasksMax)
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if out, err := exec.CommandContext(ctx, path, "--user", "--scope", "--quiet", "--collect", "true").CombinedOutput(); err != nil {
		log.Warn("systemd user scope unavailable; render resource limits are not enforced",
			"error", err, "output", strings.TrimSpace(string(out)))
		return nil
	}
	return &systemdScope{memoryMax: memoryMax, tasksMax: tasksMax}
}

func (s *systemdScope) wrap(argv []string, unit string) []string {
	args := []string{"systemd-run", "--user", "--scope", "--quiet", "--collect"}
	if unit != "" {
		args = append(args, "--unit="+unit)
	}
	if s.memoryMax != "" {
		args = append(args, "--property=MemoryMax="+s.memoryMax, "--property=MemorySwapMax=0")
	}
	if s.tasksMax > 0 {
		args = append(args, fmt.Sprintf("--property=TasksMax=%d", s.tasksMax))
	}
	args = append(args, "--")
	return append(args, argv...)
}
