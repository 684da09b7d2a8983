package render

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

const tailBytes = 16 << 10

// tailBuffer keeps the last tailBytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - tailBytes; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

type command struct {
	Argv    []string
	Dir     string
	Env     []string
	Timeout time.Duration
}

type outcome struct {
	Pid      int
	ExitCode int
	// Signal is set when the process was terminated by a signal.
	Signal   syscall.Signal
	TimedOut bool
	Stdout   string
	Stderr   string
	Elapsed  time.Duration
}

// errStart marks failures to launch the process at all.
var errStart = errors.New("start process")

// run executes c in its own process group. On timeout or cancellation the
// whole group is killed and the child is reaped before run returns. A
// canceled ctx is returned as ctx.Err(); a timeout is reported in outcome.
func run(ctx context.Context, c command) (outcome, error) {
	if len(c.Argv) == 0 {
		return outcome{}, fmt.Errorf("%w: empty command", errStart)
	}
	if err := ctx.Err(); err != nil {
		return outcome{}, err
	}

	cmd := exec.Command(c.Argv[0], c.Argv[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	if cmd.Env == nil {
		cmd.Env = []string{}
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Stray grandchildren holding the pipes must not block Wait forever.
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr tailBuffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return outcome{}, fmt.Errorf("%w: %s: %v", errStart, c.Argv[0], err)
	}
	out := outcome{Pid: cmd.Process.Pid}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timeout <-chan time.Time
	if c.Timeout > 0 {
		timer := time.NewTimer(c.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	var waitErr error
	var ctxErr error
	select {
	case waitErr = <-done:
	case <-timeout:
		out.TimedOut = true
		killGroup(out.Pid)
		waitErr = <-done
	case <-ctx.Done():
		ctxErr = ctx.Err()
		killGroup(out.Pid)
		waitErr = <-done
	}
	// Anything the child left behind in its group goes too.
	killGroup(out.Pid)

	out.Elapsed = time.Since(start)
	out.Stdout = stdout.String()
	out.Stderr = stderr.String()

	if ctxErr != nil {
		return out, ctxErr
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			if errors.Is(waitErr, exec.ErrWaitDelay) {
				return out, nil
			}
			return out, fmt.Errorf("wait: %w", waitErr)
		}
		out.ExitCode = exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			out.Signal = ws.Signal()
			out.ExitCode = 128 + int(ws.Signal())
		}
	}
	return out, nil
}

func killGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}
