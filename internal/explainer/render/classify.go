package render

import (
	"fmt"
	"regexp"
	"strings"
	"syscall"

	"github.com/yungbote/neurobridge-explainer/internal/explainer/failure"
)

var resourceMarkers = []string{
	"MemoryError",
	"No space left on device",
	"Cannot allocate memory",
	"Killed",
	"oom-kill",
}

var exceptionLine = regexp.MustCompile(`^[A-Za-z_][\w.]*(Error|Exception|Interrupt|Exit|Warning)\b(:.*)?$`)

// classify maps a finished process to a Failure, or nil when it succeeded.
// Output discovery is the caller's concern.
func classify(o outcome, timeout string) *Failure {
	tail := strings.TrimSpace(o.Stderr)
	switch {
	case o.TimedOut:
		return &Failure{
			Kind:     failure.RenderTimeout,
			Message:  fmt.Sprintf("render exceeded %s and was killed", timeout),
			ExitCode: o.ExitCode,
			Stderr:   tail,
		}
	case o.ExitCode == 0 && o.Signal == 0:
		return nil
	case o.Signal == syscall.SIGKILL || o.ExitCode == 137 || hasResourceMarker(tail):
		return &Failure{
			Kind:     failure.RenderResourceExhausted,
			Message:  resourceMessage(o, tail),
			ExitCode: o.ExitCode,
			Stderr:   tail,
		}
	default:
		return &Failure{
			Kind:     failure.RenderRuntimeError,
			Message:  LastError(tail),
			ExitCode: o.ExitCode,
			Stderr:   tail,
		}
	}
}

func hasResourceMarker(s string) bool {
	for _, m := range resourceMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func resourceMessage(o outcome, tail string) string {
	for _, m := range resourceMarkers {
		if strings.Contains(tail, m) {
			return "engine ran out of resources: " + m
		}
	}
	if o.Signal != 0 {
		return fmt.Sprintf("engine was killed by %s", o.Signal)
	}
	return "engine was killed"
}

// LastError extracts the final exception line of a traceback, falling back
// to the last non-empty line.
func LastError(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	lastNonEmpty := ""
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(stripBoxChars(lines[i]))
		if line == "" {
			continue
		}
		if lastNonEmpty == "" {
			lastNonEmpty = line
		}
		if exceptionLine.MatchString(line) {
			return line
		}
	}
	if lastNonEmpty == "" {
		return "engine exited with an error and wrote nothing to stderr"
	}
	return lastNonEmpty
}

// stripBoxChars removes the frame drawing some engines put around
// tracebacks.
func stripBoxChars(s string) string {
	return strings.Trim(s, "│╭╮╰╯─ \t")
}
