// Package repair runs the bounded generate -> validate -> re-prompt loop shared
// by the content and code stages.
package repair

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yungbote/neurobridge-explainer/internal/explainer/failure"
	"github.com/yungbote/neurobridge-explainer/internal/platform/logger"
)

type Stage string

const (
	StageContent Stage = "content-stage"
	StageCode    Stage = "code-stage"
)

type State string

const (
	StateSucceeded   State = "SUCCEEDED"
	StateExhausted   State = "EXHAUSTED"
	StateUnavailable State = "UNAVAILABLE"
	StateCanceled    State = "CANCELED"
)

// Generator is the language-model call the loop drives.
type Generator interface {
	Submit(ctx context.Context, instruction string) (string, error)
}

// Attempt is the diagnostic record of one generate-and-validate cycle.
// Trigger is the validation error that caused the attempt; empty for the first.
type Attempt struct {
	Stage    Stage         `json:"stage"`
	Number   int           `json:"number"`
	Trigger  string        `json:"trigger_error,omitempty"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Accepted bool          `json:"accepted"`
	Latency  time.Duration `json:"latency_ns"`
}

type Outcome struct {
	State    State     `json:"state"`
	Attempts []Attempt `json:"attempts"`
}

// ExhaustedError is returned when every attempt in the budget was rejected.
type ExhaustedError struct {
	Stage    Stage
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	if e == nil {
		return "repair exhausted"
	}
	return fmt.Sprintf("%s: repair budget exhausted after %d attempts: %v", e.Stage, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

func (e *ExhaustedError) Category() failure.Category { return failure.RepairExhausted }

// Task describes one stage's loop. Validate turns raw model output into T or
// returns the violation to feed back. Augment is optional.
type Task[T any] struct {
	Stage       Stage
	Instruction string
	Validate    func(output string) (T, error)
	Augment     func(original, prior string, verr error) string
}

type Controller struct {
	log    *logger.Logger
	gen    Generator
	budget int
}

// New returns a controller allowing 1+budget generator calls per Run.
func New(log *logger.Logger, gen Generator, budget int) *Controller {
	if log == nil {
		log = logger.Nop()
	}
	if budget < 0 {
		budget = 0
	}
	return &Controller{log: log.With("component", "repair"), gen: gen, budget: budget}
}

func (c *Controller) Budget() int { return c.budget }

// Run drives task until the validator accepts an output or the budget is
// spent. Generator errors end the loop immediately and are returned wrapped;
// they never count against the budget.
func Run[T any](ctx context.Context, c *Controller, task Task[T]) (T, Outcome, error) {
	var zero T
	out := Outcome{}
	if c == nil || c.gen == nil {
		return zero, out, errors.New("repair: controller has no generator")
	}
	if task.Validate == nil {
		return zero, out, errors.New("repair: task has no validator")
	}
	augment := task.Augment
	if augment == nil {
		augment = Augment
	}

	instruction := task.Instruction
	var lastErr error
	maxAttempts := c.budget + 1

	for n := 1; n <= maxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			out.State = StateCanceled
			return zero, out, err
		}

		rec := Attempt{Stage: task.Stage, Number: n}
		if lastErr != nil {
			rec.Trigger = lastErr.Error()
		}

		start := time.Now()
		raw, err := c.gen.Submit(ctx, instruction)
		rec.Latency = time.Since(start)
		if err != nil {
			rec.Error = err.Error()
			out.Attempts = append(out.Attempts, rec)
			if ctxErr := ctx.Err(); ctxErr != nil {
				out.State = StateCanceled
				return zero, out, ctxErr
			}
			out.State = StateUnavailable
			c.log.Warn("generator unavailable", "stage", task.Stage, "attempt", n, "error", err)
			return zero, out, fmt.Errorf("%s: attempt %d: %w", task.Stage, n, err)
		}
		rec.Output = raw

		val, verr := task.Validate(raw)
		if verr == nil {
			rec.Accepted = true
			out.Attempts = append(out.Attempts, rec)
			out.State = StateSucceeded
			c.log.Debug("attempt accepted", "stage", task.Stage, "attempt", n)
			return val, out, nil
		}

		rec.Error = verr.Error()
		out.Attempts = append(out.Attempts, rec)
		c.log.Info("attempt rejected", "stage", task.Stage, "attempt", n, "max_attempts", maxAttempts, "error", verr.Error())

		lastErr = verr
		instruction = augment(task.Instruction, raw, verr)
	}

	out.State = StateExhausted
	return zero, out, &ExhaustedError{Stage: task.Stage, Attempts: len(out.Attempts), Last: lastErr}
}

const maxPriorOutputBytes = 16 << 10

// Augment appends the rejected output and its validation error to the
// original instruction and asks for a correction of exactly that defect.
func Augment(original, prior string, verr error) string {
	prior = strings.TrimSpace(prior)
	if len(prior) > maxPriorOutputBytes {
		cut := maxPriorOutputBytes
		for cut > 0 && !utf8.RuneStart(prior[cut]) {
			cut--
		}
		prior = prior[:cut] + "\n...[truncated]"
	}
	msg := "unknown validation error"
	if verr != nil {
		msg = verr.Error()
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(original))
	b.WriteString("\n\nPREVIOUS_OUTPUT_REJECTED:\n<<<\n")
	b.WriteString(prior)
	b.WriteString("\n>>>\n\nVALIDATION_ERROR_TO_FIX:\n- ")
	b.WriteString(msg)
	b.WriteString("\n\nReturn the complete corrected output. Fix exactly this defect and keep everything else unchanged.")
	return b.String()
}
