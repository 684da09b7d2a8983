package pipeline

import (
	"fmt"
	"time"

	"github.com/yungbote/neurobridge-explainer/internal/explainer/failure"
)

type State string

const (
	StateReceived          State = "RECEIVED"
	StateContentGenerating State = "CONTENT_GENERATING"
	StateContentValidated  State = "CONTENT_VALIDATED"
	StateCodeGenerating    State = "CODE_GENERATING"
	StateCodeValidated     State = "CODE_VALIDATED"
	StateRendering         State = "RENDERING"
	StateDone              State = "DONE"

	StateContentFailed State = "CONTENT_FAILED"
	StateCodeFailed    State = "CODE_FAILED"
	StateRenderFailed  State = "RENDER_FAILED"
)

var states = []State{
	StateReceived, StateContentGenerating, StateContentValidated,
	StateCodeGenerating, StateCodeValidated, StateRendering, StateDone,
	StateContentFailed, StateCodeFailed, StateRenderFailed,
}

func ParseState(s string) (State, error) {
	for _, st := range states {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown pipeline state %q", s)
}

func (s State) Terminal() bool {
	switch s {
	case StateDone, StateContentFailed, StateCodeFailed, StateRenderFailed:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is an edge of the run machine.
// RENDERING -> CODE_GENERATING is the runtime-error re-entry edge; the
// orchestrator additionally allows it at most once per run.
func CanTransition(from, to State) bool {
	switch from {
	case StateReceived:
		return to == StateContentGenerating || to == StateContentFailed
	case StateContentGenerating:
		return to == StateContentValidated || to == StateContentFailed
	case StateContentValidated:
		return to == StateCodeGenerating
	case StateCodeGenerating:
		return to == StateCodeValidated || to == StateCodeFailed
	case StateCodeValidated:
		return to == StateRendering
	case StateRendering:
		return to == StateDone || to == StateRenderFailed || to == StateCodeGenerating
	default:
		return false
	}
}

// Transition is one entry of a run's state history. From is empty for the
// initial RECEIVED entry.
type Transition struct {
	From State     `json:"from,omitempty"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// StageTiming is the wall-clock time spent in one stage invocation.
type StageTiming struct {
	Stage     string    `json:"stage"`
	StartedAt time.Time `json:"started_at"`
	ElapsedMS int64     `json:"elapsed_ms"`
}

// Failure is the single terminal failure of a run.
type Failure struct {
	Category failure.Category `json:"category"`
	Stage    string           `json:"stage"`
	Attempts int              `json:"attempts"`
	Message  string           `json:"message"`
	Cause    error            `json:"-"`
}

func (f *Failure) Error() string {
	if f == nil {
		return "pipeline failure"
	}
	return fmt.Sprintf("%s failed (%s): %s", f.Stage, f.Category, f.Message)
}

func (f *Failure) Unwrap() error { return f.Cause }

// IllegalTransitionError is returned by the orchestrator when asked to move
// along an edge the machine does not have.
type IllegalTransitionError struct {
	From State
	To   State
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal pipeline transition %s -> %s", e.From, e.To)
}
