package repair

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/yungbote/neurobridge-explainer/internal/explainer/failure"
)

type scriptedGen struct {
	outputs      []string
	err          error
	instructions []string
}

func (g *scriptedGen) Submit(ctx context.Context, instruction string) (string, error) {
	g.instructions = append(g.instructions, instruction)
	if g.err != nil {
		return "", g.err
	}
	i := len(g.instructions) - 1
	if i >= len(g.outputs) {
		i = len(g.outputs) - 1
	}
	return g.outputs[i], nil
}

func acceptOK(output string) (string, error) {
	if output != "ok" {
		return "", fmt.Errorf("output %q is not ok", output)
	}
	return output, nil
}

func TestRunExhaustsAfterBudgetPlusOne(t *testing.T) {
	for _, budget := range []int{0, 1, 3, 5} {
		t.Run(fmt.Sprintf("budget=%d", budget), func(t *testing.T) {
			gen := &scriptedGen{outputs: []string{"bad"}}
			c := New(nil, gen, budget)

			_, out, err := Run(context.Background(), c, Task[string]{
				Stage:       StageContent,
				Instruction: "make it ok",
				Validate:    acceptOK,
			})
			var ex *ExhaustedError
			if !errors.As(err, &ex) {
				t.Fatalf("expected ExhaustedError, got %v", err)
			}
			if len(gen.instructions) != budget+1 {
				t.Fatalf("generator calls=%d want %d", len(gen.instructions), budget+1)
			}
			if ex.Attempts != budget+1 || len(out.Attempts) != budget+1 {
				t.Fatalf("attempts=%d records=%d", ex.Attempts, len(out.Attempts))
			}
			if out.State != StateExhausted {
				t.Fatalf("state=%s", out.State)
			}
			if ex.Stage != StageContent {
				t.Fatalf("stage=%s", ex.Stage)
			}
			if failure.Of(err) != failure.RepairExhausted {
				t.Fatalf("category=%s", failure.Of(err))
			}
			if !strings.Contains(ex.Last.Error(), `"bad"`) {
				t.Fatalf("last=%v", ex.Last)
			}
		})
	}
}

func TestRunSucceedsOnKthAttempt(t *testing.T) {
	const budget = 3
	for k := 1; k <= budget+1; k++ {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			outputs := make([]string, 0, k)
			for i := 1; i < k; i++ {
				outputs = append(outputs, fmt.Sprintf("bad-%d", i))
			}
			outputs = append(outputs, "ok")
			gen := &scriptedGen{outputs: outputs}

			got, out, err := Run(context.Background(), New(nil, gen, budget), Task[string]{
				Stage:       StageCode,
				Instruction: "make it ok",
				Validate:    acceptOK,
			})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got != "ok" || out.State != StateSucceeded {
				t.Fatalf("got=%q state=%s", got, out.State)
			}
			if len(out.Attempts) != k || len(gen.instructions) != k {
				t.Fatalf("records=%d calls=%d want %d", len(out.Attempts), len(gen.instructions), k)
			}
			for i, a := range out.Attempts {
				if a.Number != i+1 || a.Stage != StageCode {
					t.Fatalf("record %d = %+v", i, a)
				}
				if a.Accepted != (i == k-1) {
					t.Fatalf("record %d accepted=%v", i, a.Accepted)
				}
				if i == 0 && a.Trigger != "" {
					t.Fatalf("first attempt has trigger %q", a.Trigger)
				}
				if i > 0 && !strings.Contains(a.Trigger, outputs[i-1]) {
					t.Fatalf("record %d trigger=%q", i, a.Trigger)
				}
			}
		})
	}
}

func TestRunFeedsBackPriorOutputAndError(t *testing.T) {
	gen := &scriptedGen{outputs: []string{"broken", "ok"}}
	_, _, err := Run(context.Background(), New(nil, gen, 2), Task[string]{
		Stage:       StageContent,
		Instruction: "ORIGINAL",
		Validate:    acceptOK,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gen.instructions[0] != "ORIGINAL" {
		t.Fatalf("first instruction=%q", gen.instructions[0])
	}
	second := gen.instructions[1]
	for _, want := range []string{"ORIGINAL", "broken", `output "broken" is not ok`, "VALIDATION_ERROR_TO_FIX"} {
		if !strings.Contains(second, want) {
			t.Fatalf("retry instruction missing %q:\n%s", want, second)
		}
	}
}

func TestRunServiceErrorDoesNotConsumeBudget(t *testing.T) {
	svcErr := errors.New("upstream down")
	gen := &scriptedGen{err: svcErr}

	_, out, err := Run(context.Background(), New(nil, gen, 3), Task[string]{
		Stage:       StageContent,
		Instruction: "x",
		Validate:    acceptOK,
	})
	if !errors.Is(err, svcErr) {
		t.Fatalf("expected wrapped service error, got %v", err)
	}
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		t.Fatalf("service error must not exhaust the budget")
	}
	if len(gen.instructions) != 1 || out.State != StateUnavailable {
		t.Fatalf("calls=%d state=%s", len(gen.instructions), out.State)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gen := &scriptedGen{outputs: []string{"ok"}}

	_, out, err := Run(ctx, New(nil, gen, 3), Task[string]{Stage: StageCode, Instruction: "x", Validate: acceptOK})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
	if len(gen.instructions) != 0 || out.State != StateCanceled {
		t.Fatalf("calls=%d state=%s", len(gen.instructions), out.State)
	}
}

func TestAugmentTruncatesLongOutput(t *testing.T) {
	long := strings.Repeat("x", maxPriorOutputBytes+100)
	got := Augment("orig", long, errors.New("bad"))
	if !strings.Contains(got, "[truncated]") {
		t.Fatalf("expected truncation marker")
	}
	if strings.Contains(got, long) {
		t.Fatalf("prior output not truncated")
	}
}

func TestAugmentTruncatesOnRuneBoundary(t *testing.T) {
	// the cut point falls inside the two-byte "é"
	long := strings.Repeat("x", maxPriorOutputBytes-1) + strings.Repeat("é", 100)
	got := Augment("orig", long, errors.New("bad"))
	if !utf8.ValidString(got) {
		t.Fatalf("truncated prompt is not valid UTF-8")
	}
	if !strings.Contains(got, strings.Repeat("x", maxPriorOutputBytes-1)+"\n...[truncated]") {
		t.Fatalf("expected the cut to back off to the rune start")
	}
}
