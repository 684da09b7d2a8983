package animation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/yungbote/neurobridge-explainer/internal/explainer/failure"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/llm"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/repair"
)

func newSynthesizer(svc llm.Service, budget int) *Synthesizer {
	return NewSynthesizer(nil, repair.New(nil, svc, budget), NewValidator(nil, ValidatorOptions{}))
}

func TestSynthesizeAcceptsFencedSource(t *testing.T) {
	doc := newtonDoc()
	stub := llm.Script("```python\n" + Compose(doc) + "```")

	art, attempts, err := newSynthesizer(stub, 3).Synthesize(context.Background(), doc)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if art.SceneName != "NewtonsFirstLawScene" || len(attempts) != 1 {
		t.Fatalf("scene=%q attempts=%d", art.SceneName, len(attempts))
	}
	if strings.Contains(art.Source, "```") {
		t.Fatalf("fences were not stripped")
	}

	instr := stub.Calls()[0]
	for _, want := range []string{TaskMarker, ScenePrefix + "NewtonsFirstLawScene", DocumentBegin, DocumentEnd, "APPROVED_CONSTRUCTORS:", "MathTex"} {
		if !strings.Contains(instr, want) {
			t.Fatalf("instruction missing %q", want)
		}
	}
	got, ok := DocumentFromInstruction(instr)
	if !ok || got.Title != doc.Title || len(got.Steps) != len(doc.Steps) {
		t.Fatalf("embedded document not recoverable: ok=%v %+v", ok, got)
	}
}

func TestSynthesizeRepairsDisallowedPrimitive(t *testing.T) {
	doc := newtonDoc()
	good := Compose(doc)
	bad := strings.Replace(good, "Create(objects_1)", "FlyIn(objects_1)", 1)
	stub := llm.Script(bad, good)

	art, attempts, err := newSynthesizer(stub, 3).Synthesize(context.Background(), doc)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(attempts) != 2 || attempts[0].Accepted || !attempts[1].Accepted {
		t.Fatalf("attempts=%+v", attempts)
	}
	if !strings.Contains(attempts[1].Trigger, "FlyIn") {
		t.Fatalf("trigger=%q", attempts[1].Trigger)
	}
	if !strings.Contains(stub.Calls()[1], "FlyIn") {
		t.Fatalf("retry instruction does not name the rejected primitive")
	}
	if art.Source != strings.TrimSpace(good)+"\n" {
		t.Fatalf("accepted source differs from the corrected output")
	}
}

func TestSynthesizeExhaustion(t *testing.T) {
	stub := llm.Script("import os\n")
	_, attempts, err := newSynthesizer(stub, 2).Synthesize(context.Background(), newtonDoc())

	var ex *repair.ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if len(attempts) != 3 || len(stub.Calls()) != 3 {
		t.Fatalf("attempts=%d calls=%d", len(attempts), len(stub.Calls()))
	}
	var cv *CodeViolation
	if !errors.As(err, &cv) || cv.Kind != KindForbiddenImport {
		t.Fatalf("last violation=%v", err)
	}
	if failure.Of(err) != failure.RepairExhausted {
		t.Fatalf("category=%s", failure.Of(err))
	}
}

func TestSynthesizeServiceUnavailable(t *testing.T) {
	stub := llm.Failing(errors.New("connection refused"))
	_, attempts, err := newSynthesizer(stub, 3).Synthesize(context.Background(), newtonDoc())
	if failure.Of(err) != failure.ServiceUnavailable {
		t.Fatalf("category=%s err=%v", failure.Of(err), err)
	}
	if len(attempts) != 1 || len(stub.Calls()) != 1 {
		t.Fatalf("attempts=%d calls=%d", len(attempts), len(stub.Calls()))
	}
}

func TestSynthesizeWithFeedback(t *testing.T) {
	doc := newtonDoc()
	stub := llm.Script(Compose(doc))
	runtimeErr := strings.Repeat("x", 10<<10) + "\nNameError: name 'wobble' is not defined"

	if _, _, err := newSynthesizer(stub, 1).SynthesizeWithFeedback(context.Background(), doc, "class Old(Scene): pass", runtimeErr); err != nil {
		t.Fatalf("SynthesizeWithFeedback: %v", err)
	}
	instr := stub.Calls()[0]
	for _, want := range []string{"FAILED_SOURCE:", "class Old(Scene): pass", "RUNTIME_ERROR:", "NameError: name 'wobble' is not defined", DocumentBegin} {
		if !strings.Contains(instr, want) {
			t.Fatalf("instruction missing %q", want)
		}
	}
	if strings.Contains(instr, strings.Repeat("x", 5<<10)) {
		t.Fatalf("runtime error was not truncated")
	}
}

func TestDocumentFromInstructionRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "TASK: ANIMATION_CODE", DocumentBegin + " {not json} " + DocumentEnd, DocumentBegin + "{}"} {
		if _, ok := DocumentFromInstruction(in); ok {
			t.Fatalf("accepted %q", in)
		}
	}
}
