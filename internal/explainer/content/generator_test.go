package content

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/yungbote/neurobridge-explainer/internal/explainer/failure"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/llm"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/repair"
)

var newton = TopicRequest{Topic: "Newton's First Law", Level: LevelIntroductory, Domain: DomainPhysics}

func newGenerator(svc llm.Service, budget int) *Generator {
	return NewGenerator(nil, repair.New(nil, svc, budget), GeneratorOptions{
		DurationTolerance:  DefaultDurationTolerance,
		RequireDomainMatch: true,
	})
}

func TestGenerateAcceptsFencedOutput(t *testing.T) {
	valid := string(mustJSON(t, validDocMap()))
	stub := llm.Script("```json\n" + valid + "\n```")

	doc, attempts, err := newGenerator(stub, 3).Generate(context.Background(), newton)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if doc.Title != "Newton's First Law" || len(attempts) != 1 || !attempts[0].Accepted {
		t.Fatalf("doc=%q attempts=%+v", doc.Title, attempts)
	}

	instr := stub.Calls()[0]
	for _, want := range []string{TaskMarker, TopicPrefix + "Newton's First Law", DomainPrefix + "physics", LevelPrefix + "introductory", "OUTPUT_SHAPE"} {
		if !strings.Contains(instr, want) {
			t.Fatalf("instruction missing %q", want)
		}
	}
}

func TestGenerateRepairsSchemaViolation(t *testing.T) {
	broken := validDocMap()
	delete(broken, "vocabulary")
	stub := llm.Script(string(mustJSON(t, broken)), string(mustJSON(t, validDocMap())))

	doc, attempts, err := newGenerator(stub, 3).Generate(context.Background(), newton)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(doc.Vocabulary) != 2 || len(attempts) != 2 {
		t.Fatalf("vocabulary=%v attempts=%d", doc.Vocabulary, len(attempts))
	}
	retry := stub.Calls()[1]
	if !strings.Contains(retry, "schema violation at vocabulary: missing_field") {
		t.Fatalf("retry instruction lacks the violation:\n%s", retry)
	}
}

func TestGenerateExhaustsWithLastViolation(t *testing.T) {
	m := validDocMap()
	m["domain"] = "chemistry"
	stub := llm.Script(string(mustJSON(t, m)))

	_, attempts, err := newGenerator(stub, 2).Generate(context.Background(), newton)
	var ex *repair.ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if ex.Stage != repair.StageContent || ex.Attempts != 3 || len(attempts) != 3 {
		t.Fatalf("stage=%s attempts=%d records=%d", ex.Stage, ex.Attempts, len(attempts))
	}
	var sv *SchemaViolation
	if !errors.As(err, &sv) || sv.Field != "domain" {
		t.Fatalf("last violation=%v", ex.Last)
	}
}

func TestGenerateServiceUnavailable(t *testing.T) {
	stub := llm.Failing(errors.New("dial tcp: connection refused"))
	_, attempts, err := newGenerator(stub, 3).Generate(context.Background(), newton)
	if failure.Of(err) != failure.ServiceUnavailable {
		t.Fatalf("category=%s err=%v", failure.Of(err), err)
	}
	if len(stub.Calls()) != 1 || len(attempts) != 1 {
		t.Fatalf("calls=%d attempts=%d", len(stub.Calls()), len(attempts))
	}
}

func TestGenerateRejectsInvalidRequest(t *testing.T) {
	stub := llm.Script("{}")
	_, _, err := newGenerator(stub, 3).Generate(context.Background(), TopicRequest{Topic: "x", Level: "guru", Domain: DomainPhysics})
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(stub.Calls()) != 0 {
		t.Fatalf("model must not be called for an invalid request")
	}
}

func TestBuildInstructionIsFixedPerDomainAndLevel(t *testing.T) {
	for _, d := range Domains {
		for _, l := range Levels {
			req := TopicRequest{Topic: "t", Level: l, Domain: d}
			a := BuildInstruction(req, DefaultDurationTolerance)
			b := BuildInstruction(req, DefaultDurationTolerance)
			if a != b {
				t.Fatalf("%s/%s: instruction not deterministic", d, l)
			}
			if !strings.Contains(a, domainGuidance[d]) || !strings.Contains(a, levelProfiles[l].audience) {
				t.Fatalf("%s/%s: missing guidance", d, l)
			}
		}
	}
}
