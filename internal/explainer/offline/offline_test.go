package offline

import (
	"context"
	"testing"

	"github.com/yungbote/neurobridge-explainer/internal/explainer/animation"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/content"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/repair"
)

func TestDocumentIsValidForEveryDomainAndLevel(t *testing.T) {
	for _, d := range content.Domains {
		for _, l := range content.Levels {
			req := content.TopicRequest{Topic: "conservation of energy", Domain: d, Level: l}
			doc := Document(req)
			if _, err := content.ValidateDocument(doc, content.ValidateOptions{
				DurationTolerance: content.DefaultDurationTolerance,
				ExpectDomain:      d,
			}); err != nil {
				t.Fatalf("%s/%s: %v", d, l, err)
			}
			if got := doc.StepDurationSum(); got != float64(doc.TotalDurationSec) {
				t.Fatalf("%s/%s: steps sum to %g, total %d", d, l, got, doc.TotalDurationSec)
			}
		}
	}
}

func TestDocumentIsStable(t *testing.T) {
	req := content.TopicRequest{Topic: "plate tectonics", Domain: content.DomainEarthScience, Level: content.LevelIntermediate}
	a, b := Document(req), Document(req)
	if a.TotalDurationSec != b.TotalDurationSec || len(a.Steps) != len(b.Steps) || a.Title != "Plate Tectonics" {
		t.Fatalf("a=%+v b=%+v", a, b)
	}
}

func TestStubDrivesBothStages(t *testing.T) {
	stub := New()
	rc := repair.New(nil, stub, 0)
	req := content.TopicRequest{Topic: "Newton's First Law", Domain: content.DomainPhysics, Level: content.LevelIntroductory}

	gen := content.NewGenerator(nil, rc, content.GeneratorOptions{DurationTolerance: 0.05, RequireDomainMatch: true})
	doc, _, err := gen.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if doc.Title != "Newton's First Law" {
		t.Fatalf("title=%q", doc.Title)
	}

	syn := animation.NewSynthesizer(nil, rc, animation.NewValidator(nil, animation.ValidatorOptions{}))
	art, _, err := syn.Synthesize(context.Background(), doc)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if art.SceneName != "NewtonsFirstLawScene" {
		t.Fatalf("scene=%q", art.SceneName)
	}
	if n := len(stub.Calls()); n != 2 {
		t.Fatalf("calls=%d", n)
	}
}

func TestRespondRejectsUnknownInstruction(t *testing.T) {
	if _, err := Respond("write me a poem"); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := Respond(content.TaskMarker + "\nTOPIC: x\nDOMAIN: astrology\nLEVEL: introductory\n"); err == nil {
		t.Fatalf("expected error for unknown domain")
	}
}
