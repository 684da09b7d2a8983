package content

import (
	"fmt"
	"strings"

	"github.com/yungbote/neurobridge-explainer/internal/platform/promptstyle"
)

// Markers the offline responder keys on. Changing them breaks --offline runs.
const (
	TaskMarker   = "TASK: CONTENT_DOCUMENT"
	TopicPrefix  = "TOPIC: "
	DomainPrefix = "DOMAIN: "
	LevelPrefix  = "LEVEL: "
)

var domainGuidance = map[Domain]string{
	DomainPhysics: "Build from observable motion and forces toward the governing law. " +
		"Name every force or quantity you draw (e.g. force_arrow, velocity_vector). Use SI units.",
	DomainChemistry: "Show particles, bonds and energy changes explicitly. " +
		"Balance every reaction you write and name species as objects (e.g. water_molecule, sodium_ion).",
	DomainBiology: "Move from structure to function. Depict cells, organelles or organisms as labeled objects " +
		"and show processes as ordered stages.",
	DomainEarthScience: "Tie processes to spatial and time scales (plates, layers, cycles). " +
		"Use cross-sections and arrows for flows of matter or energy.",
	DomainMathematics: "State definitions before results. Each step should introduce exactly one idea, " +
		"with an equation whenever a relation is claimed. Use axes, points and shapes as objects.",
	DomainComputerScience: "Explain with concrete small inputs. Show data structures as boxes and arrows " +
		"and trace an algorithm one state change per step.",
}

type levelProfile struct {
	audience string
	steps    string
	duration string
	math     string
}

var levelProfiles = map[Level]levelProfile{
	LevelIntroductory: {
		audience: "a curious learner with no background in the subject",
		steps:    "3 to 5 steps",
		duration: "between 30 and 90 seconds in total",
		math:     "Avoid equations unless one simple relation is central; explain it in words too.",
	},
	LevelIntermediate: {
		audience: "a high-school or first-year university student",
		steps:    "4 to 7 steps",
		duration: "between 60 and 150 seconds in total",
		math:     "Include the key equations and say what each symbol means.",
	},
	LevelAdvanced: {
		audience: "an upper-level student comfortable with calculus and formal notation",
		steps:    "5 to 9 steps",
		duration: "between 90 and 240 seconds in total",
		math:     "Use precise notation and derive results rather than only stating them.",
	},
}

const documentShape = `{
  "title": string,
  "introduction": string,
  "domain": one of "physics" | "chemistry" | "biology" | "earth-science" | "mathematics" | "computer-science",
  "total_duration_sec": positive integer,
  "steps": [
    {
      "index": integer starting at 1 and increasing by 1,
      "narration": string,
      "visual_description": string,
      "objects": [identifier without spaces, at least one],
      "duration_sec": positive number,
      "equation": LaTeX string or null,
      "emphasis": [string],
      "learning_objective": string
    }
  ],
  "prerequisites": [string],
  "vocabulary": [string]
}`

// BuildInstruction maps a request onto its fixed domain and level guidance.
func BuildInstruction(req TopicRequest, tolerance float64) string {
	prof, ok := levelProfiles[req.Level]
	if !ok {
		prof = levelProfiles[LevelIntroductory]
	}
	guide := domainGuidance[req.Domain]

	var b strings.Builder
	b.WriteString(TaskMarker + "\n")
	b.WriteString(TopicPrefix + strings.TrimSpace(req.Topic) + "\n")
	b.WriteString(DomainPrefix + string(req.Domain) + "\n")
	b.WriteString(LevelPrefix + string(req.Level) + "\n\n")

	fmt.Fprintf(&b, "Write a step-by-step explanation of the topic for %s.\n", prof.audience)
	fmt.Fprintf(&b, "Use %s, %s.\n", prof.steps, prof.duration)
	b.WriteString(prof.math + "\n")
	if guide != "" {
		b.WriteString(guide + "\n")
	}
	b.WriteString("Every step must be drawable: the visual_description says what appears on screen and the objects list names each drawn thing.\n")
	fmt.Fprintf(&b, "The step durations must add up to total_duration_sec (at most %.0f%% over).\n", tolerance*100)
	fmt.Fprintf(&b, "Set \"domain\" to %q.\n\n", string(req.Domain))
	b.WriteString("OUTPUT_SHAPE:\n")
	b.WriteString(documentShape)

	return promptstyle.Apply(b.String(), promptstyle.ModeJSON)
}
