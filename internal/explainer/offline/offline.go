// Package offline answers pipeline instructions without a language model.
// Replies are derived from the instruction text only, so runs are
// reproducible and need no network.
package offline

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/yungbote/neurobridge-explainer/internal/explainer/animation"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/content"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/llm"
)

type domainKit struct {
	objects  [][]string
	equation string
	prereqs  []string
	vocab    []string
}

var kits = map[content.Domain]domainKit{
	content.DomainPhysics: {
		objects:  [][]string{{"body", "ground"}, {"body", "force_arrow"}, {"body", "velocity_vector"}, {"graph", "axes"}},
		equation: `\vec{F}_{net} = m\vec{a}`,
		prereqs:  []string{"velocity", "force"},
		vocab:    []string{"inertia", "net force", "acceleration"},
	},
	content.DomainChemistry: {
		objects:  [][]string{{"reactant_a", "reactant_b"}, {"bond", "energy_arrow"}, {"product"}, {"energy_diagram"}},
		equation: `A + B \rightarrow AB`,
		prereqs:  []string{"atoms", "chemical bonds"},
		vocab:    []string{"reactant", "product", "activation energy"},
	},
	content.DomainBiology: {
		objects:  [][]string{{"cell", "membrane"}, {"organelle", "label"}, {"input_arrow", "output_arrow"}, {"cycle"}},
		equation: "",
		prereqs:  []string{"cells"},
		vocab:    []string{"organelle", "membrane", "metabolism"},
	},
	content.DomainEarthScience: {
		objects:  [][]string{{"crust", "mantle"}, {"plate_a", "plate_b"}, {"flow_arrow"}, {"timeline"}},
		equation: "",
		prereqs:  []string{"layers of the earth"},
		vocab:    []string{"plate", "convection", "erosion"},
	},
	content.DomainMathematics: {
		objects:  [][]string{{"axes", "point"}, {"curve"}, {"tangent_line", "point"}, {"area"}},
		equation: `f(x) = x^2`,
		prereqs:  []string{"functions"},
		vocab:    []string{"function", "slope", "limit"},
	},
	content.DomainComputerScience: {
		objects:  [][]string{{"array", "index"}, {"pointer", "array"}, {"swap_arrow"}, {"sorted_array"}},
		equation: `O(n \log n)`,
		prereqs:  []string{"arrays"},
		vocab:    []string{"algorithm", "complexity", "invariant"},
	},
}

var stepShapes = []struct {
	narration string
	visual    string
	objective string
}{
	{"Here is the situation we want to understand about {topic}.", "The starting picture, with every part labeled.", "Recognize the parts involved in {topic}."},
	{"Now watch what changes when one thing is varied.", "The same picture with one quantity highlighted and changing.", "Identify the key quantity behind {topic}."},
	{"The change follows a simple rule.", "The rule is written next to the picture as it plays out.", "State the rule that governs {topic}."},
	{"Putting it together, the rule explains what we saw.", "A summary view of all the earlier pieces.", "Explain {topic} in your own words."},
}

// New returns a stub language model backed by Respond.
func New() *llm.Stub {
	return llm.NewStub(func(_ int, instruction string) (string, error) {
		return Respond(instruction)
	})
}

// Respond produces the reply for one instruction. Content instructions get a
// document, code instructions get a composed scene for the embedded document.
func Respond(instruction string) (string, error) {
	switch {
	case strings.Contains(instruction, animation.TaskMarker):
		doc, ok := animation.DocumentFromInstruction(instruction)
		if !ok {
			return "", fmt.Errorf("offline: code instruction carries no readable document")
		}
		return animation.Compose(doc), nil
	case strings.Contains(instruction, content.TaskMarker):
		req, err := requestFromInstruction(instruction)
		if err != nil {
			return "", err
		}
		b, err := json.MarshalIndent(Document(req), "", "  ")
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	return "", fmt.Errorf("offline: unrecognized instruction")
}

func requestFromInstruction(instr string) (content.TopicRequest, error) {
	var req content.TopicRequest
	for _, line := range strings.Split(instr, "\n") {
		switch {
		case strings.HasPrefix(line, content.TopicPrefix):
			req.Topic = strings.TrimSpace(strings.TrimPrefix(line, content.TopicPrefix))
		case strings.HasPrefix(line, content.DomainPrefix):
			req.Domain = content.Domain(strings.TrimSpace(strings.TrimPrefix(line, content.DomainPrefix)))
		case strings.HasPrefix(line, content.LevelPrefix):
			req.Level = content.Level(strings.TrimSpace(strings.TrimPrefix(line, content.LevelPrefix)))
		}
	}
	if err := req.Validate(); err != nil {
		return req, fmt.Errorf("offline: %w", err)
	}
	return req, nil
}

// Document builds a valid content document for req. The step count and
// durations vary with the topic text but are stable for a given request.
func Document(req content.TopicRequest) content.Document {
	kit, ok := kits[req.Domain]
	if !ok {
		kit = kits[content.DomainPhysics]
	}
	h := sha256.Sum256([]byte(string(req.Domain) + "\n" + string(req.Level) + "\n" + req.Topic))
	seed := binary.LittleEndian.Uint32(h[:4])

	n := 3 + int(seed%2)
	if req.Level == content.LevelAdvanced {
		n = 4
	}
	base := 6 + int(seed%5)
	if req.Level != content.LevelIntroductory {
		base += 4
	}

	topic := strings.TrimSpace(req.Topic)
	steps := make([]content.Step, 0, n)
	total := 0
	for i := 0; i < n; i++ {
		shape := stepShapes[i%len(stepShapes)]
		dur := base + i*2
		total += dur
		st := content.Step{
			Index:             i + 1,
			Narration:         strings.ReplaceAll(shape.narration, "{topic}", topic),
			VisualDescription: shape.visual,
			Objects:           append([]string(nil), kit.objects[i%len(kit.objects)]...),
			DurationSec:       float64(dur),
			Emphasis:          []string{},
			LearningObjective: strings.ReplaceAll(shape.objective, "{topic}", topic),
		}
		if i == 2 && kit.equation != "" {
			eq := kit.equation
			st.Equation = &eq
			st.Emphasis = []string{"rule"}
		}
		steps = append(steps, st)
	}

	return content.Document{
		Title:            titleCase(topic),
		Introduction:     fmt.Sprintf("A short visual explanation of %s.", topic),
		Steps:            steps,
		Domain:           req.Domain,
		TotalDurationSec: total,
		Prerequisites:    append([]string(nil), kit.prereqs...),
		Vocabulary:       append([]string(nil), kit.vocab...),
	}
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
