// Package content owns the Content Document: its wire format, the schema
// validator and the generation stage that produces it from a topic.
package content

import (
	"errors"
	"fmt"
	"strings"
)

type Level string

const (
	LevelIntroductory Level = "introductory"
	LevelIntermediate Level = "intermediate"
	LevelAdvanced     Level = "advanced"
)

var Levels = []Level{LevelIntroductory, LevelIntermediate, LevelAdvanced}

func (l Level) Valid() bool {
	for _, v := range Levels {
		if l == v {
			return true
		}
	}
	return false
}

func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("unknown level %q (want one of %s)", s, joinEnum(Levels))
	}
	return l, nil
}

type Domain string

const (
	DomainPhysics         Domain = "physics"
	DomainChemistry       Domain = "chemistry"
	DomainBiology         Domain = "biology"
	DomainEarthScience    Domain = "earth-science"
	DomainMathematics     Domain = "mathematics"
	DomainComputerScience Domain = "computer-science"
)

var Domains = []Domain{
	DomainPhysics,
	DomainChemistry,
	DomainBiology,
	DomainEarthScience,
	DomainMathematics,
	DomainComputerScience,
}

func (d Domain) Valid() bool {
	for _, v := range Domains {
		if d == v {
			return true
		}
	}
	return false
}

func ParseDomain(s string) (Domain, error) {
	d := Domain(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("unknown domain %q (want one of %s)", s, joinEnum(Domains))
	}
	return d, nil
}

func joinEnum[T ~string](vals []T) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}

// TopicRequest is passed by value and never modified after submission.
type TopicRequest struct {
	Topic  string `json:"topic" yaml:"topic"`
	Level  Level  `json:"level" yaml:"level"`
	Domain Domain `json:"domain" yaml:"domain"`
}

const maxTopicLen = 500

func (r TopicRequest) Validate() error {
	topic := strings.TrimSpace(r.Topic)
	if topic == "" {
		return errors.New("topic is required")
	}
	if len(topic) > maxTopicLen {
		return fmt.Errorf("topic too long (%d > %d)", len(topic), maxTopicLen)
	}
	if !r.Level.Valid() {
		return fmt.Errorf("unknown level %q", r.Level)
	}
	if !r.Domain.Valid() {
		return fmt.Errorf("unknown domain %q", r.Domain)
	}
	return nil
}

// Document is the validated intermediate representation handed from the
// content stage to code synthesis. Its JSON tags are a stable wire format.
type Document struct {
	Title            string   `json:"title"`
	Introduction     string   `json:"introduction"`
	Steps            []Step   `json:"steps"`
	Domain           Domain   `json:"domain"`
	TotalDurationSec int      `json:"total_duration_sec"`
	Prerequisites    []string `json:"prerequisites"`
	Vocabulary       []string `json:"vocabulary"`
}

type Step struct {
	Index             int      `json:"index"`
	Narration         string   `json:"narration"`
	VisualDescription string   `json:"visual_description"`
	Objects           []string `json:"objects"`
	DurationSec       float64  `json:"duration_sec"`
	Equation          *string  `json:"equation,omitempty"`
	Emphasis          []string `json:"emphasis"`
	LearningObjective string   `json:"learning_objective"`
}

// StepDurationSum is the total of all step durations in seconds.
func (d Document) StepDurationSum() float64 {
	var sum float64
	for _, s := range d.Steps {
		sum += s.DurationSec
	}
	return sum
}
