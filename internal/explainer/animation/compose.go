package animation

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/yungbote/neurobridge-explainer/internal/explainer/content"
)

// SceneName derives a class name from a title:
// "Newton's First Law" -> "NewtonsFirstLawScene".
func SceneName(title string) string {
	var b strings.Builder
	upperNext := true
	for _, r := range title {
		switch {
		case r == '\'' || r == '’':
			continue
		case r < 128 && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if b.Len() == 0 && unicode.IsDigit(r) {
				b.WriteString("Topic")
			}
			if upperNext {
				r = unicode.ToUpper(r)
				upperNext = false
			}
			b.WriteRune(r)
		default:
			upperNext = true
		}
	}
	if b.Len() == 0 {
		b.WriteString("Explainer")
	}
	name := b.String()
	if !strings.HasSuffix(name, "Scene") {
		name += "Scene"
	}
	return name
}

var (
	composeShapes = []string{
		"Circle(radius=0.45, color=%s)",
		"Square(side_length=0.8, color=%s)",
		"Triangle(color=%s).scale(0.5)",
		"RegularPolygon(n=6, color=%s).scale(0.5)",
	}
	composeColors = []string{"BLUE", "GREEN", "ORANGE", "PURPLE", "TEAL", "YELLOW"}
)

// Compose renders a document into a scene built only from approved
// primitives. Each step occupies exactly its duration_sec of scene time.
// It is the deterministic baseline used by offline runs.
func Compose(doc content.Document) string {
	var b strings.Builder
	w := func(indent int, format string, args ...any) {
		b.WriteString(strings.Repeat("    ", indent))
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	w(0, "from manim import *")
	b.WriteString("\n\n")
	w(0, "class %s(Scene):", SceneName(doc.Title))
	w(1, "def construct(self):")
	w(2, "title = Text(%s, font_size=40).to_edge(UP)", pyString(doc.Title))
	w(2, "self.add(title)")

	for i, st := range doc.Steps {
		n := i + 1
		reveal, hide, hold := stepTiming(st.DurationSec)

		b.WriteByte('\n')
		w(2, "# step %d", n)
		w(2, "caption_%d = Text(%s, font_size=24).to_edge(DOWN)", n, pyString(wrapText(st.Narration, 48)))
		w(2, "objects_%d = VGroup(", n)
		for j, obj := range st.Objects {
			shape := fmt.Sprintf(composeShapes[j%len(composeShapes)], composeColors[(i+j)%len(composeColors)])
			w(3, "VGroup(%s, Text(%s, font_size=20)).arrange(DOWN, buff=0.15),", shape, pyString(obj))
		}
		w(2, ").arrange(RIGHT, buff=0.8)")

		parts := []string{fmt.Sprintf("FadeIn(caption_%d)", n), fmt.Sprintf("Create(objects_%d)", n)}
		outs := []string{fmt.Sprintf("FadeOut(caption_%d)", n), fmt.Sprintf("FadeOut(objects_%d)", n)}
		if st.Equation != nil && strings.TrimSpace(*st.Equation) != "" {
			w(2, "equation_%d = MathTex(%s).next_to(objects_%d, DOWN, buff=0.5)", n, pyString(*st.Equation), n)
			parts = append(parts, fmt.Sprintf("Write(equation_%d)", n))
			outs = append(outs, fmt.Sprintf("FadeOut(equation_%d)", n))
		}
		w(2, "self.play(%s, run_time=%s)", strings.Join(parts, ", "), pyFloat(reveal))
		if hold > 0 {
			w(2, "self.wait(%s)", pyFloat(hold))
		}
		w(2, "self.play(%s, run_time=%s)", strings.Join(outs, ", "), pyFloat(hide))
	}
	return b.String()
}

// stepTiming splits a step duration into reveal, hold and hide phases that
// add up to d.
func stepTiming(d float64) (reveal, hide, hold float64) {
	reveal = math.Min(1.0, d*0.25)
	hide = math.Min(0.5, d*0.15)
	reveal = math.Round(reveal*1000) / 1000
	hide = math.Round(hide*1000) / 1000
	hold = math.Round((d-reveal-hide)*1000) / 1000
	if hold < 0 {
		hold = 0
	}
	return reveal, hide, hold
}

func pyFloat(f float64) string {
	s := fmt.Sprintf("%.3f", f)
	s = strings.TrimRight(s, "0")
	if strings.HasSuffix(s, ".") {
		s += "0"
	}
	return s
}

// pyString quotes s as a Python string literal.
func pyString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&b, `\x%02x`, r)
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func wrapText(s string, width int) string {
	words := strings.Fields(s)
	var lines []string
	var cur strings.Builder
	for _, word := range words {
		if cur.Len() > 0 && cur.Len()+1+len(word) > width {
			lines = append(lines, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(word)
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	return strings.Join(lines, "\n")
}
