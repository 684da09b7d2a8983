package promptstyle

import "strings"

const marker = "EXPLAINER_PROMPT_STYLE_V1"

// Mode selects the output-format guidance appended to the preamble.
type Mode string

const (
	ModeJSON Mode = "json"
	ModeCode Mode = "code"
)

// Apply prepends a short guidance block to an instruction. It is idempotent:
// instructions that already carry the marker are returned unchanged.
func Apply(instruction string, mode Mode) string {
	base := strings.TrimSpace(instruction)
	if base == "" || strings.Contains(base, marker) {
		return base
	}

	var b strings.Builder
	b.WriteString(marker)
	b.WriteString("\nYou produce material for short educational science videos.")
	b.WriteString("\nFollow the instructions precisely and do not add commentary.")
	switch mode {
	case ModeJSON:
		b.WriteString("\nReturn a single JSON object that conforms to the described shape and contains no extra keys.")
		b.WriteString("\nDo not wrap the JSON in markdown fences.")
	case ModeCode:
		b.WriteString("\nReturn only source code. Do not wrap it in markdown fences or add explanations.")
	}
	b.WriteString("\n---\n")
	b.WriteString(base)
	return strings.TrimSpace(b.String())
}

// StripFences removes a single surrounding markdown code fence, with or
// without a language tag, and trims whitespace.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	firstNL := strings.IndexByte(s, '\n')
	if firstNL == -1 {
		return strings.TrimSpace(strings.Trim(s, "`"))
	}
	s = s[firstNL+1:]
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
