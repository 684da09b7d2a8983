package promptstyle

import (
	"strings"
	"testing"
)

func TestStripFences(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "python fence",
			input:    "```python\nfrom manim import *\n```",
			expected: "from manim import *",
		},
		{
			name:     "json fence",
			input:    "```json\n{\"a\": 1}\n```",
			expected: "{\"a\": 1}",
		},
		{
			name:     "bare fence",
			input:    "```\nx = 1\n```",
			expected: "x = 1",
		},
		{
			name:     "no fence",
			input:    "  x = 1  \n",
			expected: "x = 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripFences(tt.input); got != tt.expected {
				t.Errorf("StripFences() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	once := Apply("Explain gravity.", ModeJSON)
	if !strings.HasPrefix(once, marker) {
		t.Fatalf("missing marker")
	}
	if twice := Apply(once, ModeJSON); twice != once {
		t.Fatalf("Apply not idempotent")
	}
	if Apply("   ", ModeCode) != "" {
		t.Fatalf("blank instruction should stay blank")
	}
}
