package content

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/yungbote/neurobridge-explainer/internal/explainer/failure"
)

type ViolationKind string

const (
	KindMalformed           ViolationKind = "malformed"
	KindMissingField        ViolationKind = "missing_field"
	KindWrongType           ViolationKind = "wrong_type"
	KindEmptySequence       ViolationKind = "empty_sequence"
	KindNonPositiveDuration ViolationKind = "non_positive_duration"
	KindInvalidEnum         ViolationKind = "invalid_enum"
	KindOutOfOrder          ViolationKind = "out_of_order"
	KindInvalidToken        ViolationKind = "invalid_token"
	KindDurationSum         ViolationKind = "duration_sum"
)

// SchemaViolation names the first field that failed validation.
type SchemaViolation struct {
	Field  string
	Kind   ViolationKind
	Detail string
}

func (v *SchemaViolation) Error() string {
	if v == nil {
		return "schema violation"
	}
	if v.Detail == "" {
		return fmt.Sprintf("schema violation at %s: %s", v.Field, v.Kind)
	}
	return fmt.Sprintf("schema violation at %s: %s: %s", v.Field, v.Kind, v.Detail)
}

func (v *SchemaViolation) Category() failure.Category { return failure.SchemaViolation }

const DefaultDurationTolerance = 0.05

const maxDocumentBytes = 1 << 20

type ValidateOptions struct {
	// DurationTolerance is the allowed relative overshoot of the summed step
	// durations over total_duration_sec.
	DurationTolerance float64
	// ExpectDomain, when set, must equal the document's domain.
	ExpectDomain Domain
}

func violation(field string, kind ViolationKind, format string, args ...any) *SchemaViolation {
	return &SchemaViolation{Field: field, Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Validate parses untrusted bytes and returns the Document or the first
// violated field. Fields are checked in a fixed order so the same input
// always produces the same violation.
func Validate(raw []byte, opts ValidateOptions) (Document, error) {
	var doc Document

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return doc, violation("$", KindMalformed, "empty document")
	}
	if len(raw) > maxDocumentBytes {
		return doc, violation("$", KindMalformed, "document too large (%d > %d bytes)", len(raw), maxDocumentBytes)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var top any
	if err := dec.Decode(&top); err != nil {
		return doc, violation("$", KindMalformed, "invalid JSON: %v", err)
	}
	if dec.More() {
		return doc, violation("$", KindMalformed, "trailing data after JSON object")
	}
	m, ok := top.(map[string]any)
	if !ok {
		return doc, violation("$", KindWrongType, "expected a JSON object, got %s", typeName(top))
	}

	var v *SchemaViolation
	if doc.Title, v = requireText(m, "title", "title"); v != nil {
		return Document{}, v
	}
	if doc.Introduction, v = requireText(m, "introduction", "introduction"); v != nil {
		return Document{}, v
	}

	domain, v := requireText(m, "domain", "domain")
	if v != nil {
		return Document{}, v
	}
	doc.Domain = Domain(strings.ToLower(domain))
	if !doc.Domain.Valid() {
		return Document{}, violation("domain", KindInvalidEnum, "%q is not one of %s", domain, joinEnum(Domains))
	}
	if opts.ExpectDomain != "" && doc.Domain != opts.ExpectDomain {
		return Document{}, violation("domain", KindInvalidEnum, "%q does not match requested domain %q", doc.Domain, opts.ExpectDomain)
	}

	total, v := requireNumber(m, "total_duration_sec", "total_duration_sec")
	if v != nil {
		return Document{}, v
	}
	if total != math.Trunc(total) {
		return Document{}, violation("total_duration_sec", KindWrongType, "must be an integer number of seconds, got %g", total)
	}
	if total <= 0 {
		return Document{}, violation("total_duration_sec", KindNonPositiveDuration, "must be > 0, got %g", total)
	}
	doc.TotalDurationSec = int(total)

	rawSteps, v := requireArray(m, "steps", "steps")
	if v != nil {
		return Document{}, v
	}
	if len(rawSteps) == 0 {
		return Document{}, violation("steps", KindEmptySequence, "at least one step is required")
	}
	doc.Steps = make([]Step, 0, len(rawSteps))
	for i, rs := range rawSteps {
		step, v := validateStep(i, rs)
		if v != nil {
			return Document{}, v
		}
		doc.Steps = append(doc.Steps, step)
	}

	if doc.Prerequisites, v = requireStringList(m, "prerequisites", "prerequisites"); v != nil {
		return Document{}, v
	}
	if doc.Vocabulary, v = requireStringList(m, "vocabulary", "vocabulary"); v != nil {
		return Document{}, v
	}

	tol := opts.DurationTolerance
	if tol < 0 {
		tol = 0
	}
	sum := doc.StepDurationSum()
	limit := float64(doc.TotalDurationSec) * (1 + tol)
	if sum > limit+1e-9 {
		return Document{}, violation("steps", KindDurationSum,
			"sum of step durations %.2fs exceeds total_duration_sec %d by more than %.1f%%",
			sum, doc.TotalDurationSec, tol*100)
	}

	return doc, nil
}

// ValidateDocument re-checks an already typed document through the same
// rules as Validate.
func ValidateDocument(doc Document, opts ValidateOptions) (Document, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return Document{}, violation("$", KindMalformed, "encode: %v", err)
	}
	return Validate(b, opts)
}

func validateStep(i int, raw any) (Step, *SchemaViolation) {
	prefix := fmt.Sprintf("steps[%d]", i)
	var step Step

	m, ok := raw.(map[string]any)
	if !ok {
		return step, violation(prefix, KindWrongType, "expected an object, got %s", typeName(raw))
	}

	idx, v := requireNumber(m, "index", prefix+".index")
	if v != nil {
		return step, v
	}
	if idx != math.Trunc(idx) {
		return step, violation(prefix+".index", KindWrongType, "must be an integer, got %g", idx)
	}
	if int(idx) != i+1 {
		return step, violation(prefix+".index", KindOutOfOrder, "expected %d, got %d", i+1, int(idx))
	}
	step.Index = int(idx)

	if step.Narration, v = requireText(m, "narration", prefix+".narration"); v != nil {
		return step, v
	}
	if step.VisualDescription, v = requireText(m, "visual_description", prefix+".visual_description"); v != nil {
		return step, v
	}

	objs, v := requireStringList(m, "objects", prefix+".objects")
	if v != nil {
		return step, v
	}
	if len(objs) == 0 {
		return step, violation(prefix+".objects", KindEmptySequence, "at least one object identifier is required")
	}
	for j, o := range objs {
		if !isToken(o) {
			return step, violation(fmt.Sprintf("%s.objects[%d]", prefix, j), KindInvalidToken, "%q must be a non-empty token without whitespace", o)
		}
	}
	step.Objects = objs

	dur, v := requireNumber(m, "duration_sec", prefix+".duration_sec")
	if v != nil {
		return step, v
	}
	if dur <= 0 {
		return step, violation(prefix+".duration_sec", KindNonPositiveDuration, "must be > 0, got %g", dur)
	}
	step.DurationSec = dur

	if eq, present := m["equation"]; present && eq != nil {
		s, ok := eq.(string)
		if !ok {
			return step, violation(prefix+".equation", KindWrongType, "expected a string or null, got %s", typeName(eq))
		}
		if s = strings.TrimSpace(s); s != "" {
			step.Equation = &s
		}
	}

	step.Emphasis = []string{}
	if em, present := m["emphasis"]; present && em != nil {
		list, v := stringList(em, prefix+".emphasis")
		if v != nil {
			return step, v
		}
		step.Emphasis = list
	}

	if step.LearningObjective, v = requireText(m, "learning_objective", prefix+".learning_objective"); v != nil {
		return step, v
	}
	return step, nil
}

func requireText(m map[string]any, key, field string) (string, *SchemaViolation) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return "", violation(field, KindMissingField, "required")
	}
	s, ok := raw.(string)
	if !ok {
		return "", violation(field, KindWrongType, "expected a string, got %s", typeName(raw))
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", violation(field, KindMissingField, "must not be empty")
	}
	return s, nil
}

func requireNumber(m map[string]any, key, field string) (float64, *SchemaViolation) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return 0, violation(field, KindMissingField, "required")
	}
	n, ok := raw.(json.Number)
	if !ok {
		return 0, violation(field, KindWrongType, "expected a number, got %s", typeName(raw))
	}
	f, err := n.Float64()
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, violation(field, KindWrongType, "number %s out of range", n.String())
	}
	return f, nil
}

func requireArray(m map[string]any, key, field string) ([]any, *SchemaViolation) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return nil, violation(field, KindMissingField, "required")
	}
	arr, ok := raw.([]any)
	if !ok {
		return nil, violation(field, KindWrongType, "expected an array, got %s", typeName(raw))
	}
	return arr, nil
}

func requireStringList(m map[string]any, key, field string) ([]string, *SchemaViolation) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return nil, violation(field, KindMissingField, "required")
	}
	return stringList(raw, field)
}

func stringList(raw any, field string) ([]string, *SchemaViolation) {
	arr, ok := raw.([]any)
	if !ok {
		return nil, violation(field, KindWrongType, "expected an array of strings, got %s", typeName(raw))
	}
	out := make([]string, 0, len(arr))
	for i, item := range arr {
		s, ok := item.(string)
		if !ok {
			return nil, violation(fmt.Sprintf("%s[%d]", field, i), KindWrongType, "expected a string, got %s", typeName(item))
		}
		out = append(out, strings.TrimSpace(s))
	}
	return out, nil
}

func isToken(s string) bool {
	return s != "" && strings.IndexFunc(s, unicode.IsSpace) == -1
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case json.Number, float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
