// Package animation turns a validated content document into animation source
// code and statically checks that code before it is ever executed.
package animation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/yungbote/neurobridge-explainer/internal/explainer/failure"
	"github.com/yungbote/neurobridge-explainer/internal/platform/logger"
)

type ViolationKind string

const (
	KindEmpty               ViolationKind = "empty"
	KindSyntax              ViolationKind = "syntax"
	KindForbiddenImport     ViolationKind = "forbidden_import"
	KindDenylistedCall      ViolationKind = "denylisted_call"
	KindSceneCount          ViolationKind = "scene_count"
	KindMissingConstruct    ViolationKind = "missing_construct"
	KindDisallowedPrimitive ViolationKind = "disallowed_primitive"
)

// CodeViolation is the first defect found in a source unit. Identifier holds
// the offending name when there is one.
type CodeViolation struct {
	Kind       ViolationKind
	Identifier string
	Line       int
	Detail     string
}

func (v *CodeViolation) Error() string {
	if v == nil {
		return "code violation"
	}
	var b strings.Builder
	b.WriteString("code violation: ")
	b.WriteString(string(v.Kind))
	if v.Line > 0 {
		fmt.Fprintf(&b, " at line %d", v.Line)
	}
	if v.Identifier != "" && !strings.Contains(v.Detail, v.Identifier) {
		fmt.Fprintf(&b, ": %s", v.Identifier)
	}
	if v.Detail != "" {
		b.WriteString(": ")
		b.WriteString(v.Detail)
	}
	return b.String()
}

func (v *CodeViolation) Category() failure.Category { return failure.CodeValidationViolation }

// Artifact is a source unit that passed validation. It is not modified after.
type Artifact struct {
	Source      string `json:"source"`
	SceneName   string `json:"scene_name"`
	ContentHash string `json:"content_hash"`
}

// SyntaxProbe parses source with the real interpreter. A *ProbeRejection
// means the source is invalid; any other error means the probe itself failed.
type SyntaxProbe interface {
	Probe(ctx context.Context, source string) error
}

type ProbeRejection struct {
	Line    int
	Message string
}

func (e *ProbeRejection) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

type ValidatorOptions struct {
	ExtraPrimitives []string
	Probe           SyntaxProbe
}

type Validator struct {
	log          *logger.Logger
	constructors map[string]bool
	functions    map[string]bool
	probe        SyntaxProbe
}

func NewValidator(log *logger.Logger, opts ValidatorOptions) *Validator {
	if log == nil {
		log = logger.Nop()
	}
	v := &Validator{
		log:          log.With("component", "code_validator"),
		constructors: make(map[string]bool, len(constructors)+len(opts.ExtraPrimitives)),
		functions:    make(map[string]bool, len(functions)),
		probe:        opts.Probe,
	}
	for k := range constructors {
		v.constructors[k] = true
	}
	for k := range functions {
		v.functions[k] = true
	}
	for _, p := range opts.ExtraPrimitives {
		p = strings.TrimSpace(p)
		if p == "" || deniedNames[p] || deniedAttributes[p] {
			continue
		}
		if r := []rune(p)[0]; unicode.IsUpper(r) {
			v.constructors[p] = true
		} else {
			v.functions[p] = true
		}
	}
	return v
}

// Validate runs the static checks only.
func (v *Validator) Validate(source string) (Artifact, error) {
	return v.check(source)
}

// ValidateContext runs the static checks, then the syntax probe when one is
// configured. A probe that cannot run is logged and skipped.
func (v *Validator) ValidateContext(ctx context.Context, source string) (Artifact, error) {
	art, err := v.check(source)
	if err != nil || v.probe == nil {
		return art, err
	}
	perr := v.probe.Probe(ctx, art.Source)
	if perr == nil {
		return art, nil
	}
	var rej *ProbeRejection
	if errors.As(perr, &rej) {
		return Artifact{}, &CodeViolation{Kind: KindSyntax, Line: rej.Line, Detail: rej.Message}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Artifact{}, ctxErr
	}
	v.log.Warn("syntax probe unavailable; relying on static checks", "error", perr)
	return art, nil
}

func (v *Validator) check(source string) (Artifact, error) {
	src := strings.TrimSpace(source)
	if src == "" {
		return Artifact{}, &CodeViolation{Kind: KindEmpty, Detail: "source is empty"}
	}
	src += "\n"

	toks, err := scan(src)
	if err != nil {
		var se *scanError
		if errors.As(err, &se) {
			return Artifact{}, &CodeViolation{Kind: KindSyntax, Line: se.line, Detail: se.msg}
		}
		return Artifact{}, &CodeViolation{Kind: KindSyntax, Detail: err.Error()}
	}

	a := newAnalysis(toks)
	checks := []func() *CodeViolation{
		a.checkBlocks,
		a.checkImports,
		a.checkDenylist,
		a.checkSceneCount,
		a.checkConstruct,
		func() *CodeViolation { return a.checkPrimitives(v.constructors, v.functions) },
	}
	for _, c := range checks {
		if cv := c(); cv != nil {
			return Artifact{}, cv
		}
	}

	sum := sha256.Sum256([]byte(src))
	return Artifact{
		Source:      src,
		SceneName:   a.scene.name,
		ContentHash: hex.EncodeToString(sum[:]),
	}, nil
}
