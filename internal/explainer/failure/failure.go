// Package failure names the terminal failure categories a pipeline run can
// surface. Typed errors in the stage packages report their category through
// the Categorized interface so callers can classify any wrapped error.
package failure

import (
	"context"
	"errors"
)

type Category string

const (
	SchemaViolation         Category = "SchemaViolation"
	CodeValidationViolation Category = "CodeValidationViolation"
	ServiceUnavailable      Category = "ServiceUnavailable"
	RepairExhausted         Category = "RepairExhausted"
	RenderTimeout           Category = "RenderTimeout"
	RenderRuntimeError      Category = "RenderRuntimeError"
	RenderResourceExhausted Category = "RenderResourceExhausted"
	RenderNoOutput          Category = "RenderNoOutput"
	InvalidRequest          Category = "InvalidRequest"
	Canceled                Category = "Canceled"
	Internal                Category = "Internal"
)

type Categorized interface {
	Category() Category
}

// Of returns the category of the first Categorized error in err's chain.
// Context cancellation maps to Canceled; anything else is Internal.
func Of(err error) Category {
	if err == nil {
		return ""
	}
	var c Categorized
	if errors.As(err, &c) {
		return c.Category()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Canceled
	}
	return Internal
}

// IsRender reports whether c is one of the renderer's failure categories.
func IsRender(c Category) bool {
	switch c {
	case RenderTimeout, RenderRuntimeError, RenderResourceExhausted, RenderNoOutput:
		return true
	}
	return false
}
