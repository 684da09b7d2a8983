// Package llm is the narrow language-model boundary of the pipeline:
// submit an instruction, get text back, or get a typed unavailability error.
package llm

import (
	"context"
	"fmt"

	"github.com/yungbote/neurobridge-explainer/internal/explainer/failure"
)

type Service interface {
	Submit(ctx context.Context, instruction string) (string, error)
}

// UnavailableError signals that the service could not produce a response at
// all. It is distinct from a malformed response, which callers detect by
// validating the returned text.
type UnavailableError struct {
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *UnavailableError) Error() string {
	if e == nil {
		return "language model unavailable"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("language model unavailable: status=%d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("language model unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Category() failure.Category { return failure.ServiceUnavailable }

type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "upstream http error"
	}
	if e.Body == "" {
		return fmt.Sprintf("upstream http error: status=%d", e.StatusCode)
	}
	return fmt.Sprintf("upstream http error: status=%d body=%s", e.StatusCode, e.Body)
}

func isRetryableStatus(code int) bool {
	if code == 408 || code == 429 {
		return true
	}
	return code >= 500 && code <= 599
}
