package llm

import (
	"context"
	"errors"
	"sync"
)

// Responder computes the reply to one call. call is 1-based.
type Responder func(call int, instruction string) (string, error)

// Stub is a deterministic Service for tests and offline runs.
type Stub struct {
	mu      sync.Mutex
	respond Responder
	calls   []string
}

func NewStub(r Responder) *Stub {
	return &Stub{respond: r}
}

// Script replays responses in order and repeats the last one once exhausted.
func Script(responses ...string) *Stub {
	return NewStub(func(call int, _ string) (string, error) {
		if len(responses) == 0 {
			return "", errors.New("llm stub: no scripted responses")
		}
		i := call - 1
		if i >= len(responses) {
			i = len(responses) - 1
		}
		return responses[i], nil
	})
}

// Failing returns a Stub whose every call fails with an UnavailableError.
func Failing(err error) *Stub {
	return NewStub(func(int, string) (string, error) {
		return "", &UnavailableError{Retryable: true, Err: err}
	})
}

func (s *Stub) Submit(ctx context.Context, instruction string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.calls = append(s.calls, instruction)
	n := len(s.calls)
	s.mu.Unlock()
	if s.respond == nil {
		return "", errors.New("llm stub: no responder")
	}
	return s.respond(n, instruction)
}

// Calls returns a copy of the instructions received so far.
func (s *Stub) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}
