package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yungbote/neurobridge-explainer/internal/config"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/failure"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
	}
}

func testConfig() config.LLMConfig {
	return config.LLMConfig{
		Mode:       "http",
		BaseURL:    "http://upstream/",
		APIKey:     "sk-test",
		Model:      "test-model",
		Timeout:    config.D(2 * time.Second),
		MaxRetries: 2,
	}
}

func newTestClient(t *testing.T, cfg config.LLMConfig, rt roundTripperFunc) *HTTPClient {
	t.Helper()
	c, err := NewHTTPClientWith(nil, cfg, &http.Client{Transport: rt})
	if err != nil {
		t.Fatalf("NewHTTPClientWith: %v", err)
	}
	c.backoff = time.Millisecond
	return c
}

func TestSubmitSendsChatRequest(t *testing.T) {
	c := newTestClient(t, testConfig(), func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		if got := req.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Fatalf("authorization=%q", got)
		}
		var in chatCompletionRequest
		if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
			t.Fatalf("decode req: %v", err)
		}
		if in.Model != "test-model" {
			t.Fatalf("model=%q", in.Model)
		}
		if len(in.Messages) != 2 || in.Messages[1].Role != "user" || in.Messages[1].Content != "explain inertia" {
			t.Fatalf("messages=%+v", in.Messages)
		}
		return jsonResponse(http.StatusOK, `{"choices":[{"message":{"content":"{\"title\":\"x\"}"}}]}`), nil
	})

	got, err := c.Submit(context.Background(), "explain inertia")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got != `{"title":"x"}` {
		t.Fatalf("got=%q", got)
	}
}

func TestSubmitRetriesTransientStatus(t *testing.T) {
	var calls int32
	c := newTestClient(t, testConfig(), func(req *http.Request) (*http.Response, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return jsonResponse(http.StatusServiceUnavailable, `{"error":"busy"}`), nil
		}
		return jsonResponse(http.StatusOK, `{"choices":[{"text":"ok"}]}`), nil
	})

	got, err := c.Submit(context.Background(), "x")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got != "ok" || atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("got=%q calls=%d", got, calls)
	}
}

func TestSubmitUnavailableAfterRetries(t *testing.T) {
	var calls int32
	c := newTestClient(t, testConfig(), func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return jsonResponse(http.StatusTooManyRequests, `rate limited`), nil
	})

	_, err := c.Submit(context.Background(), "x")
	var uerr *UnavailableError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UnavailableError, got %v", err)
	}
	if uerr.StatusCode != http.StatusTooManyRequests || !uerr.Retryable {
		t.Fatalf("uerr=%+v", uerr)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("calls=%d want 3", calls)
	}
	if failure.Of(err) != failure.ServiceUnavailable {
		t.Fatalf("category=%s", failure.Of(err))
	}
}

func TestSubmitDoesNotRetryClientError(t *testing.T) {
	var calls int32
	c := newTestClient(t, testConfig(), func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return jsonResponse(http.StatusUnauthorized, `bad key`), nil
	})

	_, err := c.Submit(context.Background(), "x")
	var uerr *UnavailableError
	if !errors.As(err, &uerr) || uerr.Retryable {
		t.Fatalf("expected non-retryable UnavailableError, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls=%d", calls)
	}
}

func TestSubmitTransportErrorIsUnavailable(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 0
	c := newTestClient(t, cfg, func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	_, err := c.Submit(context.Background(), "x")
	var uerr *UnavailableError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UnavailableError, got %v", err)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("err=%v", err)
	}
}

func TestSubmitEmptyCompletionIsNotAnOutage(t *testing.T) {
	c := newTestClient(t, testConfig(), func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"choices":[]}`), nil
	})
	got, err := c.Submit(context.Background(), "x")
	if err != nil || got != "" {
		t.Fatalf("got=%q err=%v", got, err)
	}
}

func TestSubmitCanceledContext(t *testing.T) {
	c := newTestClient(t, testConfig(), func(req *http.Request) (*http.Response, error) {
		t.Fatalf("no request expected")
		return nil, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Submit(ctx, "x")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
}

func TestNewHTTPClientValidates(t *testing.T) {
	cfg := testConfig()
	cfg.BaseURL = ""
	if _, err := NewHTTPClient(nil, cfg); err == nil {
		t.Fatalf("expected base_url error")
	}
	cfg = testConfig()
	cfg.Model = " "
	if _, err := NewHTTPClient(nil, cfg); err == nil {
		t.Fatalf("expected model error")
	}
}

func TestScriptStub(t *testing.T) {
	s := Script("a", "b")
	ctx := context.Background()
	for i, want := range []string{"a", "b", "b"} {
		got, err := s.Submit(ctx, "q")
		if err != nil || got != want {
			t.Fatalf("call %d: got=%q err=%v", i+1, got, err)
		}
	}
	if len(s.Calls()) != 3 {
		t.Fatalf("calls=%d", len(s.Calls()))
	}

	_, err := Failing(errors.New("down")).Submit(ctx, "q")
	if failure.Of(err) != failure.ServiceUnavailable {
		t.Fatalf("category=%s", failure.Of(err))
	}
}
