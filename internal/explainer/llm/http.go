package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/yungbote/neurobridge-explainer/internal/config"
	"github.com/yungbote/neurobridge-explainer/internal/platform/logger"
)

const systemPrompt = "You generate artifacts for an automated educational video pipeline. " +
	"Follow the requested output format exactly. Never add commentary outside the artifact."

// HTTPClient talks to an OpenAI-compatible chat completions endpoint.
type HTTPClient struct {
	log *logger.Logger

	baseURL     string
	apiKey      string
	model       string
	chatPath    string
	timeout     time.Duration
	temperature float64
	maxRetries  int
	backoff     time.Duration

	limiter    *rate.Limiter
	httpClient *http.Client
	tracer     trace.Tracer
}

func NewHTTPClient(log *logger.Logger, cfg config.LLMConfig) (*HTTPClient, error) {
	if log == nil {
		log = logger.Nop()
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("llm: base_url required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, errors.New("llm: model required")
	}
	chatPath := strings.TrimSpace(cfg.ChatPath)
	if chatPath == "" {
		chatPath = "/v1/chat/completions"
	}
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &HTTPClient{
		log:         log.With("component", "llm"),
		baseURL:     baseURL,
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		chatPath:    chatPath,
		timeout:     timeout,
		temperature: cfg.Temperature,
		maxRetries:  maxRetries,
		backoff:     time.Second,
		limiter:     limiter,
		httpClient:  &http.Client{Transport: tr},
		tracer:      otel.Tracer("github.com/yungbote/neurobridge-explainer/internal/explainer/llm"),
	}, nil
}

// NewHTTPClientWith is intended for tests; it avoids network access by using a custom RoundTripper.
func NewHTTPClientWith(log *logger.Logger, cfg config.LLMConfig, httpClient *http.Client) (*HTTPClient, error) {
	c, err := NewHTTPClient(log, cfg)
	if err != nil {
		return nil, err
	}
	if httpClient != nil {
		c.httpClient = httpClient
	}
	return c, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content,omitempty"`
		} `json:"message,omitempty"`
		Text string `json:"text,omitempty"`
	} `json:"choices"`
}

// Submit sends one instruction and returns the raw completion text. An empty
// completion is returned as "" with no error: it is a malformed response for
// the caller's validator to reject, not an outage.
func (c *HTTPClient) Submit(ctx context.Context, instruction string) (string, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return "", errors.New("llm: empty instruction")
	}

	ctx, span := c.tracer.Start(ctx, "llm.submit", trace.WithAttributes(
		attribute.String("llm.model", c.model),
		attribute.Int("llm.instruction_bytes", len(instruction)),
	))
	defer span.End()

	reqBody := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: instruction},
		},
		Temperature: c.temperature,
	}

	var resp chatCompletionResponse
	if err := c.doWithRetry(ctx, reqBody, &resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	text := extractChatText(resp)
	span.SetAttributes(attribute.Int("llm.response_bytes", len(text)))
	return text, nil
}

func (c *HTTPClient) doWithRetry(ctx context.Context, body any, out any) error {
	backoff := c.backoff
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				return &UnavailableError{Retryable: true, Err: err}
			}
		}

		resp, err := c.doOnce(ctx, body, out)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		uerr := classify(err)
		if !uerr.Retryable || attempt == c.maxRetries {
			return uerr
		}

		sleepFor := jitter(retryAfter(resp, backoff, 10*time.Second))
		c.log.Warn("llm request retrying",
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		t := time.NewTimer(sleepFor)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		backoff *= 2
	}
	return errors.New("llm: unreachable retry loop")
}

func (c *HTTPClient) doOnce(ctx context.Context, body any, out any) (*http.Response, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}

	ctx2, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx2, http.MethodPost, c.baseURL+c.chatPath, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return resp, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// A 2xx with an undecodable envelope is a broken upstream, not a bad completion.
		return resp, &HTTPError{StatusCode: resp.StatusCode, Body: "decode: " + err.Error()}
	}
	return resp, nil
}

func classify(err error) *UnavailableError {
	var herr *HTTPError
	if errors.As(err, &herr) {
		retryable := isRetryableStatus(herr.StatusCode)
		if strings.HasPrefix(herr.Body, "decode: ") {
			retryable = true
		}
		return &UnavailableError{StatusCode: herr.StatusCode, Retryable: retryable, Err: err}
	}
	// Transport failures, including the per-request timeout.
	return &UnavailableError{Retryable: true, Err: err}
}

func retryAfter(resp *http.Response, fallback, max time.Duration) time.Duration {
	sleepFor := fallback
	if resp != nil {
		if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				sleepFor = time.Duration(secs) * time.Second
			}
		}
	}
	if max > 0 && sleepFor > max {
		sleepFor = max
	}
	return sleepFor
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delta := float64(base) * 0.2
	return time.Duration(float64(base) - delta + rand.Float64()*2*delta)
}

func extractChatText(resp chatCompletionResponse) string {
	for _, c := range resp.Choices {
		if strings.TrimSpace(c.Message.Content) != "" {
			return c.Message.Content
		}
		if strings.TrimSpace(c.Text) != "" {
			return c.Text
		}
	}
	return ""
}
