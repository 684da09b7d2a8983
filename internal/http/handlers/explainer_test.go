package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neurobridge-explainer/internal/explainer/content"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/events"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/pipeline"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/runner"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/store"
	"github.com/yungbote/neurobridge-explainer/internal/http/middleware"
)

type fakeService struct {
	mu        sync.Mutex
	runs      map[string]*store.Run
	bus       events.Bus
	submitted []content.TopicRequest
	submitErr error
	cancelErr error
	listLimit int
}

func newFakeService() *fakeService {
	return &fakeService{runs: map[string]*store.Run{}, bus: events.NewMemory()}
}

func (f *fakeService) put(run *store.Run) {
	f.mu.Lock()
	f.runs[run.ID] = run
	f.mu.Unlock()
}

func (f *fakeService) Submit(_ context.Context, req content.TopicRequest) (*store.Run, error) {
	if err := req.Validate(); err != nil {
		return nil, &pipeline.InvalidRequestError{Err: err}
	}
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	run := store.NewRun("run-1", req)
	f.mu.Lock()
	f.submitted = append(f.submitted, req)
	f.mu.Unlock()
	f.put(run)
	return run, nil
}

func (f *fakeService) Get(_ context.Context, id string) (*store.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (f *fakeService) List(_ context.Context, limit int) ([]*store.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listLimit = limit
	out := make([]*store.Run, 0, len(f.runs))
	for _, r := range f.runs {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeService) Cancel(ctx context.Context, id string) error {
	if _, err := f.Get(ctx, id); err != nil {
		return err
	}
	return f.cancelErr
}

func (f *fakeService) Subscribe(ctx context.Context, onMsg func(events.Message)) error {
	return f.bus.Subscribe(ctx, onMsg)
}

func newRouter(svc ExplainerService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewExplainerHandler(nil, svc)
	h.heartbeat = 50 * time.Millisecond
	r := gin.New()
	r.Use(middleware.LimitBody(1 << 10))
	r.GET("/healthz", NewHealthHandler().HealthCheck)
	r.POST("/v1/explainers", h.Create)
	r.GET("/v1/explainers", h.List)
	r.GET("/v1/explainers/:id", h.Get)
	r.POST("/v1/explainers/:id/cancel", h.Cancel)
	r.GET("/v1/explainers/:id/events", h.Events)
	return r
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return env.Error.Code
}

func TestCreateExplainer(t *testing.T) {
	svc := newFakeService()
	r := newRouter(svc)

	rec := do(r, http.MethodPost, "/v1/explainers", `{"topic":"Newton's First Law","level":"Introductory","domain":"physics"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var out struct {
		Explainer store.Run `json:"explainer"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Explainer.ID != "run-1" || out.Explainer.State != string(pipeline.StateReceived) || out.Explainer.Level != "introductory" {
		t.Fatalf("explainer=%+v", out.Explainer)
	}
	if len(svc.submitted) != 1 || svc.submitted[0].Domain != content.DomainPhysics {
		t.Fatalf("submitted=%+v", svc.submitted)
	}
}

func TestCreateExplainerErrors(t *testing.T) {
	cases := []struct {
		name      string
		body      string
		submitErr error
		status    int
		code      string
	}{
		{"malformed json", `{"topic":`, nil, http.StatusBadRequest, "invalid_request"},
		{"unknown level", `{"topic":"x","level":"expert","domain":"physics"}`, nil, http.StatusBadRequest, "invalid_level"},
		{"unknown domain", `{"topic":"x","level":"advanced","domain":"poetry"}`, nil, http.StatusBadRequest, "invalid_domain"},
		{"empty topic", `{"topic":"  ","level":"advanced","domain":"physics"}`, nil, http.StatusBadRequest, "invalid_request"},
		{"queue full", `{"topic":"x","level":"advanced","domain":"physics"}`, runner.ErrQueueFull, http.StatusServiceUnavailable, "queue_full"},
		{"too large", `{"topic":"` + strings.Repeat("a", 2048) + `","level":"advanced","domain":"physics"}`, nil, http.StatusRequestEntityTooLarge, "request_too_large"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newFakeService()
			svc.submitErr = tc.submitErr
			rec := do(newRouter(svc), http.MethodPost, "/v1/explainers", tc.body)
			if rec.Code != tc.status {
				t.Fatalf("status=%d want %d body=%s", rec.Code, tc.status, rec.Body.String())
			}
			if got := errorCode(t, rec); got != tc.code {
				t.Fatalf("code=%q want %q", got, tc.code)
			}
		})
	}
}

func TestGetListAndCancel(t *testing.T) {
	svc := newFakeService()
	run := store.NewRun("abc", newtonRequest())
	run.Result = []byte(`{"state":"RENDERING"}`)
	svc.put(run)
	r := newRouter(svc)

	if rec := do(r, http.MethodGet, "/v1/explainers/abc", ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"result"`) {
		t.Fatalf("get: %d %s", rec.Code, rec.Body.String())
	}
	rec := do(r, http.MethodGet, "/v1/explainers/nope", "")
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "explainer_not_found" {
		t.Fatalf("missing: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(r, http.MethodGet, "/v1/explainers?limit=5000", "")
	if rec.Code != http.StatusOK || strings.Contains(rec.Body.String(), `"result"`) {
		t.Fatalf("list: %d %s", rec.Code, rec.Body.String())
	}
	if svc.listLimit != maxListLimit {
		t.Fatalf("limit=%d", svc.listLimit)
	}
	if rec := do(r, http.MethodGet, "/v1/explainers?limit=zero", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: %d", rec.Code)
	}

	if rec := do(r, http.MethodPost, "/v1/explainers/abc/cancel", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("cancel: %d %s", rec.Code, rec.Body.String())
	}
	svc.cancelErr = runner.ErrFinished
	rec = do(r, http.MethodPost, "/v1/explainers/abc/cancel", "")
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "already_finished" {
		t.Fatalf("finished cancel: %d %s", rec.Code, rec.Body.String())
	}
}

func TestHealthCheck(t *testing.T) {
	rec := do(newRouter(newFakeService()), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}
}

func newtonRequest() content.TopicRequest {
	return content.TopicRequest{Topic: "Newton's First Law", Level: content.LevelIntroductory, Domain: content.DomainPhysics}
}

// readEvents collects SSE event names until the stream closes.
func readEvents(t *testing.T, resp *http.Response, first chan<- struct{}) []string {
	t.Helper()
	var names []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if name, ok := strings.CutPrefix(line, "event:"); ok {
			names = append(names, name)
			if len(names) == 1 {
				close(first)
			}
		}
	}
	return names
}

func TestEventsStreamsUntilTerminal(t *testing.T) {
	svc := newFakeService()
	run := store.NewRun("abc", newtonRequest())
	run.State = string(pipeline.StateCodeGenerating)
	svc.put(run)
	srv := httptest.NewServer(newRouter(svc))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/explainers/abc/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content-type=%q", ct)
	}

	first := make(chan struct{})
	done := make(chan []string, 1)
	go func() { done <- readEvents(t, resp, first) }()
	<-first

	ctx := context.Background()
	_ = svc.bus.Publish(ctx, events.Message{RunID: "other", To: "DONE", Terminal: true})
	_ = svc.bus.Publish(ctx, events.Message{RunID: "abc", From: "CODE_GENERATING", To: "CODE_VALIDATED"})
	_ = svc.bus.Publish(ctx, events.Message{RunID: "abc", From: "CODE_VALIDATED", To: "RENDERING"})
	_ = svc.bus.Publish(ctx, events.Message{RunID: "abc", From: "RENDERING", To: "DONE", Terminal: true})

	select {
	case names := <-done:
		want := []string{"snapshot", "transition", "transition", "transition"}
		if strings.Join(names, ",") != strings.Join(want, ",") {
			t.Fatalf("events=%v", names)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("stream did not end")
	}
}

func TestEventsForFinishedRun(t *testing.T) {
	svc := newFakeService()
	run := store.NewRun("abc", newtonRequest())
	run.State = string(pipeline.StateRenderFailed)
	svc.put(run)
	srv := httptest.NewServer(newRouter(svc))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/explainers/abc/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	first := make(chan struct{})
	if names := readEvents(t, resp, first); len(names) != 1 || names[0] != "snapshot" {
		t.Fatalf("events=%v", names)
	}

	resp, err = http.Get(srv.URL + "/v1/explainers/missing/events")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing status=%d", resp.StatusCode)
	}
}

func TestEventsRecoversFromStore(t *testing.T) {
	svc := newFakeService()
	run := store.NewRun("abc", newtonRequest())
	run.State = string(pipeline.StateRendering)
	svc.put(run)
	srv := httptest.NewServer(newRouter(svc))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/explainers/abc/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	first := make(chan struct{})
	done := make(chan []string, 1)
	go func() { done <- readEvents(t, resp, first) }()
	<-first

	// the terminal transition never reaches the bus
	finished := *run
	finished.State = string(pipeline.StateDone)
	svc.put(&finished)

	select {
	case names := <-done:
		if names[len(names)-1] != "snapshot" {
			t.Fatalf("events=%v", names)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("stream did not end")
	}
}
