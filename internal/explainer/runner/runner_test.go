package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yungbote/neurobridge-explainer/internal/explainer/animation"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/content"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/events"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/failure"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/offline"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/pipeline"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/render"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/repair"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/store"
)

var newton = content.TopicRequest{Topic: "Newton's First Law", Level: content.LevelIntroductory, Domain: content.DomainPhysics}

// blockingRenderer holds every render until its context ends.
type blockingRenderer struct {
	started chan string
}

func (b *blockingRenderer) Render(ctx context.Context, job render.Job) (render.Result, error) {
	b.started <- job.RunID
	<-ctx.Done()
	return render.Result{}, ctx.Err()
}

func builder(renderer render.Renderer) Builder {
	return func(runID string, observers []pipeline.Observer) *pipeline.Orchestrator {
		svc := offline.New()
		return pipeline.New(pipeline.Deps{
			Content: content.NewGenerator(nil, repair.New(nil, svc, 2), content.GeneratorOptions{
				DurationTolerance:  content.DefaultDurationTolerance,
				RequireDomainMatch: true,
			}),
			Code:      animation.NewSynthesizer(nil, repair.New(nil, svc, 2), animation.NewValidator(nil, animation.ValidatorOptions{})),
			Renderer:  renderer,
			Observers: observers,
		}, pipeline.Options{RunID: runID, CodeReentryOnRuntimeError: true})
	}
}

func waitState(t *testing.T, st store.Store, id string, want pipeline.State) *store.Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := st.Get(context.Background(), id)
		if err == nil && run.State == string(want) {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	run, _ := st.Get(context.Background(), id)
	t.Fatalf("run %s never reached %s (last %+v)", id, want, run)
	return nil
}

func TestSubmitRunsToDone(t *testing.T) {
	st := store.NewMemory()
	bus := events.NewMemory()
	r := New(nil, st, bus, builder(render.NewStub(t.TempDir())), Options{Workers: 2})
	r.Start(context.Background())
	defer r.Stop()

	var (
		mu   sync.Mutex
		seen []string
	)
	subCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = r.Subscribe(subCtx, func(m events.Message) {
		mu.Lock()
		seen = append(seen, m.To)
		mu.Unlock()
	})

	run, err := r.Submit(context.Background(), newton)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	done := waitState(t, st, run.ID, pipeline.StateDone)
	if done.VideoPath == "" || done.FinishedAt == nil {
		t.Fatalf("run=%+v", done)
	}
	res, err := done.DecodeResult()
	if err != nil || res == nil || !res.OK() {
		t.Fatalf("result=%+v err=%v", res, err)
	}

	// the store observer runs before the bus observer
	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 7 && seen[6] == string(pipeline.StateDone)
	})
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCancelRunningRun(t *testing.T) {
	st := store.NewMemory()
	br := &blockingRenderer{started: make(chan string, 4)}
	r := New(nil, st, nil, builder(br), Options{Workers: 1})
	r.Start(context.Background())
	defer r.Stop()

	run, err := r.Submit(context.Background(), newton)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case <-br.started:
	case <-time.After(5 * time.Second):
		t.Fatalf("render never started")
	}
	if err := r.Cancel(context.Background(), run.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	failed := waitState(t, st, run.ID, pipeline.StateRenderFailed)
	if failed.FailureCategory != string(failure.Canceled) {
		t.Fatalf("category=%s", failed.FailureCategory)
	}
	// the cancel handle is released just after the terminal write
	eventually(t, func() bool {
		return errors.Is(r.Cancel(context.Background(), run.ID), ErrFinished)
	})
	if err := r.Cancel(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing cancel: %v", err)
	}
}

func TestQueueFull(t *testing.T) {
	st := store.NewMemory()
	br := &blockingRenderer{started: make(chan string, 4)}
	r := New(nil, st, nil, builder(br), Options{Workers: 1, QueueSize: 1})
	r.Start(context.Background())
	defer r.Stop()

	if _, err := r.Submit(context.Background(), newton); err != nil {
		t.Fatalf("first: %v", err)
	}
	<-br.started
	if _, err := r.Submit(context.Background(), newton); err != nil {
		t.Fatalf("second: %v", err)
	}
	if _, err := r.Submit(context.Background(), newton); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("third: %v", err)
	}
	runs, _ := r.List(context.Background(), 0)
	if len(runs) != 2 {
		t.Fatalf("rows=%d", len(runs))
	}
}

func TestSubmitRejects(t *testing.T) {
	r := New(nil, store.NewMemory(), nil, builder(render.NewStub(t.TempDir())), Options{})
	if _, err := r.Submit(context.Background(), newton); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("not started: %v", err)
	}
	r.Start(context.Background())
	defer r.Stop()
	_, err := r.Submit(context.Background(), content.TopicRequest{Topic: "x", Level: "expert", Domain: content.DomainPhysics})
	var ire *pipeline.InvalidRequestError
	if !errors.As(err, &ire) {
		t.Fatalf("invalid: %v", err)
	}
}
