// Package pipeline drives one topic request through content generation, code
// synthesis and rendering as an explicit state machine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/neurobridge-explainer/internal/explainer/animation"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/content"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/failure"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/render"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/repair"
	"github.com/yungbote/neurobridge-explainer/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-explainer/internal/platform/logger"
)

const (
	stageRequest  = "request"
	stageContent  = "content"
	stageCode     = "code"
	stageRender   = "render"
	stagePipeline = "pipeline"

	posterFile = "poster.png"
)

// ErrAlreadyRun is the failure cause when Run is called twice on one instance.
var ErrAlreadyRun = errors.New("pipeline: orchestrator already used")

type ContentStage interface {
	Generate(ctx context.Context, req content.TopicRequest) (content.Document, []repair.Attempt, error)
}

type CodeStage interface {
	Synthesize(ctx context.Context, doc content.Document) (animation.Artifact, []repair.Attempt, error)
	SynthesizeWithFeedback(ctx context.Context, doc content.Document, priorSource, runtimeErr string) (animation.Artifact, []repair.Attempt, error)
}

type PosterWriter interface {
	WriteFile(doc content.Document, path string) error
}

// Publisher copies a finished video somewhere public and returns its URL.
type Publisher interface {
	Publish(ctx context.Context, runID string, res render.Result) (string, error)
}

// Observer receives every transition of a run, in order, on the run's
// goroutine. Errors are logged and never affect the run.
type Observer interface {
	Observe(ctx context.Context, ev Event) error
}

// Event is one transition as seen by observers. Result is a snapshot of the
// run and is only set when To is terminal.
type Event struct {
	RunID   string    `json:"run_id"`
	From    State     `json:"from,omitempty"`
	To      State     `json:"to"`
	At      time.Time `json:"at"`
	Failure *Failure  `json:"failure,omitempty"`
	Result  *Result   `json:"-"`
}

type Deps struct {
	Log       *logger.Logger
	Content   ContentStage
	Code      CodeStage
	Renderer  render.Renderer
	Poster    PosterWriter
	Publisher Publisher
	Observers []Observer
}

type Options struct {
	// RunID names the run and its artifact directory. Empty generates a UUID.
	RunID                     string
	CodeReentryOnRuntimeError bool
}

// Result is everything a caller learns about a run.
type Result struct {
	RunID      string               `json:"run_id"`
	Request    content.TopicRequest `json:"request"`
	State      State                `json:"state"`
	History    []Transition         `json:"history"`
	Document   *content.Document    `json:"document,omitempty"`
	Artifact   *animation.Artifact  `json:"artifact,omitempty"`
	Render     *render.Result       `json:"render,omitempty"`
	Attempts   []repair.Attempt     `json:"attempts"`
	Timings    []StageTiming        `json:"timings"`
	Reentered  bool                 `json:"reentered"`
	Failure    *Failure             `json:"failure,omitempty"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at,omitempty"`
}

func (r Result) OK() bool { return r.State == StateDone && r.Failure == nil }

// InvalidRequestError rejects a request before any stage runs.
type InvalidRequestError struct {
	Err error
}

func (e *InvalidRequestError) Error() string              { return "invalid request: " + e.Err.Error() }
func (e *InvalidRequestError) Unwrap() error              { return e.Err }
func (e *InvalidRequestError) Category() failure.Category { return failure.InvalidRequest }

// Orchestrator runs exactly one request.
type Orchestrator struct {
	log    *logger.Logger
	deps   Deps
	opts   Options
	runID  string
	tracer trace.Tracer

	used atomic.Bool

	mu        sync.Mutex
	state     State
	reentries int
}

func New(deps Deps, opts Options) *Orchestrator {
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	runID := strings.TrimSpace(opts.RunID)
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Orchestrator{
		log:    log.With("component", "pipeline", "run_id", runID),
		deps:   deps,
		opts:   opts,
		runID:  runID,
		tracer: otel.Tracer("explainer/pipeline"),
		state:  StateReceived,
	}
}

func (o *Orchestrator) RunID() string { return o.runID }

// State is safe to call while Run is in progress.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Run drives req to a terminal state. It never panics on stage errors; the
// outcome, including any failure, is in the returned Result.
func (o *Orchestrator) Run(ctx context.Context, req content.TopicRequest) Result {
	ctx = ctxutil.Default(ctx)
	if !o.used.CompareAndSwap(false, true) {
		return Result{
			RunID:   o.runID,
			Request: req,
			State:   o.State(),
			Failure: &Failure{Category: failure.Internal, Stage: stagePipeline, Message: ErrAlreadyRun.Error(), Cause: ErrAlreadyRun},
		}
	}

	ctx, span := o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run_id", o.runID),
		attribute.String("domain", string(req.Domain)),
		attribute.String("level", string(req.Level)),
	))
	defer span.End()

	td := &ctxutil.TraceData{RunID: o.runID}
	if prev := ctxutil.GetTraceData(ctx); prev != nil {
		td.RequestID, td.TraceID = prev.RequestID, prev.TraceID
	}
	if sc := span.SpanContext(); sc.IsValid() {
		td.TraceID = sc.TraceID().String()
	}
	ctx = ctxutil.WithTraceData(ctx, td)

	now := time.Now().UTC()
	res := &Result{
		RunID:     o.runID,
		Request:   req,
		State:     StateReceived,
		History:   []Transition{{To: StateReceived, At: now}},
		StartedAt: now,
	}
	o.log.Info("pipeline received", "topic", req.Topic, "domain", req.Domain, "level", req.Level)
	o.notify(ctx, res, Transition{To: StateReceived, At: now})

	out := o.run(ctx, res)

	span.SetAttributes(attribute.String("state", string(out.State)), attribute.Bool("reentered", out.Reentered))
	if out.Failure != nil {
		span.RecordError(out.Failure)
		span.SetStatus(codes.Error, string(out.Failure.Category))
	}
	return out
}

func (o *Orchestrator) run(ctx context.Context, res *Result) Result {
	req := res.Request
	if err := req.Validate(); err != nil {
		return o.fail(ctx, res, StateContentFailed, stageRequest, 0, &InvalidRequestError{Err: err})
	}

	// content
	if err := o.transition(ctx, res, StateContentGenerating); err != nil {
		return o.abort(res, err)
	}
	var (
		doc      content.Document
		attempts []repair.Attempt
	)
	err := o.stage(ctx, res, stageContent, func(ctx context.Context) error {
		var err error
		doc, attempts, err = o.deps.Content.Generate(ctx, req)
		return err
	})
	res.Attempts = append(res.Attempts, attempts...)
	if err != nil {
		return o.fail(ctx, res, StateContentFailed, stageContent, len(attempts), err)
	}
	res.Document = &doc
	if err := o.transition(ctx, res, StateContentValidated); err != nil {
		return o.abort(res, err)
	}

	// code
	if err := o.transition(ctx, res, StateCodeGenerating); err != nil {
		return o.abort(res, err)
	}
	art, ok := o.synthesize(ctx, res, func(ctx context.Context) (animation.Artifact, []repair.Attempt, error) {
		return o.deps.Code.Synthesize(ctx, doc)
	})
	if !ok {
		return o.finish(res)
	}

	// render, with at most one return to code synthesis
	renders := 0
	for {
		if err := o.transition(ctx, res, StateRendering); err != nil {
			return o.abort(res, err)
		}
		renders++
		var rr render.Result
		err := o.stage(ctx, res, stageRender, func(ctx context.Context) error {
			var err error
			rr, err = o.deps.Renderer.Render(ctx, render.Job{
				RunID:               o.runID,
				Artifact:            art,
				ExpectedDurationSec: float64(doc.TotalDurationSec),
			})
			return err
		})
		if err == nil {
			res.Render = &rr
			break
		}
		if failure.Of(err) != failure.RenderRuntimeError || !o.opts.CodeReentryOnRuntimeError || res.Reentered {
			return o.fail(ctx, res, StateRenderFailed, stageRender, renders, err)
		}

		o.log.Warn("render runtime error, regenerating code", "error", err)
		res.Reentered = true
		if err := o.transition(ctx, res, StateCodeGenerating); err != nil {
			return o.abort(res, err)
		}
		prior, feedback := art.Source, runtimeFeedback(err)
		art, ok = o.synthesize(ctx, res, func(ctx context.Context) (animation.Artifact, []repair.Attempt, error) {
			return o.deps.Code.SynthesizeWithFeedback(ctx, doc, prior, feedback)
		})
		if !ok {
			return o.finish(res)
		}
	}

	o.decorate(ctx, res)
	if err := o.transition(ctx, res, StateDone); err != nil {
		return o.abort(res, err)
	}
	o.log.Info("pipeline done", "video", res.Render.VideoPath, "duration_sec", res.Render.DurationSec)
	return o.finish(res)
}

// synthesize runs one code-stage call and moves to CODE_VALIDATED or
// CODE_FAILED. ok is false when the run is over.
func (o *Orchestrator) synthesize(ctx context.Context, res *Result, fn func(context.Context) (animation.Artifact, []repair.Attempt, error)) (animation.Artifact, bool) {
	var (
		art      animation.Artifact
		attempts []repair.Attempt
	)
	err := o.stage(ctx, res, stageCode, func(ctx context.Context) error {
		var err error
		art, attempts, err = fn(ctx)
		return err
	})
	res.Attempts = append(res.Attempts, attempts...)
	if err != nil {
		o.fail(ctx, res, StateCodeFailed, stageCode, len(attempts), err)
		return animation.Artifact{}, false
	}
	a := art
	res.Artifact = &a
	if err := o.transition(ctx, res, StateCodeValidated); err != nil {
		o.abort(res, err)
		return animation.Artifact{}, false
	}
	return art, true
}

func (o *Orchestrator) stage(ctx context.Context, res *Result, name string, fn func(context.Context) error) error {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "pipeline."+name)
	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(failure.Of(err)))
	}
	span.End()
	elapsed := time.Since(start)
	res.Timings = append(res.Timings, StageTiming{Stage: name, StartedAt: start.UTC(), ElapsedMS: elapsed.Milliseconds()})
	o.log.Debug("stage finished", "stage", name, "elapsed", elapsed, "error", err)
	return err
}

// transition moves the machine along one edge, records it and notifies
// observers. Illegal edges leave the state unchanged.
func (o *Orchestrator) transition(ctx context.Context, res *Result, to State) error {
	o.mu.Lock()
	from := o.state
	reentry := from == StateRendering && to == StateCodeGenerating
	if !CanTransition(from, to) || (reentry && o.reentries >= 1) {
		o.mu.Unlock()
		return &IllegalTransitionError{From: from, To: to}
	}
	if reentry {
		o.reentries++
	}
	o.state = to
	o.mu.Unlock()
	at := time.Now().UTC()

	tr := Transition{From: from, To: to, At: at}
	res.State = to
	res.History = append(res.History, tr)
	if to.Terminal() {
		res.FinishedAt = at
	}

	trace.SpanFromContext(ctx).AddEvent("transition", trace.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
	o.log.Info("pipeline transition", "from", from, "to", to)
	o.notify(ctx, res, tr)
	return nil
}

func (o *Orchestrator) notify(ctx context.Context, res *Result, tr Transition) {
	if len(o.deps.Observers) == 0 {
		return
	}
	ev := Event{RunID: o.runID, From: tr.From, To: tr.To, At: tr.At, Failure: res.Failure}
	if tr.To.Terminal() {
		snap := *res
		ev.Result = &snap
	}
	// terminal writes must land even when the run was canceled
	ctx = context.WithoutCancel(ctx)
	for _, obs := range o.deps.Observers {
		if obs == nil {
			continue
		}
		if err := obs.Observe(ctx, ev); err != nil {
			o.log.Warn("pipeline observer failed", "to", tr.To, "error", err)
		}
	}
}

func (o *Orchestrator) fail(ctx context.Context, res *Result, to State, stage string, attempts int, err error) Result {
	var ex *repair.ExhaustedError
	if errors.As(err, &ex) && ex.Attempts > attempts {
		attempts = ex.Attempts
	}
	res.Failure = &Failure{
		Category: failure.Of(err),
		Stage:    stage,
		Attempts: attempts,
		Message:  err.Error(),
		Cause:    err,
	}
	o.log.Warn("pipeline failed", "stage", stage, "category", res.Failure.Category, "attempts", attempts, "error", err)
	if terr := o.transition(ctx, res, to); terr != nil {
		return o.abort(res, terr)
	}
	return o.finish(res)
}

// abort records a failure the machine itself produced. The state is left
// where it was.
func (o *Orchestrator) abort(res *Result, err error) Result {
	o.log.Error("pipeline aborted", "state", res.State, "error", err)
	if res.Failure == nil {
		res.Failure = &Failure{Category: failure.Internal, Stage: stagePipeline, Message: err.Error(), Cause: err}
	}
	res.FinishedAt = time.Now().UTC()
	return *res
}

func (o *Orchestrator) finish(res *Result) Result {
	if res.FinishedAt.IsZero() {
		res.FinishedAt = time.Now().UTC()
	}
	return *res
}

// decorate adds the optional poster and public URL. Failures here are logged
// and leave the video result intact.
func (o *Orchestrator) decorate(ctx context.Context, res *Result) {
	if o.deps.Poster != nil && res.Document != nil {
		path := filepath.Join(filepath.Dir(res.Render.VideoPath), posterFile)
		if err := o.deps.Poster.WriteFile(*res.Document, path); err != nil {
			o.log.Warn("poster failed", "error", err)
		} else {
			res.Render.PosterPath = path
		}
	}
	if o.deps.Publisher != nil {
		url, err := o.deps.Publisher.Publish(ctx, o.runID, *res.Render)
		if err != nil {
			o.log.Warn("publish failed", "error", err)
			return
		}
		res.Render.PublicURL = url
	}
}

func runtimeFeedback(err error) string {
	var rf *render.Failure
	if !errors.As(err, &rf) {
		return err.Error()
	}
	msg := strings.TrimSpace(rf.Message)
	if tail := strings.TrimSpace(rf.Stderr); tail != "" && !strings.Contains(msg, tail) {
		return fmt.Sprintf("%s\n\n%s", msg, tail)
	}
	return msg
}
