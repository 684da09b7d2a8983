// Package runner executes pipeline runs in the background with bounded
// concurrency and tracks them in the run store.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/neurobridge-explainer/internal/explainer/content"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/events"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/pipeline"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/store"
	"github.com/yungbote/neurobridge-explainer/internal/platform/logger"
)

var (
	ErrQueueFull  = errors.New("runner: queue full")
	ErrNotRunning = errors.New("runner: not started")
	ErrFinished   = errors.New("runner: run already finished")
)

// Builder returns a fresh orchestrator for runID that reports to observers.
type Builder func(runID string, observers []pipeline.Observer) *pipeline.Orchestrator

type Options struct {
	Workers   int
	QueueSize int
}

type job struct {
	id  string
	req content.TopicRequest
	ctx context.Context
}

type Runner struct {
	log   *logger.Logger
	store store.Store
	bus   events.Bus
	build Builder
	opts  Options

	queue chan job
	// slots bounds queued plus running runs so a full runner is detected
	// before a row is written.
	slots chan struct{}

	mu      sync.Mutex
	started bool
	cancels map[string]context.CancelFunc
	base    context.Context
	stop    context.CancelFunc
	group   *errgroup.Group
}

// New wires a runner. bus may be nil, in which case an in-process bus is used
// so subscribers still see transitions.
func New(log *logger.Logger, st store.Store, bus events.Bus, build Builder, opts Options) *Runner {
	if log == nil {
		log = logger.Nop()
	}
	if bus == nil {
		bus = events.NewMemory()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = opts.Workers * 8
	}
	return &Runner{
		log:     log.With("component", "runner"),
		store:   st,
		bus:     bus,
		build:   build,
		opts:    opts,
		queue:   make(chan job, opts.QueueSize+opts.Workers),
		slots:   make(chan struct{}, opts.QueueSize+opts.Workers),
		cancels: map[string]context.CancelFunc{},
	}
}

// Start launches the workers. Runs in flight are canceled when ctx ends.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.base, r.stop = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(r.base)
	for i := 0; i < r.opts.Workers; i++ {
		g.Go(func() error {
			r.work(gctx)
			return nil
		})
	}
	r.group = g
	r.log.Info("runner started", "workers", r.opts.Workers, "queue", r.opts.QueueSize)
}

// Stop cancels every run and waits for the workers to exit.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	stop, g := r.stop, r.group
	r.mu.Unlock()
	stop()
	_ = g.Wait()
}

func (r *Runner) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-r.queue:
			r.execute(j)
		}
	}
}

func (r *Runner) execute(j job) {
	defer func() {
		if v := recover(); v != nil {
			r.log.Error("run panic", "run_id", j.id, "panic", v)
		}
		r.mu.Lock()
		if cancel, ok := r.cancels[j.id]; ok {
			cancel()
			delete(r.cancels, j.id)
		}
		r.mu.Unlock()
		<-r.slots
	}()

	observers := []pipeline.Observer{store.Observer{Store: r.store}, events.Observer{Bus: r.bus}}
	o := r.build(j.id, observers)
	res := o.Run(j.ctx, j.req)
	r.log.Info("run finished", "run_id", j.id, "state", res.State)
}

// Submit records a new run and queues it. The request is validated here so
// malformed input never takes a queue slot.
func (r *Runner) Submit(ctx context.Context, req content.TopicRequest) (*store.Run, error) {
	if err := req.Validate(); err != nil {
		return nil, &pipeline.InvalidRequestError{Err: err}
	}
	r.mu.Lock()
	started, base := r.started, r.base
	r.mu.Unlock()
	if !started {
		return nil, ErrNotRunning
	}

	select {
	case r.slots <- struct{}{}:
	default:
		return nil, ErrQueueFull
	}

	run := store.NewRun(uuid.NewString(), req)
	if err := r.store.Create(ctx, run); err != nil {
		<-r.slots
		return nil, fmt.Errorf("runner: create run: %w", err)
	}

	jctx, cancel := context.WithCancel(base)
	r.mu.Lock()
	r.cancels[run.ID] = cancel
	r.mu.Unlock()

	// cannot block: queue capacity equals the slot count
	r.queue <- job{id: run.ID, req: req, ctx: jctx}
	r.log.Info("run queued", "run_id", run.ID, "topic", req.Topic)
	return run, nil
}

// Cancel stops a queued or running run. The run still finishes through the
// state machine and lands in the failure state of the stage it was in.
func (r *Runner) Cancel(ctx context.Context, id string) error {
	r.mu.Lock()
	cancel, ok := r.cancels[id]
	r.mu.Unlock()
	if ok {
		cancel()
		r.log.Info("run cancel requested", "run_id", id)
		return nil
	}
	if _, err := r.store.Get(ctx, id); err != nil {
		return err
	}
	return ErrFinished
}

func (r *Runner) Get(ctx context.Context, id string) (*store.Run, error) {
	return r.store.Get(ctx, id)
}

func (r *Runner) List(ctx context.Context, limit int) ([]*store.Run, error) {
	return r.store.List(ctx, limit)
}

// Subscribe forwards every transition on the bus to onMsg until ctx ends.
func (r *Runner) Subscribe(ctx context.Context, onMsg func(events.Message)) error {
	return r.bus.Subscribe(ctx, onMsg)
}
