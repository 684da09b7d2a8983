package events

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/yungbote/neurobridge-explainer/internal/config"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/failure"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/pipeline"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/render"
)

type collector struct {
	mu   sync.Mutex
	msgs []Message
}

func (c *collector) add(m Message) {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met")
}

func TestMemoryBusFanOutAndUnsubscribe(t *testing.T) {
	bus := NewMemory()
	ctx := context.Background()

	a, b := &collector{}, &collector{}
	subCtx, cancel := context.WithCancel(ctx)
	if err := bus.Subscribe(subCtx, a.add); err != nil {
		t.Fatal(err)
	}
	if err := bus.Subscribe(ctx, b.add); err != nil {
		t.Fatal(err)
	}

	if err := bus.Publish(ctx, Message{RunID: "r", To: "RENDERING"}); err != nil {
		t.Fatal(err)
	}
	if a.len() != 1 || b.len() != 1 {
		t.Fatalf("a=%d b=%d", a.len(), b.len())
	}

	cancel()
	mb := bus.(*memoryBus)
	waitFor(t, func() bool {
		mb.mu.RLock()
		defer mb.mu.RUnlock()
		return len(mb.subs) == 1
	})
	_ = bus.Publish(ctx, Message{RunID: "r", To: "DONE"})
	if a.len() != 1 || b.len() != 2 {
		t.Fatalf("after cancel a=%d b=%d", a.len(), b.len())
	}
}

func TestObserverPublishesWireMessage(t *testing.T) {
	bus := NewMemory()
	got := &collector{}
	_ = bus.Subscribe(context.Background(), got.add)

	obs := Observer{Bus: bus}
	at := time.Now().UTC()
	res := &pipeline.Result{Render: &render.Result{VideoPath: "/out/r/S.mp4", PublicURL: "https://cdn/r"}}
	if err := obs.Observe(context.Background(), pipeline.Event{RunID: "r", From: pipeline.StateRendering, To: pipeline.StateDone, At: at, Result: res}); err != nil {
		t.Fatal(err)
	}
	f := &pipeline.Failure{Category: failure.RenderTimeout, Stage: "render"}
	_ = obs.Observe(context.Background(), pipeline.Event{RunID: "q", From: pipeline.StateRendering, To: pipeline.StateRenderFailed, Failure: f})

	if got.len() != 2 {
		t.Fatalf("messages=%d", got.len())
	}
	done := got.msgs[0]
	if !done.Terminal || done.To != "DONE" || done.From != "RENDERING" || done.VideoPath != "/out/r/S.mp4" || done.PublicURL != "https://cdn/r" || !done.At.Equal(at) {
		t.Fatalf("done=%+v", done)
	}
	failed := got.msgs[1]
	if !failed.Terminal || failed.Failure == nil || failed.Failure.Category != failure.RenderTimeout {
		t.Fatalf("failed=%+v", failed)
	}
}

func TestRedisBusRoundTrip(t *testing.T) {
	addr := os.Getenv("EXPLAINER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("EXPLAINER_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus, err := NewRedis(ctx, nil, config.EventsConfig{RedisAddr: addr, Channel: "explainer.test." + time.Now().Format("150405.000")})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer bus.Close()

	got := &collector{}
	if err := bus.Subscribe(ctx, got.add); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := bus.Publish(ctx, Message{RunID: "r", To: "DONE", Terminal: true}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	waitFor(t, func() bool { return got.len() == 1 })
}

func TestNewRedisRequiresAddr(t *testing.T) {
	if _, err := NewRedis(context.Background(), nil, config.EventsConfig{}); err == nil {
		t.Fatalf("expected error")
	}
}
