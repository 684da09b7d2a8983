// Package events fans pipeline transitions out to subscribers, in process or
// across processes through Redis pub/sub.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/yungbote/neurobridge-explainer/internal/explainer/pipeline"
)

// Message is the wire form of one transition.
type Message struct {
	RunID     string            `json:"run_id"`
	From      string            `json:"from,omitempty"`
	To        string            `json:"to"`
	At        time.Time         `json:"at"`
	Terminal  bool              `json:"terminal"`
	Failure   *pipeline.Failure `json:"failure,omitempty"`
	VideoPath string            `json:"video_path,omitempty"`
	PublicURL string            `json:"public_url,omitempty"`
}

type Bus interface {
	Publish(ctx context.Context, msg Message) error
	// Subscribe calls onMsg for every message until ctx is done.
	Subscribe(ctx context.Context, onMsg func(Message)) error
	Close() error
}

// FromEvent converts a pipeline event to its wire form.
func FromEvent(ev pipeline.Event) Message {
	msg := Message{
		RunID:    ev.RunID,
		From:     string(ev.From),
		To:       string(ev.To),
		At:       ev.At,
		Terminal: ev.To.Terminal(),
		Failure:  ev.Failure,
	}
	if ev.Result != nil && ev.Result.Render != nil {
		msg.VideoPath = ev.Result.Render.VideoPath
		msg.PublicURL = ev.Result.Render.PublicURL
	}
	return msg
}

// Observer publishes every pipeline transition on Bus.
type Observer struct {
	Bus Bus
}

var _ pipeline.Observer = Observer{}

func (o Observer) Observe(ctx context.Context, ev pipeline.Event) error {
	return o.Bus.Publish(ctx, FromEvent(ev))
}

type memoryBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Message)
}

// NewMemory returns a bus that only reaches subscribers in this process.
func NewMemory() Bus {
	return &memoryBus{subs: map[int]func(Message){}}
}

func (b *memoryBus) Publish(_ context.Context, msg Message) error {
	b.mu.RLock()
	fns := make([]func(Message), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(msg)
	}
	return nil
}

func (b *memoryBus) Subscribe(ctx context.Context, onMsg func(Message)) error {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = onMsg
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}()
	return nil
}

func (b *memoryBus) Close() error {
	b.mu.Lock()
	b.subs = map[int]func(Message){}
	b.mu.Unlock()
	return nil
}
