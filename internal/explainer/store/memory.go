package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yungbote/neurobridge-explainer/internal/explainer/pipeline"
)

type memoryStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewMemory returns a process-local store. Rows are lost on restart.
func NewMemory() Store {
	return &memoryStore{runs: map[string]*Run{}}
}

func clone(r *Run) *Run {
	c := *r
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

func (s *memoryStore) Create(_ context.Context, run *Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("store: run id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("store: run %s already exists", run.ID)
	}
	s.runs[run.ID] = clone(run)
	return nil
}

func (s *memoryStore) Get(_ context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(r), nil
}

func (s *memoryStore) List(_ context.Context, limit int) ([]*Run, error) {
	s.mu.RLock()
	out := make([]*Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, clone(r))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) SetState(_ context.Context, id string, state pipeline.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}
	r.State = string(state)
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memoryStore) Complete(_ context.Context, res pipeline.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[res.RunID]
	if !ok {
		return ErrNotFound
	}
	next := clone(r)
	if err := next.apply(res); err != nil {
		return err
	}
	s.runs[res.RunID] = next
	return nil
}

func (s *memoryStore) Close() error { return nil }
