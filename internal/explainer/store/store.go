// Package store persists one row per pipeline run so the API can report
// progress and results after the request that started the run has returned.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"

	"github.com/yungbote/neurobridge-explainer/internal/explainer/content"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/pipeline"
)

var ErrNotFound = errors.New("store: run not found")

// Run is the persisted view of a pipeline run. Document and Result hold the
// JSON of content.Document and pipeline.Result once they exist.
type Run struct {
	ID              string         `gorm:"column:id;primaryKey;size:64" json:"id"`
	Topic           string         `gorm:"column:topic;not null" json:"topic"`
	Level           string         `gorm:"column:level;not null" json:"level"`
	Domain          string         `gorm:"column:domain;not null;index" json:"domain"`
	State           string         `gorm:"column:state;not null;index" json:"state"`
	Document        datatypes.JSON `gorm:"column:document" json:"document,omitempty"`
	Result          datatypes.JSON `gorm:"column:result" json:"result,omitempty"`
	FailureCategory string         `gorm:"column:failure_category;index" json:"failure_category,omitempty"`
	FailureStage    string         `gorm:"column:failure_stage" json:"failure_stage,omitempty"`
	FailureMessage  string         `gorm:"column:failure_message" json:"failure_message,omitempty"`
	Attempts        int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Reentered       bool           `gorm:"column:reentered;not null;default:false" json:"reentered"`
	VideoPath       string         `gorm:"column:video_path" json:"video_path,omitempty"`
	PublicURL       string         `gorm:"column:public_url" json:"public_url,omitempty"`
	CreatedAt       time.Time      `gorm:"column:created_at;not null;index" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"column:updated_at;not null" json:"updated_at"`
	FinishedAt      *time.Time     `gorm:"column:finished_at" json:"finished_at,omitempty"`
}

func (Run) TableName() string { return "explainer_run" }

func NewRun(id string, req content.TopicRequest) *Run {
	now := time.Now().UTC()
	return &Run{
		ID:        id,
		Topic:     req.Topic,
		Level:     string(req.Level),
		Domain:    string(req.Domain),
		State:     string(pipeline.StateReceived),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Request rebuilds the request the run was created from.
func (r *Run) Request() content.TopicRequest {
	return content.TopicRequest{Topic: r.Topic, Level: content.Level(r.Level), Domain: content.Domain(r.Domain)}
}

// DecodeResult returns the stored pipeline result, or nil before the run
// finished.
func (r *Run) DecodeResult() (*pipeline.Result, error) {
	if len(r.Result) == 0 {
		return nil, nil
	}
	var out pipeline.Result
	if err := json.Unmarshal(r.Result, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Store is the run repository. Every implementation is safe for concurrent use.
type Store interface {
	Create(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context, limit int) ([]*Run, error)
	SetState(ctx context.Context, id string, state pipeline.State) error
	Complete(ctx context.Context, res pipeline.Result) error
	Close() error
}

// Observer keeps the store in step with a running pipeline.
type Observer struct {
	Store Store
}

var _ pipeline.Observer = Observer{}

func (o Observer) Observe(ctx context.Context, ev pipeline.Event) error {
	if ev.Result != nil {
		return o.Store.Complete(ctx, *ev.Result)
	}
	return o.Store.SetState(ctx, ev.RunID, ev.To)
}

// completedColumns are the columns apply writes.
var completedColumns = []string{
	"state", "result", "document", "attempts", "reentered", "video_path", "public_url",
	"failure_category", "failure_stage", "failure_message", "updated_at", "finished_at",
}

// apply copies the outcome of a finished run onto r.
func (r *Run) apply(res pipeline.Result) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	r.State = string(res.State)
	r.Result = datatypes.JSON(raw)
	r.Attempts = len(res.Attempts)
	r.Reentered = res.Reentered
	if res.Document != nil {
		doc, err := json.Marshal(res.Document)
		if err != nil {
			return err
		}
		r.Document = datatypes.JSON(doc)
	}
	if res.Render != nil {
		r.VideoPath = res.Render.VideoPath
		r.PublicURL = res.Render.PublicURL
	}
	if f := res.Failure; f != nil {
		r.FailureCategory = string(f.Category)
		r.FailureStage = f.Stage
		r.FailureMessage = f.Message
	}
	now := time.Now().UTC()
	finished := res.FinishedAt
	if finished.IsZero() {
		finished = now
	}
	r.UpdatedAt = now
	r.FinishedAt = &finished
	return nil
}
