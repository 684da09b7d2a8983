package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neurobridge-explainer/internal/explainer/content"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/events"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/pipeline"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/runner"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/store"
	httpMW "github.com/yungbote/neurobridge-explainer/internal/http/middleware"
	"github.com/yungbote/neurobridge-explainer/internal/http/response"
	"github.com/yungbote/neurobridge-explainer/internal/platform/apierr"
	"github.com/yungbote/neurobridge-explainer/internal/platform/logger"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
	streamBuffer     = 64
)

// ExplainerService is the run API the handlers need. *runner.Runner
// satisfies it.
type ExplainerService interface {
	Submit(ctx context.Context, req content.TopicRequest) (*store.Run, error)
	Get(ctx context.Context, id string) (*store.Run, error)
	List(ctx context.Context, limit int) ([]*store.Run, error)
	Cancel(ctx context.Context, id string) error
	Subscribe(ctx context.Context, onMsg func(events.Message)) error
}

var _ ExplainerService = (*runner.Runner)(nil)

type ExplainerHandler struct {
	log       *logger.Logger
	svc       ExplainerService
	heartbeat time.Duration
}

func NewExplainerHandler(log *logger.Logger, svc ExplainerService) *ExplainerHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &ExplainerHandler{log: log.With("handler", "ExplainerHandler"), svc: svc, heartbeat: 15 * time.Second}
}

type createExplainerRequest struct {
	Topic  string `json:"topic"`
	Level  string `json:"level"`
	Domain string `json:"domain"`
}

// POST /v1/explainers
func (h *ExplainerHandler) Create(c *gin.Context) {
	var body createExplainerRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.RespondError(c, http.StatusRequestEntityTooLarge, "request_too_large", err)
			return
		}
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	level, err := content.ParseLevel(body.Level)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_level", err)
		return
	}
	domain, err := content.ParseDomain(body.Domain)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_domain", err)
		return
	}
	run, err := h.svc.Submit(c.Request.Context(), content.TopicRequest{Topic: body.Topic, Level: level, Domain: domain})
	if err != nil {
		response.RespondAPIError(c, classify(err))
		return
	}
	httpMW.BindRunID(c, run.ID)
	c.JSON(http.StatusAccepted, gin.H{"explainer": run})
}

// GET /v1/explainers
func (h *ExplainerHandler) List(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.RespondError(c, http.StatusBadRequest, "invalid_limit", errors.New("limit must be a positive integer"))
			return
		}
		limit = min(n, maxListLimit)
	}
	runs, err := h.svc.List(c.Request.Context(), limit)
	if err != nil {
		response.RespondAPIError(c, classify(err))
		return
	}
	out := make([]*store.Run, 0, len(runs))
	for _, r := range runs {
		slim := *r
		slim.Document, slim.Result = nil, nil
		out = append(out, &slim)
	}
	response.RespondOK(c, gin.H{"explainers": out})
}

// GET /v1/explainers/:id
func (h *ExplainerHandler) Get(c *gin.Context) {
	run, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.RespondAPIError(c, classify(err))
		return
	}
	response.RespondOK(c, gin.H{"explainer": run})
}

// POST /v1/explainers/:id/cancel
func (h *ExplainerHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if err := h.svc.Cancel(c.Request.Context(), id); err != nil {
		response.RespondAPIError(c, classify(err))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "cancel_requested": true})
}

// GET /v1/explainers/:id/events
//
// Streams a "snapshot" of the stored run followed by one "transition" per
// state change, and ends after the terminal state.
func (h *ExplainerHandler) Events(c *gin.Context) {
	id := c.Param("id")
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	msgs := make(chan events.Message, streamBuffer)
	// subscribe before the snapshot so no transition falls between them
	err := h.svc.Subscribe(ctx, func(m events.Message) {
		if m.RunID != id {
			return
		}
		select {
		case msgs <- m:
		default:
			h.log.Warn("event stream lagging, dropping transition", "run_id", id, "to", m.To)
		}
	})
	if err != nil {
		response.RespondAPIError(c, classify(err))
		return
	}
	run, err := h.svc.Get(ctx, id)
	if err != nil {
		response.RespondAPIError(c, classify(err))
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("snapshot", run)
	c.Writer.Flush()
	if isTerminal(run.State) {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case m := <-msgs:
			c.SSEvent("transition", m)
			return !m.Terminal
		case <-ticker.C:
			// a dropped terminal transition is recovered from the store
			latest, err := h.svc.Get(ctx, id)
			if err == nil && isTerminal(latest.State) {
				c.SSEvent("snapshot", latest)
				return false
			}
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			return true
		}
	})
}

func isTerminal(state string) bool {
	s, err := pipeline.ParseState(state)
	return err == nil && s.Terminal()
}

// classify maps service errors onto HTTP statuses.
func classify(err error) error {
	var ire *pipeline.InvalidRequestError
	switch {
	case errors.As(err, &ire):
		return apierr.New(http.StatusBadRequest, "invalid_request", err)
	case errors.Is(err, store.ErrNotFound):
		return apierr.New(http.StatusNotFound, "explainer_not_found", err)
	case errors.Is(err, runner.ErrQueueFull):
		return apierr.New(http.StatusServiceUnavailable, "queue_full", err)
	case errors.Is(err, runner.ErrNotRunning):
		return apierr.New(http.StatusServiceUnavailable, "not_running", err)
	case errors.Is(err, runner.ErrFinished):
		return apierr.New(http.StatusConflict, "already_finished", err)
	}
	return err
}
