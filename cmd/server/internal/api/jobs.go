// Package api exposes the transcription pipeline over HTTP: job
// submission and inspection, result retrieval, a websocket event stream
// and the usual health and metrics endpoints.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/echoscribe/echoscribe/cmd/server/internal/engine"
	"github.com/echoscribe/echoscribe/cmd/server/internal/jobs"
	"github.com/echoscribe/echoscribe/cmd/server/internal/pipeline"
	"github.com/echoscribe/echoscribe/cmd/server/internal/quota"
	"github.com/echoscribe/echoscribe/internal/domain"
	"github.com/echoscribe/echoscribe/pkg/metrics"
)

// Handler serves the job API.
type Handler struct {
	pipe    *pipeline.Pipeline
	store   *jobs.FileStore
	watcher *jobs.Watcher
	eng     engine.Engine
	logger  *slog.Logger
}

// NewHandler creates the API handler. A nil logger uses slog's default.
func NewHandler(pipe *pipeline.Pipeline, store *jobs.FileStore, eng engine.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		pipe:    pipe,
		store:   store,
		watcher: jobs.NewWatcher(store, 30*time.Second, logger),
		eng:     eng,
		logger:  logger,
	}
}

// RegisterRoutes mounts all endpoints on the router.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.POST("/jobs", h.submitJob)
		v1.GET("/jobs", h.listJobs)
		v1.GET("/jobs/:id", h.getJob)
		v1.GET("/jobs/:id/watch", h.watchJob)
		v1.GET("/jobs/:id/result", h.getResult)
		v1.GET("/events", h.streamEvents)
	}
}

type submitJobRequest struct {
	MediaRef string                    `json:"media_ref" binding:"required"`
	Tier     quota.Tier                `json:"tier"`
	Settings domain.TranscribeSettings `json:"settings"`
}

func (h *Handler) submitJob(c *gin.Context) {
	var req submitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequestResponse(c, "invalid request body: "+err.Error())
		return
	}
	if req.Tier == "" {
		req.Tier = quota.TierFree
	}

	job, err := h.pipe.Submit(c.Request.Context(), pipeline.SubmitRequest{
		UserID:   currentUser(c),
		Tier:     req.Tier,
		MediaRef: req.MediaRef,
		Settings: req.Settings,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	// The job runs detached from the request; clients poll or subscribe.
	go func() {
		if err := h.pipe.Process(context.Background(), job.ID); err != nil {
			h.logger.Error("background job failed", "job_id", job.ID, "error", err)
		}
	}()

	c.JSON(http.StatusAccepted, job)
}

func (h *Handler) listJobs(c *gin.Context) {
	user := c.Query("user")
	if user == "" {
		user = currentUser(c)
	}
	if user == "anonymous" {
		user = ""
	}
	successResponse(c, gin.H{"jobs": h.store.List(user)})
}

func (h *Handler) getJob(c *gin.Context) {
	job, err := h.store.Get(c.Param("id"))
	if errors.Is(err, jobs.ErrNotFound) {
		// Fall back to key-based lookup so clients that lost the
		// internal id can still find their job.
		job, err = h.store.GetByKey(jobs.Key{
			Primary:  c.Param("id"),
			Fallback: c.Query("fallback"),
		})
	}
	if err != nil {
		notFoundResponse(c, "job")
		return
	}
	successResponse(c, job)
}

// watchJob blocks until the identified job reaches a terminal status and
// returns the final record. The path id may be the internal id, the
// backend id, or unknown with only the fallback query set.
func (h *Handler) watchJob(c *gin.Context) {
	key := jobs.Key{Primary: c.Param("id"), Fallback: c.Query("fallback")}
	if j, err := h.store.Get(c.Param("id")); err == nil {
		// Internal ids are not tracking keys; watch by the job's own
		// identity instead.
		key = jobs.Key{Primary: j.ExternalID, Fallback: j.FallbackKey}
	}

	var final *jobs.Job
	err := h.watcher.Await(c.Request.Context(), key, currentUser(c), func(j jobs.Job) {
		final = &j
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	successResponse(c, final)
}

func (h *Handler) getResult(c *gin.Context) {
	id := c.Param("id")
	job, err := h.store.Get(id)
	if err != nil {
		notFoundResponse(c, "job")
		return
	}
	if job.Status != jobs.StatusCompleted {
		errorResponse(c, http.StatusConflict, "job is "+string(job.Status)+", result not available")
		return
	}

	result, err := h.pipe.Result(id)
	if err != nil {
		notFoundResponse(c, "result")
		return
	}
	successResponse(c, result)
}

func (h *Handler) health(c *gin.Context) {
	ready, err := h.eng.HealthCheck(c.Request.Context())
	metrics.SetEngineReady(ready && err == nil)

	status := "ok"
	code := http.StatusOK
	if err != nil || !ready {
		status = "degraded"
		// The server itself is up; a degraded engine is reported but not
		// a 5xx, load balancers should keep routing.
	}
	c.JSON(code, gin.H{
		"status": status,
		"engine": h.eng.Name(),
	})
}

// writeError maps pipeline errors to HTTP status codes.
func (h *Handler) writeError(c *gin.Context, err error) {
	code := domain.CodeOf(err)
	switch code {
	case domain.VALIDATION_FAILED:
		errorResponseWithCode(c, http.StatusBadRequest, string(code), err.Error())
	case domain.QUOTA_EXCEEDED:
		errorResponseWithCode(c, http.StatusTooManyRequests, string(code), err.Error())
	case domain.WORKER_TRANSIENT:
		errorResponseWithCode(c, http.StatusServiceUnavailable, string(code), err.Error())
	case domain.TRACKING_AMBIGUOUS:
		errorResponseWithCode(c, http.StatusNotFound, string(code), err.Error())
	default:
		errorResponseWithCode(c, http.StatusInternalServerError, string(code), err.Error())
	}
}
