// Package pipeline wires the processing stages together and drives one
// job from submission to a persisted result: probe and quota check, chunk
// split, dispatch, speaker reconciliation, stitch.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/echoscribe/echoscribe/cmd/server/internal/dispatch"
	"github.com/echoscribe/echoscribe/cmd/server/internal/engine"
	"github.com/echoscribe/echoscribe/cmd/server/internal/jobs"
	"github.com/echoscribe/echoscribe/cmd/server/internal/quota"
	"github.com/echoscribe/echoscribe/cmd/server/internal/segment"
	"github.com/echoscribe/echoscribe/cmd/server/internal/speaker"
	"github.com/echoscribe/echoscribe/cmd/server/internal/stitch"
	"github.com/echoscribe/echoscribe/internal/domain"
)

// Speaker reconciliation strategies. Timeline runs one full-file
// diarization before any chunk is transcribed; embedding diarizes every
// chunk locally and matches the labels by voice embedding afterwards.
const (
	StrategyTimeline  = "timeline"
	StrategyEmbedding = "embedding"
)

// Config bundles the stage configurations.
type Config struct {
	Segmenter        segment.Config
	Dispatch         dispatch.Config
	Stitch           stitch.Config
	SpeakerStrategy  string
	SpeakerThreshold float64
	ResultsDir       string
}

// Pipeline owns the stages shared by all jobs. Per-job state (the
// embedding registry in particular) is created fresh for each run.
type Pipeline struct {
	eng        engine.Engine
	segmenter  *segment.Segmenter
	dispatcher *dispatch.Dispatcher
	timeline   *speaker.TimelineReconciler
	stitcher   *stitch.Stitcher
	store      *jobs.FileStore
	checker    *quota.Checker
	cfg        Config
	logger     *slog.Logger
}

// New assembles a pipeline. A nil logger uses slog's default.
func New(eng engine.Engine, store *jobs.FileStore, checker *quota.Checker, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	dcfg := cfg.Dispatch
	if cfg.SpeakerStrategy == StrategyEmbedding {
		dcfg.PerChunkDiarization = true
	}
	return &Pipeline{
		eng:        eng,
		segmenter:  segment.New(eng, cfg.Segmenter, logger),
		dispatcher: dispatch.New(eng, dcfg, logger),
		timeline:   speaker.NewTimelineReconciler(logger),
		stitcher:   stitch.New(cfg.Stitch, logger),
		store:      store,
		checker:    checker,
		cfg:        cfg,
		logger:     logger,
	}
}

// SubmitRequest describes one transcription submission.
type SubmitRequest struct {
	UserID   string                    `json:"user_id"`
	Tier     quota.Tier                `json:"tier"`
	MediaRef string                    `json:"media_ref"`
	Settings domain.TranscribeSettings `json:"settings"`
}

// Submit validates the media, checks the quota and enqueues a job. The
// job is returned queued; Process runs it.
func (p *Pipeline) Submit(ctx context.Context, req SubmitRequest) (*jobs.Job, error) {
	if req.MediaRef == "" {
		return nil, domain.NewValidationError("media_ref is required", nil)
	}
	if req.UserID == "" {
		return nil, domain.NewValidationError("user_id is required", nil)
	}

	info, err := p.eng.Probe(ctx, req.MediaRef)
	if err != nil {
		return nil, err
	}
	if err := p.checker.Check(req.UserID, req.Tier, info.Duration); err != nil {
		return nil, err
	}

	job := &jobs.Job{
		UserID:      req.UserID,
		MediaRef:    req.MediaRef,
		FallbackKey: FallbackKey(req.MediaRef, info.Duration),
		Settings:    req.Settings,
		Priority:    quota.Priority(req.Tier),
		MaxRetries:  p.dispatcher.MaxRetries(),
	}
	if err := p.store.Create(job); err != nil {
		return nil, err
	}
	return job, nil
}

// FallbackKey derives the client-computable job identity from properties
// of the media itself. Both sides can rebuild it independently, which is
// the whole point: it must survive the loss of the server-assigned id.
func FallbackKey(mediaRef string, duration float64) string {
	return fmt.Sprintf("%s:%.0f", filepath.Base(mediaRef), duration)
}

// Process runs a queued job to a terminal state. Every failure path
// transitions the job to failed with the phase and error code recorded;
// the returned error mirrors what was stored.
func (p *Pipeline) Process(ctx context.Context, jobID string) error {
	job, err := p.store.Get(jobID)
	if err != nil {
		return err
	}
	if _, err := p.store.Transition(jobID, jobs.StatusProcessing, "", ""); err != nil {
		return err
	}

	result, err := p.run(ctx, job)
	if err != nil {
		code := domain.CodeOf(err)
		p.logger.Error("job failed", "job_id", jobID, "error", err, "code", code)
		if _, terr := p.store.Transition(jobID, jobs.StatusFailed, err.Error(), string(code)); terr != nil {
			p.logger.Error("failed to record job failure", "job_id", jobID, "error", terr)
		}
		return err
	}

	if err := p.saveResult(jobID, result); err != nil {
		if _, terr := p.store.Transition(jobID, jobs.StatusFailed, err.Error(), string(domain.WORKER_PERMANENT)); terr != nil {
			p.logger.Error("failed to record job failure", "job_id", jobID, "error", terr)
		}
		return err
	}

	_, err = p.store.Transition(jobID, jobs.StatusCompleted, "", "")
	return err
}

func (p *Pipeline) run(ctx context.Context, job *jobs.Job) (*domain.StitchedResult, error) {
	start := time.Now()

	chunks, err := p.segmenter.Segment(ctx, job.MediaRef)
	if err != nil {
		return nil, fmt.Errorf("split phase: %w", err)
	}
	p.logger.Info("media split", "job_id", job.ID, "chunks", len(chunks))

	onProgress := func(completed, total int) {
		if err := p.store.SetProgress(job.ID, completed, total); err != nil {
			p.logger.Warn("progress update failed", "job_id", job.ID, "error", err)
		}
	}
	dres, err := p.dispatcher.Run(ctx, job.MediaRef, chunks, job.Settings, onProgress)
	if err != nil {
		return nil, fmt.Errorf("transcribe phase: %w", err)
	}

	if job.Settings.DiarizationEnabled {
		if len(dres.Timeline) > 0 {
			p.timeline.Reconcile(dres.Chunks, dres.Timeline)
		} else {
			// No usable full-file timeline; fall back to matching the
			// per-chunk speaker labels by voice embedding.
			embed := speaker.NewEmbeddingReconciler(p.eng, p.speakerThreshold(job), p.logger)
			if _, err := embed.Reconcile(ctx, dres.Chunks); err != nil {
				return nil, fmt.Errorf("reconcile phase: %w", err)
			}
		}
	}

	result, err := p.stitcher.Stitch(dres.Chunks)
	if err != nil {
		return nil, fmt.Errorf("stitch phase: %w", err)
	}

	summary := &jobs.ResultSummary{
		ProcessingMethod: result.Metadata.ProcessingMethod,
		WordCount:        result.WordCount,
		SpeakerCount:     result.SpeakerCount,
		ChunksProcessed:  result.Metadata.ChunksProcessed,
	}
	if err := p.store.RecordOutcome(job.ID, dres.Retries, summary); err != nil {
		p.logger.Warn("outcome update failed", "job_id", job.ID, "error", err)
	}

	p.logger.Info("job processed",
		"job_id", job.ID,
		"chunks", len(chunks),
		"words", result.WordCount,
		"speakers", result.SpeakerCount,
		"elapsed", time.Since(start),
	)
	return result, nil
}

func (p *Pipeline) speakerThreshold(job *jobs.Job) float64 {
	if job.Settings.SpeakerThreshold > 0 {
		return job.Settings.SpeakerThreshold
	}
	return p.cfg.SpeakerThreshold
}

func (p *Pipeline) resultPath(jobID string) string {
	return filepath.Join(p.cfg.ResultsDir, jobID+".json")
}

func (p *Pipeline) saveResult(jobID string, result *domain.StitchedResult) error {
	b, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := os.MkdirAll(p.cfg.ResultsDir, 0o755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}
	path := p.resultPath(jobID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename result: %w", err)
	}
	return nil
}

// Result loads the persisted result of a completed job.
func (p *Pipeline) Result(jobID string) (*domain.StitchedResult, error) {
	b, err := os.ReadFile(p.resultPath(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, jobs.ErrNotFound
		}
		return nil, fmt.Errorf("read result: %w", err)
	}
	var result domain.StitchedResult
	if err := json.Unmarshal(b, &result); err != nil {
		return nil, fmt.Errorf("parse result: %w", err)
	}
	return &result, nil
}
