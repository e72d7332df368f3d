// Package dispatch sends media chunks to the inference engine with bounded
// concurrency, per-call timeouts and retry with exponential backoff.
//
// When diarization is requested it normally runs ONCE over the full
// original file before any chunk is transcribed, and the per-chunk calls
// ask for transcription (plus optional timestamps) only. Diarization
// quality degrades badly when speaker turns are truncated at arbitrary
// chunk boundaries, and a single continuous speaker timeline removes the
// chunk-local re-numbering problem entirely. PerChunkDiarization selects
// the other mode: each chunk call carries its own local speaker labels
// and the embedding reconciler maps them to global ids downstream.
package dispatch

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/echoscribe/echoscribe/cmd/server/internal/engine"
	"github.com/echoscribe/echoscribe/internal/domain"
	"github.com/echoscribe/echoscribe/pkg/metrics"
)

// Config bounds the dispatcher's resource usage.
type Config struct {
	// MaxConcurrency is the worker pool width. Default 2; the downstream
	// engine rate-limits, so widths past 3 rarely help.
	MaxConcurrency int

	// CallTimeout bounds every individual engine call. Default 120 s.
	CallTimeout time.Duration

	// MaxRetries is the number of additional attempts after the first
	// failed call. Default 3.
	MaxRetries int

	// RetryBaseDelay is the first backoff step; each retry doubles it.
	// Default 2 s.
	RetryBaseDelay time.Duration

	// PerChunkDiarization skips the full-file diarization pre-pass and
	// asks every chunk call for its own speaker labels instead.
	PerChunkDiarization bool
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 2
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 120 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 2 * time.Second
	}
	return c
}

// Result is everything the dispatcher produced for one job: the chunks
// with transcripts attached in index order, plus the full-file diarization
// timeline when a pre-pass ran. Retries counts the engine call retries
// spent across the whole job.
type Result struct {
	Chunks   []domain.MediaChunk
	Timeline []domain.DiarizedSegment
	Retries  int
}

// Dispatcher drives the per-chunk engine calls for one job at a time.
type Dispatcher struct {
	eng    engine.Engine
	cfg    Config
	logger *slog.Logger
}

// New creates a dispatcher. A nil logger uses slog's default.
func New(eng engine.Engine, cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{eng: eng, cfg: cfg.withDefaults(), logger: logger}
}

// Run transcribes every chunk. onProgress, when non-nil, is invoked with
// (completed, total) after each chunk completes; completion order follows
// the network, but the returned slice is always in index order.
//
// The first permanent chunk failure cancels the remaining work and aborts
// the job — a partial transcript is never silently returned.
func (d *Dispatcher) Run(
	ctx context.Context,
	mediaRef string,
	chunks []domain.MediaChunk,
	settings domain.TranscribeSettings,
	onProgress func(completed, total int),
) (*Result, error) {
	res := &Result{Chunks: chunks}
	var retries atomic.Int64

	if settings.DiarizationEnabled && !d.cfg.PerChunkDiarization {
		timeline, err := d.diarizePrePass(ctx, mediaRef, settings.SpeakerThreshold, &retries)
		if err != nil {
			return nil, err
		}
		res.Timeline = timeline
	}

	opts := engine.TranscribeOptions{
		// The pre-pass owns speaker attribution; per-chunk diarization
		// stays off whenever it ran.
		DiarizationEnabled: settings.DiarizationEnabled && res.Timeline == nil,
		TimestampsEnabled:  settings.TimestampsEnabled,
		SpeakerThreshold:   settings.SpeakerThreshold,
		Language:           settings.Language,
	}

	sem := semaphore.NewWeighted(int64(d.cfg.MaxConcurrency))
	g, gctx := errgroup.WithContext(ctx)
	var completed atomic.Int64
	total := len(chunks)

	for i := range chunks {
		chunk := &res.Chunks[i]
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			chunk.Status = domain.ChunkProcessing
			tr, err := d.transcribeWithRetry(gctx, chunk.AudioRef, chunk.Index, opts, &retries)
			if err != nil {
				chunk.Status = domain.ChunkFailed
				return err
			}

			chunk.Status = domain.ChunkCompleted
			chunk.Transcript = tr
			done := int(completed.Add(1))
			if onProgress != nil {
				onProgress(done, total)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	res.Retries = int(retries.Load())
	return res, nil
}

// MaxRetries reports the resolved per-call retry budget.
func (d *Dispatcher) MaxRetries() int { return d.cfg.MaxRetries }

// diarizePrePass runs the single full-file diarization with the same
// retry/timeout policy as chunk calls.
func (d *Dispatcher) diarizePrePass(ctx context.Context, mediaRef string, threshold float64, retries *atomic.Int64) ([]domain.DiarizedSegment, error) {
	var segments []domain.DiarizedSegment
	err := d.withRetry(ctx, "diarize", -1, retries, func(callCtx context.Context) error {
		var err error
		segments, err = d.eng.Diarize(callCtx, mediaRef, threshold)
		return err
	})
	if err != nil {
		return nil, err
	}
	if segments == nil {
		segments = []domain.DiarizedSegment{}
	}
	return segments, nil
}

func (d *Dispatcher) transcribeWithRetry(ctx context.Context, chunkRef string, chunkIndex int, opts engine.TranscribeOptions, retries *atomic.Int64) (*domain.ChunkTranscript, error) {
	var tr *domain.ChunkTranscript
	err := d.withRetry(ctx, "transcribe", chunkIndex, retries, func(callCtx context.Context) error {
		var err error
		tr, err = d.eng.Transcribe(callCtx, chunkRef, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tr, nil
}

// withRetry runs one engine call with a per-attempt timeout, retrying
// transient failures with exponential backoff. Exhausted retries or a
// non-transient error become PermanentWorkerError.
func (d *Dispatcher) withRetry(ctx context.Context, op string, chunkIndex int, retries *atomic.Int64, call func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			retries.Add(1)
			delay := d.cfg.RetryBaseDelay << (attempt - 1)
			d.logger.Warn("retrying engine call",
				"op", op, "chunk", chunkIndex, "attempt", attempt, "delay", delay)
			metrics.RecordError(op, string(domain.WORKER_TRANSIENT))

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		start := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
		err := call(callCtx)
		cancel()
		metrics.RecordDuration(op, time.Since(start).Seconds())

		if err == nil {
			metrics.RecordChunkProcessed(op, true)
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			// The job was cancelled (e.g. a sibling chunk failed
			// permanently); do not count this as a chunk verdict.
			return ctx.Err()
		}
		if !domain.IsTransient(err) {
			break
		}
	}

	metrics.RecordChunkProcessed(op, false)
	metrics.RecordError(op, string(domain.WORKER_PERMANENT))
	return &domain.PermanentWorkerError{Op: op, ChunkIndex: chunkIndex, Cause: lastErr}
}
