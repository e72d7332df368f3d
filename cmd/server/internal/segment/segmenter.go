// Package segment splits long media into ordered, gapless chunks. The
// split plan is computed here from the engine's probe data; the engine only
// executes the cuts. With smart splitting enabled each fixed boundary is
// snapped to the nearest silence midpoint inside a search window so cuts
// do not land inside words or speaker turns; when no silence is close
// enough the hard cut stands — audio is never dropped.
package segment

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/echoscribe/echoscribe/cmd/server/internal/engine"
	"github.com/echoscribe/echoscribe/internal/domain"
)

// DurationEpsilon is the tolerated absolute difference between the sum of
// chunk durations and the probed media duration.
const DurationEpsilon = 0.05

// Config controls boundary planning.
type Config struct {
	// TargetChunkSeconds is the nominal chunk length. Default 900 (15 min).
	TargetChunkSeconds float64

	// SmartSplitting snaps boundaries to silence when true.
	SmartSplitting bool

	// BoundaryWindowSeconds is the ± search window around each fixed
	// boundary for a silence midpoint. Default 10.
	BoundaryWindowSeconds float64

	// OverlapSeconds extends every non-final chunk's cut past its logical
	// end. Used by waveform workflows so the stitcher has material to fade
	// over; zero for plain transcription.
	OverlapSeconds float64
}

func (c Config) withDefaults() Config {
	if c.TargetChunkSeconds <= 0 {
		c.TargetChunkSeconds = 900
	}
	if c.BoundaryWindowSeconds <= 0 {
		c.BoundaryWindowSeconds = 10
	}
	return c
}

// Segmenter plans and executes the chunking of one media file.
type Segmenter struct {
	eng    engine.Engine
	cfg    Config
	logger *slog.Logger
}

// New creates a segmenter. A nil logger uses slog's default.
func New(eng engine.Engine, cfg Config, logger *slog.Logger) *Segmenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Segmenter{eng: eng, cfg: cfg.withDefaults(), logger: logger}
}

// Segment probes the media, plans boundaries and cuts every chunk.
// Unreadable media fails with ValidationError before any chunk work.
func (s *Segmenter) Segment(ctx context.Context, mediaRef string) ([]domain.MediaChunk, error) {
	info, err := s.eng.Probe(ctx, mediaRef)
	if err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			return nil, err
		}
		return nil, domain.NewValidationError("media probe failed", err)
	}

	boundaries := PlanBoundaries(info.Duration, info.Silences, s.cfg)
	chunks := make([]domain.MediaChunk, 0, len(boundaries)-1)

	for i := 0; i+1 < len(boundaries); i++ {
		start, end := boundaries[i], boundaries[i+1]

		cutEnd := end
		overlap := 0.0
		if s.cfg.OverlapSeconds > 0 && end < info.Duration {
			cutEnd = math.Min(end+s.cfg.OverlapSeconds, info.Duration)
			overlap = cutEnd - end
		}

		ref, err := s.eng.Cut(ctx, mediaRef, start, cutEnd)
		if err != nil {
			return nil, err
		}

		chunks = append(chunks, domain.MediaChunk{
			Index:          i,
			StartTime:      start,
			EndTime:        end,
			StartSample:    int64(math.Round(start * float64(info.SampleRate))),
			EndSample:      int64(math.Round(end * float64(info.SampleRate))),
			OverlapSeconds: overlap,
			AudioRef:       ref,
			Status:         domain.ChunkPending,
		})

		s.logger.Info("chunk created",
			"index", i,
			"start", start,
			"end", end,
			"overlap", overlap,
			"ref", ref,
		)
	}

	return chunks, nil
}

// PlanBoundaries computes the ordered cut positions for a media file of
// the given duration. The result always begins at 0, ends at duration, is
// strictly increasing, and covers the file without gaps.
func PlanBoundaries(duration float64, silences []engine.SilenceInterval, cfg Config) []float64 {
	cfg = cfg.withDefaults()

	boundaries := []float64{0}
	current := 0.0

	for {
		target := current + cfg.TargetChunkSeconds
		if target >= duration {
			break
		}

		cut := target
		if cfg.SmartSplitting {
			cut = snapToSilence(target, current, duration, silences, cfg.BoundaryWindowSeconds)
		}

		// A snap can only move inside the window, but guard against
		// degenerate silence data producing a non-advancing boundary.
		if cut <= current {
			cut = target
		}

		boundaries = append(boundaries, cut)
		current = cut
	}

	boundaries = append(boundaries, duration)
	return boundaries
}

// snapToSilence returns the silence midpoint closest to target within the
// ±window, constrained to (lo, hi). Without a candidate the hard cut at
// target stands.
func snapToSilence(target, lo, hi float64, silences []engine.SilenceInterval, window float64) float64 {
	best := target
	bestDist := math.Inf(1)

	for _, s := range silences {
		mid := s.Midpoint()
		if mid <= lo || mid >= hi {
			continue
		}
		dist := math.Abs(mid - target)
		if dist <= window && dist < bestDist {
			best = mid
			bestDist = dist
		}
	}

	return best
}
