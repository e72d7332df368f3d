// Package engine is the boundary to the external inference service that
// performs the actual media work: probing/cutting audio, speech-to-text,
// diarization and voice-embedding extraction. The pipeline only ever talks
// to the Engine interface; concrete implementations (HTTP, mock) are
// interchangeable.
package engine

import (
	"context"
	"time"

	"github.com/echoscribe/echoscribe/internal/domain"
)

// SilenceInterval is a contiguous low-energy interval of the media,
// reported by Probe with absolute timestamps.
type SilenceInterval struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Midpoint returns the center of the interval, the preferred cut position.
func (s SilenceInterval) Midpoint() float64 {
	return (s.Start + s.End) / 2
}

// MediaInfo describes a media file well enough to plan chunk boundaries.
type MediaInfo struct {
	Duration   float64           `json:"duration"`
	SampleRate int               `json:"sample_rate"`
	Channels   int               `json:"channels"`
	Silences   []SilenceInterval `json:"silences,omitempty"`
}

// TranscribeOptions are the per-call engine parameters. Diarization is
// deliberately off for per-chunk calls when a full-file pre-pass ran; the
// dispatcher owns that decision.
type TranscribeOptions struct {
	DiarizationEnabled bool
	TimestampsEnabled  bool
	SpeakerThreshold   float64
	Language           string
	Timeout            time.Duration
}

// Engine is the standard interface to the inference service. All methods
// respect context cancellation; a blocked call runs to completion or
// timeout, never half-way.
//
// Implementations classify failures: retryable conditions (network errors,
// timeouts, HTTP 5xx) surface as *domain.TransientWorkerError, everything
// else is permanent for the call.
type Engine interface {
	// Probe validates the media and returns duration, format and the
	// silence intervals used for smart boundary snapping.
	Probe(ctx context.Context, mediaRef string) (*MediaInfo, error)

	// Cut extracts the [start,end) interval of the media into a new chunk
	// and returns its reference. No audio is ever re-encoded lossily twice.
	Cut(ctx context.Context, mediaRef string, start, end float64) (string, error)

	// Transcribe runs speech-to-text on one chunk.
	Transcribe(ctx context.Context, chunkRef string, opts TranscribeOptions) (*domain.ChunkTranscript, error)

	// Diarize runs speaker diarization over the full media file and
	// returns speaker segments with absolute timestamps.
	Diarize(ctx context.Context, mediaRef string, speakerThreshold float64) ([]domain.DiarizedSegment, error)

	// Embeddings extracts one voice embedding per chunk-local speaker
	// label found in the chunk's diarized segments.
	Embeddings(ctx context.Context, chunkRef string, segments []domain.DiarizedSegment) ([]domain.SpeakerEmbedding, error)

	// HealthCheck verifies the service is reachable and ready.
	HealthCheck(ctx context.Context) (bool, error)

	// Name identifies the implementation in logs and monitoring.
	Name() string
}
