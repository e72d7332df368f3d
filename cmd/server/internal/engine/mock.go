package engine

import (
	"context"
	"fmt"

	"github.com/echoscribe/echoscribe/internal/domain"
)

// MockEngine implements Engine as a degraded-mode fallback. It never
// blocks and never fails: Probe reports a fixed one-hour silent file, all
// other calls return empty results. The pipeline keeps functioning (job
// records, progress, stitched-but-empty output) while the real engine is
// unavailable, and operators see the degraded state via HealthCheck and
// the engine name in job metadata.
type MockEngine struct{}

// NewMockEngine creates the fallback engine. It is stateless.
func NewMockEngine() *MockEngine {
	return &MockEngine{}
}

// Probe implements Engine with a fixed 3600 s mono 16 kHz description.
func (m *MockEngine) Probe(ctx context.Context, mediaRef string) (*MediaInfo, error) {
	return &MediaInfo{Duration: 3600, SampleRate: 16000, Channels: 1}, nil
}

// Cut implements Engine with a synthetic chunk reference.
func (m *MockEngine) Cut(ctx context.Context, mediaRef string, start, end float64) (string, error) {
	return fmt.Sprintf("%s#%g-%g", mediaRef, start, end), nil
}

// Transcribe implements Engine with an empty transcript. Clients detect
// empty segments and surface that transcription is unavailable.
func (m *MockEngine) Transcribe(ctx context.Context, chunkRef string, opts TranscribeOptions) (*domain.ChunkTranscript, error) {
	return &domain.ChunkTranscript{Words: []domain.Word{}}, nil
}

// Diarize implements Engine with no speaker segments.
func (m *MockEngine) Diarize(ctx context.Context, mediaRef string, speakerThreshold float64) ([]domain.DiarizedSegment, error) {
	return []domain.DiarizedSegment{}, nil
}

// Embeddings implements Engine with no embeddings.
func (m *MockEngine) Embeddings(ctx context.Context, chunkRef string, segments []domain.DiarizedSegment) ([]domain.SpeakerEmbedding, error) {
	return []domain.SpeakerEmbedding{}, nil
}

// HealthCheck always reports unhealthy: the mock is a degraded state by
// definition.
func (m *MockEngine) HealthCheck(ctx context.Context) (bool, error) {
	return false, nil
}

// Name implements Engine.
func (m *MockEngine) Name() string { return "mock-degraded" }
