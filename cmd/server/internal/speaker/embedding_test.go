package speaker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echoscribe/echoscribe/cmd/server/internal/engine"
	"github.com/echoscribe/echoscribe/internal/domain"
)

// FakeEmbeddingEngine serves preset embeddings keyed by chunk ref and
// records the diarized segments each call carried.
type FakeEmbeddingEngine struct {
	ByRef       map[string][]domain.SpeakerEmbedding
	GotSegments map[string][]domain.DiarizedSegment
	Err         error
}

func (f *FakeEmbeddingEngine) Probe(ctx context.Context, mediaRef string) (*engine.MediaInfo, error) {
	return &engine.MediaInfo{}, nil
}

func (f *FakeEmbeddingEngine) Cut(ctx context.Context, mediaRef string, start, end float64) (string, error) {
	return mediaRef, nil
}

func (f *FakeEmbeddingEngine) Transcribe(ctx context.Context, chunkRef string, opts engine.TranscribeOptions) (*domain.ChunkTranscript, error) {
	return &domain.ChunkTranscript{}, nil
}

func (f *FakeEmbeddingEngine) Diarize(ctx context.Context, mediaRef string, threshold float64) ([]domain.DiarizedSegment, error) {
	return nil, nil
}

func (f *FakeEmbeddingEngine) Embeddings(ctx context.Context, chunkRef string, segments []domain.DiarizedSegment) ([]domain.SpeakerEmbedding, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	if f.GotSegments == nil {
		f.GotSegments = make(map[string][]domain.DiarizedSegment)
	}
	f.GotSegments[chunkRef] = segments
	return f.ByRef[chunkRef], nil
}

func (f *FakeEmbeddingEngine) HealthCheck(ctx context.Context) (bool, error) { return true, nil }

func (f *FakeEmbeddingEngine) Name() string { return "fake-embeddings" }

func chunkWithSpeakers(index int, ref string, speakers ...string) domain.MediaChunk {
	segs := make([]domain.DiarizedSegment, len(speakers))
	for i, s := range speakers {
		segs[i] = domain.DiarizedSegment{Speaker: s, Start: float64(i), End: float64(i + 1), Text: "..."}
	}
	return domain.MediaChunk{
		Index:      index,
		AudioRef:   ref,
		Transcript: &domain.ChunkTranscript{DiarizedSegments: segs},
	}
}

func TestEmbeddingReconciler_SameVoiceAcrossChunks(t *testing.T) {
	// The same voice appears as "Speaker 1" in chunk 0 and "Speaker 2" in
	// chunk 1; both must resolve to one global identity.
	alice := []float64{1, 0, 0}
	bob := []float64{0, 1, 0}
	fake := &FakeEmbeddingEngine{ByRef: map[string][]domain.SpeakerEmbedding{
		"c0": {
			{Label: "Speaker 1", Vector: alice},
			{Label: "Speaker 2", Vector: bob},
		},
		"c1": {
			{Label: "Speaker 1", Vector: bob},
			{Label: "Speaker 2", Vector: alice},
		},
	}}
	chunks := []domain.MediaChunk{
		chunkWithSpeakers(0, "c0", "Speaker 1", "Speaker 2"),
		chunkWithSpeakers(1, "c1", "Speaker 1", "Speaker 2"),
	}

	r := NewEmbeddingReconciler(fake, 0.75, nil)
	gsm, err := r.Reconcile(context.Background(), chunks)
	require.NoError(t, err)

	aliceC0, _ := gsm.Resolve(0, "Speaker 1")
	aliceC1, _ := gsm.Resolve(1, "Speaker 2")
	bobC0, _ := gsm.Resolve(0, "Speaker 2")
	bobC1, _ := gsm.Resolve(1, "Speaker 1")

	assert.Equal(t, aliceC0, aliceC1, "the same voice gets the same global id")
	assert.Equal(t, bobC0, bobC1)
	assert.NotEqual(t, aliceC0, bobC0)
	assert.Equal(t, 2, len(gsm.GlobalIDs()), "two people total, not four")
}

func TestEmbeddingReconciler_BelowThresholdMintsNewIdentity(t *testing.T) {
	fake := &FakeEmbeddingEngine{ByRef: map[string][]domain.SpeakerEmbedding{
		"c0": {{Label: "Speaker 1", Vector: []float64{1, 0}}},
		"c1": {{Label: "Speaker 1", Vector: []float64{0.8, 0.6}}}, // cos = 0.8
	}}
	chunks := []domain.MediaChunk{
		chunkWithSpeakers(0, "c0", "Speaker 1"),
		chunkWithSpeakers(1, "c1", "Speaker 1"),
	}

	r := NewEmbeddingReconciler(fake, 0.9, nil)
	gsm, err := r.Reconcile(context.Background(), chunks)
	require.NoError(t, err)

	a, _ := gsm.Resolve(0, "Speaker 1")
	b, _ := gsm.Resolve(1, "Speaker 1")
	assert.NotEqual(t, a, b, "similarity below the threshold must not merge")
}

func TestEmbeddingReconciler_InjectiveWithinChunk(t *testing.T) {
	// Two local speakers in one chunk both resemble the same registered
	// voice; only one of them may claim it.
	v := []float64{1, 0, 0}
	near := []float64{0.99, 0.1, 0}
	fake := &FakeEmbeddingEngine{ByRef: map[string][]domain.SpeakerEmbedding{
		"c0": {{Label: "Speaker 1", Vector: v}},
		"c1": {
			{Label: "Speaker 1", Vector: v},
			{Label: "Speaker 2", Vector: near},
		},
	}}
	chunks := []domain.MediaChunk{
		chunkWithSpeakers(0, "c0", "Speaker 1"),
		chunkWithSpeakers(1, "c1", "Speaker 1", "Speaker 2"),
	}

	r := NewEmbeddingReconciler(fake, 0.75, nil)
	gsm, err := r.Reconcile(context.Background(), chunks)
	require.NoError(t, err)

	a, _ := gsm.Resolve(1, "Speaker 1")
	b, _ := gsm.Resolve(1, "Speaker 2")
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, len(gsm.GlobalIDs()))

	// The exact match wins the contested identity.
	c0, _ := gsm.Resolve(0, "Speaker 1")
	assert.Equal(t, c0, a)
}

func TestEmbeddingReconciler_RelabelsSegments(t *testing.T) {
	fake := &FakeEmbeddingEngine{ByRef: map[string][]domain.SpeakerEmbedding{
		"c0": {{Label: "Speaker 1", Vector: []float64{1, 0}}},
	}}
	chunks := []domain.MediaChunk{chunkWithSpeakers(0, "c0", "Speaker 1", "Speaker 1")}

	r := NewEmbeddingReconciler(fake, 0, nil)
	_, err := r.Reconcile(context.Background(), chunks)
	require.NoError(t, err)

	for _, seg := range chunks[0].Transcript.DiarizedSegments {
		assert.Equal(t, "SPEAKER_00", seg.Speaker)
	}
}

func TestEmbeddingReconciler_Deterministic(t *testing.T) {
	byRef := map[string][]domain.SpeakerEmbedding{
		"c0": {
			{Label: "Speaker 1", Vector: []float64{1, 0, 0}},
			{Label: "Speaker 2", Vector: []float64{0, 1, 0}},
			{Label: "Speaker 3", Vector: []float64{0, 0, 1}},
		},
		"c1": {
			{Label: "Speaker 1", Vector: []float64{0, 1, 0}},
			{Label: "Speaker 2", Vector: []float64{0, 0, 1}},
		},
	}

	run := func() map[string]string {
		chunks := []domain.MediaChunk{
			chunkWithSpeakers(0, "c0", "Speaker 1", "Speaker 2", "Speaker 3"),
			chunkWithSpeakers(1, "c1", "Speaker 1", "Speaker 2"),
		}
		r := NewEmbeddingReconciler(&FakeEmbeddingEngine{ByRef: byRef}, 0.75, nil)
		gsm, err := r.Reconcile(context.Background(), chunks)
		require.NoError(t, err)

		out := map[string]string{}
		for ci, labels := range map[int][]string{0: {"Speaker 1", "Speaker 2", "Speaker 3"}, 1: {"Speaker 1", "Speaker 2"}} {
			for _, l := range labels {
				id, ok := gsm.Resolve(ci, l)
				require.True(t, ok)
				out[string(rune('0'+ci))+"/"+l] = id
			}
		}
		return out
	}

	first := run()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, run())
	}
}

func TestEmbeddingReconciler_SkipsChunksWithoutDiarization(t *testing.T) {
	fake := &FakeEmbeddingEngine{}
	chunks := []domain.MediaChunk{
		{Index: 0, AudioRef: "c0"},
		{Index: 1, AudioRef: "c1", Transcript: &domain.ChunkTranscript{}},
	}

	r := NewEmbeddingReconciler(fake, 0.75, nil)
	gsm, err := r.Reconcile(context.Background(), chunks)
	require.NoError(t, err)
	assert.Equal(t, 0, gsm.Len())
}

func TestEmbeddingReconciler_PassesSegmentsToEngine(t *testing.T) {
	// The engine extracts one embedding per diarized segment, so the
	// reconciler must hand over the chunk's segments with each call.
	fake := &FakeEmbeddingEngine{ByRef: map[string][]domain.SpeakerEmbedding{
		"c0": {{Label: "Speaker 1", Vector: []float64{1, 0, 0}}},
	}}
	chunks := []domain.MediaChunk{chunkWithSpeakers(0, "c0", "Speaker 1", "Speaker 2")}

	r := NewEmbeddingReconciler(fake, 0.75, nil)
	_, err := r.Reconcile(context.Background(), chunks)
	require.NoError(t, err)

	require.Contains(t, fake.GotSegments, "c0")
	assert.Equal(t, chunks[0].Transcript.DiarizedSegments, fake.GotSegments["c0"])
}
