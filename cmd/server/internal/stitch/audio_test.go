package stitch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echoscribe/echoscribe/internal/domain"
)

func audioChunk(index int, start, end, overlap float64) domain.MediaChunk {
	return domain.MediaChunk{
		Index:          index,
		StartTime:      start,
		EndTime:        end,
		OverlapSeconds: overlap,
		Status:         domain.ChunkCompleted,
	}
}

func constSamples(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestAudioMerge_ButtJoinWithoutOverlap(t *testing.T) {
	chunks := []domain.MediaChunk{
		audioChunk(0, 0, 1, 0),
		audioChunk(1, 1, 2, 0),
	}
	pcm := [][]float64{
		constSamples(100, 0.5),
		constSamples(100, -0.5),
	}

	out, err := NewAudioStitcher(0, nil).Merge(chunks, pcm, 100)
	require.NoError(t, err)

	require.Len(t, out, 200)
	assert.Equal(t, 0.5, out[99])
	assert.Equal(t, -0.5, out[100])
}

func TestAudioMerge_CrossfadesOverlapBoundary(t *testing.T) {
	// 100 Hz sample rate, 80 ms crossfade = 8 samples. Chunk 0 carries a
	// 0.2s (20 sample) overlap tail of constant 1.0; chunk 1 is constant 0.
	chunks := []domain.MediaChunk{
		audioChunk(0, 0, 1, 0.2),
		audioChunk(1, 1, 2, 0),
	}
	pcm := [][]float64{
		constSamples(120, 1.0),
		constSamples(100, 0.0),
	}

	out, err := NewAudioStitcher(DefaultCrossfadeSeconds, nil).Merge(chunks, pcm, 100)
	require.NoError(t, err)
	require.Len(t, out, 200)

	// The fade region blends monotonically from the old signal to the new.
	fade := out[100:108]
	for i := 1; i < len(fade); i++ {
		assert.Less(t, fade[i], fade[i-1], "fade must decrease toward the new signal")
	}
	assert.Greater(t, fade[0], 0.0)
	assert.Less(t, fade[len(fade)-1], 1.0)
	// Past the fade the new chunk owns the signal.
	assert.Equal(t, 0.0, out[108])
}

func TestAudioMerge_OutputLengthIsSumOfLogicalDurations(t *testing.T) {
	chunks := []domain.MediaChunk{
		audioChunk(0, 0, 2, 0.5),
		audioChunk(1, 2, 3, 0.5),
		audioChunk(2, 3, 3.5, 0),
	}
	pcm := [][]float64{
		constSamples(250, 0.1), // 200 logical + 50 overlap
		constSamples(150, 0.2), // 100 logical + 50 overlap
		constSamples(50, 0.3),
	}

	out, err := NewAudioStitcher(0, nil).Merge(chunks, pcm, 100)
	require.NoError(t, err)
	assert.Len(t, out, 350)
}

func TestAudioMerge_ShortBufferFails(t *testing.T) {
	chunks := []domain.MediaChunk{audioChunk(0, 0, 1, 0)}
	pcm := [][]float64{constSamples(50, 0)} // needs 100

	_, err := NewAudioStitcher(0, nil).Merge(chunks, pcm, 100)
	var sce *domain.StitchConsistencyError
	require.ErrorAs(t, err, &sce)
}

func TestAudioMerge_MismatchedBuffersFail(t *testing.T) {
	chunks := []domain.MediaChunk{audioChunk(0, 0, 1, 0)}

	_, err := NewAudioStitcher(0, nil).Merge(chunks, nil, 100)
	var sce *domain.StitchConsistencyError
	require.ErrorAs(t, err, &sce)
}
