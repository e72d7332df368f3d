package speaker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echoscribe/echoscribe/internal/domain"
)

func wordRange(start float64, words ...string) []domain.Word {
	out := make([]domain.Word, len(words))
	t := start
	for i, w := range words {
		out[i] = domain.Word{Word: w, Start: t, End: t + 1}
		t += 1
	}
	return out
}

func TestTimelineReconciler_AttributesByAbsoluteMidpoint(t *testing.T) {
	// One chunk starting at 900s; its words are chunk-relative so word
	// midpoints must be shifted before consulting the timeline.
	chunks := []domain.MediaChunk{
		{
			Index:     1,
			StartTime: 900,
			EndTime:   1800,
			Transcript: &domain.ChunkTranscript{
				Words: wordRange(0, "good", "morning", "everyone"),
			},
		},
	}
	timeline := []domain.DiarizedSegment{
		{Speaker: "SPEAKER_00", Start: 0, End: 901.5},
		{Speaker: "SPEAKER_01", Start: 901.5, End: 1800},
	}

	NewTimelineReconciler(nil).Reconcile(chunks, timeline)

	segs := chunks[0].Transcript.DiarizedSegments
	require.Len(t, segs, 2)
	// "good" midpoint is at 900.5 absolute, "morning" at 901.5.
	assert.Equal(t, "SPEAKER_00", segs[0].Speaker)
	assert.Equal(t, "good", segs[0].Text)
	assert.Equal(t, "SPEAKER_01", segs[1].Speaker)
	assert.Equal(t, "morning everyone", segs[1].Text)
}

func TestTimelineReconciler_GroupsConsecutiveWords(t *testing.T) {
	chunks := []domain.MediaChunk{
		{
			StartTime: 0,
			Transcript: &domain.ChunkTranscript{
				Words: wordRange(0, "we", "should", "ship", "it"),
			},
		},
	}
	timeline := []domain.DiarizedSegment{
		{Speaker: "SPEAKER_00", Start: 0, End: 100},
	}

	NewTimelineReconciler(nil).Reconcile(chunks, timeline)

	segs := chunks[0].Transcript.DiarizedSegments
	require.Len(t, segs, 1)
	assert.Equal(t, "we should ship it", segs[0].Text)
	assert.Equal(t, 0.0, segs[0].Start)
	assert.Equal(t, 4.0, segs[0].End)
	assert.Len(t, segs[0].Words, 4)
}

func TestSpeakerAt_GapFallsBackToClosestSegment(t *testing.T) {
	timeline := []domain.DiarizedSegment{
		{Speaker: "SPEAKER_00", Start: 0, End: 10},
		{Speaker: "SPEAKER_01", Start: 20, End: 30},
	}

	// 12 is 2s past SPEAKER_00 and 8s before SPEAKER_01.
	assert.Equal(t, "SPEAKER_00", speakerAt(12, timeline))
	assert.Equal(t, "SPEAKER_01", speakerAt(18, timeline))
}

func TestSpeakerAt_EmptyTimeline(t *testing.T) {
	assert.Equal(t, domain.UnknownSpeaker, speakerAt(5, nil))
}

func TestTimelineReconciler_SkipsChunksWithoutTranscript(t *testing.T) {
	chunks := []domain.MediaChunk{
		{Index: 0},
		{Index: 1, Transcript: &domain.ChunkTranscript{}},
	}

	// Must not panic on nil or empty transcripts.
	NewTimelineReconciler(nil).Reconcile(chunks, nil)
	assert.Nil(t, chunks[1].Transcript.DiarizedSegments)
}

func TestTimelineReconciler_Idempotent(t *testing.T) {
	build := func() []domain.MediaChunk {
		return []domain.MediaChunk{
			{
				StartTime: 0,
				Transcript: &domain.ChunkTranscript{
					Words: wordRange(0, "alpha", "beta", "gamma"),
				},
			},
		}
	}
	timeline := []domain.DiarizedSegment{
		{Speaker: "SPEAKER_00", Start: 0, End: 1.5},
		{Speaker: "SPEAKER_01", Start: 1.5, End: 100},
	}
	r := NewTimelineReconciler(nil)

	a := build()
	b := build()
	r.Reconcile(a, timeline)
	r.Reconcile(b, timeline)

	assert.Equal(t, a[0].Transcript.DiarizedSegments, b[0].Transcript.DiarizedSegments)
}
