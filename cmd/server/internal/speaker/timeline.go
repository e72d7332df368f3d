// Package speaker maps chunk-local speaker labels onto one global speaker
// identity space. Two strategies exist: timeline mapping against a
// full-file diarization pre-pass, and embedding matching when only
// per-chunk diarization ran.
package speaker

import (
	"log/slog"
	"math"
	"strings"

	"github.com/echoscribe/echoscribe/internal/domain"
)

// TimelineReconciler attributes words using the full-file diarization
// timeline. Labels in the timeline are already global, so no chunk-local
// renumbering exists to undo; each word just needs the speaker active at
// its position in the original recording.
type TimelineReconciler struct {
	logger *slog.Logger
}

// NewTimelineReconciler creates a timeline reconciler. A nil logger uses
// slog's default.
func NewTimelineReconciler(logger *slog.Logger) *TimelineReconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TimelineReconciler{logger: logger}
}

// Reconcile rebuilds every chunk's diarized segments from its words and
// the full-file timeline. Word times stay chunk-relative; only the
// attribution consults absolute positions. Chunks without a transcript
// are skipped.
func (r *TimelineReconciler) Reconcile(chunks []domain.MediaChunk, timeline []domain.DiarizedSegment) {
	for i := range chunks {
		tr := chunks[i].Transcript
		if tr == nil || len(tr.Words) == 0 {
			continue
		}
		tr.DiarizedSegments = r.attributeWords(chunks[i].StartTime, tr.Words, timeline)
	}
}

// attributeWords groups consecutive same-speaker words into segments.
func (r *TimelineReconciler) attributeWords(chunkStart float64, words []domain.Word, timeline []domain.DiarizedSegment) []domain.DiarizedSegment {
	var segments []domain.DiarizedSegment

	for _, w := range words {
		midpoint := chunkStart + (w.Start+w.End)/2
		spk := speakerAt(midpoint, timeline)

		if n := len(segments); n > 0 && segments[n-1].Speaker == spk {
			seg := &segments[n-1]
			seg.End = w.End
			seg.Words = append(seg.Words, w)
		} else {
			segments = append(segments, domain.DiarizedSegment{
				Speaker: spk,
				Start:   w.Start,
				End:     w.End,
				Words:   []domain.Word{w},
			})
		}
	}

	for i := range segments {
		segments[i].Text = joinWords(segments[i].Words)
	}
	return segments
}

// speakerAt returns the label of the timeline segment covering the
// absolute position. Positions in diarization gaps fall back to the
// closest segment, so no word is ever left unattributed.
func speakerAt(pos float64, timeline []domain.DiarizedSegment) string {
	if len(timeline) == 0 {
		return domain.UnknownSpeaker
	}

	best := ""
	bestDist := math.Inf(1)
	for _, seg := range timeline {
		if pos >= seg.Start && pos < seg.End {
			return seg.Speaker
		}
		dist := math.Min(math.Abs(pos-seg.Start), math.Abs(pos-seg.End))
		if dist < bestDist {
			bestDist = dist
			best = seg.Speaker
		}
	}
	return best
}

func joinWords(words []domain.Word) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.Word
	}
	return strings.Join(parts, " ")
}
