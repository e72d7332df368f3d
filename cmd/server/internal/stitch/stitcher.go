// Package stitch reassembles per-chunk transcripts into one continuous
// result with absolute timestamps. The dispatcher guarantees chunks arrive
// complete and in index order; the stitcher still verifies both before
// touching a single timestamp, because a silently truncated transcript is
// worse than a failed job.
package stitch

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/echoscribe/echoscribe/cmd/server/internal/segment"
	"github.com/echoscribe/echoscribe/cmd/server/internal/simhash"
	"github.com/echoscribe/echoscribe/internal/domain"
)

// Config controls boundary handling.
type Config struct {
	// MergeGapSeconds is the maximum silence between two same-speaker
	// segments across a chunk boundary that still merges them into one
	// utterance. Default 1.0.
	MergeGapSeconds float64
}

func (c Config) withDefaults() Config {
	if c.MergeGapSeconds <= 0 {
		c.MergeGapSeconds = 1.0
	}
	return c
}

// Stitcher merges completed chunk transcripts.
type Stitcher struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a stitcher. A nil logger uses slog's default.
func New(cfg Config, logger *slog.Logger) *Stitcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stitcher{cfg: cfg.withDefaults(), logger: logger}
}

// Stitch validates the chunk set and produces the final result. Missing
// transcripts, non-completed chunks and boundary gaps all fail with
// StitchConsistencyError.
func (s *Stitcher) Stitch(chunks []domain.MediaChunk) (*domain.StitchedResult, error) {
	if err := validate(chunks); err != nil {
		return nil, err
	}

	segments := s.collectSegments(chunks)
	segments = s.mergeBoundaries(segments)

	fullText := joinChunkTexts(chunks)
	wordCount := countWords(chunks, segments)

	speakers := uniqueSpeakers(segments)
	duration := chunks[len(chunks)-1].EndTime - chunks[0].StartTime

	method := "chunked"
	if len(chunks) == 1 {
		method = "single"
	}

	s.logger.Info("transcript stitched",
		"chunks", len(chunks),
		"segments", len(segments),
		"words", wordCount,
		"speakers", len(speakers),
		"duration", duration,
	)

	return &domain.StitchedResult{
		FullText:           fullText,
		DiarizedTranscript: segments,
		WordCount:          wordCount,
		SpeakerCount:       len(speakers),
		Duration:           duration,
		Metadata: domain.ResultMetadata{
			ProcessingMethod: method,
			ChunksProcessed:  len(chunks),
			UniqueSpeakers:   speakers,
		},
	}, nil
}

func validate(chunks []domain.MediaChunk) error {
	if len(chunks) == 0 {
		return &domain.StitchConsistencyError{Reason: "no chunks to stitch"}
	}

	var sum float64
	for i, c := range chunks {
		if c.Index != i {
			return &domain.StitchConsistencyError{
				Reason: fmt.Sprintf("chunk order violated: position %d holds index %d", i, c.Index),
			}
		}
		if c.Status != domain.ChunkCompleted || c.Transcript == nil {
			return &domain.StitchConsistencyError{
				Reason: fmt.Sprintf("chunk %d has no completed transcript (status %s)", c.Index, c.Status),
			}
		}
		if i > 0 {
			gap := c.StartTime - chunks[i-1].EndTime
			if math.Abs(gap) > segment.DurationEpsilon {
				return &domain.StitchConsistencyError{
					Reason: fmt.Sprintf("boundary gap of %.3fs between chunk %d and %d", gap, i-1, i),
				}
			}
		}
		sum += c.Duration()
	}

	total := chunks[len(chunks)-1].EndTime - chunks[0].StartTime
	if math.Abs(sum-total) > segment.DurationEpsilon {
		return &domain.StitchConsistencyError{
			Reason: fmt.Sprintf("chunk durations sum to %.3fs, media spans %.3fs", sum, total),
		}
	}
	return nil
}

// collectSegments shifts every chunk's segments to absolute time and drops
// overlap artifacts. Two artifact classes exist: material past a chunk's
// logical end (the overlap tail belongs to the next chunk) and a leading
// segment re-transcribing the previous chunk's last utterance.
func (s *Stitcher) collectSegments(chunks []domain.MediaChunk) []domain.DiarizedSegment {
	var out []domain.DiarizedSegment

	for _, c := range chunks {
		for _, seg := range c.Transcript.DiarizedSegments {
			abs := shiftSegment(seg, c.StartTime)

			if c.OverlapSeconds > 0 && midpoint(abs.Start, abs.End) >= c.EndTime {
				continue
			}

			if len(out) > 0 && simhash.IsNearDuplicate(out[len(out)-1].Text, abs.Text) &&
				abs.Start < out[len(out)-1].End+s.cfg.MergeGapSeconds {
				s.logger.Debug("dropped duplicate boundary segment",
					"chunk", c.Index, "text", abs.Text)
				continue
			}

			out = append(out, abs)
		}
	}

	return out
}

func shiftSegment(seg domain.DiarizedSegment, offset float64) domain.DiarizedSegment {
	seg.Start += offset
	seg.End += offset
	words := make([]domain.Word, len(seg.Words))
	for i, w := range seg.Words {
		w.Start += offset
		w.End += offset
		words[i] = w
	}
	seg.Words = words
	return seg
}

// mergeBoundaries joins adjacent same-speaker segments separated by less
// than the merge gap, so an utterance split by a chunk cut reads as one.
func (s *Stitcher) mergeBoundaries(segments []domain.DiarizedSegment) []domain.DiarizedSegment {
	if len(segments) < 2 {
		return segments
	}

	out := segments[:1]
	for _, seg := range segments[1:] {
		prev := &out[len(out)-1]
		gap := seg.Start - prev.End
		if seg.Speaker == prev.Speaker && gap >= 0 && gap <= s.cfg.MergeGapSeconds {
			prev.End = seg.End
			prev.Text = joinText(prev.Text, seg.Text)
			prev.Words = append(prev.Words, seg.Words...)
			continue
		}
		out = append(out, seg)
	}
	return out
}

// countWords sums the per-chunk word totals. Boundary merging and
// overlap drops rearrange segments but never change how many words the
// recognizer produced, so the chunk sums are authoritative; segment words
// only fill in for transcripts that carry no word list of their own.
func countWords(chunks []domain.MediaChunk, segments []domain.DiarizedSegment) int {
	n := 0
	for _, c := range chunks {
		n += c.Transcript.WordCount()
	}
	if n > 0 {
		return n
	}
	for _, seg := range segments {
		n += len(seg.Words)
	}
	return n
}

func joinChunkTexts(chunks []domain.MediaChunk) string {
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if t := strings.TrimSpace(c.Transcript.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return norm.NFC.String(strings.Join(parts, " "))
}

func joinText(a, b string) string {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}

func uniqueSpeakers(segments []domain.DiarizedSegment) []string {
	seen := map[string]bool{}
	var out []string
	for _, seg := range segments {
		if seg.Speaker == "" || seen[seg.Speaker] {
			continue
		}
		seen[seg.Speaker] = true
		out = append(out, seg.Speaker)
	}
	return out
}

func midpoint(start, end float64) float64 {
	return (start + end) / 2
}
