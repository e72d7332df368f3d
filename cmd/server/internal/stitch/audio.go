package stitch

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/echoscribe/echoscribe/internal/domain"
)

// DefaultCrossfadeSeconds is the boundary crossfade length. 80 ms is long
// enough to mask a phase discontinuity and short enough to stay inaudible
// as an effect.
const DefaultCrossfadeSeconds = 0.08

// AudioStitcher splices decoded chunk audio back into one waveform. Each
// boundary with cut overlap is crossfaded: the previous chunk's overlap
// tail fades out while the next chunk's head fades in. Boundaries without
// overlap are butt-joined.
type AudioStitcher struct {
	crossfade float64
	logger    *slog.Logger
}

// NewAudioStitcher creates an audio stitcher. A non-positive crossfade
// uses DefaultCrossfadeSeconds; a nil logger uses slog's default.
func NewAudioStitcher(crossfadeSeconds float64, logger *slog.Logger) *AudioStitcher {
	if crossfadeSeconds <= 0 {
		crossfadeSeconds = DefaultCrossfadeSeconds
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AudioStitcher{crossfade: crossfadeSeconds, logger: logger}
}

// Merge concatenates the chunks' samples. pcm[i] holds chunk i's decoded
// mono samples covering its logical duration plus any overlap tail. The
// output length is the sum of the logical chunk durations in samples.
func (a *AudioStitcher) Merge(chunks []domain.MediaChunk, pcm [][]float64, sampleRate int) ([]float64, error) {
	if len(chunks) == 0 {
		return nil, &domain.StitchConsistencyError{Reason: "no chunks to merge"}
	}
	if len(chunks) != len(pcm) {
		return nil, &domain.StitchConsistencyError{
			Reason: fmt.Sprintf("%d chunks but %d sample buffers", len(chunks), len(pcm)),
		}
	}
	if sampleRate <= 0 {
		return nil, &domain.StitchConsistencyError{Reason: "sample rate must be positive"}
	}

	total := 0
	logical := make([]int, len(chunks))
	for i, c := range chunks {
		logical[i] = int(math.Round(c.Duration() * float64(sampleRate)))
		if len(pcm[i]) < logical[i] {
			return nil, &domain.StitchConsistencyError{
				Reason: fmt.Sprintf("chunk %d has %d samples, needs %d", i, len(pcm[i]), logical[i]),
			}
		}
		total += logical[i]
	}

	out := make([]float64, 0, total)
	out = append(out, pcm[0][:logical[0]]...)

	for i := 1; i < len(chunks); i++ {
		samples := pcm[i][:logical[i]]
		fade := a.fadeLength(chunks[i-1], pcm[i-1], logical[i-1], logical[i], sampleRate)

		if fade > 0 {
			tail := pcm[i-1][logical[i-1] : logical[i-1]+fade]
			for k := 0; k < fade; k++ {
				t := float64(k+1) / float64(fade+1)
				out = append(out, tail[k]*(1-t)+samples[k]*t)
			}
			out = append(out, samples[fade:]...)
		} else {
			out = append(out, samples...)
		}
	}

	a.logger.Info("audio stitched",
		"chunks", len(chunks), "samples", len(out), "sample_rate", sampleRate)
	return out, nil
}

// fadeLength bounds the crossfade by the configured length, the previous
// chunk's available overlap tail and the next chunk's size.
func (a *AudioStitcher) fadeLength(prev domain.MediaChunk, prevPCM []float64, prevLogical, nextLogical, sampleRate int) int {
	if prev.OverlapSeconds <= 0 {
		return 0
	}
	fade := int(math.Round(a.crossfade * float64(sampleRate)))
	if avail := len(prevPCM) - prevLogical; fade > avail {
		fade = avail
	}
	if overlap := int(math.Round(prev.OverlapSeconds * float64(sampleRate))); fade > overlap {
		fade = overlap
	}
	if fade > nextLogical {
		fade = nextLogical
	}
	if fade < 0 {
		fade = 0
	}
	return fade
}
