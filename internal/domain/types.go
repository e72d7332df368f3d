// Package domain holds the shared data model of the long-form
// transcription pipeline: media chunks, per-chunk transcripts, speaker
// identities and the stitched result. Pipeline stages communicate
// exclusively through these types.
package domain

import "fmt"

// UnknownSpeaker labels words that no diarization segment could claim.
const UnknownSpeaker = "SPEAKER_UNKNOWN"

// ChunkStatus tracks a single media chunk through dispatch.
type ChunkStatus string

const (
	ChunkPending    ChunkStatus = "pending"
	ChunkProcessing ChunkStatus = "processing"
	ChunkCompleted  ChunkStatus = "completed"
	ChunkFailed     ChunkStatus = "failed"
)

// MediaChunk is a bounded time-slice of the original media. Chunks are
// gapless on their logical boundaries: chunk[i].EndTime == chunk[i+1].StartTime.
// OverlapSeconds, when non-zero, is an extra tail cut past EndTime that the
// stitcher drops or fades over; it never counts toward the chunk's duration.
type MediaChunk struct {
	Index          int              `json:"index"`
	StartTime      float64          `json:"start_time"`
	EndTime        float64          `json:"end_time"`
	StartSample    int64            `json:"start_sample"`
	EndSample      int64            `json:"end_sample"`
	OverlapSeconds float64          `json:"overlap_seconds,omitempty"`
	AudioRef       string           `json:"audio_ref"`
	Status         ChunkStatus      `json:"status"`
	Transcript     *ChunkTranscript `json:"transcript,omitempty"`
}

// Duration returns the logical chunk duration, overlap excluded.
func (c MediaChunk) Duration() float64 {
	return c.EndTime - c.StartTime
}

// Word is a single transcribed word with chunk-relative timestamps.
type Word struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// DiarizedSegment is a contiguous speaker-attributed interval. Speaker
// labels are chunk-local until a reconciler rewrites them with global ids;
// segments from the full-file diarization pre-pass carry absolute
// timestamps and are global by construction.
type DiarizedSegment struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text,omitempty"`
	Words   []Word  `json:"words,omitempty"`
}

// ChunkTranscript is the inference engine's answer for one chunk.
type ChunkTranscript struct {
	Text             string            `json:"text"`
	Words            []Word            `json:"words"`
	DiarizedSegments []DiarizedSegment `json:"diarized_segments,omitempty"`
}

// WordCount reports the number of word-level timestamps in the transcript.
func (t *ChunkTranscript) WordCount() int {
	if t == nil {
		return 0
	}
	return len(t.Words)
}

// SpeakerEmbedding is a fixed-size voice vector extracted for one
// chunk-local speaker label.
type SpeakerEmbedding struct {
	Label       string    `json:"chunk_local_label"`
	Vector      []float64 `json:"vector"`
	SourceStart float64   `json:"source_start"`
	SourceEnd   float64   `json:"source_end"`
}

// TranscribeSettings are the caller-selected engine options shared by all
// chunks of one job.
type TranscribeSettings struct {
	DiarizationEnabled bool    `json:"diarization_enabled"`
	TimestampsEnabled  bool    `json:"timestamps_enabled"`
	SpeakerThreshold   float64 `json:"speaker_threshold,omitempty"`
	Language           string  `json:"language,omitempty"`
}

// StitchedResult is the single continuous artifact produced from all chunk
// transcripts. All timestamps are absolute and segments carry global
// speaker ids.
type StitchedResult struct {
	FullText           string            `json:"full_text"`
	DiarizedTranscript []DiarizedSegment `json:"diarized_transcript"`
	WordCount          int               `json:"word_count"`
	SpeakerCount       int               `json:"speaker_count"`
	Duration           float64           `json:"duration"`
	Metadata           ResultMetadata    `json:"metadata"`
}

// ResultMetadata describes how a stitched result was produced.
type ResultMetadata struct {
	ProcessingMethod string   `json:"processing_method"`
	ChunksProcessed  int      `json:"chunks_processed"`
	UniqueSpeakers   []string `json:"unique_speakers,omitempty"`
}

// GlobalSpeakerMap maps chunk-local speaker labels to globally stable
// speaker ids. The map grows monotonically: once a label of a given chunk
// is bound it is never reassigned. Within one chunk the mapping is
// injective.
type GlobalSpeakerMap struct {
	m map[string]string
}

// NewGlobalSpeakerMap creates an empty speaker map.
func NewGlobalSpeakerMap() *GlobalSpeakerMap {
	return &GlobalSpeakerMap{m: map[string]string{}}
}

func speakerKey(chunkIndex int, localLabel string) string {
	return fmt.Sprintf("%d/%s", chunkIndex, localLabel)
}

// Assign binds a chunk-local label to a global id. Re-binding to the same
// id is a no-op; re-binding to a different id is rejected.
func (g *GlobalSpeakerMap) Assign(chunkIndex int, localLabel, globalID string) error {
	key := speakerKey(chunkIndex, localLabel)
	if existing, ok := g.m[key]; ok {
		if existing == globalID {
			return nil
		}
		return fmt.Errorf("speaker %s of chunk %d already mapped to %s, refusing %s",
			localLabel, chunkIndex, existing, globalID)
	}
	g.m[key] = globalID
	return nil
}

// Resolve returns the global id bound to a chunk-local label.
func (g *GlobalSpeakerMap) Resolve(chunkIndex int, localLabel string) (string, bool) {
	id, ok := g.m[speakerKey(chunkIndex, localLabel)]
	return id, ok
}

// GlobalIDs returns the distinct global ids currently in the map.
func (g *GlobalSpeakerMap) GlobalIDs() []string {
	seen := map[string]bool{}
	ids := make([]string, 0, len(g.m))
	for _, id := range g.m {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// Len reports the number of bound chunk-local labels.
func (g *GlobalSpeakerMap) Len() int {
	return len(g.m)
}
