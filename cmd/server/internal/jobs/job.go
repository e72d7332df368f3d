// Package jobs tracks transcription jobs through their lifecycle and lets
// clients follow a job to completion even when its server-assigned id
// arrives late or not at all.
package jobs

import (
	"fmt"
	"time"

	"github.com/echoscribe/echoscribe/internal/domain"
)

// Status is a job lifecycle state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition can occur.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// validTransitions encodes the monotonic lifecycle. A job never moves
// backward and never leaves a terminal state.
var validTransitions = map[Status][]Status{
	StatusQueued:     {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

func isValidTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Progress is the chunk completion counter of a processing job.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// ResultSummary is the completion metadata stamped onto the job record,
// so status and list calls can show the outcome without loading the full
// result artifact.
type ResultSummary struct {
	ProcessingMethod string `json:"processing_method"`
	WordCount        int    `json:"word_count"`
	SpeakerCount     int    `json:"speaker_count"`
	ChunksProcessed  int    `json:"chunks_processed"`
}

// Job is one transcription request moving through the pipeline.
type Job struct {
	ID string `json:"id"`

	// ExternalID is the backend-assigned identifier. It may arrive after
	// submission or never; FallbackKey covers those windows.
	ExternalID string `json:"external_id,omitempty"`

	// FallbackKey is a client-derivable identity, typically built from
	// the media name and size.
	FallbackKey string `json:"fallback_key,omitempty"`

	UserID   string                    `json:"user_id"`
	MediaRef string                    `json:"media_ref"`
	Settings domain.TranscribeSettings `json:"settings"`
	Status   Status                    `json:"status"`
	Progress Progress                  `json:"progress"`

	// Priority orders queued work; larger runs earlier.
	Priority int `json:"priority,omitempty"`

	// RetryCount is the number of engine call retries spent on this job;
	// MaxRetries is the per-call budget it ran under.
	RetryCount int `json:"retry_count,omitempty"`
	MaxRetries int `json:"max_retries,omitempty"`

	Result *ResultSummary `json:"result,omitempty"`

	Error       string     `json:"error,omitempty"`
	ErrorCode   string     `json:"error_code,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Key identifies a job for tracking. Primary is the backend id when the
// client learned it; Fallback always exists.
type Key struct {
	Primary  string `json:"primary,omitempty"`
	Fallback string `json:"fallback"`
}

// Resolve returns the strongest available identity.
func (k Key) Resolve() string {
	if k.Primary != "" {
		return k.Primary
	}
	return k.Fallback
}

// Matches reports whether the job is the one this key tracks. Only one
// identity is trusted at a time: a key that carries a primary id never
// accepts a fallback match, otherwise a job whose external id simply has
// not arrived yet could be confused with a different job sharing the
// fallback key.
func (k Key) Matches(j *Job) bool {
	if j == nil {
		return false
	}
	if k.Primary != "" {
		return k.Primary == j.ExternalID
	}
	return k.MatchesFallback(j)
}

// MatchesFallback reports whether the job carries this key's fallback
// identity, regardless of any primary id.
func (k Key) MatchesFallback(j *Job) bool {
	return j != nil && k.Fallback != "" && k.Fallback == j.FallbackKey
}

func (k Key) String() string {
	return fmt.Sprintf("primary=%q fallback=%q", k.Primary, k.Fallback)
}

// Event is one job state observation delivered to subscribers.
type Event struct {
	Job Job

	// Initial marks snapshot replay at subscribe time, as opposed to a
	// live transition.
	Initial bool
}
