package domain

import (
	"errors"
	"fmt"
)

// ErrorCode classifies pipeline failures for logs, metrics and API payloads.
type ErrorCode string

const (
	// VALIDATION_FAILED bad or unreadable input media, rejected before any chunk work
	VALIDATION_FAILED ErrorCode = "VALIDATION_FAILED"

	// QUOTA_EXCEEDED submission-time rate limit, no job record is created
	QUOTA_EXCEEDED ErrorCode = "QUOTA_EXCEEDED"

	// WORKER_TRANSIENT retryable engine call failure (timeout, 5xx, network)
	WORKER_TRANSIENT ErrorCode = "WORKER_TRANSIENT"

	// WORKER_PERMANENT terminal chunk/job failure after retries are exhausted
	WORKER_PERMANENT ErrorCode = "WORKER_PERMANENT"

	// STITCH_INCONSISTENT duration/timestamp mismatch or missing chunk at stitch time
	STITCH_INCONSISTENT ErrorCode = "STITCH_INCONSISTENT"

	// TRACKING_AMBIGUOUS neither the primary nor the fallback key resolved a job in time
	TRACKING_AMBIGUOUS ErrorCode = "TRACKING_AMBIGUOUS"
)

// ValidationError reports input media that cannot be processed at all.
type ValidationError struct {
	Reason string
	Cause  error
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", VALIDATION_FAILED, e.Reason, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", VALIDATION_FAILED, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// NewValidationError creates a ValidationError with an optional cause.
func NewValidationError(reason string, cause error) *ValidationError {
	return &ValidationError{Reason: reason, Cause: cause}
}

// QuotaExceededError rejects a submission before a job record exists.
// Reason is human-readable and surfaced to the caller verbatim.
type QuotaExceededError struct {
	UserID string
	Reason string
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("[%s] user %s: %s", QUOTA_EXCEEDED, e.UserID, e.Reason)
}

// TransientWorkerError is a retryable engine call failure.
type TransientWorkerError struct {
	Op      string
	Attempt int
	Cause   error
}

func (e *TransientWorkerError) Error() string {
	return fmt.Sprintf("[%s] %s (attempt %d): %v", WORKER_TRANSIENT, e.Op, e.Attempt, e.Cause)
}

func (e *TransientWorkerError) Unwrap() error { return e.Cause }

// PermanentWorkerError is terminal for its chunk and therefore for the job.
// ChunkIndex is -1 for failures not tied to a single chunk (e.g. the
// diarization pre-pass).
type PermanentWorkerError struct {
	Op         string
	ChunkIndex int
	Cause      error
}

func (e *PermanentWorkerError) Error() string {
	if e.ChunkIndex >= 0 {
		return fmt.Sprintf("[%s] %s failed for chunk %d: %v", WORKER_PERMANENT, e.Op, e.ChunkIndex, e.Cause)
	}
	return fmt.Sprintf("[%s] %s failed: %v", WORKER_PERMANENT, e.Op, e.Cause)
}

func (e *PermanentWorkerError) Unwrap() error { return e.Cause }

// StitchConsistencyError aborts stitching rather than emit a result with an
// undeclared gap.
type StitchConsistencyError struct {
	Reason string
}

func (e *StitchConsistencyError) Error() string {
	return fmt.Sprintf("[%s] %s", STITCH_INCONSISTENT, e.Reason)
}

// TrackingAmbiguityError reports a job that neither identity key resolved
// within the grace period.
type TrackingAmbiguityError struct {
	PrimaryKey  string
	FallbackKey string
}

func (e *TrackingAmbiguityError) Error() string {
	return fmt.Sprintf("[%s] no job matched primary=%q fallback=%q within grace period",
		TRACKING_AMBIGUOUS, e.PrimaryKey, e.FallbackKey)
}

// IsTransient reports whether an engine call error may be retried.
func IsTransient(err error) bool {
	var te *TransientWorkerError
	return errors.As(err, &te)
}

// CodeOf classifies any pipeline error. Unrecognized errors count as
// permanent worker failures.
func CodeOf(err error) ErrorCode {
	var (
		ve  *ValidationError
		qe  *QuotaExceededError
		te  *TransientWorkerError
		pe  *PermanentWorkerError
		se  *StitchConsistencyError
		tae *TrackingAmbiguityError
	)
	switch {
	case errors.As(err, &ve):
		return VALIDATION_FAILED
	case errors.As(err, &qe):
		return QUOTA_EXCEEDED
	case errors.As(err, &pe):
		return WORKER_PERMANENT
	case errors.As(err, &te):
		return WORKER_TRANSIENT
	case errors.As(err, &se):
		return STITCH_INCONSISTENT
	case errors.As(err, &tae):
		return TRACKING_AMBIGUOUS
	default:
		return WORKER_PERMANENT
	}
}
