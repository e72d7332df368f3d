package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/echoscribe/echoscribe/pkg/metrics"
)

// ErrNotFound is returned when no job matches the requested identity.
var ErrNotFound = errors.New("job not found")

// FileStore keeps every job in memory and mirrors the full set to one
// JSON file after each mutation. Subscribers get a snapshot of current
// jobs flagged Initial, then every live change.
type FileStore struct {
	mu      sync.Mutex
	path    string
	jobs    map[string]*Job
	subs    map[int]*subscriber
	nextSub int
	logger  *slog.Logger
}

// subscriber is one event channel with an optional job filter. A nil
// match receives everything.
type subscriber struct {
	ch    chan Event
	match func(*Job) bool
}

// NewFileStore opens the store at path, loading any persisted jobs. Jobs
// that were mid-flight when the process died are marked failed; their
// pipeline state is gone and they will never progress.
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &FileStore{
		path:   path,
		jobs:   map[string]*Job{},
		subs:   map[int]*subscriber{},
		logger: logger,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

type persistedJobs struct {
	Jobs []*Job `json:"jobs"`
}

func (s *FileStore) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read job state: %w", err)
	}

	var p persistedJobs
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("parse job state: %w", err)
	}

	recovered := 0
	for _, j := range p.Jobs {
		if !j.Status.Terminal() {
			j.Status = StatusFailed
			j.Error = "interrupted by server restart"
			j.UpdatedAt = time.Now()
			recovered++
		}
		s.jobs[j.ID] = j
	}
	if recovered > 0 {
		s.logger.Warn("marked interrupted jobs as failed", "count", recovered)
	}
	return nil
}

// saveLocked persists all jobs. Callers hold s.mu.
func (s *FileStore) saveLocked() error {
	list := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		list = append(list, j)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})

	b, err := json.MarshalIndent(persistedJobs{Jobs: list}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal jobs: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write tmp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename tmp file: %w", err)
	}
	return nil
}

// broadcastLocked delivers a live event to all subscribers. Slow
// subscribers whose buffer is full lose the event rather than block the
// store.
func (s *FileStore) broadcastLocked(j *Job) {
	ev := Event{Job: *j}
	for id, sub := range s.subs {
		if sub.match != nil && !sub.match(j) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			s.logger.Warn("dropping job event for slow subscriber",
				"subscriber", id, "job_id", j.ID)
		}
	}
}

// Create registers a new job. An empty ID gets a generated one; the
// status must be queued.
func (s *FileStore) Create(j *Job) error {
	if j.Status == "" {
		j.Status = StatusQueued
	}
	if j.Status != StatusQueued {
		return fmt.Errorf("new job must be queued, got %q", j.Status)
	}
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	now := time.Now()
	j.CreatedAt = now
	j.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[j.ID]; exists {
		return fmt.Errorf("job %s already exists", j.ID)
	}
	cp := *j
	s.jobs[j.ID] = &cp
	if err := s.saveLocked(); err != nil {
		delete(s.jobs, j.ID)
		return err
	}
	s.broadcastLocked(&cp)
	s.logger.Info("job created", "job_id", j.ID, "user_id", j.UserID, "media_ref", j.MediaRef)
	return nil
}

// Transition moves a job to a new status. Invalid transitions fail and
// leave the job untouched.
func (s *FileStore) Transition(id string, to Status, errMsg, errCode string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !isValidTransition(j.Status, to) {
		return nil, fmt.Errorf("invalid transition %s -> %s for job %s", j.Status, to, id)
	}

	j.Status = to
	j.Error = errMsg
	j.ErrorCode = errCode
	now := time.Now()
	j.UpdatedAt = now
	if to.Terminal() {
		j.CompletedAt = &now
	}
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	s.broadcastLocked(j)

	if to.Terminal() {
		metrics.RecordJobFinished(string(to))
	}
	switch to {
	case StatusProcessing:
		metrics.JobsActive.Inc()
	case StatusCompleted, StatusFailed:
		metrics.JobsActive.Dec()
	}

	s.logger.Info("job transitioned", "job_id", id, "status", to)
	cp := *j
	return &cp, nil
}

// SetProgress updates the chunk counter of a processing job.
func (s *FileStore) SetProgress(id string, completed, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Progress = Progress{Completed: completed, Total: total}
	j.UpdatedAt = time.Now()
	if err := s.saveLocked(); err != nil {
		return err
	}
	s.broadcastLocked(j)
	return nil
}

// RecordOutcome stamps the retry accounting and, when non-nil, the
// completion summary onto the job.
func (s *FileStore) RecordOutcome(id string, retries int, summary *ResultSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.RetryCount = retries
	if summary != nil {
		cp := *summary
		j.Result = &cp
	}
	j.UpdatedAt = time.Now()
	if err := s.saveLocked(); err != nil {
		return err
	}
	s.broadcastLocked(j)
	return nil
}

// SetExternalID records the backend-assigned identifier once it is known.
func (s *FileStore) SetExternalID(id, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.ExternalID != "" && j.ExternalID != externalID {
		return fmt.Errorf("job %s already has external id %s", id, j.ExternalID)
	}
	j.ExternalID = externalID
	j.UpdatedAt = time.Now()
	if err := s.saveLocked(); err != nil {
		return err
	}
	s.broadcastLocked(j)
	return nil
}

// Get returns a copy of the job with the given internal id.
func (s *FileStore) Get(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

// GetByKey returns the job the key identifies. A primary-id match always
// outranks any fallback match; the fallback is consulted only when no job
// carries the primary id. With several candidates in one phase the most
// recently created wins; stale duplicates from retried submissions carry
// the same fallback key.
func (s *FileStore) GetByKey(key Key) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key.Primary != "" {
		if best := s.newestLocked(func(j *Job) bool { return j.ExternalID == key.Primary }); best != nil {
			cp := *best
			return &cp, nil
		}
	}
	if best := s.newestLocked(key.MatchesFallback); best != nil {
		cp := *best
		return &cp, nil
	}
	return nil, ErrNotFound
}

// newestLocked returns the most recently created job satisfying match.
// Callers hold s.mu.
func (s *FileStore) newestLocked(match func(*Job) bool) *Job {
	var best *Job
	for _, j := range s.jobs {
		if !match(j) {
			continue
		}
		if best == nil || j.CreatedAt.After(best.CreatedAt) {
			best = j
		}
	}
	return best
}

// List returns all jobs for a user, newest first. An empty userID lists
// everything.
func (s *FileStore) List(userID string) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if userID != "" && j.UserID != userID {
			continue
		}
		out = append(out, *j)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// CountActive returns the user's jobs in non-terminal states.
func (s *FileStore) CountActive(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, j := range s.jobs {
		if j.UserID == userID && !j.Status.Terminal() {
			n++
		}
	}
	return n
}

// CountCreatedSince returns the user's jobs created at or after the cutoff.
func (s *FileStore) CountCreatedSince(userID string, cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, j := range s.jobs {
		if j.UserID == userID && !j.CreatedAt.Before(cutoff) {
			n++
		}
	}
	return n
}

// Subscribe returns a buffered event channel. The current jobs arrive
// first as Initial snapshot events, then every live change. The returned
// cancel function must be called to release the subscription; the channel
// closes after cancel.
func (s *FileStore) Subscribe(buffer int) (<-chan Event, func()) {
	return s.SubscribeMatch(buffer, nil)
}

// SubscribeMatch is Subscribe restricted to jobs satisfying match; both
// the snapshot and the live feed are filtered. A nil match receives
// everything.
func (s *FileStore) SubscribeMatch(buffer int, match func(*Job) bool) (<-chan Event, func()) {
	if buffer < 16 {
		buffer = 16
	}

	s.mu.Lock()
	snapshot := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if match != nil && !match(j) {
			continue
		}
		snapshot = append(snapshot, j)
	}
	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].CreatedAt.Before(snapshot[j].CreatedAt)
	})

	ch := make(chan Event, buffer+len(snapshot))
	for _, j := range snapshot {
		ch <- Event{Job: *j, Initial: true}
	}

	id := s.nextSub
	s.nextSub++
	s.subs[id] = &subscriber{ch: ch, match: match}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub.ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// SubscriberCount reports how many subscriptions are open.
func (s *FileStore) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
