package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/echoscribe/echoscribe/internal/domain"
)

// Watcher follows one job to a terminal state over two concurrent read
// paths: a targeted subscription filtered to the job's key and a broad
// subscription over the whole event feed. Each has its own buffer, so a
// transition dropped from one still arrives on the other. Both paths
// feed one dedup set and a job seen by both fires the callback once.
type Watcher struct {
	store  *FileStore
	grace  time.Duration
	logger *slog.Logger
}

// NewWatcher creates a watcher. A non-positive grace period defaults to
// 30 s; a nil logger uses slog's default.
func NewWatcher(store *FileStore, grace time.Duration, logger *slog.Logger) *Watcher {
	if grace <= 0 {
		grace = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{store: store, grace: grace, logger: logger}
}

// Await blocks until the job identified by key reaches a terminal state,
// then invokes onDone exactly once with the final job. Snapshot events
// are ignored for candidate discovery except for the tracked job itself
// found by direct lookup; jobs that existed before the watch began must
// not be mistaken for the one being tracked.
//
// Two subscriptions run concurrently: a targeted one filtered to the
// key, whose private buffer only ever carries the tracked job, and a
// broad one over the user's recent jobs (the whole feed when userID is
// empty). Either can deliver the decisive event; the notified set
// deduplicates by job id so the callback fires once no matter which
// path saw the transition first.
//
// When no event has matched the key by the end of the grace period, Await
// fails with TrackingAmbiguityError. After a candidate is locked the
// watch runs until the job finishes or ctx is cancelled.
func (w *Watcher) Await(ctx context.Context, key Key, userID string, onDone func(Job)) error {
	targeted, cancelTargeted := w.store.SubscribeMatch(16, func(j *Job) bool {
		return key.Matches(j)
	})
	defer cancelTargeted()

	broadMatch := func(*Job) bool { return true }
	if userID != "" {
		broadMatch = func(j *Job) bool { return j.UserID == userID }
	}
	broad, cancelBroad := w.store.SubscribeMatch(64, broadMatch)
	defer cancelBroad()

	// Direct lookup covers a job that went terminal before the watch
	// started. This is the one legitimate use of pre-existing state.
	if j, err := w.store.GetByKey(key); err == nil && j.Status.Terminal() {
		w.logger.Info("tracked job already finished", "job_id", j.ID, "status", j.Status)
		if onDone != nil {
			onDone(*j)
		}
		return nil
	}

	var (
		lockedID string
		notified = map[string]bool{}
		deadline = time.NewTimer(w.grace)
	)
	defer deadline.Stop()

	// step consumes one event from either subscription. It returns true
	// when the watch is over.
	step := func(ev Event) bool {
		if ev.Initial {
			return false
		}

		if lockedID == "" {
			if !key.Matches(&ev.Job) {
				return false
			}
			lockedID = ev.Job.ID
			deadline.Stop()
			w.logger.Info("tracked job identified",
				"job_id", lockedID, "key", key.String())
		} else if ev.Job.ID != lockedID {
			return false
		}

		if !ev.Job.Status.Terminal() || notified[ev.Job.ID] {
			return false
		}
		notified[ev.Job.ID] = true
		w.logger.Info("tracked job finished",
			"job_id", ev.Job.ID, "status", ev.Job.Status)
		if onDone != nil {
			onDone(ev.Job)
		}
		return true
	}

	for {
		select {
		case ev, ok := <-targeted:
			if !ok {
				targeted = nil
				continue
			}
			if step(ev) {
				return nil
			}

		case ev, ok := <-broad:
			if !ok {
				broad = nil
				continue
			}
			if step(ev) {
				return nil
			}

		case <-deadline.C:
			if lockedID != "" {
				continue
			}
			// One last lookup: the matching event may have been dropped
			// on a full subscriber buffer.
			if j, err := w.store.GetByKey(key); err == nil {
				lockedID = j.ID
				if j.Status.Terminal() && !notified[j.ID] {
					notified[j.ID] = true
					if onDone != nil {
						onDone(*j)
					}
					return nil
				}
				continue
			}
			w.logger.Warn("job tracking ambiguous after grace period", "key", key.String())
			return &domain.TrackingAmbiguityError{
				PrimaryKey:  key.Primary,
				FallbackKey: key.Fallback,
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
