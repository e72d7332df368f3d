package jobs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "jobs.json"), nil)
	require.NoError(t, err)
	return s
}

func newJob(userID string) *Job {
	return &Job{
		UserID:      userID,
		MediaRef:    "meeting.wav",
		FallbackKey: "meeting.wav:1024",
	}
}

func TestStatusTransitions_Monotonic(t *testing.T) {
	assert.True(t, isValidTransition(StatusQueued, StatusProcessing))
	assert.True(t, isValidTransition(StatusQueued, StatusFailed))
	assert.True(t, isValidTransition(StatusProcessing, StatusCompleted))
	assert.True(t, isValidTransition(StatusProcessing, StatusFailed))

	// No backward or out-of-terminal moves.
	assert.False(t, isValidTransition(StatusProcessing, StatusQueued))
	assert.False(t, isValidTransition(StatusCompleted, StatusProcessing))
	assert.False(t, isValidTransition(StatusCompleted, StatusFailed))
	assert.False(t, isValidTransition(StatusFailed, StatusQueued))
	assert.False(t, isValidTransition(StatusQueued, StatusCompleted))
}

func TestFileStore_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	j := newJob("alice")

	require.NoError(t, s.Create(j))
	require.NotEmpty(t, j.ID)

	got, err := s.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
	assert.Equal(t, "alice", got.UserID)
}

func TestFileStore_InvalidTransitionRejected(t *testing.T) {
	s := newTestStore(t)
	j := newJob("alice")
	require.NoError(t, s.Create(j))

	_, err := s.Transition(j.ID, StatusCompleted, "", "")
	require.Error(t, err, "queued cannot jump straight to completed")

	_, err = s.Transition(j.ID, StatusProcessing, "", "")
	require.NoError(t, err)
	_, err = s.Transition(j.ID, StatusCompleted, "", "")
	require.NoError(t, err)

	_, err = s.Transition(j.ID, StatusFailed, "late failure", "")
	require.Error(t, err, "terminal states are final")

	got, _ := s.Get(j.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Empty(t, got.Error)
}

func TestFileStore_TerminalTransitionStampsCompletedAt(t *testing.T) {
	s := newTestStore(t)
	j := newJob("alice")
	require.NoError(t, s.Create(j))

	mid, err := s.Transition(j.ID, StatusProcessing, "", "")
	require.NoError(t, err)
	assert.Nil(t, mid.CompletedAt, "only terminal states carry a completion time")

	done, err := s.Transition(j.ID, StatusCompleted, "", "")
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)
	assert.False(t, done.CompletedAt.Before(done.CreatedAt))
}

func TestFileStore_RecordOutcome(t *testing.T) {
	s := newTestStore(t)
	j := newJob("alice")
	require.NoError(t, s.Create(j))

	summary := &ResultSummary{
		ProcessingMethod: "chunked",
		WordCount:        1200,
		SpeakerCount:     3,
		ChunksProcessed:  4,
	}
	require.NoError(t, s.RecordOutcome(j.ID, 2, summary))

	got, err := s.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RetryCount)
	require.NotNil(t, got.Result)
	assert.Equal(t, *summary, *got.Result)

	require.Error(t, s.RecordOutcome("nope", 0, nil))
}

func TestFileStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	s, err := NewFileStore(path, nil)
	require.NoError(t, err)

	done := newJob("alice")
	require.NoError(t, s.Create(done))
	_, err = s.Transition(done.ID, StatusProcessing, "", "")
	require.NoError(t, err)
	_, err = s.Transition(done.ID, StatusCompleted, "", "")
	require.NoError(t, err)

	inflight := newJob("bob")
	require.NoError(t, s.Create(inflight))
	_, err = s.Transition(inflight.ID, StatusProcessing, "", "")
	require.NoError(t, err)

	reopened, err := NewFileStore(path, nil)
	require.NoError(t, err)

	got, err := reopened.Get(done.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)

	// A job that was mid-flight when the process died cannot resume.
	got, err = reopened.Get(inflight.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.NotEmpty(t, got.Error)
}

func TestFileStore_CorruptStateFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewFileStore(path, nil)
	require.Error(t, err)
}

func TestFileStore_GetByKeyPrefersPrimary(t *testing.T) {
	s := newTestStore(t)

	j := newJob("alice")
	require.NoError(t, s.Create(j))
	require.NoError(t, s.SetExternalID(j.ID, "ext-42"))

	other := newJob("alice")
	other.FallbackKey = "other.wav:99"
	require.NoError(t, s.Create(other))

	got, err := s.GetByKey(Key{Primary: "ext-42", Fallback: "other.wav:99"})
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID, "the primary id outranks a fallback match")
}

func TestKeyMatches_TrustsOneIdentityAtATime(t *testing.T) {
	k := Key{Primary: "ext-1", Fallback: "meeting.wav:1024"}

	// A key carrying a primary id must not fallback-match a different
	// job that merely shares the fallback key.
	stranger := &Job{ID: "j2", FallbackKey: "meeting.wav:1024"}
	assert.False(t, k.Matches(stranger))
	assert.True(t, k.MatchesFallback(stranger))

	assert.True(t, k.Matches(&Job{ID: "j1", ExternalID: "ext-1"}))
	assert.True(t, Key{Fallback: "meeting.wav:1024"}.Matches(stranger))
}

func TestFileStore_GetByKeyFallsBackWhenPrimaryUnknown(t *testing.T) {
	s := newTestStore(t)
	j := newJob("alice")
	require.NoError(t, s.Create(j))

	// The primary id matches nothing, so the fallback phase resolves it.
	got, err := s.GetByKey(Key{Primary: "never-assigned", Fallback: "meeting.wav:1024"})
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)
}

func TestFileStore_SubscribeMatchFiltersEvents(t *testing.T) {
	s := newTestStore(t)

	old := newJob("bob")
	old.FallbackKey = "old.wav:1"
	require.NoError(t, s.Create(old))

	events, cancel := s.SubscribeMatch(16, func(j *Job) bool {
		return j.FallbackKey == "meeting.wav:1024"
	})
	defer cancel()

	// The snapshot is filtered too, so bob's job never shows up.
	select {
	case ev := <-events:
		t.Fatalf("unexpected snapshot event for job %s", ev.Job.ID)
	default:
	}

	tracked := newJob("alice")
	require.NoError(t, s.Create(tracked))

	decoy := newJob("bob")
	decoy.FallbackKey = "decoy.wav:2"
	require.NoError(t, s.Create(decoy))

	ev := <-events
	assert.Equal(t, tracked.ID, ev.Job.ID)
	select {
	case ev := <-events:
		t.Fatalf("decoy event leaked through the filter: job %s", ev.Job.ID)
	default:
	}
}

func TestFileStore_GetByKeyFallback(t *testing.T) {
	s := newTestStore(t)
	j := newJob("alice")
	require.NoError(t, s.Create(j))

	got, err := s.GetByKey(Key{Fallback: "meeting.wav:1024"})
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)

	_, err = s.GetByKey(Key{Fallback: "unknown"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_GetByKeyNewestWins(t *testing.T) {
	s := newTestStore(t)

	old := newJob("alice")
	require.NoError(t, s.Create(old))
	time.Sleep(5 * time.Millisecond)
	recent := newJob("alice")
	require.NoError(t, s.Create(recent))

	got, err := s.GetByKey(Key{Fallback: "meeting.wav:1024"})
	require.NoError(t, err)
	assert.Equal(t, recent.ID, got.ID)
}

func TestFileStore_SetExternalIDConflict(t *testing.T) {
	s := newTestStore(t)
	j := newJob("alice")
	require.NoError(t, s.Create(j))

	require.NoError(t, s.SetExternalID(j.ID, "ext-1"))
	require.NoError(t, s.SetExternalID(j.ID, "ext-1"), "idempotent re-set is fine")
	require.Error(t, s.SetExternalID(j.ID, "ext-2"))
}

func TestFileStore_ListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	for _, u := range []string{"alice", "bob", "alice"} {
		require.NoError(t, s.Create(newJob(u)))
		time.Sleep(2 * time.Millisecond)
	}

	all := s.List("")
	require.Len(t, all, 3)
	assert.True(t, all[0].CreatedAt.After(all[2].CreatedAt))

	assert.Len(t, s.List("alice"), 2)
	assert.Len(t, s.List("carol"), 0)
}

func TestFileStore_Counts(t *testing.T) {
	s := newTestStore(t)

	a := newJob("alice")
	require.NoError(t, s.Create(a))
	b := newJob("alice")
	require.NoError(t, s.Create(b))
	_, err := s.Transition(b.ID, StatusProcessing, "", "")
	require.NoError(t, err)
	_, err = s.Transition(b.ID, StatusFailed, "boom", "WORKER_PERMANENT")
	require.NoError(t, err)

	assert.Equal(t, 1, s.CountActive("alice"))
	assert.Equal(t, 2, s.CountCreatedSince("alice", time.Now().Add(-time.Minute)))
	assert.Equal(t, 0, s.CountCreatedSince("alice", time.Now().Add(time.Minute)))
}

func TestFileStore_SubscribeSnapshotThenLive(t *testing.T) {
	s := newTestStore(t)
	existing := newJob("alice")
	require.NoError(t, s.Create(existing))

	events, cancel := s.Subscribe(16)
	defer cancel()

	ev := <-events
	assert.True(t, ev.Initial, "pre-existing jobs arrive as snapshot events")
	assert.Equal(t, existing.ID, ev.Job.ID)

	fresh := newJob("bob")
	require.NoError(t, s.Create(fresh))

	ev = <-events
	assert.False(t, ev.Initial)
	assert.Equal(t, fresh.ID, ev.Job.ID)
}

func TestFileStore_CancelClosesChannel(t *testing.T) {
	s := newTestStore(t)
	events, cancel := s.Subscribe(16)
	cancel()

	_, ok := <-events
	assert.False(t, ok)

	// A mutation after cancel must not panic or block.
	require.NoError(t, s.Create(newJob("alice")))
}
