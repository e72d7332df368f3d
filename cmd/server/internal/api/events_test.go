package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echoscribe/echoscribe/cmd/server/internal/jobs"
)

type wsEvent struct {
	Job     jobs.Job `json:"job"`
	Initial bool     `json:"initial"`
}

func dialEvents(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wsEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev wsEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestStreamEvents_SnapshotThenLive(t *testing.T) {
	r, store, _ := setupRouter(t, &stubEngine{duration: 600})
	server := httptest.NewServer(r)
	defer server.Close()

	existing := &jobs.Job{UserID: "alice", MediaRef: "old.wav"}
	require.NoError(t, store.Create(existing))

	conn := dialEvents(t, server, "")

	ev := readEvent(t, conn)
	assert.True(t, ev.Initial)
	assert.Equal(t, existing.ID, ev.Job.ID)

	fresh := &jobs.Job{UserID: "bob", MediaRef: "new.wav"}
	require.NoError(t, store.Create(fresh))

	ev = readEvent(t, conn)
	assert.False(t, ev.Initial)
	assert.Equal(t, fresh.ID, ev.Job.ID)
}

func TestStreamEvents_JobIDFilter(t *testing.T) {
	r, store, _ := setupRouter(t, &stubEngine{duration: 600})
	server := httptest.NewServer(r)
	defer server.Close()

	tracked := &jobs.Job{UserID: "alice", MediaRef: "a.wav"}
	require.NoError(t, store.Create(tracked))

	conn := dialEvents(t, server, "?job_id="+tracked.ID)

	// The decoy's events must never arrive; only the tracked job's do.
	decoy := &jobs.Job{UserID: "bob", MediaRef: "b.wav"}
	require.NoError(t, store.Create(decoy))
	_, err := store.Transition(tracked.ID, jobs.StatusProcessing, "", "")
	require.NoError(t, err)

	ev := readEvent(t, conn)
	assert.True(t, ev.Initial)
	assert.Equal(t, tracked.ID, ev.Job.ID)

	ev = readEvent(t, conn)
	assert.False(t, ev.Initial)
	assert.Equal(t, tracked.ID, ev.Job.ID)
	assert.Equal(t, jobs.StatusProcessing, ev.Job.Status)
}
