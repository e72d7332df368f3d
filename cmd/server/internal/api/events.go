package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/echoscribe/echoscribe/cmd/server/internal/jobs"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers connect from the frontend origin in dev setups; job events
	// carry no secrets beyond what the REST API already exposes.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// streamEvents upgrades to a websocket and pushes job events. Query
// parameters narrow the stream: job_id pins one job, user filters by
// owner. Snapshot events are marked with "initial": true so clients can
// distinguish catch-up state from live transitions.
func (h *Handler) streamEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	jobID := c.Query("job_id")
	user := c.Query("user")

	events, cancel := h.store.Subscribe(64)
	defer cancel()

	// Reader goroutine: its only job is noticing the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if jobID != "" && ev.Job.ID != jobID {
				continue
			}
			if user != "" && ev.Job.UserID != user {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(eventPayload(ev)); err != nil {
				return
			}

		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return

		case <-c.Request.Context().Done():
			return
		}
	}
}

func eventPayload(ev jobs.Event) gin.H {
	return gin.H{
		"job":     ev.Job,
		"initial": ev.Initial,
	}
}
