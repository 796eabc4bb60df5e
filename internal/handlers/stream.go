package handlers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"prepos/internal/agents"
	"prepos/internal/analysis"
	"prepos/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4 * 1024
)

// Stream message types
const (
	MessageJobUpdate   = "job:update"
	MessageJobComplete = "job:complete"
	MessageJobError    = "job:error"
)

// StreamMessage is pushed to the client whenever the job changes
type StreamMessage struct {
	Type      string        `json:"type"`
	JobID     string        `json:"jobId"`
	Timestamp time.Time     `json:"timestamp"`
	Job       *analysis.Job `json:"job,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Stream upgrades to a WebSocket and pushes job snapshots until the job
// reaches a terminal status or the client goes away.
func (h *Handler) Stream(c *gin.Context) {
	job, ok := h.loadOwnedJob(c)
	if !ok {
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.allowOrigin,
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("job_id", job.JobID), zap.Error(err))
		return
	}

	m := metrics.Get()
	m.RecordWebSocketConnection(1)
	defer m.RecordWebSocketConnection(-1)
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()
	go readPump(conn, cancel)

	h.writePump(ctx, conn, job)
}

// readPump discards client frames and cancels ctx once the peer is gone
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(ctx context.Context, conn *websocket.Conn, job *analysis.Job) {
	log := h.logger.With(zap.String("job_id", job.JobID))
	poll := time.NewTicker(h.pollInterval)
	ping := time.NewTicker(pingPeriod)
	defer poll.Stop()
	defer ping.Stop()

	last := fingerprint(job)
	if err := h.send(conn, job); err != nil {
		log.Debug("stream write failed", zap.Error(err))
		return
	}

	for !job.Status.Terminal() {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-poll.C:
			next, err := h.analysis.Status(ctx, job.JobID)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				log.Warn("stream status lookup failed", zap.Error(err))
				h.writeJSON(conn, StreamMessage{
					Type:      MessageJobError,
					JobID:     job.JobID,
					Timestamp: time.Now().UTC(),
					Error:     "Failed to load job",
				})
				return
			}
			job = next
			if fp := fingerprint(job); fp != last {
				last = fp
				if err := h.send(conn, job); err != nil {
					log.Debug("stream write failed", zap.Error(err))
					return
				}
			}
		}
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(job.Status)))
}

func (h *Handler) send(conn *websocket.Conn, job *analysis.Job) error {
	msgType := MessageJobUpdate
	if job.Status.Terminal() {
		msgType = MessageJobComplete
	}
	return h.writeJSON(conn, StreamMessage{
		Type:      msgType,
		JobID:     job.JobID,
		Timestamp: time.Now().UTC(),
		Job:       job,
		Error:     job.Error,
	})
}

func (h *Handler) writeJSON(conn *websocket.Conn, msg StreamMessage) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		return err
	}
	metrics.Get().WebSocketMessagesTotal.Inc()
	return nil
}

// fingerprint changes whenever the job or any task changes status
func fingerprint(job *analysis.Job) string {
	var b strings.Builder
	b.WriteString(string(job.Status))
	for _, role := range agents.Roles {
		b.WriteByte('|')
		if st := job.Agents[role]; st != nil {
			b.WriteString(string(st.Status))
		}
	}
	return b.String()
}
