package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/jonathan/fewknow/internal/broadcast"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPingPeriod     = 30 * time.Second
	wsCloseGrace     = 2 * time.Second
	wsMaxMessageSize = 4096
)

// handleWebSocket serves the WebSocket live channel for a job.
// The client receives the current status on connect, every later snapshot, and the result or error frame
// once the job finishes, after which the server closes the connection. Any client frame is answered with pong.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if _, err := s.deps.Jobs.Get(jobID); err != nil {
		s.writeError(w, r, err)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.originAllowed,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	log := s.logger.WithCorrelationId(jobID)
	log.Debug().Str("remote", r.RemoteAddr).Msg("WebSocket client connected")

	q := broadcast.NewQueue(broadcast.DefaultQueueSize)
	done := make(chan struct{})
	go func() {
		defer close(done)
		writeFrames(conn, q, log)
	}()

	if err := s.deps.Subscriptions.Attach(jobID, q); err != nil {
		_ = q.Send(broadcast.Message{Type: broadcast.TypeError, Data: map[string]string{
			"job_id":  jobID,
			"message": publicMessage(err),
		}})
		q.Close()
	}
	defer s.deps.Subscriptions.Detach(jobID, q)

	conn.SetReadLimit(wsMaxMessageSize)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("WebSocket read error")
			}
			break
		}
		// after the final frame the queue is closed and pongs are dropped
		_ = q.Send(broadcast.PongMessage())
	}

	q.Close()
	<-done
	log.Debug().Msg("WebSocket client disconnected")
}

// writeFrames is the only writer on conn. It drains q until it is closed, then starts the close handshake.
func writeFrames(conn *websocket.Conn, q *broadcast.Queue, log arbor.ILogger) {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case msg, ok := <-q.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				// unblock the reader if the client never answers the close frame
				_ = conn.SetReadDeadline(time.Now().Add(wsCloseGrace))
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Msg("WebSocket write failed")
				_ = conn.Close()
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}
