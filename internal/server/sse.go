package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jonathan/fewknow/internal/broadcast"
)

// sseKeepAlive is how often an idle stream gets a comment line
const sseKeepAlive = 15 * time.Second

// SSEWriter helps write Server-Sent Events
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter creates a new SSE writer
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteEvent sends an SSE event
func (s *SSEWriter) WriteEvent(event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", jsonData); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteMessage sends a live channel frame using its type as the event name
func (s *SSEWriter) WriteMessage(msg broadcast.Message) error {
	return s.WriteEvent(msg.Type, msg.Data)
}

// WriteComment sends a comment line that clients ignore
func (s *SSEWriter) WriteComment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// handleStream serves the SSE live channel for a job.
// The stream ends after the result or error event, or when the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if _, err := s.deps.Jobs.Get(jobID); err != nil {
		s.writeError(w, r, err)
		return
	}

	// the server write timeout would otherwise cut long analyses short
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)

	q := broadcast.NewQueue(broadcast.DefaultQueueSize)
	if err := s.deps.Subscriptions.Attach(jobID, q); err != nil {
		_ = sse.WriteEvent(broadcast.TypeError, map[string]string{"job_id": jobID, "message": publicMessage(err)})
		return
	}
	defer s.deps.Subscriptions.Detach(jobID, q)

	log := s.logger.WithCorrelationId(jobID)
	log.Debug().Msg("SSE stream opened")

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case msg, ok := <-q.Messages():
			if !ok {
				log.Debug().Msg("SSE stream finished")
				return
			}
			if err := sse.WriteMessage(msg); err != nil {
				log.Debug().Err(err).Msg("SSE write failed")
				return
			}
		case <-keepAlive.C:
			if err := sse.WriteComment("keep-alive"); err != nil {
				return
			}
		case <-r.Context().Done():
			log.Debug().Msg("SSE client disconnected")
			return
		}
	}
}
