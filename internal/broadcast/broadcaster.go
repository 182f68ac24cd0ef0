// Package broadcast fans job snapshots out to live subscribers.
package broadcast

import (
	"errors"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/jonathan/fewknow/internal/types"
)

// Message types delivered to subscribers
const (
	TypeStatus = "status"
	TypeResult = "result"
	TypeError  = "error"
	TypePong   = "pong"
)

// ErrClosed is returned by subscribers that can no longer accept messages
var ErrClosed = errors.New("subscriber closed")

// Message is one frame on a live channel
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// ErrorPayload is the data of an error frame
type ErrorPayload struct {
	JobID   string          `json:"job_id"`
	Status  types.JobStatus `json:"status"`
	Message string          `json:"message"`
	Kind    types.ErrorKind `json:"kind"`
}

// StatusMessage wraps a snapshot as a status frame
func StatusMessage(s types.Snapshot) Message {
	return Message{Type: TypeStatus, Data: s.View()}
}

// TerminalMessage returns the result or error frame for a terminal snapshot
func TerminalMessage(s types.Snapshot) (Message, bool) {
	switch {
	case s.Status == types.StatusCompleted && s.Result != nil:
		return Message{Type: TypeResult, Data: s.Result}, true
	case s.Status == types.StatusFailed && s.Error != nil:
		return Message{Type: TypeError, Data: ErrorPayload{
			JobID:   s.JobID,
			Status:  s.Status,
			Message: s.Error.Message,
			Kind:    s.Error.Kind,
		}}, true
	default:
		return Message{}, false
	}
}

// PongMessage is the keep-alive reply
func PongMessage() Message {
	return Message{Type: TypePong}
}

// Subscriber is a live channel to one client.
// Send must not block for long; transports queue and write on their own goroutine.
type Subscriber interface {
	Send(Message) error
	Close()
}

// SnapshotSource reads the current state of a job
type SnapshotSource interface {
	Get(jobID string) (types.Snapshot, error)
}

type subscription struct {
	sub     Subscriber
	version uint64
}

// Broadcaster keeps a registry of subscribers per job and delivers snapshots to them in order
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[string][]*subscription
	source SnapshotSource
	logger arbor.ILogger
}

// New creates a broadcaster reading attach-time snapshots from source
func New(source SnapshotSource, logger arbor.ILogger) *Broadcaster {
	return &Broadcaster{
		subs:   make(map[string][]*subscription),
		source: source,
		logger: logger,
	}
}

// Attach registers sub for jobID and immediately sends it the current snapshot.
// A subscriber attaching to a finished job receives the final frames and is closed without being registered.
func (b *Broadcaster) Attach(jobID string, sub Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	// read under the registry lock so no publish can slip between the snapshot and registration
	snap, err := b.source.Get(jobID)
	if err != nil {
		return err
	}

	s := &subscription{sub: sub}
	if !b.deliver(s, snap) {
		sub.Close()
		return nil
	}
	if snap.Terminal() {
		sub.Close()
		return nil
	}

	b.subs[jobID] = append(b.subs[jobID], s)
	b.logger.Debug().
		Str("job_id", jobID).
		Int("subscribers", len(b.subs[jobID])).
		Msg("Subscriber attached")
	return nil
}

// Detach removes sub from jobID. Safe to call repeatedly and after the job finished.
func (b *Broadcaster) Detach(jobID string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remove(jobID, sub)
}

func (b *Broadcaster) remove(jobID string, sub Subscriber) bool {
	list := b.subs[jobID]
	for i, s := range list {
		if s.sub == sub {
			list = append(list[:i], list[i+1:]...)
			if len(list) == 0 {
				delete(b.subs, jobID)
			} else {
				b.subs[jobID] = list
			}
			return true
		}
	}
	return false
}

// Publish delivers snap to every subscriber of its job.
// Subscribers that fail delivery are detached. A terminal snapshot closes and removes all subscribers of the job.
func (b *Broadcaster) Publish(snap types.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[snap.JobID]
	if len(list) == 0 {
		return
	}

	kept := list[:0]
	for _, s := range list {
		if b.deliver(s, snap) {
			kept = append(kept, s)
			continue
		}
		b.logger.Debug().
			Str("job_id", snap.JobID).
			Msg("Detaching subscriber after failed delivery")
		s.sub.Close()
	}

	if snap.Terminal() {
		for _, s := range kept {
			s.sub.Close()
		}
		delete(b.subs, snap.JobID)
		return
	}

	if len(kept) == 0 {
		delete(b.subs, snap.JobID)
		return
	}
	b.subs[snap.JobID] = kept
}

// deliver sends snap to s unless s already saw this or a newer version. It reports whether s is still usable.
func (b *Broadcaster) deliver(s *subscription, snap types.Snapshot) bool {
	if snap.Version <= s.version {
		return true
	}
	if err := s.sub.Send(StatusMessage(snap)); err != nil {
		return false
	}
	s.version = snap.Version
	if snap.Terminal() {
		if msg, ok := TerminalMessage(snap); ok {
			if err := s.sub.Send(msg); err != nil {
				return false
			}
		}
	}
	return true
}

// Count returns the number of subscribers attached to jobID
func (b *Broadcaster) Count(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[jobID])
}
