// Package jobs provides the in-memory job store that owns every analysis job record.
package jobs

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/fewknow/internal/types"
)

var (
	// ErrNotFound is returned for unknown job ids
	ErrNotFound = errors.New("job not found")
	// ErrNotReady is returned when a result is requested before the job completed
	ErrNotReady = errors.New("job not ready")
	// ErrInvalidTransition is returned when an update would break the job lifecycle
	ErrInvalidTransition = errors.New("invalid job transition")
)

// NotReadyError carries the status of a job whose result is not available
type NotReadyError struct {
	JobID  string
	Status types.JobStatus
	Err    *types.JobError
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("job %s is %s", e.JobID, e.Status)
}

func (e *NotReadyError) Unwrap() error {
	return ErrNotReady
}

// Update is a partial job record. Nil fields are left untouched.
type Update struct {
	Status   *types.JobStatus
	Progress *int
	Message  *string
	Result   *types.Result
	Error    *types.JobError
}

// Processing builds a stage checkpoint update
func Processing(progress int, message string) Update {
	s := types.StatusProcessing
	return Update{Status: &s, Progress: &progress, Message: &message}
}

// Completed builds the terminal success update
func Completed(result *types.Result, message string) Update {
	s := types.StatusCompleted
	p := 100
	return Update{Status: &s, Progress: &p, Message: &message, Result: result}
}

// Failed builds the terminal failure update. Progress stays at the last checkpoint.
func Failed(jobErr *types.JobError) Update {
	s := types.StatusFailed
	msg := jobErr.Message
	return Update{Status: &s, Message: &msg, Error: jobErr}
}

// Retention controls how long terminal jobs are kept
type Retention struct {
	Completed time.Duration
	Failed    time.Duration
}

// DefaultRetention keeps results for a day and failures for an hour
var DefaultRetention = Retention{
	Completed: 24 * time.Hour,
	Failed:    time.Hour,
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator overrides job id generation
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) {
		s.newID = gen
	}
}

// WithRetention overrides the retention policy
func WithRetention(r Retention) Option {
	return func(s *Store) {
		s.retention = r
	}
}

// Store is a concurrency-safe map of job records. Callers only ever see snapshots.
type Store struct {
	mu        sync.RWMutex
	jobs      map[string]*types.Job
	now       func() time.Time
	newID     func() string
	retention Retention
}

// NewStore creates an empty store
func NewStore(opts ...Option) *Store {
	s := &Store{
		jobs:      make(map[string]*types.Job),
		now:       time.Now,
		newID:     uuid.NewString,
		retention: DefaultRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NormalizeTicker trims and upper-cases a ticker symbol
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// Create inserts a pending job and returns its first snapshot.
// The record is written before the id is handed out, so an immediate attach always finds it.
func (s *Store) Create(ticker string) (types.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newID()
	for attempts := 1; ; attempts++ {
		if _, exists := s.jobs[id]; !exists {
			break
		}
		if attempts >= 5 {
			return types.Snapshot{}, fmt.Errorf("failed to allocate job id after %d attempts", attempts)
		}
		id = s.newID()
	}

	now := s.now()
	job := &types.Job{
		ID:        id,
		Ticker:    NormalizeTicker(ticker),
		Status:    types.StatusPending,
		Progress:  0,
		Message:   "Queued",
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	s.jobs[id] = job
	return job.Snapshot(), nil
}

// Get returns the current snapshot of a job
func (s *Store) Get(id string) (types.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return types.Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return job.Snapshot(), nil
}

// Update merges u into the job atomically and returns the resulting snapshot
func (s *Store) Update(id string, u Update) (types.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return types.Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := checkUpdate(job, u); err != nil {
		return types.Snapshot{}, err
	}

	if u.Status != nil {
		job.Status = *u.Status
	}
	if u.Progress != nil {
		job.Progress = *u.Progress
	}
	if u.Message != nil {
		job.Message = *u.Message
	}
	if u.Result != nil {
		job.Result = u.Result.Clone()
	}
	if u.Error != nil {
		e := *u.Error
		job.Error = &e
	}
	job.UpdatedAt = s.now()
	job.Version++
	return job.Snapshot(), nil
}

func checkUpdate(job *types.Job, u Update) error {
	next := job.Status
	if u.Status != nil {
		next = *u.Status
	}
	if !job.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, next)
	}
	if u.Progress != nil {
		if *u.Progress < job.Progress {
			return fmt.Errorf("%w: progress %d -> %d", ErrInvalidTransition, job.Progress, *u.Progress)
		}
		if *u.Progress > 100 {
			return fmt.Errorf("%w: progress %d out of range", ErrInvalidTransition, *u.Progress)
		}
	}
	switch next {
	case types.StatusCompleted:
		if u.Result == nil || u.Error != nil {
			return fmt.Errorf("%w: completed job requires a result and no error", ErrInvalidTransition)
		}
	case types.StatusFailed:
		if u.Error == nil || u.Result != nil {
			return fmt.Errorf("%w: failed job requires an error and no result", ErrInvalidTransition)
		}
	default:
		if u.Result != nil || u.Error != nil {
			return fmt.Errorf("%w: result and error are only set on the terminal transition", ErrInvalidTransition)
		}
	}
	return nil
}

// Result returns the aggregate result of a completed job
func (s *Store) Result(id string) (*types.Result, error) {
	snap, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if snap.Status != types.StatusCompleted {
		return nil, &NotReadyError{JobID: id, Status: snap.Status, Err: snap.Error}
	}
	return snap.Result, nil
}

// Len returns the number of stored jobs
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Sweep removes terminal jobs whose retention elapsed and returns how many were removed
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, job := range s.jobs {
		var ttl time.Duration
		switch job.Status {
		case types.StatusCompleted:
			ttl = s.retention.Completed
		case types.StatusFailed:
			ttl = s.retention.Failed
		default:
			continue
		}
		if now.Sub(job.UpdatedAt) >= ttl {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}
