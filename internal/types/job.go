// Package types provides type definitions for structured data used throughout the fewknow system.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"fmt"
	"slices"
	"time"
)

// JobStatus is the lifecycle state of an analysis job
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// rank orders statuses along the forward-only lifecycle. Both terminal states share a rank.
func (s JobStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is a known status
func (s JobStatus) Valid() bool {
	return s.rank() >= 0
}

// Terminal reports whether no further transitions are allowed
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next keeps the lifecycle strictly forward.
// Staying in a non-terminal status is allowed (a stage update changes only progress and message).
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if !next.Valid() || s.Terminal() {
		return false
	}
	if s == next {
		return true
	}
	// processing can never be skipped
	if s == StatusPending && next.Terminal() {
		return false
	}
	return next.rank() > s.rank()
}

// ErrorKind classifies a terminal job failure
type ErrorKind string

const (
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindSchema     ErrorKind = "schema"
	ErrorKindProvider   ErrorKind = "provider"
	ErrorKindInternal   ErrorKind = "internal"
)

// JobError is the user-safe failure payload of a failed job
type JobError struct {
	Message string    `json:"message"`
	Kind    ErrorKind `json:"kind"`
}

// Job is the record owned by the job store
type Job struct {
	ID        string    `json:"job_id"`
	Ticker    string    `json:"ticker"`
	Status    JobStatus `json:"status"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Result    *Result   `json:"result,omitempty"`
	Error     *JobError `json:"error,omitempty"`
	Version   uint64    `json:"version"`
}

// Snapshot is an immutable copy of a Job handed out by the store
type Snapshot struct {
	JobID     string    `json:"job_id"`
	Ticker    string    `json:"ticker"`
	Status    JobStatus `json:"status"`
	Progress  int       `json:"-"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
	Result    *Result   `json:"-"`
	Error     *JobError `json:"error,omitempty"`
	Version   uint64    `json:"version"`
}

// Snapshot returns a deep copy of the job
func (j *Job) Snapshot() Snapshot {
	s := Snapshot{
		JobID:     j.ID,
		Ticker:    j.Ticker,
		Status:    j.Status,
		Progress:  j.Progress,
		Message:   j.Message,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
		Version:   j.Version,
	}
	if j.Result != nil {
		s.Result = j.Result.Clone()
	}
	if j.Error != nil {
		e := *j.Error
		s.Error = &e
	}
	return s
}

// Terminal reports whether the snapshot is in a final state
func (s Snapshot) Terminal() bool {
	return s.Status.Terminal()
}

// ProgressLabel renders progress the way clients display it, e.g. "40%"
func (s Snapshot) ProgressLabel() string {
	return FormatProgress(s.Progress)
}

// FormatProgress renders a progress checkpoint as a percentage label
func FormatProgress(p int) string {
	return fmt.Sprintf("%d%%", p)
}

// StatusView is the wire shape of a status snapshot
type StatusView struct {
	JobID     string    `json:"job_id"`
	Ticker    string    `json:"ticker"`
	Status    JobStatus `json:"status"`
	Progress  string    `json:"progress"`
	Message   string    `json:"message"`
	UpdatedAt time.Time `json:"updated_at"`
	Error     *JobError `json:"error,omitempty"`
}

// View returns the wire shape of the snapshot
func (s Snapshot) View() StatusView {
	return StatusView{
		JobID:     s.JobID,
		Ticker:    s.Ticker,
		Status:    s.Status,
		Progress:  s.ProgressLabel(),
		Message:   s.Message,
		UpdatedAt: s.UpdatedAt,
		Error:     s.Error,
	}
}

// Result is the aggregate output of a completed job
type Result struct {
	JobID            string            `json:"job_id"`
	Ticker           string            `json:"ticker"`
	CompanyInfo      *CompanyInfo      `json:"company_info"`
	EarningsMetadata *EarningsMetadata `json:"earnings_metadata"`
	PricePerformance *PricePerformance `json:"price_performance"`
	NewsArticles     []NewsArticle     `json:"news_articles"`
	RedditAnalysis   *RedditAnalysis   `json:"reddit_analysis"`
	InsightReport    *InsightReport    `json:"insight_report"`
	Limitations      []string          `json:"limitations,omitempty"`
}

// Clone returns a deep copy of the result
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	if r.CompanyInfo != nil {
		c := *r.CompanyInfo
		out.CompanyInfo = &c
	}
	if r.EarningsMetadata != nil {
		out.EarningsMetadata = r.EarningsMetadata.Clone()
	}
	if r.PricePerformance != nil {
		out.PricePerformance = r.PricePerformance.Clone()
	}
	out.NewsArticles = slices.Clone(r.NewsArticles)
	if r.RedditAnalysis != nil {
		out.RedditAnalysis = r.RedditAnalysis.Clone()
	}
	if r.InsightReport != nil {
		out.InsightReport = r.InsightReport.Clone()
	}
	out.Limitations = slices.Clone(r.Limitations)
	return &out
}
