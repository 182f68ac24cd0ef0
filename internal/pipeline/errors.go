package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonathan/fewknow/internal/llm"
	"github.com/jonathan/fewknow/internal/types"
)

// ErrShuttingDown is returned by Start after Shutdown was called
var ErrShuttingDown = errors.New("pipeline runner is shutting down")

// StageError is a terminal failure of one stage. Message is safe to show to users;
// the wrapped error is only logged.
type StageError struct {
	Stage   string
	Kind    types.ErrorKind
	Message string
	Err     error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stage %s: %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("stage %s: %s", e.Stage, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// JobError returns the user-facing failure payload
func (e *StageError) JobError() *types.JobError {
	return &types.JobError{Message: e.Message, Kind: e.Kind}
}

// llmFailure classifies an error from a synthesis call
func llmFailure(stage, label string, err error) *StageError {
	var (
		schemaErr *llm.SchemaError
		apiErr    *llm.APICallError
		reason    string
		kind      = types.ErrorKindProvider
	)
	switch {
	case errors.As(err, &schemaErr):
		kind = types.ErrorKindSchema
		reason = "the AI response did not match the expected format"
	case errors.Is(err, context.DeadlineExceeded):
		reason = "the AI provider timed out"
	case errors.As(err, &apiErr):
		reason = "the AI provider request failed"
	default:
		reason = "the AI provider returned an error"
	}
	return &StageError{
		Stage:   stage,
		Kind:    kind,
		Message: fmt.Sprintf("%s failed: %s", label, reason),
		Err:     err,
	}
}

// toJobError maps any run error to the payload stored on the failed job
func toJobError(err error) *types.JobError {
	var stageErr *StageError
	switch {
	case errors.As(err, &stageErr):
		return stageErr.JobError()
	case errors.Is(err, context.Canceled):
		return &types.JobError{Message: "Analysis cancelled", Kind: types.ErrorKindInternal}
	default:
		return &types.JobError{Message: "Internal error during analysis", Kind: types.ErrorKindInternal}
	}
}
