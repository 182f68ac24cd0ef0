// Package server provides the HTTP gateway: REST routes, WebSocket and SSE live channels.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/fewknow/internal/jobs"
	"github.com/jonathan/fewknow/internal/market"
	"github.com/jonathan/fewknow/internal/pipeline"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		validationErr *ErrValidation
		requestErr    *market.RequestError
	)
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrNotFound), errors.Is(err, market.ErrTickerNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.As(err, &requestErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage is the error text safe to return to clients
func publicMessage(err error) string {
	var validationErr *ErrValidation
	switch {
	case errors.As(err, &validationErr):
		return validationErr.Error()
	case errors.Is(err, jobs.ErrNotFound):
		return "Job not found"
	case errors.Is(err, pipeline.ErrShuttingDown):
		return "Server is shutting down"
	default:
		return http.StatusText(HTTPStatus(err))
	}
}
