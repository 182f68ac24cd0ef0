package llm

import (
	"fmt"

	"github.com/jonathan/fewknow/internal/schemas"
)

// APICallError represents a failed call to an LLM provider
type APICallError struct {
	Provider Provider
	Message  string
	Cause    error
}

func (e *APICallError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s API call failed: %s: %v", e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s API call failed: %s", e.Provider, e.Message)
}

func (e *APICallError) Unwrap() error {
	return e.Cause
}

// ParseError represents a response that could not be decoded into the target type
type ParseError struct {
	Message string
	Cause   error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("parse error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("parse error: %s", e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// SchemaError is returned when every attempt produced output that failed schema validation
type SchemaError struct {
	Schema   string
	Attempts int
	Last     *schemas.ValidationError
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("response did not match schema %s after %d attempts", e.Schema, e.Attempts)
}

func (e *SchemaError) Unwrap() error {
	if e.Last == nil {
		return nil
	}
	return e.Last
}

// ConfigError represents a client that cannot be constructed from its configuration
type ConfigError struct {
	Provider Provider
	Message  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s client misconfigured: %s", e.Provider, e.Message)
}
