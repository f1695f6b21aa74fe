package generation

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrEmptyResponse is returned when the model reply carries no text
var ErrEmptyResponse = errors.New("model returned no text")

// APIError represents a non-2xx reply from a generation endpoint
type APIError struct {
	StatusCode int
	Message    string
	Retriable  bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("generation API error (status %d): %s", e.StatusCode, e.Message)
}

// IsRetriable reports whether a later identical request could succeed
func (e *APIError) IsRetriable() bool {
	return e.Retriable
}

// NetworkError represents a transport failure talking to the model
type NetworkError struct {
	Operation string
	Err       error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Operation, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ConfigurationError represents a backend configuration validation error
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// NewAPIError creates a new API error with retriability determination
func NewAPIError(statusCode int, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Message:    message,
		Retriable:  isRetriableStatusCode(statusCode),
	}
}

func isRetriableStatusCode(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
