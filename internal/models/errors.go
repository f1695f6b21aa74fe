package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned for unknown or unauthorized scan and agent ids
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when an operation's precondition on a record does not hold
	ErrInvalidState = errors.New("invalid state")

	// ErrStateConflict is returned when a conditional status transition finds
	// the scan in a different state than expected
	ErrStateConflict = errors.New("scan state conflict")
)

// ValidationError represents malformed caller input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)
}

// Analysis stages
const (
	StageGenerate = "generate"
	StageParse    = "parse"
	StageValidate = "validate"
)

// AnalysisError represents a failed or unusable analyzer run
type AnalysisError struct {
	Stage string
	Err   error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis failed at %s: %v", e.Stage, e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// TimeoutError is raised client-side when polling exhausts its attempts.
// It never affects server state.
type TimeoutError struct {
	ScanID   string
	Attempts int
	Interval time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("scan %s timed out after %d poll attempts (%v)", e.ScanID, e.Attempts, time.Duration(e.Attempts)*e.Interval)
}

// NewInvalidState wraps ErrInvalidState with a reason
func NewInvalidState(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// NewNotFound wraps ErrNotFound with the kind and id of the missing record
func NewNotFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}
