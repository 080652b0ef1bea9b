package board

import (
	"errors"
	"strings"
)

// Errors shared by the persistence service and the client.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, board.ErrConflict) {
//	    // retry the operation
//	}
var (
	// ErrValidation is returned when an operation payload is malformed.
	// It is never retried.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned when a transaction detected a concurrent write
	// to the same rows. It is retried transparently up to the retry ceiling.
	ErrConflict = errors.New("write conflict")

	// ErrNotFound is returned when the target entity no longer exists.
	ErrNotFound = errors.New("not found")
)

// Issue describes one problem with a single field of a payload.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries the per-field issues of a rejected payload.
// errors.Is(err, ErrValidation) is true for every ValidationError.
type ValidationError struct {
	Message string
	Issues  []Issue
}

// NewValidationError builds a ValidationError.
func NewValidationError(msg string, issues ...Issue) *ValidationError {
	return &ValidationError{Message: msg, Issues: issues}
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		parts = append(parts, is.Field+": "+is.Message)
	}
	return e.Message + " (" + strings.Join(parts, "; ") + ")"
}

// Is makes ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Kind is the coarse classification of a failure.
type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
	KindUnknown    Kind = "unknown"
)

// Classify maps an error onto the failure taxonomy.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	default:
		return KindUnknown
	}
}

// IsRetryable returns true if the error is likely to succeed on retry.
// Conflicts and unclassified (network) errors are retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	k := Classify(err)
	return k == KindConflict || k == KindUnknown
}

// IsTerminal returns true if retrying cannot help: the payload was rejected
// or the target vanished.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	k := Classify(err)
	return k == KindValidation || k == KindNotFound
}
