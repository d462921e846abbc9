package inventory

import (
	"errors"
	"fmt"
	"strings"
)

// ErrValidation is matched by every *ValidationError.  Validation
// failures are the caller's fault and are never retried.
var ErrValidation = errors.New("invalid booking request")

// ErrContention is returned by Check when a requested seat is no longer
// available.  Book reports contention through BookResult instead.
var ErrContention = errors.New("seats not available")

// ValidationError explains why a request was rejected before it could
// touch the seat map.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ContentionError lists the seats that were already taken.
type ContentionError struct {
	Unavailable []string
}

func (e *ContentionError) Error() string {
	return "seats not available: " + strings.Join(e.Unavailable, ",")
}

func (e *ContentionError) Is(target error) bool { return target == ErrContention }
