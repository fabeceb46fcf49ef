package scheduling

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers unknown provider and booking identifiers.
	ErrNotFound = errors.New("not found")

	// ErrConflict means another active booking claims an overlapping interval.
	// Retrying the identical request will fail again; callers should re-fetch
	// available slots and pick a different interval.
	ErrConflict = errors.New("booking conflict")

	// ErrRetryable marks transaction contention (serialization failure,
	// deadlock). Unlike ErrConflict, the identical request is safe to retry.
	ErrRetryable = errors.New("retryable transaction failure")
)

// ConflictError names the booking that already holds the interval, when the
// conflict was detected before the insert. It matches ErrConflict under
// errors.Is.
type ConflictError struct {
	BookingID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("interval conflicts with booking %s", e.BookingID)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
