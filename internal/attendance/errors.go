package attendance

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyClockedIn  = errors.New("already clocked in today")
	ErrNoClockInYet      = errors.New("no clock-in recorded today")
	ErrAlreadyClockedOut = errors.New("already clocked out today")
	ErrStoreUnavailable  = errors.New("attendance store unavailable")
	ErrNotAuthenticated  = errors.New("no authenticated employee")
)

// Errors reported by Store implementations.
var (
	ErrDuplicateEntry = errors.New("entry already exists for this date")
	ErrStaleEntry     = errors.New("entry changed since it was read")
	ErrEntryNotFound  = errors.New("entry not found")
)

// StoreError wraps a backend failure. It matches ErrStoreUnavailable.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// wrapStore leaves the store's own sentinels visible and marks everything
// else as an unavailable backend.
func wrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrDuplicateEntry), errors.Is(err, ErrStaleEntry), errors.Is(err, ErrEntryNotFound):
		return fmt.Errorf("%s: %w", op, err)
	}
	return &StoreError{Op: op, Err: err}
}
