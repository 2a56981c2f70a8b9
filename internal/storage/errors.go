package storage

import (
	"errors"
	"fmt"
)

// Storage errors shared by all backends.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

// StateCorruptionError is fatal for the affected trader partition only: the
// caller must rebuild that trader's derived state from durable trade history.
// It never triggers a global restart.
type StateCorruptionError struct {
	TraderID int64
	Detail   string
}

func (e *StateCorruptionError) Error() string {
	return fmt.Sprintf("state corruption for trader %d: %s", e.TraderID, e.Detail)
}
