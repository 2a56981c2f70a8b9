package normalizer

import "fmt"

// MalformedEventError indicates an unparseable CDC payload: a required field
// (entity key, operation, timestamp) is absent or of the wrong shape. The
// consumer routes these to the dead-letter channel and continues.
type MalformedEventError struct {
	Reason string
	Offset int64
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed change event at offset %d: %s", e.Offset, e.Reason)
}

// UnknownEntityError indicates a structurally valid event for a table this
// pipeline does not project. Non-fatal: callers count it and move on.
type UnknownEntityError struct {
	Table string
}

func (e *UnknownEntityError) Error() string {
	return fmt.Sprintf("unknown entity table %q", e.Table)
}
