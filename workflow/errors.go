package workflow

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced across the workflow boundary.
var (
	// ErrNotFound is returned when a document or node does not exist, or is
	// not owned by the caller.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when start is requested on a document that is
	// already in a non-terminal state.
	ErrConflict = errors.New("workflow already running")
)

// GateError records a gate predicate failure. It is normal control flow: the
// engine logs it at info, emits a fail node event, and rolls back. It never
// propagates out of a stage as an infrastructure error.
type GateError struct {
	Stage  NodeType
	Reason string
}

func (e *GateError) Error() string {
	return fmt.Sprintf("%s gate failed: %s", e.Stage, e.Reason)
}
