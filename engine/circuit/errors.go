package circuit

import (
	"errors"
	"fmt"
)

// Sentinel errors for graph operations.
var (
	ErrUnknownType       = errors.New("unknown component type")
	ErrComponentNotFound = errors.New("component not found")
	ErrPinNotFound       = errors.New("pin not found")
	ErrWireNotFound      = errors.New("wire not found")
	ErrDuplicateID       = errors.New("duplicate id")
	ErrSelfConnection    = errors.New("pin connected to itself")
	ErrInconsistent      = errors.New("wire and connection index out of sync")
)

// GraphError wraps a sentinel with the failing operation and subject id.
type GraphError struct {
	Op      string
	ID      string
	Wrapped error
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("circuit: %s %q: %s", e.Op, e.ID, e.Wrapped)
}

func (e *GraphError) Unwrap() error { return e.Wrapped }

// NewGraphError creates a GraphError.
func NewGraphError(op, id string, wrapped error) *GraphError {
	return &GraphError{Op: op, ID: id, Wrapped: wrapped}
}
