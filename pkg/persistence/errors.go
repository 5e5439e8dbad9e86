package persistence

import (
	"errors"
	"fmt"
)

// Standard error types all store implementations return.
var (
	// ErrWorkflowNotFound indicates no workflow exists with the given id.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrBindingNotFound indicates no policy binding exists with the given id.
	ErrBindingNotFound = errors.New("policy binding not found")

	// ErrResourceNotFound indicates no resource exists with the given id.
	ErrResourceNotFound = errors.New("resource not found")
)

// StoreError wraps storage failures with the operation and document identity.
type StoreError struct {
	Op  string // operation being performed, e.g. "SaveWorkflow"
	ID  string // document id if applicable
	Err error
}

func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a StoreError with the given context.
func NewStoreError(op, id string, err error) *StoreError {
	return &StoreError{Op: op, ID: id, Err: err}
}
