package api

import (
	"errors"
	"fmt"
)

// NotFoundError reports an unknown machine, state, transition, guard or
// callback identifier. Always terminal for the call; the engine never
// retries it and never fires a failure event for it.
type NotFoundError struct {
	Kind string // "machine", "state", "transition", "guard", "callback"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ValidationError reports that the entity's derived current state does not
// match the transition's required from-state. Recoverable: the caller can
// re-derive state and pick another transition. No log entry is produced.
type ValidationError struct {
	TransitionID    string
	RequiredStateID string
	CurrentStateID  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("transition %s requires state %s, entity is in state %s",
		e.TransitionID, e.RequiredStateID, e.CurrentStateID)
}

// AuthorizationError reports a guard denial, carrying the guard's message.
// No log entry is produced.
type AuthorizationError struct {
	TransitionID string
	Reason       string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("transition %s denied: %s", e.TransitionID, e.Reason)
}

// ConflictError reports that a racing writer won first on the same
// (machine, entity) tuple. The caller should re-derive current state and
// retry if the transition still applies.
type ConflictError struct {
	MachineID string
	Entity    EntityRef
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrent transition on %s/%s/%s, re-derive state and retry",
		e.MachineID, e.Entity.Type, e.Entity.ID)
}

// PersistenceError reports that the audit log write itself failed after
// validation and authorization passed. No partial entry is ever visible.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("audit log %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var t *NotFoundError
	return errors.As(err, &t)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var t *ValidationError
	return errors.As(err, &t)
}

// IsAuthorization reports whether err is an AuthorizationError.
func IsAuthorization(err error) bool {
	var t *AuthorizationError
	return errors.As(err, &t)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var t *ConflictError
	return errors.As(err, &t)
}

// IsPersistence reports whether err is a PersistenceError.
func IsPersistence(err error) bool {
	var t *PersistenceError
	return errors.As(err, &t)
}
