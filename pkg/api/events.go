package api

import "context"

// EventKind names the notification points of the transition engine.
type EventKind string

const (
	// EventBeforeTransition fires after validation and authorization
	// pass, before the audit entry is written. A listener returning an
	// error vetoes the transition: the write is aborted and the error is
	// surfaced to the caller as the transition's failure.
	EventBeforeTransition EventKind = "before-transition"

	// EventAfterSuccess fires once the audit entry is committed.
	// Listener errors cannot affect the outcome.
	EventAfterSuccess EventKind = "after-transition-success"

	// EventAfterFailure fires when Apply fails with a validation,
	// authorization or persistence error, carrying that error.
	EventAfterFailure EventKind = "after-transition-failure"
)

// Event carries the context of a transition attempt to listeners.
type Event struct {
	Kind         EventKind
	MachineID    string
	Entity       EntityRef
	FromStateID  string
	ToStateID    string
	TransitionID string
	Principal    Principal

	// Entry is the committed audit entry; set on EventAfterSuccess only.
	Entry *LogEntry

	// Err is the failure being reported; set on EventAfterFailure only.
	Err error
}

// Listener receives engine events. Listeners run synchronously in the
// caller's goroutine; they should be fast and must not call back into
// Apply for the same entity.
//
// The returned error is honored only for EventBeforeTransition (veto);
// for after-events it is ignored.
type Listener func(ctx context.Context, ev Event) error
