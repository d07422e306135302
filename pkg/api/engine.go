package api

import (
	"context"
	"time"
)

// LogFilter selects audit log entries. Zero values mean "no filter" for
// that field.
type LogFilter struct {
	MachineID   string
	EntityType  string
	EntityID    string
	PrincipalID string

	// Since/Until bound CreatedAt (inclusive since, exclusive until).
	Since time.Time
	Until time.Time
}

// Page controls pagination of audit log queries. A zero Limit means
// "no limit". Entries are always returned in ascending entry-ID order.
type Page struct {
	Offset int
	Limit  int
}

// Engine governs entity lifecycles against read-only workflow definitions
// and an append-only audit log.
//
// Every call is a stateless operation against the externally derived
// current state; the "state machine" lives in the data, not in the engine.
// All operations are safe for concurrent use.
type Engine interface {
	// CurrentState returns the entity's derived current state: the
	// to-state of the most recent audit entry for (machineID, ref), or
	// the machine's initial state if no entry exists.
	CurrentState(ctx context.Context, machineID string, ref EntityRef) (string, error)

	// AvailableTransitions returns all transitions leaving the entity's
	// current state, ordered by (SortOrder, ID). Guards are not
	// evaluated: this answers "what moves exist from here", not "what is
	// this principal allowed to do".
	AvailableTransitions(ctx context.Context, machineID string, ref EntityRef) ([]Transition, error)

	// CanTransition resolves the transition and returns a verdict:
	// not allowed when the entity's current state does not match the
	// transition's from-state, otherwise the guard's verdict (allowed
	// unconditionally when the transition has no guard).
	CanTransition(ctx context.Context, transitionID string, ref EntityRef, principal Principal) (Decision, error)

	// Apply executes the transition as a single atomic unit: resolve,
	// validate current state, evaluate the guard, fire the before event,
	// append exactly one audit entry, fire the after-success event.
	// comment may be empty.
	//
	// Failures follow the package error taxonomy; validation,
	// authorization and persistence failures additionally fire the
	// after-failure event. No entry is written on any failure.
	Apply(ctx context.Context, transitionID string, ref EntityRef, principal Principal, comment string) (*LogEntry, error)

	// Subscribe registers a listener for the given event kind. Listeners
	// run synchronously, in registration order, within the call that
	// triggered the event. The returned function unregisters the
	// listener and is idempotent.
	Subscribe(kind EventKind, l Listener) (cancel func())

	// QueryLog returns audit entries matching the filter, paginated.
	QueryLog(ctx context.Context, f LogFilter, p Page) ([]*LogEntry, error)
}
