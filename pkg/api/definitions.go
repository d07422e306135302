package api

import "context"

// DefinitionStore resolves workflow definitions by id. It is an external,
// read-only collaborator: definitions are authored and validated elsewhere,
// and the engine assumes they are well-formed (transition endpoints belong
// to the transition's machine, the initial state has no incoming edges).
//
// Implementations must be safe for concurrent readers.
type DefinitionStore interface {
	// Machine returns the machine definition for id, or a NotFoundError.
	Machine(ctx context.Context, id string) (Machine, error)

	// State returns the state definition for id, or a NotFoundError.
	State(ctx context.Context, id string) (State, error)

	// Transition returns the transition definition for id, or a
	// NotFoundError.
	Transition(ctx context.Context, id string) (Transition, error)

	// TransitionsFrom returns all transitions of the machine leaving the
	// given state, ordered by (SortOrder, ID). An unknown machine is a
	// NotFoundError; a state with no outgoing transitions yields an
	// empty slice.
	TransitionsFrom(ctx context.Context, machineID, stateID string) ([]Transition, error)
}
