package api

import (
	"encoding/gob"
	"time"
)

func init() {
	gob.Register(Metadata{})
	gob.Register([]string{})
	gob.Register(map[string]any{})
}

// StateKind classifies a state within a machine.
type StateKind string

const (
	StateInitial      StateKind = "initial"
	StateIntermediate StateKind = "intermediate"
	StateFinal        StateKind = "final"
)

// Machine is a workflow definition. It is immutable at runtime from the
// engine's perspective; the engine only ever reads it.
type Machine struct {
	ID             string
	Slug           string
	InitialStateID string
}

// State is a node within exactly one machine.
type State struct {
	ID        string
	MachineID string
	Slug      string
	Kind      StateKind
}

// Metadata is an opaque key/value bag attached to a transition and consumed
// by its guard. Values must be gob-encodable when a persistent audit store
// is used; common kinds (string, []string, map[string]any) are registered
// by this package.
type Metadata map[string]any

// Transition is a directed, optionally guarded edge between two states of
// the same machine.
//
// GuardID is empty for unguarded transitions. SortOrder is the
// definition-supplied listing position; transitions with equal SortOrder
// are ordered by ID.
type Transition struct {
	ID          string
	MachineID   string
	FromStateID string
	ToStateID   string
	GuardID     string
	Metadata    Metadata
	SortOrder   int
}

// EntityRef identifies the business object under governance. The engine
// never stores or mutates entity data; it only reasons about entity state
// via the audit log.
//
// Owner is optional and caller-supplied: the owner guard compares it against
// the acting principal's ID. The engine does not look up ownership itself.
type EntityRef struct {
	Type  string
	ID    string
	Owner string
}

// Principal is the acting identity, supplied by the caller on every
// operation. The engine never resolves identity from ambient state.
type Principal struct {
	ID           string
	Roles        []string
	Capabilities []string
}

// HasRole reports whether the principal carries the given role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasCapability reports whether the principal carries the given capability.
func (p Principal) HasCapability(cap string) bool {
	for _, c := range p.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// LogEntry is an immutable record of one successfully applied transition.
//
// FromStateID is empty when the entity had no prior entry, i.e. it was
// still in the machine's initial state. IDs are monotonic per store.
type LogEntry struct {
	ID           int64
	MachineID    string
	EntityType   string
	EntityID     string
	FromStateID  string
	ToStateID    string
	TransitionID string
	PrincipalID  string
	Comment      string
	Metadata     Metadata
	CreatedAt    time.Time
}

// Decision is a guard or pre-flight verdict. Reason is human-readable and
// set whenever Allowed is false.
type Decision struct {
	Allowed bool
	Reason  string
}
