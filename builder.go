package siirto

import (
	"fmt"

	"github.com/petrijr/siirto/pkg/api"
	"github.com/petrijr/siirto/pkg/definition"
	"github.com/petrijr/siirto/pkg/guard"
)

// MachineBuilder provides a fluent API for defining state machines:
//
//	defs := siirto.NewMachine("order-flow").
//	    State("new", siirto.StateInitial).
//	    State("paid", siirto.StateIntermediate).
//	    State("shipped", siirto.StateFinal).
//	    Transition("pay", "new", "paid").
//	    Guarded("ship", "paid", "shipped", siirto.GuardRole, siirto.Metadata{
//	        siirto.MetaRequiredRoles: []string{"warehouse"},
//	    }).
//	    Build()
//
//	eng, err := siirto.NewInMemoryEngine(defs, nil)
//
// The builder panics on malformed definitions (duplicate identifiers,
// transitions referencing unknown states, zero or multiple initial
// states). Definitions are initialization-time data; failing fast there
// beats carrying errors through every call.
type MachineBuilder struct {
	machine     api.Machine
	states      []api.State
	stateIDs    map[string]bool
	transitions []api.Transition
	tranIDs     map[string]bool
}

// NewMachine creates a builder for the machine with the given
// identifier. The identifier doubles as the display slug.
func NewMachine(id string) *MachineBuilder {
	if id == "" {
		panic("siirto: machine id must not be empty")
	}
	return &MachineBuilder{
		machine:  api.Machine{ID: id, Slug: id},
		stateIDs: make(map[string]bool),
		tranIDs:  make(map[string]bool),
	}
}

// Slug overrides the machine's display slug.
func (b *MachineBuilder) Slug(slug string) *MachineBuilder {
	b.machine.Slug = slug
	return b
}

// State adds a state. Exactly one state per machine must be
// StateInitial; it becomes the derived state of entities with no audit
// history.
func (b *MachineBuilder) State(id string, kind api.StateKind) *MachineBuilder {
	if id == "" {
		panic("siirto: state id must not be empty")
	}
	if b.stateIDs[id] {
		panic(fmt.Sprintf("siirto: duplicate state %q", id))
	}
	if kind == api.StateInitial {
		if b.machine.InitialStateID != "" {
			panic(fmt.Sprintf("siirto: machine %q already has initial state %q", b.machine.ID, b.machine.InitialStateID))
		}
		b.machine.InitialStateID = id
	}

	b.stateIDs[id] = true
	b.states = append(b.states, api.State{
		ID:        id,
		MachineID: b.machine.ID,
		Slug:      id,
		Kind:      kind,
	})
	return b
}

// Transition adds an unguarded transition between two known states.
// Transitions are listed in the order they were added.
func (b *MachineBuilder) Transition(id, fromID, toID string) *MachineBuilder {
	return b.add(id, fromID, toID, "", nil)
}

// Guarded adds a transition protected by the given guard kind.
// The metadata is stored on the transition and handed to the guard
// factory at evaluation time.
func (b *MachineBuilder) Guarded(id, fromID, toID, guardID string, meta api.Metadata) *MachineBuilder {
	if guardID == "" {
		panic(fmt.Sprintf("siirto: transition %q has empty guard id", id))
	}
	return b.add(id, fromID, toID, guardID, meta)
}

// RequireRoles is shorthand for a role-guarded transition.
func (b *MachineBuilder) RequireRoles(id, fromID, toID string, roles ...string) *MachineBuilder {
	if len(roles) == 0 {
		panic(fmt.Sprintf("siirto: transition %q requires at least one role", id))
	}
	return b.Guarded(id, fromID, toID, guard.KindRole, api.Metadata{
		guard.MetaRequiredRoles: roles,
	})
}

// RequireCapability is shorthand for a capability-guarded transition.
func (b *MachineBuilder) RequireCapability(id, fromID, toID, capability string) *MachineBuilder {
	if capability == "" {
		panic(fmt.Sprintf("siirto: transition %q requires a capability", id))
	}
	return b.Guarded(id, fromID, toID, guard.KindCapability, api.Metadata{
		guard.MetaRequiredCapability: capability,
	})
}

// RequireOwner is shorthand for an owner-guarded transition.
func (b *MachineBuilder) RequireOwner(id, fromID, toID string) *MachineBuilder {
	return b.Guarded(id, fromID, toID, guard.KindOwner, nil)
}

// RequireCallback is shorthand for a callback-guarded transition; the
// named function must be registered on the engine's guard registry.
func (b *MachineBuilder) RequireCallback(id, fromID, toID, name string) *MachineBuilder {
	if name == "" {
		panic(fmt.Sprintf("siirto: transition %q requires a callback name", id))
	}
	return b.Guarded(id, fromID, toID, guard.KindCallback, api.Metadata{
		guard.MetaCallbackName: name,
	})
}

func (b *MachineBuilder) add(id, fromID, toID, guardID string, meta api.Metadata) *MachineBuilder {
	if id == "" {
		panic("siirto: transition id must not be empty")
	}
	if b.tranIDs[id] {
		panic(fmt.Sprintf("siirto: duplicate transition %q", id))
	}
	if !b.stateIDs[fromID] {
		panic(fmt.Sprintf("siirto: transition %q references unknown state %q", id, fromID))
	}
	if !b.stateIDs[toID] {
		panic(fmt.Sprintf("siirto: transition %q references unknown state %q", id, toID))
	}

	b.tranIDs[id] = true
	b.transitions = append(b.transitions, api.Transition{
		ID:          id,
		MachineID:   b.machine.ID,
		FromStateID: fromID,
		ToStateID:   toID,
		GuardID:     guardID,
		Metadata:    meta,
		SortOrder:   len(b.transitions),
	})
	return b
}

// Register adds the built machine to an existing definition store, so
// several machines can share one store.
func (b *MachineBuilder) Register(store *definition.MemStore) *definition.MemStore {
	if b.machine.InitialStateID == "" {
		panic(fmt.Sprintf("siirto: machine %q has no initial state", b.machine.ID))
	}
	store.AddMachine(b.machine)
	for _, st := range b.states {
		store.AddState(st)
	}
	for _, t := range b.transitions {
		store.AddTransition(t)
	}
	return store
}

// Build registers the machine into a fresh definition store.
func (b *MachineBuilder) Build() *definition.MemStore {
	return b.Register(definition.NewMemStore())
}
