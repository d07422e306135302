// Package definition provides an in-memory implementation of the
// api.DefinitionStore contract.
//
// The engine treats definitions as an external, read-only collaborator;
// this store exists so that embedders (and tests) can supply definitions
// without standing up a definition service. Populate it at startup, then
// hand it to an engine constructor. Writes after the engine is serving
// traffic are the caller's responsibility to avoid.
package definition

import (
	"context"
	"sort"
	"sync"

	"github.com/petrijr/siirto/pkg/api"
)

// MemStore is a goroutine-safe api.DefinitionStore backed by maps.
type MemStore struct {
	mu          sync.RWMutex
	machines    map[string]api.Machine
	states      map[string]api.State
	transitions map[string]api.Transition

	// outgoing indexes transitions by (machineID, fromStateID).
	outgoing map[string][]string
}

// Ensure MemStore implements the contract.
var _ api.DefinitionStore = (*MemStore)(nil)

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		machines:    make(map[string]api.Machine),
		states:      make(map[string]api.State),
		transitions: make(map[string]api.Transition),
		outgoing:    make(map[string][]string),
	}
}

func outgoingKey(machineID, stateID string) string {
	return machineID + "\x00" + stateID
}

// AddMachine stores (or replaces) a machine definition.
func (s *MemStore) AddMachine(m api.Machine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.machines[m.ID] = m
}

// AddState stores (or replaces) a state definition.
func (s *MemStore) AddState(st api.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.ID] = st
}

// AddTransition stores (or replaces) a transition definition.
func (s *MemStore) AddTransition(t api.Transition) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.transitions[t.ID]; ok {
		s.dropOutgoing(old)
	}
	s.transitions[t.ID] = t

	key := outgoingKey(t.MachineID, t.FromStateID)
	s.outgoing[key] = append(s.outgoing[key], t.ID)
}

func (s *MemStore) dropOutgoing(t api.Transition) {
	key := outgoingKey(t.MachineID, t.FromStateID)
	ids := s.outgoing[key]
	for i, id := range ids {
		if id == t.ID {
			s.outgoing[key] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
}

func (s *MemStore) Machine(ctx context.Context, id string) (api.Machine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.machines[id]
	if !ok {
		return api.Machine{}, &api.NotFoundError{Kind: "machine", ID: id}
	}
	return m, nil
}

func (s *MemStore) State(ctx context.Context, id string) (api.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[id]
	if !ok {
		return api.State{}, &api.NotFoundError{Kind: "state", ID: id}
	}
	return st, nil
}

func (s *MemStore) Transition(ctx context.Context, id string) (api.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transitions[id]
	if !ok {
		return api.Transition{}, &api.NotFoundError{Kind: "transition", ID: id}
	}
	return t, nil
}

func (s *MemStore) TransitionsFrom(ctx context.Context, machineID, stateID string) ([]api.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.machines[machineID]; !ok {
		return nil, &api.NotFoundError{Kind: "machine", ID: machineID}
	}

	ids := s.outgoing[outgoingKey(machineID, stateID)]
	out := make([]api.Transition, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.transitions[id])
	}

	// Stable listing order: definition-supplied sort order, then id.
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})

	return out, nil
}
