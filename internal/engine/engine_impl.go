package engine

import (
	"context"
	"errors"
	"time"

	"github.com/petrijr/siirto/internal/persistence"
	"github.com/petrijr/siirto/pkg/api"
	"github.com/petrijr/siirto/pkg/guard"
)

// engineImpl is a synchronous, in-process transition engine. It holds no
// workflow state of its own: current state is derived from the audit log
// on every call.
type engineImpl struct {
	defs   api.DefinitionStore
	audit  persistence.AuditStore
	guards *guard.Registry

	notifier *notifier
	locks    *keyedMutex

	now func() time.Time
}

// Config describes how to construct an engineImpl. Only used inside this
// package; external callers use the facade constructors.
type Config struct {
	Definitions api.DefinitionStore
	Audit       persistence.AuditStore
	Guards      *guard.Registry
}

// New creates an Engine from the given configuration. Definitions and
// Audit are required; a nil Guards gets a registry with the builtin
// guard kinds.
func New(cfg Config) (api.Engine, error) {
	if cfg.Definitions == nil {
		return nil, errors.New("engine: definition store is required")
	}
	if cfg.Audit == nil {
		return nil, errors.New("engine: audit store is required")
	}
	guards := cfg.Guards
	if guards == nil {
		guards = guard.NewRegistry()
	}
	return &engineImpl{
		defs:     cfg.Definitions,
		audit:    cfg.Audit,
		guards:   guards,
		notifier: newNotifier(),
		locks:    newKeyedMutex(),
		now:      time.Now,
	}, nil
}

func (e *engineImpl) CurrentState(ctx context.Context, machineID string, ref api.EntityRef) (string, error) {
	m, err := e.defs.Machine(ctx, machineID)
	if err != nil {
		return "", err
	}
	state, _, err := e.deriveState(ctx, m, ref)
	return state, err
}

// deriveState returns the entity's current state and the ID of the audit
// entry it came from (zero when the entity is still in the machine's
// initial state).
func (e *engineImpl) deriveState(ctx context.Context, m api.Machine, ref api.EntityRef) (string, int64, error) {
	last, err := e.audit.Latest(ctx, m.ID, ref.Type, ref.ID)
	if err != nil {
		if errors.Is(err, persistence.ErrNoEntry) {
			return m.InitialStateID, 0, nil
		}
		return "", 0, &api.PersistenceError{Op: "read", Err: err}
	}
	return last.ToStateID, last.ID, nil
}

func (e *engineImpl) AvailableTransitions(ctx context.Context, machineID string, ref api.EntityRef) ([]api.Transition, error) {
	m, err := e.defs.Machine(ctx, machineID)
	if err != nil {
		return nil, err
	}
	state, _, err := e.deriveState(ctx, m, ref)
	if err != nil {
		return nil, err
	}
	return e.defs.TransitionsFrom(ctx, machineID, state)
}

func (e *engineImpl) CanTransition(ctx context.Context, transitionID string, ref api.EntityRef, principal api.Principal) (api.Decision, error) {
	tr, err := e.defs.Transition(ctx, transitionID)
	if err != nil {
		return api.Decision{}, err
	}
	m, err := e.defs.Machine(ctx, tr.MachineID)
	if err != nil {
		return api.Decision{}, err
	}

	state, _, err := e.deriveState(ctx, m, ref)
	if err != nil {
		return api.Decision{}, err
	}
	if state != tr.FromStateID {
		return api.Decision{
			Reason: (&api.ValidationError{
				TransitionID:    tr.ID,
				RequiredStateID: tr.FromStateID,
				CurrentStateID:  state,
			}).Error(),
		}, nil
	}

	return e.evalGuard(ctx, tr, ref, principal)
}

// evalGuard evaluates the transition's guard, if any. A transition with
// no guard is unconditionally allowed once the from-state check passed.
func (e *engineImpl) evalGuard(ctx context.Context, tr api.Transition, ref api.EntityRef, principal api.Principal) (api.Decision, error) {
	if tr.GuardID == "" {
		return api.Decision{Allowed: true}, nil
	}
	g, err := e.guards.Resolve(tr.GuardID, tr.Metadata)
	if err != nil {
		return api.Decision{}, err
	}
	return g.Evaluate(ctx, ref, principal)
}

func (e *engineImpl) Apply(ctx context.Context, transitionID string, ref api.EntityRef, principal api.Principal, comment string) (*api.LogEntry, error) {
	tr, err := e.defs.Transition(ctx, transitionID)
	if err != nil {
		return nil, err
	}
	m, err := e.defs.Machine(ctx, tr.MachineID)
	if err != nil {
		return nil, err
	}

	// Serialize same-entity appliers so derive-validate-write cannot
	// interleave. Cross-process racers are caught by the store's
	// conditional append.
	unlock := e.locks.lock(m.ID + "\x00" + ref.Type + "\x00" + ref.ID)
	defer unlock()

	ev := api.Event{
		MachineID:    m.ID,
		Entity:       ref,
		FromStateID:  tr.FromStateID,
		ToStateID:    tr.ToStateID,
		TransitionID: tr.ID,
		Principal:    principal,
	}

	state, headID, err := e.deriveState(ctx, m, ref)
	if err != nil {
		e.fireFailure(ctx, ev, err)
		return nil, err
	}
	if state != tr.FromStateID {
		verr := &api.ValidationError{
			TransitionID:    tr.ID,
			RequiredStateID: tr.FromStateID,
			CurrentStateID:  state,
		}
		e.fireFailure(ctx, ev, verr)
		return nil, verr
	}

	decision, err := e.evalGuard(ctx, tr, ref, principal)
	if err != nil {
		// Unresolved guard identifiers are definition bugs, not
		// workflow failures; no failure event.
		return nil, err
	}
	if !decision.Allowed {
		aerr := &api.AuthorizationError{TransitionID: tr.ID, Reason: decision.Reason}
		e.fireFailure(ctx, ev, aerr)
		return nil, aerr
	}

	// A before-listener error vetoes the write and is surfaced as the
	// transition's failure.
	before := ev
	before.Kind = api.EventBeforeTransition
	if err := e.notifier.fire(ctx, before); err != nil {
		return nil, err
	}

	entry := &api.LogEntry{
		MachineID:    m.ID,
		EntityType:   ref.Type,
		EntityID:     ref.ID,
		ToStateID:    tr.ToStateID,
		TransitionID: tr.ID,
		PrincipalID:  principal.ID,
		Comment:      comment,
		Metadata:     tr.Metadata,
		CreatedAt:    e.now().UTC(),
	}
	// FromStateID stays empty for an entity still in the machine's
	// initial state with no prior entry.
	if headID != 0 {
		entry.FromStateID = state
	}

	id, err := e.audit.Append(ctx, entry, headID)
	if err != nil {
		if errors.Is(err, persistence.ErrConflict) {
			return nil, &api.ConflictError{MachineID: m.ID, Entity: ref}
		}
		perr := &api.PersistenceError{Op: "append", Err: err}
		e.fireFailure(ctx, ev, perr)
		return nil, perr
	}
	entry.ID = id

	after := ev
	after.Kind = api.EventAfterSuccess
	after.Entry = entry
	_ = e.notifier.fire(ctx, after)

	return entry, nil
}

func (e *engineImpl) fireFailure(ctx context.Context, ev api.Event, err error) {
	ev.Kind = api.EventAfterFailure
	ev.Err = err
	_ = e.notifier.fire(ctx, ev)
}

func (e *engineImpl) Subscribe(kind api.EventKind, l api.Listener) func() {
	return e.notifier.subscribe(kind, l)
}

func (e *engineImpl) QueryLog(ctx context.Context, f api.LogFilter, p api.Page) ([]*api.LogEntry, error) {
	entries, err := e.audit.Query(ctx, f, p)
	if err != nil {
		return nil, &api.PersistenceError{Op: "query", Err: err}
	}
	return entries, nil
}
