// Package siirto provides an embeddable transition engine for Go.
//
// Siirto manages the lifecycle of domain entities (orders, documents,
// tickets) as they move through a defined state machine. It does not
// store the entities themselves; it stores what happened to them. Every
// applied transition is appended to an immutable audit log, and an
// entity's current state is always derived from that log, so state and
// history cannot disagree.
//
// # Core Concepts
//
// The programming model is intentionally small:
//
//  1. Machine, State, Transition
//  2. Engine
//  3. Guards
//  4. Audit log
//  5. Listeners
//
// # Machines
//
// A machine is a directed graph of states and transitions. Definitions
// are plain data supplied through a DefinitionStore; the in-memory
// implementation in pkg/definition plus the MachineBuilder cover the
// common embedding case:
//
//	defs := siirto.NewMachine("order-flow").
//	    State("new", siirto.StateInitial).
//	    State("paid", siirto.StateIntermediate).
//	    State("shipped", siirto.StateFinal).
//	    Transition("pay", "new", "paid").
//	    RequireRoles("ship", "paid", "shipped", "warehouse").
//	    Build()
//
// # Engine
//
// The Engine answers four questions about an entity reference:
//   - what state is it in (CurrentState)
//   - where can it go (AvailableTransitions)
//   - may this principal move it (CanTransition)
//   - move it (Apply)
//
// Apply validates the entity's derived state against the transition,
// evaluates the guard, writes the audit entry, and notifies listeners,
// in that order. Concurrent applies on the same entity are serialized;
// a racer that loses reports a conflict and writes nothing.
//
// Engines can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//   - Redis
//   - MongoDB
//
// Multi-tenant deployments get per-tenant isolation through the
// tenant-scoped constructors; tenants must be provisioned explicitly
// before use.
//
// # Guards
//
// A transition may name a guard that decides whether a principal is
// allowed to apply it. Builtin kinds cover role, capability and owner
// checks plus registered callbacks; custom kinds plug in through
// pkg/guard's Registry. Unknown guard identifiers fail closed.
//
// # Audit log
//
// Every successful Apply appends one LogEntry recording who moved what,
// from where to where, when, and why (the caller's comment). Entries
// are immutable and queryable through QueryLog with filtering and
// pagination, and exportable as CSV.
//
// # Listeners
//
// Listeners observe transitions synchronously: before (may veto), after
// success, and after failure. NewLoggingListener logs events through
// log/slog; Metrics counts outcomes.
//
// For examples, see the /examples directory or the project README.
package siirto
