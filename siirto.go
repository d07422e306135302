package siirto

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/siirto/internal/engine"
	"github.com/petrijr/siirto/internal/persistence"
	"github.com/petrijr/siirto/pkg/api"
	"github.com/petrijr/siirto/pkg/definition"
	"github.com/petrijr/siirto/pkg/guard"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine          = api.Engine
	Machine         = api.Machine
	State           = api.State
	StateKind       = api.StateKind
	Transition      = api.Transition
	EntityRef       = api.EntityRef
	Principal       = api.Principal
	Metadata        = api.Metadata
	LogEntry        = api.LogEntry
	LogFilter       = api.LogFilter
	Page            = api.Page
	Decision        = api.Decision
	Event           = api.Event
	EventKind       = api.EventKind
	Listener        = api.Listener
	Metrics         = api.Metrics
	MetricsSnapshot = api.MetricsSnapshot
	DefinitionStore = api.DefinitionStore

	GuardRegistry = guard.Registry
	CallbackFunc  = guard.Callback
	Definitions   = definition.MemStore
)

// Re-export common helpers.

var (
	NewLoggingListener = api.NewLoggingListener
	NewGuardRegistry   = guard.NewRegistry
	NewDefinitions     = definition.NewMemStore

	IsNotFound      = api.IsNotFound
	IsValidation    = api.IsValidation
	IsAuthorization = api.IsAuthorization
	IsConflict      = api.IsConflict
	IsPersistence   = api.IsPersistence
)

// Re-export state kinds and event kinds for convenience.

const (
	StateInitial      = api.StateInitial
	StateIntermediate = api.StateIntermediate
	StateFinal        = api.StateFinal

	EventBeforeTransition = api.EventBeforeTransition
	EventAfterSuccess     = api.EventAfterSuccess
	EventAfterFailure     = api.EventAfterFailure
)

// Builtin guard kinds usable as Transition.GuardID.

const (
	GuardRole       = guard.KindRole
	GuardCapability = guard.KindCapability
	GuardOwner      = guard.KindOwner
	GuardCallback   = guard.KindCallback

	MetaRequiredRoles      = guard.MetaRequiredRoles
	MetaRequiredCapability = guard.MetaRequiredCapability
	MetaCallbackName       = guard.MetaCallbackName
)

// ErrTenantNotProvisioned is returned by the tenant-scoped constructors
// when the tenant was never provisioned.
var ErrTenantNotProvisioned = persistence.ErrTenantNotProvisioned

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine backed by a non-durable in-memory
// audit log. Best for tests. A nil guards gets the builtin registry.
func NewInMemoryEngine(defs DefinitionStore, guards *GuardRegistry) (Engine, error) {
	return engine.New(engine.Config{
		Definitions: defs,
		Audit:       persistence.NewInMemoryAuditStore(),
		Guards:      guards,
	})
}

// NewSQLiteEngine returns an Engine that appends its audit log to a
// SQLite database, creating the schema if needed.
func NewSQLiteEngine(db *sql.DB, defs DefinitionStore, guards *GuardRegistry) (Engine, error) {
	store, err := persistence.NewSQLiteAuditStore(db)
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{Definitions: defs, Audit: store, Guards: guards})
}

// NewPostgresEngine returns an Engine that appends its audit log to
// PostgreSQL, creating the schema if needed.
func NewPostgresEngine(db *sql.DB, defs DefinitionStore, guards *GuardRegistry) (Engine, error) {
	store, err := persistence.NewPostgresAuditStore(db)
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{Definitions: defs, Audit: store, Guards: guards})
}

// NewRedisEngine returns an Engine that appends its audit log to Redis
// under the given key prefix ("siirto:" if empty).
func NewRedisEngine(client *redis.Client, prefix string, defs DefinitionStore, guards *GuardRegistry) (Engine, error) {
	return engine.New(engine.Config{
		Definitions: defs,
		Audit:       persistence.NewRedisAuditStore(client, prefix),
		Guards:      guards,
	})
}

// NewMongoEngine returns an Engine that appends its audit log to MongoDB
// in the given database ("siirto" if empty), creating indexes if needed.
func NewMongoEngine(client *mongo.Client, dbName string, defs DefinitionStore, guards *GuardRegistry) (Engine, error) {
	store, err := persistence.NewMongoAuditStore(client, dbName)
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{Definitions: defs, Audit: store, Guards: guards})
}

// Tenant-scoped constructors and provisioning
//
// Tenant engines write to an isolated per-tenant audit log; entries are
// never visible across tenants. Provisioning is explicit: a tenant
// engine for an unprovisioned tenant fails with ErrTenantNotProvisioned
// rather than creating storage on the fly.

// ProvisionSQLiteTenant creates the tenant's audit table. Idempotent.
func ProvisionSQLiteTenant(ctx context.Context, db *sql.DB, tenant string) error {
	stores, err := persistence.NewSQLiteTenantStores(db)
	if err != nil {
		return err
	}
	return stores.Provision(ctx, tenant)
}

// NewSQLiteTenantEngine returns an Engine scoped to a provisioned tenant.
func NewSQLiteTenantEngine(ctx context.Context, db *sql.DB, tenant string, defs DefinitionStore, guards *GuardRegistry) (Engine, error) {
	stores, err := persistence.NewSQLiteTenantStores(db)
	if err != nil {
		return nil, err
	}
	store, err := stores.ForTenant(ctx, tenant)
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{Definitions: defs, Audit: store, Guards: guards})
}

// ProvisionPostgresTenant creates the tenant's audit table. Idempotent.
func ProvisionPostgresTenant(ctx context.Context, db *sql.DB, tenant string) error {
	stores, err := persistence.NewPostgresTenantStores(db)
	if err != nil {
		return err
	}
	return stores.Provision(ctx, tenant)
}

// NewPostgresTenantEngine returns an Engine scoped to a provisioned tenant.
func NewPostgresTenantEngine(ctx context.Context, db *sql.DB, tenant string, defs DefinitionStore, guards *GuardRegistry) (Engine, error) {
	stores, err := persistence.NewPostgresTenantStores(db)
	if err != nil {
		return nil, err
	}
	store, err := stores.ForTenant(ctx, tenant)
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{Definitions: defs, Audit: store, Guards: guards})
}

// ProvisionRedisTenant records the tenant in the provisioned set.
// Idempotent.
func ProvisionRedisTenant(ctx context.Context, client *redis.Client, base, tenant string) error {
	return persistence.NewRedisTenantStores(client, base).Provision(ctx, tenant)
}

// NewRedisTenantEngine returns an Engine scoped to a provisioned tenant
// under base ("siirto:" if empty).
func NewRedisTenantEngine(ctx context.Context, client *redis.Client, base, tenant string, defs DefinitionStore, guards *GuardRegistry) (Engine, error) {
	store, err := persistence.NewRedisTenantStores(client, base).ForTenant(ctx, tenant)
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{Definitions: defs, Audit: store, Guards: guards})
}

// ProvisionMongoTenant creates the tenant's collection indexes and
// records the tenant. Idempotent.
func ProvisionMongoTenant(ctx context.Context, client *mongo.Client, dbName, tenant string) error {
	stores, err := persistence.NewMongoTenantStores(client, dbName)
	if err != nil {
		return err
	}
	return stores.Provision(ctx, tenant)
}

// NewMongoTenantEngine returns an Engine scoped to a provisioned tenant.
func NewMongoTenantEngine(ctx context.Context, client *mongo.Client, dbName, tenant string, defs DefinitionStore, guards *GuardRegistry) (Engine, error) {
	stores, err := persistence.NewMongoTenantStores(client, dbName)
	if err != nil {
		return nil, err
	}
	store, err := stores.ForTenant(ctx, tenant)
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{Definitions: defs, Audit: store, Guards: guards})
}

// Convenience helpers that just forward to the underlying Engine.

// Apply applies a transition to an entity on behalf of a principal.
func Apply(ctx context.Context, eng Engine, transitionID string, ref EntityRef, principal Principal, comment string) (*LogEntry, error) {
	return eng.Apply(ctx, transitionID, ref, principal, comment)
}

// CurrentState returns the entity's current state in the machine.
func CurrentState(ctx context.Context, eng Engine, machineID string, ref EntityRef) (string, error) {
	return eng.CurrentState(ctx, machineID, ref)
}

// AvailableTransitions lists the transitions leaving the entity's
// current state.
func AvailableTransitions(ctx context.Context, eng Engine, machineID string, ref EntityRef) ([]Transition, error) {
	return eng.AvailableTransitions(ctx, machineID, ref)
}

// CanTransition checks a transition without applying it.
func CanTransition(ctx context.Context, eng Engine, transitionID string, ref EntityRef, principal Principal) (Decision, error) {
	return eng.CanTransition(ctx, transitionID, ref, principal)
}

// QueryLog reads the audit log with filtering and pagination.
func QueryLog(ctx context.Context, eng Engine, f LogFilter, p Page) ([]*LogEntry, error) {
	return eng.QueryLog(ctx, f, p)
}
