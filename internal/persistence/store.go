package persistence

import (
	"context"
	"errors"
	"regexp"

	"github.com/petrijr/siirto/pkg/api"
)

var (
	// ErrNoEntry is returned by Latest when the entity has no audit
	// entries yet.
	ErrNoEntry = errors.New("no audit entries")

	// ErrConflict is returned by Append when the latest entry for the
	// entity no longer matches the caller's prevID: a racing writer won
	// first.
	ErrConflict = errors.New("audit log head moved")

	// ErrTenantNotProvisioned is returned when a tenant store is opened
	// before Provision was called for that tenant.
	ErrTenantNotProvisioned = errors.New("tenant not provisioned")
)

// AuditStore is the append-only record of applied transitions. Entries
// are immutable after write; IDs are monotonic per store.
//
// Implementations must be safe for concurrent writers on different
// entities and must serialize writers on the same entity through the
// prevID compare-and-append below.
type AuditStore interface {
	// Append writes one entry and returns its allocated ID. prevID is
	// the ID of the latest entry the caller observed for the entry's
	// (machine, entity type, entity id), zero if it observed none. The
	// check against the actual head and the insert happen atomically;
	// a moved head yields ErrConflict and writes nothing.
	Append(ctx context.Context, e *api.LogEntry, prevID int64) (int64, error)

	// Latest returns the most recent entry for the entity, or
	// ErrNoEntry.
	Latest(ctx context.Context, machineID, entityType, entityID string) (*api.LogEntry, error)

	// Query returns entries matching the filter in ascending ID order,
	// paginated.
	Query(ctx context.Context, f api.LogFilter, p api.Page) ([]*api.LogEntry, error)
}

// TenantStores routes audit reads/writes to isolated per-tenant stores
// sharing one schema. An entry written under one tenant is never visible
// to another tenant or to the shared store.
//
// Provisioning is an explicit ahead-of-time step and is idempotent;
// opening an unprovisioned tenant fails with ErrTenantNotProvisioned and
// never creates anything implicitly.
type TenantStores interface {
	Shared() AuditStore
	Provision(ctx context.Context, tenant string) error
	ForTenant(ctx context.Context, tenant string) (AuditStore, error)
}

var tenantRe = regexp.MustCompile(`^[a-z0-9_]+$`)

// ValidTenant reports whether the tenant identifier is usable as an
// isolation key across all backends (it ends up in table and key names).
func ValidTenant(tenant string) bool {
	return tenantRe.MatchString(tenant)
}

var errInvalidTenant = errors.New("tenant must match [a-z0-9_]+")
