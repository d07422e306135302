package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/petrijr/siirto/pkg/api"
)

var baseTime = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func testEntry(machineID, entityType, entityID, from, to, principal string, minute int) *api.LogEntry {
	return &api.LogEntry{
		MachineID:    machineID,
		EntityType:   entityType,
		EntityID:     entityID,
		FromStateID:  from,
		ToStateID:    to,
		TransitionID: "t-" + to,
		PrincipalID:  principal,
		Comment:      "moved to " + to,
		CreatedAt:    baseTime.Add(time.Duration(minute) * time.Minute),
	}
}

func mustAppend(t *testing.T, store AuditStore, e *api.LogEntry, prevID int64) int64 {
	t.Helper()
	id, err := store.Append(context.Background(), e, prevID)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if id <= prevID {
		t.Fatalf("expected id > %d, got %d", prevID, id)
	}
	return id
}

// exerciseAppendLatest runs the append/latest contract against an empty
// store.
func exerciseAppendLatest(t *testing.T, store AuditStore) {
	t.Helper()
	ctx := context.Background()

	if _, err := store.Latest(ctx, "m1", "order", "o1"); !errors.Is(err, ErrNoEntry) {
		t.Fatalf("expected ErrNoEntry on empty store, got %v", err)
	}

	first := testEntry("m1", "order", "o1", "", "paid", "alice", 0)
	first.Metadata = api.Metadata{"required_roles": []string{"admin"}}
	id1 := mustAppend(t, store, first, 0)

	got, err := store.Latest(ctx, "m1", "order", "o1")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if got.ID != id1 {
		t.Fatalf("expected id %d, got %d", id1, got.ID)
	}
	if got.FromStateID != "" {
		t.Fatalf("expected empty from state on first entry, got %q", got.FromStateID)
	}
	if got.ToStateID != "paid" || got.PrincipalID != "alice" || got.Comment != "moved to paid" {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if !got.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("expected created_at %v, got %v", first.CreatedAt, got.CreatedAt)
	}
	roles, ok := got.Metadata["required_roles"].([]string)
	if !ok || len(roles) != 1 || roles[0] != "admin" {
		t.Fatalf("metadata did not survive the round trip: %+v", got.Metadata)
	}

	id2 := mustAppend(t, store, testEntry("m1", "order", "o1", "paid", "shipped", "bob", 1), id1)
	got, err = store.Latest(ctx, "m1", "order", "o1")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if got.ID != id2 || got.FromStateID != "paid" || got.ToStateID != "shipped" {
		t.Fatalf("unexpected latest entry: %+v", got)
	}
}

// exerciseConflict runs the compare-and-append contract against an empty
// store.
func exerciseConflict(t *testing.T, store AuditStore) {
	t.Helper()
	ctx := context.Background()

	id1 := mustAppend(t, store, testEntry("m1", "order", "o1", "", "paid", "alice", 0), 0)

	// A writer that still believes the entity has no history loses.
	if _, err := store.Append(ctx, testEntry("m1", "order", "o1", "", "cancelled", "bob", 1), 0); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for stale prevID 0, got %v", err)
	}

	// So does one holding an arbitrary wrong head.
	if _, err := store.Append(ctx, testEntry("m1", "order", "o1", "paid", "shipped", "bob", 1), id1+100); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for wrong prevID, got %v", err)
	}

	// The losing writer left nothing behind.
	got, err := store.Latest(ctx, "m1", "order", "o1")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if got.ID != id1 {
		t.Fatalf("expected head %d after conflicts, got %d", id1, got.ID)
	}

	// Heads are tracked per entity; another entity starts at zero.
	mustAppend(t, store, testEntry("m1", "order", "o2", "", "paid", "alice", 2), 0)

	// The winner's successor proceeds normally.
	mustAppend(t, store, testEntry("m1", "order", "o1", "paid", "shipped", "bob", 3), id1)
}

// exerciseQuery runs filtering, ordering and pagination against an empty
// store.
func exerciseQuery(t *testing.T, store AuditStore) {
	t.Helper()
	ctx := context.Background()

	id1 := mustAppend(t, store, testEntry("m1", "order", "o1", "", "paid", "alice", 0), 0)
	mustAppend(t, store, testEntry("m1", "order", "o2", "", "paid", "bob", 10), 0)
	mustAppend(t, store, testEntry("m2", "ticket", "t1", "", "closed", "alice", 20), 0)
	mustAppend(t, store, testEntry("m1", "order", "o1", "paid", "shipped", "carol", 30), id1)

	all, err := store.Query(ctx, api.LogFilter{}, api.Page{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].ID <= all[i-1].ID {
			t.Fatalf("expected ascending IDs, got %d then %d", all[i-1].ID, all[i].ID)
		}
	}

	byMachine, err := store.Query(ctx, api.LogFilter{MachineID: "m2"}, api.Page{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(byMachine) != 1 || byMachine[0].EntityID != "t1" {
		t.Fatalf("machine filter returned %+v", byMachine)
	}

	byEntity, err := store.Query(ctx, api.LogFilter{MachineID: "m1", EntityType: "order", EntityID: "o1"}, api.Page{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(byEntity) != 2 {
		t.Fatalf("expected 2 entries for o1, got %d", len(byEntity))
	}

	byPrincipal, err := store.Query(ctx, api.LogFilter{PrincipalID: "alice"}, api.Page{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(byPrincipal) != 2 {
		t.Fatalf("expected 2 entries by alice, got %d", len(byPrincipal))
	}

	// Since is inclusive, Until exclusive.
	window, err := store.Query(ctx, api.LogFilter{
		Since: baseTime.Add(10 * time.Minute),
		Until: baseTime.Add(30 * time.Minute),
	}, api.Page{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(window) != 2 {
		t.Fatalf("expected 2 entries in window, got %d", len(window))
	}

	page, err := store.Query(ctx, api.LogFilter{}, api.Page{Offset: 1, Limit: 2})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 entries on page, got %d", len(page))
	}
	if page[0].ID != all[1].ID || page[1].ID != all[2].ID {
		t.Fatalf("unexpected page contents: %+v", page)
	}

	past, err := store.Query(ctx, api.LogFilter{}, api.Page{Offset: 100})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(past) != 0 {
		t.Fatalf("expected empty page past the end, got %d entries", len(past))
	}
}

// exerciseTenants runs the provisioning and isolation contract against a
// fresh tenant router.
func exerciseTenants(t *testing.T, stores TenantStores) {
	t.Helper()
	ctx := context.Background()

	if _, err := stores.ForTenant(ctx, "acme"); !errors.Is(err, ErrTenantNotProvisioned) {
		t.Fatalf("expected ErrTenantNotProvisioned before provisioning, got %v", err)
	}
	if err := stores.Provision(ctx, "bad tenant!"); err == nil {
		t.Fatalf("expected invalid tenant name to be rejected")
	}
	if _, err := stores.ForTenant(ctx, "Bad-Tenant"); err == nil {
		t.Fatalf("expected invalid tenant name to be rejected on open")
	}

	if err := stores.Provision(ctx, "acme"); err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	if err := stores.Provision(ctx, "globex"); err != nil {
		t.Fatalf("Provision failed: %v", err)
	}

	acme, err := stores.ForTenant(ctx, "acme")
	if err != nil {
		t.Fatalf("ForTenant failed: %v", err)
	}
	globex, err := stores.ForTenant(ctx, "globex")
	if err != nil {
		t.Fatalf("ForTenant failed: %v", err)
	}

	// Same entity identifier in three scopes; each log stands alone.
	mustAppend(t, acme, testEntry("m1", "order", "o1", "", "paid", "alice", 0), 0)
	mustAppend(t, stores.Shared(), testEntry("m1", "order", "o1", "", "cancelled", "bob", 1), 0)

	if _, err := globex.Latest(ctx, "m1", "order", "o1"); !errors.Is(err, ErrNoEntry) {
		t.Fatalf("expected globex to be empty, got %v", err)
	}
	got, err := acme.Latest(ctx, "m1", "order", "o1")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if got.ToStateID != "paid" {
		t.Fatalf("acme sees foreign entry: %+v", got)
	}
	shared, err := stores.Shared().Latest(ctx, "m1", "order", "o1")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if shared.ToStateID != "cancelled" {
		t.Fatalf("shared store sees foreign entry: %+v", shared)
	}

	// Re-provisioning must not wipe existing entries.
	if err := stores.Provision(ctx, "acme"); err != nil {
		t.Fatalf("re-Provision failed: %v", err)
	}
	acme2, err := stores.ForTenant(ctx, "acme")
	if err != nil {
		t.Fatalf("ForTenant failed: %v", err)
	}
	entries, err := acme2.Query(ctx, api.LogFilter{}, api.Page{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after re-provisioning, got %d", len(entries))
	}
}
