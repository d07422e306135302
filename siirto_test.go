package siirto_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/petrijr/siirto"
)

func newOrderFlow() *siirto.Definitions {
	return siirto.NewMachine("order-flow").
		State("new", siirto.StateInitial).
		State("paid", siirto.StateIntermediate).
		State("shipped", siirto.StateFinal).
		State("cancelled", siirto.StateFinal).
		Transition("pay", "new", "paid").
		RequireRoles("ship", "paid", "shipped", "warehouse").
		RequireOwner("cancel", "new", "cancelled").
		Build()
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func TestSQLiteEngineEndToEnd(t *testing.T) {
	ctx := context.Background()
	eng, err := siirto.NewSQLiteEngine(openTestDB(t), newOrderFlow(), nil)
	require.NoError(t, err)

	order := siirto.EntityRef{Type: "order", ID: "ORD-1", Owner: "alice"}
	alice := siirto.Principal{ID: "alice"}
	warehouse := siirto.Principal{ID: "wh-bot", Roles: []string{"warehouse"}}

	state, err := eng.CurrentState(ctx, "order-flow", order)
	require.NoError(t, err)
	require.Equal(t, "new", state)

	// alice pays, then tries moves she is not allowed to make.
	_, err = eng.Apply(ctx, "pay", order, alice, "card payment")
	require.NoError(t, err)

	_, err = eng.Apply(ctx, "ship", order, alice, "")
	require.True(t, siirto.IsAuthorization(err), "expected authorization error, got %v", err)

	_, err = eng.Apply(ctx, "cancel", order, alice, "")
	require.True(t, siirto.IsValidation(err), "expected validation error, got %v", err)

	entry, err := eng.Apply(ctx, "ship", order, warehouse, "courier pickup")
	require.NoError(t, err)
	require.Equal(t, "paid", entry.FromStateID)
	require.Equal(t, "shipped", entry.ToStateID)

	state, err = eng.CurrentState(ctx, "order-flow", order)
	require.NoError(t, err)
	require.Equal(t, "shipped", state)

	// Only the two committed transitions made it into the log.
	log, err := eng.QueryLog(ctx, siirto.LogFilter{MachineID: "order-flow"}, siirto.Page{})
	require.NoError(t, err)
	require.Len(t, log, 2)
	require.Equal(t, "pay", log[0].TransitionID)
	require.Equal(t, "ship", log[1].TransitionID)
}

func TestInMemoryEngineWithCallbacks(t *testing.T) {
	ctx := context.Background()

	defs := siirto.NewMachine("claim-flow").
		State("filed", siirto.StateInitial).
		State("approved", siirto.StateFinal).
		RequireCallback("approve", "filed", "approved", "four-eyes").
		Build()

	guards := siirto.NewGuardRegistry()
	guards.RegisterCallback("four-eyes", func(ctx context.Context, ref siirto.EntityRef, p siirto.Principal) bool {
		return p.ID != ref.Owner
	})

	eng, err := siirto.NewInMemoryEngine(defs, guards)
	require.NoError(t, err)

	claim := siirto.EntityRef{Type: "claim", ID: "C-9", Owner: "alice"}

	// The filer may not approve their own claim.
	_, err = eng.Apply(ctx, "approve", claim, siirto.Principal{ID: "alice"}, "")
	require.True(t, siirto.IsAuthorization(err), "expected authorization error, got %v", err)

	_, err = eng.Apply(ctx, "approve", claim, siirto.Principal{ID: "bob"}, "")
	require.NoError(t, err)
}

func TestSQLiteTenantEnginesAreIsolated(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	defs := newOrderFlow()

	require.NoError(t, siirto.ProvisionSQLiteTenant(ctx, db, "acme"))
	require.NoError(t, siirto.ProvisionSQLiteTenant(ctx, db, "globex"))

	acme, err := siirto.NewSQLiteTenantEngine(ctx, db, "acme", defs, nil)
	require.NoError(t, err)
	globex, err := siirto.NewSQLiteTenantEngine(ctx, db, "globex", defs, nil)
	require.NoError(t, err)

	order := siirto.EntityRef{Type: "order", ID: "ORD-1", Owner: "alice"}
	alice := siirto.Principal{ID: "alice"}

	_, err = acme.Apply(ctx, "pay", order, alice, "")
	require.NoError(t, err)

	acmeState, err := acme.CurrentState(ctx, "order-flow", order)
	require.NoError(t, err)
	require.Equal(t, "paid", acmeState)

	globexState, err := globex.CurrentState(ctx, "order-flow", order)
	require.NoError(t, err)
	require.Equal(t, "new", globexState)

	globexLog, err := globex.QueryLog(ctx, siirto.LogFilter{}, siirto.Page{})
	require.NoError(t, err)
	require.Empty(t, globexLog)
}

func TestUnprovisionedTenantIsRefused(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := siirto.NewSQLiteTenantEngine(ctx, db, "initech", newOrderFlow(), nil)
	require.ErrorIs(t, err, siirto.ErrTenantNotProvisioned)
}

func TestConvenienceForwarders(t *testing.T) {
	ctx := context.Background()
	eng, err := siirto.NewInMemoryEngine(newOrderFlow(), nil)
	require.NoError(t, err)

	order := siirto.EntityRef{Type: "order", ID: "ORD-1", Owner: "alice"}
	alice := siirto.Principal{ID: "alice"}

	d, err := siirto.CanTransition(ctx, eng, "pay", order, alice)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	_, err = siirto.Apply(ctx, eng, "pay", order, alice, "")
	require.NoError(t, err)

	state, err := siirto.CurrentState(ctx, eng, "order-flow", order)
	require.NoError(t, err)
	require.Equal(t, "paid", state)

	available, err := siirto.AvailableTransitions(ctx, eng, "order-flow", order)
	require.NoError(t, err)
	require.Len(t, available, 1)
	require.Equal(t, "ship", available[0].ID)

	log, err := siirto.QueryLog(ctx, eng, siirto.LogFilter{}, siirto.Page{})
	require.NoError(t, err)
	require.Len(t, log, 1)
}
