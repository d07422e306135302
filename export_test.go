package siirto_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/siirto"
)

func TestExportCSV(t *testing.T) {
	ctx := context.Background()
	defs := newOrderFlow()
	eng, err := siirto.NewInMemoryEngine(defs, nil)
	require.NoError(t, err)

	order := siirto.EntityRef{Type: "order", ID: "ORD-1", Owner: "alice"}
	alice := siirto.Principal{ID: "alice"}
	warehouse := siirto.Principal{ID: "wh-bot", Roles: []string{"warehouse"}}

	_, err = eng.Apply(ctx, "pay", order, alice, "card payment")
	require.NoError(t, err)
	_, err = eng.Apply(ctx, "ship", order, warehouse, "")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, siirto.ExportCSV(ctx, &buf, eng, defs, siirto.LogFilter{}))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3) // header + two entries

	header := rows[0]
	require.Equal(t, []string{
		"id", "created_at", "machine", "entity_type", "entity_id",
		"from_state", "to_state", "transition", "principal", "comment",
	}, header)

	pay := rows[1]
	require.Equal(t, "order-flow", pay[2])
	require.Equal(t, "order", pay[3])
	require.Equal(t, "ORD-1", pay[4])
	require.Equal(t, "initial", pay[5]) // first entry has no prior state
	require.Equal(t, "paid", pay[6])
	require.Equal(t, "pay", pay[7])
	require.Equal(t, "alice", pay[8])
	require.Equal(t, "card payment", pay[9])

	ship := rows[2]
	require.Equal(t, "paid", ship[5])
	require.Equal(t, "shipped", ship[6])
	require.Equal(t, "wh-bot", ship[8])
	require.Empty(t, ship[9])
}

func TestExportCSVRespectsFilter(t *testing.T) {
	ctx := context.Background()
	defs := newOrderFlow()
	eng, err := siirto.NewInMemoryEngine(defs, nil)
	require.NoError(t, err)

	alice := siirto.Principal{ID: "alice"}
	_, err = eng.Apply(ctx, "pay", siirto.EntityRef{Type: "order", ID: "A"}, alice, "")
	require.NoError(t, err)
	_, err = eng.Apply(ctx, "pay", siirto.EntityRef{Type: "order", ID: "B"}, alice, "")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, siirto.ExportCSV(ctx, &buf, eng, defs, siirto.LogFilter{EntityID: "B"}))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "B", rows[1][4])
}

func TestExportCSVEmptyLog(t *testing.T) {
	ctx := context.Background()
	defs := newOrderFlow()
	eng, err := siirto.NewInMemoryEngine(defs, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, siirto.ExportCSV(ctx, &buf, eng, defs, siirto.LogFilter{}))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1) // header only
}
