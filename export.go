package siirto

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/petrijr/siirto/pkg/api"
)

// exportBatchSize bounds how many entries one QueryLog page pulls while
// streaming an export.
const exportBatchSize = 500

var exportHeader = []string{
	"id",
	"created_at",
	"machine",
	"entity_type",
	"entity_id",
	"from_state",
	"to_state",
	"transition",
	"principal",
	"comment",
}

// ExportCSV streams the audit entries matching the filter to w as CSV,
// one row per entry in ascending ID order. State and machine columns
// carry the definition slugs when the definitions resolve, raw
// identifiers otherwise; an entity's first entry shows "initial" as its
// from state.
func ExportCSV(ctx context.Context, w io.Writer, eng Engine, defs DefinitionStore, f LogFilter) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}

	names := newNameCache(defs)

	for offset := 0; ; offset += exportBatchSize {
		entries, err := eng.QueryLog(ctx, f, Page{Offset: offset, Limit: exportBatchSize})
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := cw.Write(exportRow(ctx, names, e)); err != nil {
				return err
			}
		}
		if len(entries) < exportBatchSize {
			break
		}
	}

	cw.Flush()
	return cw.Error()
}

func exportRow(ctx context.Context, names *nameCache, e *api.LogEntry) []string {
	from := "initial"
	if e.FromStateID != "" {
		from = names.state(ctx, e.FromStateID)
	}
	return []string{
		strconv.FormatInt(e.ID, 10),
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
		names.machine(ctx, e.MachineID),
		e.EntityType,
		e.EntityID,
		from,
		names.state(ctx, e.ToStateID),
		e.TransitionID,
		e.PrincipalID,
		e.Comment,
	}
}

// nameCache memoizes slug lookups for the duration of one export.
type nameCache struct {
	defs     api.DefinitionStore
	states   map[string]string
	machines map[string]string
}

func newNameCache(defs api.DefinitionStore) *nameCache {
	return &nameCache{
		defs:     defs,
		states:   make(map[string]string),
		machines: make(map[string]string),
	}
}

func (c *nameCache) state(ctx context.Context, id string) string {
	if slug, ok := c.states[id]; ok {
		return slug
	}
	slug := id
	if st, err := c.defs.State(ctx, id); err == nil && st.Slug != "" {
		slug = st.Slug
	}
	c.states[id] = slug
	return slug
}

func (c *nameCache) machine(ctx context.Context, id string) string {
	if slug, ok := c.machines[id]; ok {
		return slug
	}
	slug := id
	if m, err := c.defs.Machine(ctx, id); err == nil && m.Slug != "" {
		slug = m.Slug
	}
	c.machines[id] = slug
	return slug
}
