package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/petrijr/siirto/pkg/api"
)

// SQLiteAuditStore is an AuditStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing the
// driver, e.g.:
//
//	import _ "modernc.org/sqlite"
//
// created_at is stored as unix nanoseconds so date-range filters compare
// numerically.
type SQLiteAuditStore struct {
	db    *sql.DB
	table string
}

var _ AuditStore = (*SQLiteAuditStore)(nil)

const sqliteSharedTable = "audit_log"

// NewSQLiteAuditStore initializes the shared audit schema in the given
// database and returns a store bound to it.
func NewSQLiteAuditStore(db *sql.DB) (*SQLiteAuditStore, error) {
	s := &SQLiteAuditStore{db: db, table: sqliteSharedTable}
	if err := initSQLiteSchema(db, sqliteSharedTable); err != nil {
		return nil, err
	}
	return s, nil
}

func initSQLiteSchema(db *sql.DB, table string) error {
	_, err := db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			machine_id TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			from_state_id TEXT,
			to_state_id TEXT NOT NULL,
			transition_id TEXT NOT NULL,
			principal_id TEXT NOT NULL,
			comment TEXT,
			metadata BLOB,
			created_at INTEGER NOT NULL
		);`,
		table,
	))
	if err != nil {
		return err
	}

	_, err = db.Exec(fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS idx_%[1]s_entity ON %[1]s (machine_id, entity_type, entity_id, id);`,
		table,
	))
	return err
}

func (s *SQLiteAuditStore) Append(ctx context.Context, e *api.LogEntry, prevID int64) (int64, error) {
	meta, err := EncodeMetadata(e.Metadata)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	// Head check and insert share the transaction so a racing writer's
	// sequence cannot interleave with ours.
	var head int64
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id FROM %s
		WHERE machine_id = ? AND entity_type = ? AND entity_id = ?
		ORDER BY id DESC LIMIT 1`, s.table),
		e.MachineID, e.EntityType, e.EntityID,
	).Scan(&head)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if head != prevID {
		return 0, ErrConflict
	}

	res, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (machine_id, entity_type, entity_id, from_state_id, to_state_id,
			transition_id, principal_id, comment, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table),
		e.MachineID,
		e.EntityType,
		e.EntityID,
		nullable(e.FromStateID),
		e.ToStateID,
		e.TransitionID,
		e.PrincipalID,
		nullable(e.Comment),
		meta,
		e.CreatedAt.UnixNano(),
	)
	if err != nil {
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *SQLiteAuditStore) Latest(ctx context.Context, machineID, entityType, entityID string) (*api.LogEntry, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, machine_id, entity_type, entity_id, from_state_id, to_state_id,
			transition_id, principal_id, comment, metadata, created_at
		FROM %s
		WHERE machine_id = ? AND entity_type = ? AND entity_id = ?
		ORDER BY id DESC LIMIT 1`, s.table),
		machineID, entityType, entityID,
	)

	e, err := scanSQLiteEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoEntry
	}
	return e, err
}

func (s *SQLiteAuditStore) Query(ctx context.Context, f api.LogFilter, p api.Page) ([]*api.LogEntry, error) {
	query := fmt.Sprintf(`
		SELECT id, machine_id, entity_type, entity_id, from_state_id, to_state_id,
			transition_id, principal_id, comment, metadata, created_at
		FROM %s`, s.table)

	var args []any
	var clauses []string

	if f.MachineID != "" {
		clauses = append(clauses, "machine_id = ?")
		args = append(args, f.MachineID)
	}
	if f.EntityType != "" {
		clauses = append(clauses, "entity_type = ?")
		args = append(args, f.EntityType)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id = ?")
		args = append(args, f.EntityID)
	}
	if f.PrincipalID != "" {
		clauses = append(clauses, "principal_id = ?")
		args = append(args, f.PrincipalID)
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.Since.UnixNano())
	}
	if !f.Until.IsZero() {
		clauses = append(clauses, "created_at < ?")
		args = append(args, f.Until.UnixNano())
	}

	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}

	// SQLite requires a LIMIT clause before OFFSET; -1 means unlimited.
	limit := int64(-1)
	if p.Limit > 0 {
		limit = int64(p.Limit)
	}
	query += " ORDER BY id ASC LIMIT ? OFFSET ?"
	args = append(args, limit, int64(p.Offset))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*api.LogEntry
	for rows.Next() {
		e, err := scanSQLiteEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func scanSQLiteEntry(scan func(dest ...any) error) (*api.LogEntry, error) {
	var e api.LogEntry
	var fromState, comment sql.NullString
	var meta []byte
	var createdNanos int64

	if err := scan(&e.ID, &e.MachineID, &e.EntityType, &e.EntityID, &fromState,
		&e.ToStateID, &e.TransitionID, &e.PrincipalID, &comment, &meta, &createdNanos); err != nil {
		return nil, err
	}

	e.FromStateID = fromState.String
	e.Comment = comment.String
	e.CreatedAt = time.Unix(0, createdNanos).UTC()

	m, err := DecodeMetadata(meta)
	if err != nil {
		return nil, err
	}
	e.Metadata = m

	return &e, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// SQLiteTenantStores provisions one isolated table per tenant with the
// shared schema.
type SQLiteTenantStores struct {
	db     *sql.DB
	shared *SQLiteAuditStore
}

var _ TenantStores = (*SQLiteTenantStores)(nil)

// NewSQLiteTenantStores initializes the shared table and returns the
// tenant router.
func NewSQLiteTenantStores(db *sql.DB) (*SQLiteTenantStores, error) {
	shared, err := NewSQLiteAuditStore(db)
	if err != nil {
		return nil, err
	}
	return &SQLiteTenantStores{db: db, shared: shared}, nil
}

func (m *SQLiteTenantStores) Shared() AuditStore { return m.shared }

func sqliteTenantTable(tenant string) string {
	return sqliteSharedTable + "_" + tenant
}

// Provision creates the tenant's table ahead of time. Idempotent:
// provisioning an already-provisioned tenant is a no-op.
func (m *SQLiteTenantStores) Provision(ctx context.Context, tenant string) error {
	if !ValidTenant(tenant) {
		return errInvalidTenant
	}
	return initSQLiteSchema(m.db, sqliteTenantTable(tenant))
}

// ForTenant opens the tenant's store. It never creates the table: an
// unprovisioned tenant is ErrTenantNotProvisioned.
func (m *SQLiteTenantStores) ForTenant(ctx context.Context, tenant string) (AuditStore, error) {
	if !ValidTenant(tenant) {
		return nil, errInvalidTenant
	}

	table := sqliteTenantTable(tenant)
	var name string
	err := m.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTenantNotProvisioned
	}
	if err != nil {
		return nil, err
	}

	return &SQLiteAuditStore{db: m.db, table: table}, nil
}
