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

// PostgresAuditStore is an AuditStore backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib").
//
// The caller is responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
//
// Same-entity appends are serialized with a transaction-scoped advisory
// lock keyed by (machine, entity), so the head check cannot interleave
// with another writer even across processes.
type PostgresAuditStore struct {
	db    *sql.DB
	table string
}

var _ AuditStore = (*PostgresAuditStore)(nil)

const postgresSharedTable = "audit_log"

// NewPostgresAuditStore initializes the shared audit schema in the given
// database and returns a store bound to it.
func NewPostgresAuditStore(db *sql.DB) (*PostgresAuditStore, error) {
	s := &PostgresAuditStore{db: db, table: postgresSharedTable}
	if err := initPostgresSchema(db, postgresSharedTable); err != nil {
		return nil, err
	}
	return s, nil
}

func initPostgresSchema(db *sql.DB, table string) error {
	_, err := db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			machine_id TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			from_state_id TEXT,
			to_state_id TEXT NOT NULL,
			transition_id TEXT NOT NULL,
			principal_id TEXT NOT NULL,
			comment TEXT,
			metadata BYTEA,
			created_at TIMESTAMPTZ NOT NULL
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

func (s *PostgresAuditStore) Append(ctx context.Context, e *api.LogEntry, prevID int64) (int64, error) {
	meta, err := EncodeMetadata(e.Metadata)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	// The advisory lock is released on commit/rollback.
	lockKey := s.table + "/" + e.MachineID + "/" + e.EntityType + "/" + e.EntityID
	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey,
	); err != nil {
		return 0, err
	}

	var head int64
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id FROM %s
		WHERE machine_id = $1 AND entity_type = $2 AND entity_id = $3
		ORDER BY id DESC LIMIT 1`, s.table),
		e.MachineID, e.EntityType, e.EntityID,
	).Scan(&head)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if head != prevID {
		return 0, ErrConflict
	}

	var id int64
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (machine_id, entity_type, entity_id, from_state_id, to_state_id,
			transition_id, principal_id, comment, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`, s.table),
		e.MachineID,
		e.EntityType,
		e.EntityID,
		nullable(e.FromStateID),
		e.ToStateID,
		e.TransitionID,
		e.PrincipalID,
		nullable(e.Comment),
		meta,
		e.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *PostgresAuditStore) Latest(ctx context.Context, machineID, entityType, entityID string) (*api.LogEntry, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, machine_id, entity_type, entity_id, from_state_id, to_state_id,
			transition_id, principal_id, comment, metadata, created_at
		FROM %s
		WHERE machine_id = $1 AND entity_type = $2 AND entity_id = $3
		ORDER BY id DESC LIMIT 1`, s.table),
		machineID, entityType, entityID,
	)

	e, err := scanPostgresEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoEntry
	}
	return e, err
}

func (s *PostgresAuditStore) Query(ctx context.Context, f api.LogFilter, p api.Page) ([]*api.LogEntry, error) {
	query := fmt.Sprintf(`
		SELECT id, machine_id, entity_type, entity_id, from_state_id, to_state_id,
			transition_id, principal_id, comment, metadata, created_at
		FROM %s`, s.table)

	var args []any
	var clauses []string

	add := func(clause string, arg any) {
		clauses = append(clauses, fmt.Sprintf(clause, len(args)+1))
		args = append(args, arg)
	}

	if f.MachineID != "" {
		add("machine_id = $%d", f.MachineID)
	}
	if f.EntityType != "" {
		add("entity_type = $%d", f.EntityType)
	}
	if f.EntityID != "" {
		add("entity_id = $%d", f.EntityID)
	}
	if f.PrincipalID != "" {
		add("principal_id = $%d", f.PrincipalID)
	}
	if !f.Since.IsZero() {
		add("created_at >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("created_at < $%d", f.Until)
	}

	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}

	query += " ORDER BY id ASC"
	if p.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, p.Limit)
	}
	if p.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, p.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*api.LogEntry
	for rows.Next() {
		e, err := scanPostgresEntry(rows.Scan)
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

func scanPostgresEntry(scan func(dest ...any) error) (*api.LogEntry, error) {
	var e api.LogEntry
	var fromState, comment sql.NullString
	var meta []byte
	var created time.Time

	if err := scan(&e.ID, &e.MachineID, &e.EntityType, &e.EntityID, &fromState,
		&e.ToStateID, &e.TransitionID, &e.PrincipalID, &comment, &meta, &created); err != nil {
		return nil, err
	}

	e.FromStateID = fromState.String
	e.Comment = comment.String
	e.CreatedAt = created.UTC()

	m, err := DecodeMetadata(meta)
	if err != nil {
		return nil, err
	}
	e.Metadata = m

	return &e, nil
}

// PostgresTenantStores provisions one isolated table per tenant with the
// shared schema.
type PostgresTenantStores struct {
	db     *sql.DB
	shared *PostgresAuditStore
}

var _ TenantStores = (*PostgresTenantStores)(nil)

// NewPostgresTenantStores initializes the shared table and returns the
// tenant router.
func NewPostgresTenantStores(db *sql.DB) (*PostgresTenantStores, error) {
	shared, err := NewPostgresAuditStore(db)
	if err != nil {
		return nil, err
	}
	return &PostgresTenantStores{db: db, shared: shared}, nil
}

func (m *PostgresTenantStores) Shared() AuditStore { return m.shared }

func postgresTenantTable(tenant string) string {
	return postgresSharedTable + "_" + tenant
}

// Provision creates the tenant's table ahead of time. Idempotent.
func (m *PostgresTenantStores) Provision(ctx context.Context, tenant string) error {
	if !ValidTenant(tenant) {
		return errInvalidTenant
	}
	return initPostgresSchema(m.db, postgresTenantTable(tenant))
}

// ForTenant opens the tenant's store, failing with
// ErrTenantNotProvisioned when the table does not exist.
func (m *PostgresTenantStores) ForTenant(ctx context.Context, tenant string) (AuditStore, error) {
	if !ValidTenant(tenant) {
		return nil, errInvalidTenant
	}

	table := postgresTenantTable(tenant)
	var reg sql.NullString
	if err := m.db.QueryRowContext(ctx,
		`SELECT to_regclass($1)::text`, table,
	).Scan(&reg); err != nil {
		return nil, err
	}
	if !reg.Valid {
		return nil, ErrTenantNotProvisioned
	}

	return &PostgresAuditStore{db: m.db, table: table}, nil
}
