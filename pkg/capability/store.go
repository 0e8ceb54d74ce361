package capability

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// DefaultRole is assigned when a record is created on first grant without a
// requested role
const DefaultRole = "End User"

// adminRoles is the closed set of administrative tiers that short-circuit
// permission checks
var adminRoles = map[string]bool{
	"Administrator": true,
	"System Admin":  true,
	"Super User":    true,
}

// IsAdminRole reports whether the role label names an administrative tier
func IsAdminRole(role string) bool {
	return adminRoles[role]
}

// Record is one user's capability matrix within a tenant: a role label plus
// the full set of boolean flags, keyed by column name.
type Record struct {
	TenantID  string          `json:"tenant_id"`
	UserID    int64           `json:"user_id"`
	Role      string          `json:"role"`
	IsActive  bool            `json:"is_active"`
	Flags     map[string]bool `json:"flags"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Has reports whether the named flag is set. Anything other than an exact
// true is a deny.
func (r *Record) Has(column string) bool {
	if r == nil {
		return false
	}
	return r.Flags[column]
}

// IsAdmin reports whether the record's role is an administrative tier
func (r *Record) IsAdmin() bool {
	return r != nil && IsAdminRole(r.Role)
}

// DBTX is satisfied by both *sql.DB and *sql.Tx so grant-path writes can run
// inside the caller's transaction
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store persists the wide capability-matrix table. The SELECT list, UPDATE
// clauses, and DDL are all generated from the catalog so the flag-to-column
// mapping has a single source of truth.
type Store struct {
	db          *sql.DB
	selectQuery string
}

// NewStore creates a capability store
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:          db,
		selectQuery: buildSelectQuery(),
	}
}

func buildSelectQuery() string {
	return fmt.Sprintf(
		"SELECT tenant_id, user_id, role, is_active, %s, created_at, updated_at FROM user_capabilities WHERE tenant_id = $1 AND user_id = $2",
		strings.Join(Columns(), ", "),
	)
}

// EnsureTable creates the user_capabilities table if it does not exist. The
// boolean columns are generated from the catalog.
func (s *Store) EnsureTable(ctx context.Context) error {
	var cols strings.Builder
	for _, col := range Columns() {
		cols.WriteString(fmt.Sprintf("\t%s BOOLEAN NOT NULL DEFAULT FALSE,\n", col))
	}
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS user_capabilities (
		tenant_id VARCHAR(64) NOT NULL,
		user_id BIGINT NOT NULL,
		role VARCHAR(100) NOT NULL DEFAULT '%s',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
%s		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (tenant_id, user_id)
	)`, DefaultRole, cols.String())

	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Get loads the capability record for (tenant_id, user_id). Returns
// sql.ErrNoRows when absent.
func (s *Store) Get(ctx context.Context, tenantID string, userID int64) (*Record, error) {
	row := s.db.QueryRowContext(ctx, s.selectQuery, tenantID, userID)

	record := &Record{Flags: make(map[string]bool, len(Columns()))}
	dest := make([]interface{}, 0, len(Columns())+6)
	dest = append(dest, &record.TenantID, &record.UserID, &record.Role, &record.IsActive)

	flagValues := make([]bool, len(Columns()))
	for i := range flagValues {
		dest = append(dest, &flagValues[i])
	}
	dest = append(dest, &record.CreatedAt, &record.UpdatedAt)

	if err := row.Scan(dest...); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load capability record: %w", err)
	}

	for i, col := range Columns() {
		record.Flags[col] = flagValues[i]
	}
	return record, nil
}

// Ensure creates a record for (tenant_id, user_id) if absent, with the given
// role and all flags false. Safe to call inside the grant transaction.
func (s *Store) Ensure(ctx context.Context, q DBTX, tenantID string, userID int64, role string) error {
	if role == "" {
		role = DefaultRole
	}
	now := time.Now().UTC()
	query := `
		INSERT INTO user_capabilities (tenant_id, user_id, role, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, $4, $5)
		ON CONFLICT (tenant_id, user_id) DO NOTHING
	`
	if _, err := q.ExecContext(ctx, query, tenantID, userID, role, now, now); err != nil {
		return fmt.Errorf("failed to ensure capability record: %w", err)
	}
	return nil
}

// SetFlag sets one capability flag. The column name must come from the
// catalog; arbitrary input is rejected before it reaches the query.
func (s *Store) SetFlag(ctx context.Context, q DBTX, tenantID string, userID int64, column string, value bool) error {
	cap, ok := Lookup(column)
	if !ok {
		return ErrCapabilityUnknown
	}
	query := fmt.Sprintf(
		"UPDATE user_capabilities SET %s = $1, updated_at = $2 WHERE tenant_id = $3 AND user_id = $4",
		cap.Column,
	)
	result, err := q.ExecContext(ctx, query, value, time.Now().UTC(), tenantID, userID)
	if err != nil {
		return fmt.Errorf("failed to set capability flag %s: %w", cap.Column, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetRole updates the record's role label
func (s *Store) SetRole(ctx context.Context, q DBTX, tenantID string, userID int64, role string) error {
	query := "UPDATE user_capabilities SET role = $1, updated_at = $2 WHERE tenant_id = $3 AND user_id = $4"
	result, err := q.ExecContext(ctx, query, role, time.Now().UTC(), tenantID, userID)
	if err != nil {
		return fmt.Errorf("failed to set role: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DB exposes the underlying handle for callers that open grant transactions
func (s *Store) DB() *sql.DB {
	return s.db
}
