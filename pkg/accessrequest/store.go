package accessrequest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store persists access requests
type Store struct {
	db *sql.DB
}

// NewStore creates an access-request store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle; the grant procedure opens its
// transaction against the same database as the capability store
func (s *Store) DB() *sql.DB {
	return s.db
}

// EnsureTable creates the access_requests table if it does not exist
func (s *Store) EnsureTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS access_requests (
		id VARCHAR(64) PRIMARY KEY,
		tenant_id VARCHAR(64) NOT NULL,
		user_id BIGINT NOT NULL,
		requested_url VARCHAR(500),
		requested_feature VARCHAR(500),
		required_permission VARCHAR(200),
		requested_role VARCHAR(100),
		status VARCHAR(20) NOT NULL,
		message TEXT,
		audit_trail TEXT NOT NULL,
		approved_by BIGINT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

const columns = "id, tenant_id, user_id, requested_url, requested_feature, required_permission, requested_role, status, message, audit_trail, approved_by, created_at, updated_at"

// Create persists a new access request
func (s *Store) Create(ctx context.Context, r *AccessRequest) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.Status == "" {
		r.Status = StatusRequested
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	trail, err := json.Marshal(r.AuditTrail)
	if err != nil {
		return fmt.Errorf("failed to marshal audit trail: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO access_requests (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, columns)
	_, err = s.db.ExecContext(ctx, query,
		r.ID, r.TenantID, r.UserID, nullString(r.RequestedURL),
		nullString(r.RequestedFeature), nullString(r.RequiredPermission),
		nullString(r.RequestedRole), r.Status, nullString(r.Message),
		string(trail), r.ApprovedBy, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create access request: %w", err)
	}
	return nil
}

// Get loads an access request within the caller's tenant
func (s *Store) Get(ctx context.Context, tenantID, id string) (*AccessRequest, error) {
	query := fmt.Sprintf("SELECT %s FROM access_requests WHERE tenant_id = $1 AND id = $2", columns)
	return scanRequest(s.db.QueryRowContext(ctx, query, tenantID, id))
}

// ListByUser returns one user's requests, newest first
func (s *Store) ListByUser(ctx context.Context, tenantID string, userID int64) ([]*AccessRequest, error) {
	query := fmt.Sprintf("SELECT %s FROM access_requests WHERE tenant_id = $1 AND user_id = $2 ORDER BY created_at DESC", columns)
	return s.list(ctx, query, tenantID, userID)
}

// ListByTenant returns every request in the tenant, newest first
func (s *Store) ListByTenant(ctx context.Context, tenantID string) ([]*AccessRequest, error) {
	query := fmt.Sprintf("SELECT %s FROM access_requests WHERE tenant_id = $1 ORDER BY created_at DESC", columns)
	return s.list(ctx, query, tenantID)
}

// FindRecentDuplicate returns an open request by the same user for the same
// target created after the cutoff, or nil
func (s *Store) FindRecentDuplicate(ctx context.Context, r *AccessRequest, since time.Time) (*AccessRequest, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM access_requests
		WHERE tenant_id = $1 AND user_id = $2 AND status = $3
		AND COALESCE(requested_url, '') = $4
		AND COALESCE(requested_feature, '') = $5
		AND COALESCE(required_permission, '') = $6
		AND created_at > $7
		ORDER BY created_at DESC
	`, columns)
	rows, err := s.db.QueryContext(ctx, query,
		r.TenantID, r.UserID, StatusRequested,
		r.RequestedURL, r.RequestedFeature, r.RequiredPermission, since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to probe duplicate access requests: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanRequest(rows)
}

// UpdateDecision writes the terminal decision and the extended audit trail
func (s *Store) UpdateDecision(ctx context.Context, r *AccessRequest) error {
	trail, err := json.Marshal(r.AuditTrail)
	if err != nil {
		return fmt.Errorf("failed to marshal audit trail: %w", err)
	}
	r.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE access_requests
		SET status = $1, approved_by = $2, audit_trail = $3, updated_at = $4
		WHERE tenant_id = $5 AND id = $6
	`
	_, err = s.db.ExecContext(ctx, query, r.Status, r.ApprovedBy, string(trail), r.UpdatedAt, r.TenantID, r.ID)
	if err != nil {
		return fmt.Errorf("failed to update access request: %w", err)
	}
	return nil
}

func (s *Store) list(ctx context.Context, query string, args ...interface{}) ([]*AccessRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list access requests: %w", err)
	}
	defer rows.Close()

	var requests []*AccessRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row rowScanner) (*AccessRequest, error) {
	var r AccessRequest
	var url, feature, permission, role, message sql.NullString
	var trail string
	var approvedBy sql.NullInt64
	err := row.Scan(
		&r.ID, &r.TenantID, &r.UserID, &url, &feature, &permission, &role,
		&r.Status, &message, &trail, &approvedBy, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan access request: %w", err)
	}
	r.RequestedURL = url.String
	r.RequestedFeature = feature.String
	r.RequiredPermission = permission.String
	r.RequestedRole = role.String
	r.Message = message.String
	if approvedBy.Valid {
		id := approvedBy.Int64
		r.ApprovedBy = &id
	}
	if trail != "" {
		if err := json.Unmarshal([]byte(trail), &r.AuditTrail); err != nil {
			return nil, fmt.Errorf("failed to decode audit trail: %w", err)
		}
	}
	return &r, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
