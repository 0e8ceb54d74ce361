package rfp

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store persists RFP business objects
type Store struct {
	db *sql.DB
}

// NewStore creates an RFP store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureTable creates the rfps table if it does not exist
func (s *Store) EnsureTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS rfps (
		id VARCHAR(64) PRIMARY KEY,
		tenant_id VARCHAR(64) NOT NULL,
		title VARCHAR(500) NOT NULL,
		description TEXT,
		status VARCHAR(20) NOT NULL,
		auto_approve BOOLEAN NOT NULL DEFAULT FALSE,
		workflow_id VARCHAR(64),
		approved_by BIGINT,
		selected_proposals TEXT,
		created_by BIGINT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Create persists a new RFP
func (s *Store) Create(ctx context.Context, r *RFP) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.Status == "" {
		r.Status = StatusDraft
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	proposals, err := json.Marshal(r.SelectedProposals)
	if err != nil {
		return fmt.Errorf("failed to marshal selected proposals: %w", err)
	}

	query := `
		INSERT INTO rfps (id, tenant_id, title, description, status, auto_approve, workflow_id, approved_by, selected_proposals, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.db.ExecContext(ctx, query,
		r.ID, r.TenantID, r.Title, r.Description, r.Status, r.AutoApprove,
		nullable(r.WorkflowID), nullableInt(r.ApprovedBy), string(proposals),
		r.CreatedBy, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create rfp: %w", err)
	}
	return nil
}

// Get loads an RFP scoped to the caller's tenant. Returns sql.ErrNoRows when
// absent in that tenant.
func (s *Store) Get(ctx context.Context, tenantID, id string) (*RFP, error) {
	return s.get(ctx, "SELECT id, tenant_id, title, description, status, auto_approve, workflow_id, approved_by, selected_proposals, created_by, created_at, updated_at FROM rfps WHERE tenant_id = $1 AND id = $2", tenantID, id)
}

// GetAnyTenant loads an RFP without a tenant filter. This is the sole
// cross-tenant fallback: a read-only lookup for workflows created
// cross-tenant. Callers must log it and never write through it.
func (s *Store) GetAnyTenant(ctx context.Context, id string) (*RFP, error) {
	return s.get(ctx, "SELECT id, tenant_id, title, description, status, auto_approve, workflow_id, approved_by, selected_proposals, created_by, created_at, updated_at FROM rfps WHERE id = $1", id)
}

// GetByWorkflow resolves the RFP bound to a workflow within a tenant
func (s *Store) GetByWorkflow(ctx context.Context, tenantID, workflowID string) (*RFP, error) {
	return s.get(ctx, "SELECT id, tenant_id, title, description, status, auto_approve, workflow_id, approved_by, selected_proposals, created_by, created_at, updated_at FROM rfps WHERE tenant_id = $1 AND workflow_id = $2", tenantID, workflowID)
}

// GetByWorkflowAnyTenant resolves the bound RFP without a tenant filter;
// read-only fallback, same rules as GetAnyTenant.
func (s *Store) GetByWorkflowAnyTenant(ctx context.Context, workflowID string) (*RFP, error) {
	return s.get(ctx, "SELECT id, tenant_id, title, description, status, auto_approve, workflow_id, approved_by, selected_proposals, created_by, created_at, updated_at FROM rfps WHERE workflow_id = $1", workflowID)
}

func (s *Store) get(ctx context.Context, query string, args ...interface{}) (*RFP, error) {
	row := s.db.QueryRowContext(ctx, query, args...)

	var r RFP
	var description, workflowID, proposals sql.NullString
	var approvedBy sql.NullInt64
	err := row.Scan(
		&r.ID, &r.TenantID, &r.Title, &description, &r.Status, &r.AutoApprove,
		&workflowID, &approvedBy, &proposals, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load rfp: %w", err)
	}
	r.Description = description.String
	r.WorkflowID = workflowID.String
	r.ApprovedBy = approvedBy.Int64
	if proposals.Valid && proposals.String != "" {
		if err := json.Unmarshal([]byte(proposals.String), &r.SelectedProposals); err != nil {
			return nil, fmt.Errorf("failed to decode selected proposals: %w", err)
		}
	}
	return &r, nil
}

// BindWorkflow upserts the workflow binding so the object knows its
// workflow id
func (s *Store) BindWorkflow(ctx context.Context, tenantID, id, workflowID string) error {
	query := "UPDATE rfps SET workflow_id = $1, updated_at = $2 WHERE tenant_id = $3 AND id = $4"
	result, err := s.db.ExecContext(ctx, query, workflowID, time.Now().UTC(), tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to bind workflow: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetStatus moves the RFP to a new status. No-op writes do not touch
// updated_at: the WHERE clause excludes rows already in the target state.
func (s *Store) SetStatus(ctx context.Context, tenantID, id string, status Status, approvedBy int64) error {
	query := `
		UPDATE rfps SET status = $1, approved_by = $2, updated_at = $3
		WHERE tenant_id = $4 AND id = $5 AND status != $1
	`
	_, err := s.db.ExecContext(ctx, query, status, nullableInt(approvedBy), time.Now().UTC(), tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to set rfp status: %w", err)
	}
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(v int64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}
