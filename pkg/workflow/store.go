package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so transition writes can run
// inside the engine's transaction
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store persists the workflow graph: workflows, approval requests, stages,
// comments, and versions.
type Store struct {
	db         *sql.DB
	lockClause string
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithoutRowLocks elides the FOR UPDATE clause on locking reads. Only for
// sqlite-backed tests; sqlite serializes writers at the database level and
// rejects the clause.
func WithoutRowLocks() StoreOption {
	return func(s *Store) { s.lockClause = "" }
}

// NewStore creates a workflow store
func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{db: db, lockClause: " FOR UPDATE"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying handle for the engine's transactions
func (s *Store) DB() *sql.DB {
	return s.db
}

// EnsureTables creates the workflow graph tables if they do not exist
func (s *Store) EnsureTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			workflow_id VARCHAR(64) PRIMARY KEY,
			tenant_id VARCHAR(64) NOT NULL,
			workflow_name VARCHAR(500) NOT NULL,
			workflow_type VARCHAR(20) NOT NULL,
			business_object_type VARCHAR(100),
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_by BIGINT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS approval_requests (
			approval_id VARCHAR(64) PRIMARY KEY,
			tenant_id VARCHAR(64) NOT NULL,
			workflow_id VARCHAR(64) NOT NULL,
			request_title VARCHAR(500) NOT NULL,
			request_description TEXT,
			requester_id BIGINT NOT NULL,
			requester_department VARCHAR(200),
			priority VARCHAR(10) NOT NULL,
			request_data TEXT,
			overall_status VARCHAR(20) NOT NULL,
			submission_date TIMESTAMP,
			completion_date TIMESTAMP,
			expiry_date TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS approval_stages (
			stage_id VARCHAR(64) PRIMARY KEY,
			tenant_id VARCHAR(64) NOT NULL,
			approval_id VARCHAR(64) NOT NULL,
			stage_order INTEGER NOT NULL DEFAULT 0,
			stage_name VARCHAR(500) NOT NULL,
			stage_description TEXT,
			assigned_user_id BIGINT NOT NULL,
			assigned_user_name VARCHAR(200),
			assigned_user_role VARCHAR(100),
			department VARCHAR(200),
			stage_type VARCHAR(20) NOT NULL,
			stage_status VARCHAR(20) NOT NULL,
			deadline_date TIMESTAMP,
			extended_deadline TIMESTAMP,
			extension_reason TEXT,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			response_data TEXT,
			rejection_reason TEXT,
			escalation_level INTEGER NOT NULL DEFAULT 0,
			is_mandatory BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS approval_comments (
			comment_id VARCHAR(64) PRIMARY KEY,
			tenant_id VARCHAR(64) NOT NULL,
			approval_id VARCHAR(64) NOT NULL,
			stage_id VARCHAR(64),
			parent_comment_id VARCHAR(64),
			comment_text TEXT NOT NULL,
			comment_type VARCHAR(30) NOT NULL,
			commented_by BIGINT NOT NULL,
			commented_by_name VARCHAR(200),
			is_internal BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS approval_request_versions (
			version_id VARCHAR(64) PRIMARY KEY,
			tenant_id VARCHAR(64) NOT NULL,
			approval_id VARCHAR(64) NOT NULL,
			version_number INTEGER NOT NULL,
			version_label VARCHAR(200),
			json_payload TEXT NOT NULL,
			changes_summary TEXT,
			created_by BIGINT NOT NULL,
			created_by_name VARCHAR(200),
			created_by_role VARCHAR(100),
			version_type VARCHAR(20) NOT NULL,
			parent_version_id VARCHAR(64),
			is_current BOOLEAN NOT NULL,
			is_approved BOOLEAN NOT NULL DEFAULT FALSE,
			change_reason TEXT,
			created_at TIMESTAMP NOT NULL,
			UNIQUE (approval_id, version_number)
		)`,
	}
	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to ensure workflow tables: %w", err)
		}
	}
	return nil
}

// --- workflows ---

// CreateWorkflow persists a workflow template
func (s *Store) CreateWorkflow(ctx context.Context, q DBTX, w *Workflow) error {
	if w.WorkflowID == "" {
		w.WorkflowID = NewWorkflowID()
	}
	now := time.Now().UTC()
	w.CreatedAt = now
	w.UpdatedAt = now
	w.IsActive = true

	query := `
		INSERT INTO workflows (workflow_id, tenant_id, workflow_name, workflow_type, business_object_type, is_active, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := q.ExecContext(ctx, query,
		w.WorkflowID, w.TenantID, w.WorkflowName, w.WorkflowType,
		nullString(w.BusinessObjectType), w.IsActive, w.CreatedBy, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	return nil
}

const workflowColumns = "workflow_id, tenant_id, workflow_name, workflow_type, business_object_type, is_active, created_by, created_at, updated_at"

// GetWorkflow loads a workflow within the caller's tenant
func (s *Store) GetWorkflow(ctx context.Context, tenantID, workflowID string) (*Workflow, error) {
	query := fmt.Sprintf("SELECT %s FROM workflows WHERE tenant_id = $1 AND workflow_id = $2", workflowColumns)
	return scanWorkflow(s.db.QueryRowContext(ctx, query, tenantID, workflowID))
}

// ListWorkflows returns the tenant's workflows, newest first
func (s *Store) ListWorkflows(ctx context.Context, tenantID string) ([]*Workflow, error) {
	query := fmt.Sprintf("SELECT %s FROM workflows WHERE tenant_id = $1 ORDER BY created_at DESC", workflowColumns)
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}
	return workflows, rows.Err()
}

// UpdateWorkflow patches metadata fields. Nil fields are left untouched.
func (s *Store) UpdateWorkflow(ctx context.Context, tenantID, workflowID string, name *string, isActive *bool) error {
	w, err := s.GetWorkflow(ctx, tenantID, workflowID)
	if err != nil {
		return err
	}
	if name != nil {
		w.WorkflowName = *name
	}
	if isActive != nil {
		w.IsActive = *isActive
	}
	query := "UPDATE workflows SET workflow_name = $1, is_active = $2, updated_at = $3 WHERE tenant_id = $4 AND workflow_id = $5"
	_, err = s.db.ExecContext(ctx, query, w.WorkflowName, w.IsActive, time.Now().UTC(), tenantID, workflowID)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	return nil
}

// DeactivateWorkflow is the soft delete; workflows are never removed
func (s *Store) DeactivateWorkflow(ctx context.Context, tenantID, workflowID string) error {
	query := "UPDATE workflows SET is_active = FALSE, updated_at = $1 WHERE tenant_id = $2 AND workflow_id = $3"
	result, err := s.db.ExecContext(ctx, query, time.Now().UTC(), tenantID, workflowID)
	if err != nil {
		return fmt.Errorf("failed to deactivate workflow: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWorkflow(row rowScanner) (*Workflow, error) {
	var w Workflow
	var objectType sql.NullString
	err := row.Scan(
		&w.WorkflowID, &w.TenantID, &w.WorkflowName, &w.WorkflowType,
		&objectType, &w.IsActive, &w.CreatedBy, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}
	w.BusinessObjectType = objectType.String
	return &w, nil
}

// --- approval requests ---

const requestColumns = "approval_id, tenant_id, workflow_id, request_title, request_description, requester_id, requester_department, priority, request_data, overall_status, submission_date, completion_date, expiry_date, created_at, updated_at"

// CreateRequest persists an approval request
func (s *Store) CreateRequest(ctx context.Context, q DBTX, r *ApprovalRequest) error {
	if r.ApprovalID == "" {
		r.ApprovalID = NewApprovalID()
	}
	if r.Priority == "" {
		r.Priority = PriorityMedium
	}
	if r.OverallStatus == "" {
		r.OverallStatus = RequestPending
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.SubmissionDate == nil {
		r.SubmissionDate = &now
	}

	data, err := marshalJSONMap(r.RequestData)
	if err != nil {
		return fmt.Errorf("failed to marshal request data: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO approval_requests (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, requestColumns)
	_, err = q.ExecContext(ctx, query,
		r.ApprovalID, r.TenantID, r.WorkflowID, r.RequestTitle,
		nullString(r.RequestDescription), r.RequesterID, nullString(r.RequesterDept),
		r.Priority, data, r.OverallStatus,
		r.SubmissionDate, r.CompletionDate, r.ExpiryDate, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create approval request: %w", err)
	}
	return nil
}

// GetRequest loads an approval request within the caller's tenant
func (s *Store) GetRequest(ctx context.Context, q DBTX, tenantID, approvalID string) (*ApprovalRequest, error) {
	query := fmt.Sprintf("SELECT %s FROM approval_requests WHERE tenant_id = $1 AND approval_id = $2", requestColumns)
	return scanRequest(q.QueryRowContext(ctx, query, tenantID, approvalID))
}

// GetRequestForUpdate loads an approval request under a row lock
func (s *Store) GetRequestForUpdate(ctx context.Context, tx *sql.Tx, tenantID, approvalID string) (*ApprovalRequest, error) {
	query := fmt.Sprintf("SELECT %s FROM approval_requests WHERE tenant_id = $1 AND approval_id = $2%s", requestColumns, s.lockClause)
	return scanRequest(tx.QueryRowContext(ctx, query, tenantID, approvalID))
}

// ListRequests returns the tenant's approval requests, optionally filtered
// by workflow
func (s *Store) ListRequests(ctx context.Context, tenantID, workflowID string) ([]*ApprovalRequest, error) {
	query := fmt.Sprintf("SELECT %s FROM approval_requests WHERE tenant_id = $1", requestColumns)
	args := []interface{}{tenantID}
	if workflowID != "" {
		query += " AND workflow_id = $2"
		args = append(args, workflowID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list approval requests: %w", err)
	}
	defer rows.Close()

	var requests []*ApprovalRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// ListRequestsByWorkflow returns all requests sharing a workflow, inside the
// caller's unit of work
func (s *Store) ListRequestsByWorkflow(ctx context.Context, q DBTX, tenantID, workflowID string) ([]*ApprovalRequest, error) {
	query := fmt.Sprintf("SELECT %s FROM approval_requests WHERE tenant_id = $1 AND workflow_id = $2 ORDER BY created_at ASC", requestColumns)
	rows, err := q.QueryContext(ctx, query, tenantID, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow requests: %w", err)
	}
	defer rows.Close()

	var requests []*ApprovalRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// SetRequestStatus updates the aggregated status and completion date
func (s *Store) SetRequestStatus(ctx context.Context, q DBTX, tenantID, approvalID string, status RequestStatus, completionDate *time.Time) error {
	query := "UPDATE approval_requests SET overall_status = $1, completion_date = $2, updated_at = $3 WHERE tenant_id = $4 AND approval_id = $5"
	_, err := q.ExecContext(ctx, query, status, completionDate, time.Now().UTC(), tenantID, approvalID)
	if err != nil {
		return fmt.Errorf("failed to set request status: %w", err)
	}
	return nil
}

func scanRequest(row rowScanner) (*ApprovalRequest, error) {
	var r ApprovalRequest
	var description, department, data sql.NullString
	var submission, completion, expiry sql.NullTime
	err := row.Scan(
		&r.ApprovalID, &r.TenantID, &r.WorkflowID, &r.RequestTitle,
		&description, &r.RequesterID, &department, &r.Priority, &data,
		&r.OverallStatus, &submission, &completion, &expiry, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan approval request: %w", err)
	}
	r.RequestDescription = description.String
	r.RequesterDept = department.String
	r.SubmissionDate = timePtr(submission)
	r.CompletionDate = timePtr(completion)
	r.ExpiryDate = timePtr(expiry)
	if data.Valid && data.String != "" {
		if err := json.Unmarshal([]byte(data.String), &r.RequestData); err != nil {
			return nil, fmt.Errorf("failed to decode request data: %w", err)
		}
	}
	return &r, nil
}

// --- stages ---

const stageColumns = "stage_id, tenant_id, approval_id, stage_order, stage_name, stage_description, assigned_user_id, assigned_user_name, assigned_user_role, department, stage_type, stage_status, deadline_date, extended_deadline, extension_reason, started_at, completed_at, response_data, rejection_reason, escalation_level, is_mandatory, created_at, updated_at"

// CreateStage persists an approval stage
func (s *Store) CreateStage(ctx context.Context, q DBTX, st *ApprovalStage) error {
	if st.StageID == "" {
		st.StageID = NewStageID()
	}
	if st.StageStatus == "" {
		st.StageStatus = StagePending
	}
	if st.StageType == "" {
		st.StageType = StageSequential
	}
	now := time.Now().UTC()
	st.CreatedAt = now
	st.UpdatedAt = now

	data, err := marshalJSONMap(st.ResponseData)
	if err != nil {
		return fmt.Errorf("failed to marshal response data: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO approval_stages (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
	`, stageColumns)
	_, err = q.ExecContext(ctx, query,
		st.StageID, st.TenantID, st.ApprovalID, st.StageOrder, st.StageName,
		nullString(st.StageDescription), st.AssignedUserID, nullString(st.AssignedUserName),
		nullString(st.AssignedUserRole), nullString(st.Department), st.StageType, st.StageStatus,
		st.DeadlineDate, st.ExtendedDeadline, nullString(st.ExtensionReason),
		st.StartedAt, st.CompletedAt, data, nullString(st.RejectionReason),
		st.EscalationLevel, st.IsMandatory, st.CreatedAt, st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create stage: %w", err)
	}
	return nil
}

// GetStage loads a stage within the caller's tenant
func (s *Store) GetStage(ctx context.Context, q DBTX, tenantID, stageID string) (*ApprovalStage, error) {
	query := fmt.Sprintf("SELECT %s FROM approval_stages WHERE tenant_id = $1 AND stage_id = $2", stageColumns)
	return scanStage(q.QueryRowContext(ctx, query, tenantID, stageID))
}

// GetStageForUpdate loads a stage under a row lock; transitions are
// evaluated against exactly this state
func (s *Store) GetStageForUpdate(ctx context.Context, tx *sql.Tx, tenantID, stageID string) (*ApprovalStage, error) {
	query := fmt.Sprintf("SELECT %s FROM approval_stages WHERE tenant_id = $1 AND stage_id = $2%s", stageColumns, s.lockClause)
	return scanStage(tx.QueryRowContext(ctx, query, tenantID, stageID))
}

// ListStagesByApproval returns a request's stages ordered by stage_order
func (s *Store) ListStagesByApproval(ctx context.Context, q DBTX, tenantID, approvalID string) ([]*ApprovalStage, error) {
	query := fmt.Sprintf("SELECT %s FROM approval_stages WHERE tenant_id = $1 AND approval_id = $2 ORDER BY stage_order ASC, created_at ASC", stageColumns)
	return s.listStages(ctx, q, query, tenantID, approvalID)
}

// ListStagesByUser returns the stages assigned to a user within the tenant
func (s *Store) ListStagesByUser(ctx context.Context, tenantID string, userID int64) ([]*ApprovalStage, error) {
	query := fmt.Sprintf("SELECT %s FROM approval_stages WHERE tenant_id = $1 AND assigned_user_id = $2 ORDER BY created_at DESC", stageColumns)
	return s.listStages(ctx, s.db, query, tenantID, userID)
}

// ListStagesByTenant returns all of the tenant's stages
func (s *Store) ListStagesByTenant(ctx context.Context, tenantID string) ([]*ApprovalStage, error) {
	query := fmt.Sprintf("SELECT %s FROM approval_stages WHERE tenant_id = $1 ORDER BY created_at DESC", stageColumns)
	return s.listStages(ctx, s.db, query, tenantID)
}

// ListOverdueStages returns non-terminal stages whose effective deadline has
// passed; the sweeper's work list
func (s *Store) ListOverdueStages(ctx context.Context, now time.Time) ([]*ApprovalStage, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM approval_stages
		WHERE stage_status IN ('PENDING', 'IN_PROGRESS')
		AND COALESCE(extended_deadline, deadline_date) IS NOT NULL
		AND COALESCE(extended_deadline, deadline_date) < $1
	`, stageColumns)
	return s.listStages(ctx, s.db, query, now)
}

func (s *Store) listStages(ctx context.Context, q DBTX, query string, args ...interface{}) ([]*ApprovalStage, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}
	defer rows.Close()

	var stages []*ApprovalStage
	for rows.Next() {
		st, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		stages = append(stages, st)
	}
	return stages, rows.Err()
}

// UpdateStageTransition writes the outcome of a stage transition
func (s *Store) UpdateStageTransition(ctx context.Context, q DBTX, st *ApprovalStage) error {
	data, err := marshalJSONMap(st.ResponseData)
	if err != nil {
		return fmt.Errorf("failed to marshal response data: %w", err)
	}
	st.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE approval_stages
		SET stage_status = $1, started_at = $2, completed_at = $3, response_data = $4, rejection_reason = $5, updated_at = $6
		WHERE tenant_id = $7 AND stage_id = $8
	`
	_, err = q.ExecContext(ctx, query,
		st.StageStatus, st.StartedAt, st.CompletedAt, data,
		nullString(st.RejectionReason), st.UpdatedAt, st.TenantID, st.StageID,
	)
	if err != nil {
		return fmt.Errorf("failed to update stage: %w", err)
	}
	return nil
}

// ExtendStageDeadline records a deadline extension on a non-terminal stage
func (s *Store) ExtendStageDeadline(ctx context.Context, tenantID, stageID string, deadline time.Time, reason string) error {
	query := `
		UPDATE approval_stages
		SET extended_deadline = $1, extension_reason = $2, updated_at = $3
		WHERE tenant_id = $4 AND stage_id = $5 AND stage_status IN ('PENDING', 'IN_PROGRESS')
	`
	result, err := s.db.ExecContext(ctx, query, deadline, nullString(reason), time.Now().UTC(), tenantID, stageID)
	if err != nil {
		return fmt.Errorf("failed to extend stage deadline: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func scanStage(row rowScanner) (*ApprovalStage, error) {
	var st ApprovalStage
	var description, userName, userRole, department, extensionReason, data, rejection sql.NullString
	var deadline, extended, started, completed sql.NullTime
	err := row.Scan(
		&st.StageID, &st.TenantID, &st.ApprovalID, &st.StageOrder, &st.StageName,
		&description, &st.AssignedUserID, &userName, &userRole, &department,
		&st.StageType, &st.StageStatus, &deadline, &extended, &extensionReason,
		&started, &completed, &data, &rejection, &st.EscalationLevel, &st.IsMandatory,
		&st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan stage: %w", err)
	}
	st.StageDescription = description.String
	st.AssignedUserName = userName.String
	st.AssignedUserRole = userRole.String
	st.Department = department.String
	st.ExtensionReason = extensionReason.String
	st.RejectionReason = rejection.String
	st.DeadlineDate = timePtr(deadline)
	st.ExtendedDeadline = timePtr(extended)
	st.StartedAt = timePtr(started)
	st.CompletedAt = timePtr(completed)
	if data.Valid && data.String != "" {
		if err := json.Unmarshal([]byte(data.String), &st.ResponseData); err != nil {
			return nil, fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return &st, nil
}

// --- comments ---

// CreateComment appends an approval comment; comments are never updated
func (s *Store) CreateComment(ctx context.Context, q DBTX, c *ApprovalComment) error {
	if c.CommentID == "" {
		c.CommentID = NewCommentID()
	}
	if c.CommentType == "" {
		c.CommentType = CommentGeneral
	}
	c.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO approval_comments (comment_id, tenant_id, approval_id, stage_id, parent_comment_id, comment_text, comment_type, commented_by, commented_by_name, is_internal, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := q.ExecContext(ctx, query,
		c.CommentID, c.TenantID, c.ApprovalID, nullString(c.StageID),
		nullString(c.ParentCommentID), c.CommentText, c.CommentType,
		c.CommentedBy, nullString(c.CommentedByName), c.IsInternal, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create comment: %w", err)
	}
	return nil
}

// ListComments returns a request's comments oldest first
func (s *Store) ListComments(ctx context.Context, tenantID, approvalID string) ([]*ApprovalComment, error) {
	query := `
		SELECT comment_id, tenant_id, approval_id, stage_id, parent_comment_id, comment_text, comment_type, commented_by, commented_by_name, is_internal, created_at
		FROM approval_comments WHERE tenant_id = $1 AND approval_id = $2 ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID, approvalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	var comments []*ApprovalComment
	for rows.Next() {
		var c ApprovalComment
		var stageID, parentID, name sql.NullString
		err := rows.Scan(
			&c.CommentID, &c.TenantID, &c.ApprovalID, &stageID, &parentID,
			&c.CommentText, &c.CommentType, &c.CommentedBy, &name, &c.IsInternal, &c.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		c.StageID = stageID.String
		c.ParentCommentID = parentID.String
		c.CommentedByName = name.String
		comments = append(comments, &c)
	}
	return comments, rows.Err()
}

// --- versions ---

// NextVersionNumber computes max(existing)+1 for the approval id
func (s *Store) NextVersionNumber(ctx context.Context, q DBTX, tenantID, approvalID string) (int, error) {
	var max sql.NullInt64
	query := "SELECT MAX(version_number) FROM approval_request_versions WHERE tenant_id = $1 AND approval_id = $2"
	if err := q.QueryRowContext(ctx, query, tenantID, approvalID).Scan(&max); err != nil {
		return 0, fmt.Errorf("failed to compute next version number: %w", err)
	}
	return int(max.Int64) + 1, nil
}

// ClearCurrentVersion flips is_current off for every prior version of the
// approval id
func (s *Store) ClearCurrentVersion(ctx context.Context, q DBTX, tenantID, approvalID string) error {
	query := "UPDATE approval_request_versions SET is_current = FALSE WHERE tenant_id = $1 AND approval_id = $2 AND is_current = TRUE"
	if _, err := q.ExecContext(ctx, query, tenantID, approvalID); err != nil {
		return fmt.Errorf("failed to clear current version: %w", err)
	}
	return nil
}

// InsertVersion persists a new version row
func (s *Store) InsertVersion(ctx context.Context, q DBTX, v *ApprovalRequestVersion) error {
	if v.VersionID == "" {
		v.VersionID = NewVersionID()
	}
	v.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO approval_request_versions (version_id, tenant_id, approval_id, version_number, version_label, json_payload, changes_summary, created_by, created_by_name, created_by_role, version_type, parent_version_id, is_current, is_approved, change_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := q.ExecContext(ctx, query,
		v.VersionID, v.TenantID, v.ApprovalID, v.VersionNumber,
		nullString(v.VersionLabel), v.JSONPayload, nullString(v.ChangesSummary),
		v.CreatedBy, nullString(v.CreatedByName), nullString(v.CreatedByRole),
		v.VersionType, nullString(v.ParentVersionID), v.IsCurrent, v.IsApproved,
		nullString(v.ChangeReason), v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert version: %w", err)
	}
	return nil
}

// ListVersions returns a request's versions ordered by number
func (s *Store) ListVersions(ctx context.Context, tenantID, approvalID string) ([]*ApprovalRequestVersion, error) {
	query := `
		SELECT version_id, tenant_id, approval_id, version_number, version_label, json_payload, changes_summary, created_by, created_by_name, created_by_role, version_type, parent_version_id, is_current, is_approved, change_reason, created_at
		FROM approval_request_versions WHERE tenant_id = $1 AND approval_id = $2 ORDER BY version_number ASC
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID, approvalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	var versions []*ApprovalRequestVersion
	for rows.Next() {
		var v ApprovalRequestVersion
		var label, summary, name, role, parentID, reason sql.NullString
		err := rows.Scan(
			&v.VersionID, &v.TenantID, &v.ApprovalID, &v.VersionNumber, &label,
			&v.JSONPayload, &summary, &v.CreatedBy, &name, &role, &v.VersionType,
			&parentID, &v.IsCurrent, &v.IsApproved, &reason, &v.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		v.VersionLabel = label.String
		v.ChangesSummary = summary.String
		v.CreatedByName = name.String
		v.CreatedByRole = role.String
		v.ParentVersionID = parentID.String
		v.ChangeReason = reason.String
		versions = append(versions, &v)
	}
	return versions, rows.Err()
}

// CurrentVersionID returns the version id carrying is_current for the
// approval, or empty when none exists yet
func (s *Store) CurrentVersionID(ctx context.Context, q DBTX, tenantID, approvalID string) (string, error) {
	var id string
	query := "SELECT version_id FROM approval_request_versions WHERE tenant_id = $1 AND approval_id = $2 AND is_current = TRUE"
	err := q.QueryRowContext(ctx, query, tenantID, approvalID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load current version: %w", err)
	}
	return id, nil
}

// --- helpers ---

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}

func marshalJSONMap(m map[string]interface{}) (interface{}, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
