package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pacehq/pace/pkg/audit"
	"github.com/pacehq/pace/pkg/observability"
	"github.com/pacehq/pace/pkg/rfp"
)

// StageConfig is one stage template supplied at workflow creation
type StageConfig struct {
	StageOrder       int        `json:"stage_order"`
	StageName        string     `json:"stage_name"`
	StageDescription string     `json:"stage_description,omitempty"`
	AssignedUserID   int64      `json:"assigned_user_id"`
	AssignedUserName string     `json:"assigned_user_name,omitempty"`
	AssignedUserRole string     `json:"assigned_user_role,omitempty"`
	Department       string     `json:"department,omitempty"`
	DeadlineDate     *time.Time `json:"deadline_date,omitempty"`
	IsMandatory      *bool      `json:"is_mandatory,omitempty"`
}

// RFPData binds the workflow to its business object at creation
type RFPData struct {
	RFPID              string                 `json:"rfp_id"`
	RequestTitle       string                 `json:"request_title,omitempty"`
	RequestDescription string                 `json:"request_description,omitempty"`
	Priority           Priority               `json:"priority,omitempty"`
	RequestData        map[string]interface{} `json:"request_data,omitempty"`
}

// CreateWorkflowInput is the full workflow-creation payload
type CreateWorkflowInput struct {
	WorkflowName       string        `json:"workflow_name"`
	WorkflowType       WorkflowType  `json:"workflow_type"`
	BusinessObjectType string        `json:"business_object_type,omitempty"`
	StagesConfig       []StageConfig `json:"stages_config"`
	RFPData            *RFPData      `json:"rfp_data,omitempty"`
}

// CreateWorkflowResult reports what creation produced
type CreateWorkflowResult struct {
	Workflow *Workflow          `json:"workflow"`
	Requests []*ApprovalRequest `json:"requests"`
	Stages   []*ApprovalStage   `json:"stages"`
}

// Decision is the reviewer's terminal action on a stage
type Decision string

const (
	DecisionApprove        Decision = "APPROVE"
	DecisionRequestChanges Decision = "REQUEST_CHANGES"
	DecisionReject         Decision = "REJECT"
)

// TransitionInput carries the reviewer's terminal transition
type TransitionInput struct {
	Status       Decision               `json:"status"`
	Comments     string                 `json:"comments,omitempty"`
	ResponseData map[string]interface{} `json:"response_data,omitempty"`
}

// Engine owns the approval state machine: workflow creation fan-out, stage
// transitions, request aggregation, version emission, and business-object
// propagation.
type Engine struct {
	store    *Store
	rfps     *rfp.Store
	logger   *observability.Logger
	metrics  *observability.Metrics
	auditLog audit.Logger
}

// NewEngine creates the workflow engine
func NewEngine(store *Store, rfps *rfp.Store, logger *observability.Logger, metrics *observability.Metrics, auditLog audit.Logger) *Engine {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	return &Engine{
		store:    store,
		rfps:     rfps,
		logger:   logger,
		metrics:  metrics,
		auditLog: auditLog,
	}
}

// Store exposes the underlying store for read-only handler queries
func (e *Engine) Store() *Store {
	return e.store
}

// CreateWorkflow creates the workflow and fans out approval requests and
// stages per the creation policy, emits one INITIAL version per request,
// and binds the business object.
func (e *Engine) CreateWorkflow(ctx context.Context, tenantID string, createdBy int64, input CreateWorkflowInput) (*CreateWorkflowResult, error) {
	if len(input.StagesConfig) < 2 {
		return nil, ErrTooFewStages
	}
	if input.WorkflowType != TypeMultiLevel && input.WorkflowType != TypeMultiPerson {
		return nil, fmt.Errorf("%w: workflow_type must be MULTI_LEVEL or MULTI_PERSON", ErrInvalidTransition)
	}

	var subject *rfp.RFP
	if input.RFPData != nil && input.RFPData.RFPID != "" {
		var err error
		subject, err = e.rfps.Get(ctx, tenantID, input.RFPData.RFPID)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, err
			}
			return nil, err
		}
		if subject.AutoApprove {
			return nil, ErrWorkflowNotRequired
		}
	}

	tx, err := e.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	w := &Workflow{
		TenantID:           tenantID,
		WorkflowName:       input.WorkflowName,
		WorkflowType:       input.WorkflowType,
		BusinessObjectType: input.BusinessObjectType,
		CreatedBy:          createdBy,
	}
	if err := e.store.CreateWorkflow(ctx, tx, w); err != nil {
		return nil, err
	}

	result := &CreateWorkflowResult{Workflow: w}

	switch {
	case subject != nil && len(subject.SelectedProposals) > 0:
		// Bulk evaluation: one request per proposal, every stage config
		// cloned into a parallel peer
		for _, proposalID := range subject.SelectedProposals {
			req := e.newRequest(tenantID, w, createdBy, input, fmt.Sprintf("Proposal %s", proposalID))
			if req.RequestData == nil {
				req.RequestData = map[string]interface{}{}
			}
			req.RequestData["proposal_id"] = proposalID
			if err := e.store.CreateRequest(ctx, tx, req); err != nil {
				return nil, err
			}
			result.Requests = append(result.Requests, req)

			for _, cfg := range input.StagesConfig {
				stage := stageFromConfig(tenantID, req.ApprovalID, cfg, StageParallel)
				if err := e.store.CreateStage(ctx, tx, stage); err != nil {
					return nil, err
				}
				result.Stages = append(result.Stages, stage)
			}
		}

	case input.WorkflowType == TypeMultiPerson:
		// Committee evaluation: a single request, one parallel stage per
		// committee member
		req := e.newRequest(tenantID, w, createdBy, input, "")
		if err := e.store.CreateRequest(ctx, tx, req); err != nil {
			return nil, err
		}
		result.Requests = append(result.Requests, req)

		for _, cfg := range input.StagesConfig {
			stage := stageFromConfig(tenantID, req.ApprovalID, cfg, StageParallel)
			if err := e.store.CreateStage(ctx, tx, stage); err != nil {
				return nil, err
			}
			result.Stages = append(result.Stages, stage)
		}

	default:
		// Ordered multi-level approval
		req := e.newRequest(tenantID, w, createdBy, input, "")
		if err := e.store.CreateRequest(ctx, tx, req); err != nil {
			return nil, err
		}
		result.Requests = append(result.Requests, req)

		for _, cfg := range input.StagesConfig {
			stage := stageFromConfig(tenantID, req.ApprovalID, cfg, StageSequential)
			if err := e.store.CreateStage(ctx, tx, stage); err != nil {
				return nil, err
			}
			result.Stages = append(result.Stages, stage)
		}
	}

	for _, req := range result.Requests {
		if _, err := e.store.EmitVersion(ctx, tx, tenantID, w.WorkflowID, req.ApprovalID, VersionInitial, createdBy, "workflow created"); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit workflow creation: %w", err)
	}

	if e.metrics != nil {
		e.metrics.WorkflowsCreatedTotal.WithLabelValues(string(w.WorkflowType)).Inc()
		e.metrics.VersionsEmittedTotal.Add(float64(len(result.Requests)))
	}
	e.logAudit(ctx, audit.EventTypeWorkflowCreated, tenantID, createdBy, "workflow", w.WorkflowID, "workflow created")

	// Bind the subject to its workflow. Best effort: the workflow stands
	// even when the binding write fails.
	if subject != nil {
		if err := e.rfps.BindWorkflow(ctx, tenantID, subject.ID, w.WorkflowID); err != nil {
			e.logger.WithError(err).WithField("workflow_id", w.WorkflowID).Warn("failed to bind business object to workflow")
		}
	}

	return result, nil
}

func (e *Engine) newRequest(tenantID string, w *Workflow, createdBy int64, input CreateWorkflowInput, titleSuffix string) *ApprovalRequest {
	title := input.WorkflowName
	description := ""
	priority := PriorityMedium
	var data map[string]interface{}
	if input.RFPData != nil {
		if input.RFPData.RequestTitle != "" {
			title = input.RFPData.RequestTitle
		}
		description = input.RFPData.RequestDescription
		if input.RFPData.Priority != "" {
			priority = input.RFPData.Priority
		}
		data = input.RFPData.RequestData
	}
	if titleSuffix != "" {
		title = title + " - " + titleSuffix
	}
	return &ApprovalRequest{
		TenantID:           tenantID,
		WorkflowID:         w.WorkflowID,
		RequestTitle:       title,
		RequestDescription: description,
		RequesterID:        createdBy,
		Priority:           priority,
		RequestData:        data,
		OverallStatus:      RequestPending,
	}
}

func stageFromConfig(tenantID, approvalID string, cfg StageConfig, stageType StageType) *ApprovalStage {
	mandatory := true
	if cfg.IsMandatory != nil {
		mandatory = *cfg.IsMandatory
	}
	order := cfg.StageOrder
	if stageType == StageParallel {
		// stage_type is authoritative for parallelism; peers carry order 0
		order = 0
	}
	return &ApprovalStage{
		TenantID:         tenantID,
		ApprovalID:       approvalID,
		StageOrder:       order,
		StageName:        cfg.StageName,
		StageDescription: cfg.StageDescription,
		AssignedUserID:   cfg.AssignedUserID,
		AssignedUserName: cfg.AssignedUserName,
		AssignedUserRole: cfg.AssignedUserRole,
		Department:       cfg.Department,
		StageType:        stageType,
		StageStatus:      StagePending,
		DeadlineDate:     cfg.DeadlineDate,
		IsMandatory:      mandatory,
	}
}

// CreateRequest adds an approval request to an existing workflow
func (e *Engine) CreateRequest(ctx context.Context, tenantID string, r *ApprovalRequest) (*ApprovalRequest, error) {
	if r.WorkflowID == "" || r.RequestTitle == "" {
		return nil, fmt.Errorf("%w: workflow_id and request_title are required", ErrInvalidTransition)
	}
	if _, err := e.store.GetWorkflow(ctx, tenantID, r.WorkflowID); err != nil {
		return nil, err
	}

	tx, err := e.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	r.TenantID = tenantID
	if err := e.store.CreateRequest(ctx, tx, r); err != nil {
		return nil, err
	}
	if _, err := e.store.EmitVersion(ctx, tx, tenantID, r.WorkflowID, r.ApprovalID, VersionInitial, r.RequesterID, "request created"); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit request creation: %w", err)
	}
	if e.metrics != nil {
		e.metrics.VersionsEmittedTotal.Inc()
	}
	return r, nil
}

// CreateStage adds a stage to an existing approval request
func (e *Engine) CreateStage(ctx context.Context, tenantID string, st *ApprovalStage) (*ApprovalStage, error) {
	if st.ApprovalID == "" || st.StageName == "" || st.AssignedUserID == 0 {
		return nil, fmt.Errorf("%w: approval_id, stage_name, and assigned_user_id are required", ErrInvalidTransition)
	}
	req, err := e.store.GetRequest(ctx, e.store.DB(), tenantID, st.ApprovalID)
	if err != nil {
		return nil, err
	}

	tx, err := e.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	st.TenantID = tenantID
	if err := e.store.CreateStage(ctx, tx, st); err != nil {
		return nil, err
	}
	if _, err := e.store.EmitVersion(ctx, tx, tenantID, req.WorkflowID, req.ApprovalID, VersionRevision, st.AssignedUserID, "stage added"); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit stage creation: %w", err)
	}
	if e.metrics != nil {
		e.metrics.VersionsEmittedTotal.Inc()
	}
	return st, nil
}

// StartStage transitions a stage PENDING -> IN_PROGRESS and promotes a
// DRAFT/PENDING owning request to IN_PROGRESS.
func (e *Engine) StartStage(ctx context.Context, tenantID, stageID string, actorID int64) (*ApprovalStage, error) {
	stage, err := e.transition(ctx, tenantID, stageID, actorID, StageInProgress, TransitionInput{})
	if err != nil {
		return nil, err
	}
	return stage, nil
}

// CompleteStage applies the reviewer's terminal decision to a stage
func (e *Engine) CompleteStage(ctx context.Context, tenantID, stageID string, actorID int64, input TransitionInput) (*ApprovalStage, error) {
	var target StageStatus
	switch input.Status {
	case DecisionApprove:
		target = StageApproved
	case DecisionRequestChanges, DecisionReject:
		target = StageRejected
	default:
		return nil, fmt.Errorf("%w: status must be APPROVE or REQUEST_CHANGES", ErrInvalidTransition)
	}
	return e.transition(ctx, tenantID, stageID, actorID, target, input)
}

// SkipStage administratively removes a stage from aggregation
func (e *Engine) SkipStage(ctx context.Context, tenantID, stageID string, actorID int64, reason string) (*ApprovalStage, error) {
	return e.transition(ctx, tenantID, stageID, actorID, StageSkipped, TransitionInput{Comments: reason})
}

// CancelStage administratively cancels a stage
func (e *Engine) CancelStage(ctx context.Context, tenantID, stageID string, actorID int64, reason string) (*ApprovalStage, error) {
	return e.transition(ctx, tenantID, stageID, actorID, StageCancelled, TransitionInput{Comments: reason})
}

// ExpireStage moves an overdue stage to EXPIRED; the deadline sweeper is the
// out-of-band caller
func (e *Engine) ExpireStage(ctx context.Context, tenantID, stageID string) (*ApprovalStage, error) {
	return e.transition(ctx, tenantID, stageID, 0, StageExpired, TransitionInput{})
}

// transition runs one stage transition in a single transaction: row lock,
// precondition checks, stage write, request aggregation, comment append,
// version emission. Propagation to the business object happens after commit
// and never fails the transition.
func (e *Engine) transition(ctx context.Context, tenantID, stageID string, actorID int64, target StageStatus, input TransitionInput) (*ApprovalStage, error) {
	tx, err := e.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stage, err := e.store.GetStageForUpdate(ctx, tx, tenantID, stageID)
	if err != nil {
		return nil, err
	}

	if stage.StageStatus.Terminal() {
		return nil, ErrStaleState
	}
	if target == StageInProgress && stage.StageStatus != StagePending {
		return nil, ErrStaleState
	}

	req, err := e.store.GetRequestForUpdate(ctx, tx, tenantID, stage.ApprovalID)
	if err != nil {
		return nil, err
	}
	stages, err := e.store.ListStagesByApproval(ctx, tx, tenantID, stage.ApprovalID)
	if err != nil {
		return nil, err
	}

	// Administrative transitions are exempt from sequential ordering
	if target == StageInProgress || target == StageApproved || target == StageRejected {
		if err := checkPredecessors(stage, stages); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	stage.StageStatus = target
	if stage.StartedAt == nil && target != StageSkipped {
		stage.StartedAt = &now
	}
	if target.Completes() {
		stage.CompletedAt = &now
		if input.ResponseData != nil {
			stage.ResponseData = input.ResponseData
		}
		if target == StageRejected {
			stage.RejectionReason = input.Comments
		}
	}
	if err := e.store.UpdateStageTransition(ctx, tx, stage); err != nil {
		return nil, err
	}

	// Re-evaluate the owning request against the state being committed
	for i, st := range stages {
		if st.StageID == stage.StageID {
			stages[i] = stage
		}
	}
	newStatus := aggregate(req.OverallStatus, stages)
	statusChanged := newStatus != req.OverallStatus
	if statusChanged {
		var completion *time.Time
		if newStatus == RequestApproved || newStatus == RequestRejected {
			completion = &now
		}
		if err := e.store.SetRequestStatus(ctx, tx, tenantID, req.ApprovalID, newStatus, completion); err != nil {
			return nil, err
		}
		req.OverallStatus = newStatus
		req.CompletionDate = completion
	}

	if input.Comments != "" && (target == StageApproved || target == StageRejected) {
		commentType := CommentApprovalNote
		if target == StageRejected {
			commentType = CommentRejectionReason
		}
		comment := &ApprovalComment{
			TenantID:    tenantID,
			ApprovalID:  stage.ApprovalID,
			StageID:     stage.StageID,
			CommentText: input.Comments,
			CommentType: commentType,
			CommentedBy: actorID,
		}
		if err := e.store.CreateComment(ctx, tx, comment); err != nil {
			return nil, err
		}
	}

	vType := VersionRevision
	if req.OverallStatus == RequestApproved {
		vType = VersionFinal
	}
	summary := fmt.Sprintf("stage %s -> %s", stage.StageName, strings.ToLower(string(target)))
	if _, err := e.store.EmitVersion(ctx, tx, tenantID, req.WorkflowID, req.ApprovalID, vType, actorID, summary); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit stage transition: %w", err)
	}

	if e.metrics != nil {
		e.metrics.StageTransitionsTotal.WithLabelValues(string(target)).Inc()
		e.metrics.VersionsEmittedTotal.Inc()
		if statusChanged && (newStatus == RequestApproved || newStatus == RequestRejected) {
			e.metrics.RequestsCompletedTotal.WithLabelValues(string(newStatus)).Inc()
		}
	}
	e.logAudit(ctx, audit.EventTypeStageTransitioned, tenantID, actorID, "stage", stage.StageID, fmt.Sprintf("stage transitioned to %s", target))

	e.propagate(ctx, tenantID, req.WorkflowID)

	return stage, nil
}

// checkPredecessors enforces sequential ordering: a stage whose predecessor
// is not APPROVED may not transition out of PENDING. Parallel stages have no
// ordering constraint.
func checkPredecessors(stage *ApprovalStage, stages []*ApprovalStage) error {
	if stage.StageType == StageParallel {
		return nil
	}
	for _, other := range stages {
		if other.StageID == stage.StageID || other.StageType == StageParallel {
			continue
		}
		if other.StageStatus == StageSkipped || other.StageStatus == StageCancelled {
			continue
		}
		if other.StageOrder < stage.StageOrder && other.StageStatus != StageApproved {
			return ErrPredecessorNotApproved
		}
	}
	return nil
}

// aggregate recomputes a request's overall status from the multiset of its
// non-SKIPPED, non-CANCELLED stages. A single rejection wins over any number
// of approvals; EXPIRED counts as unresolved-rejected.
func aggregate(current RequestStatus, stages []*ApprovalStage) RequestStatus {
	var considered []*ApprovalStage
	for _, st := range stages {
		if st.StageStatus == StageSkipped || st.StageStatus == StageCancelled {
			continue
		}
		considered = append(considered, st)
	}
	if len(considered) == 0 {
		return current
	}

	approved, pending, active := 0, 0, 0
	for _, st := range considered {
		switch st.StageStatus {
		case StageRejected, StageExpired:
			return RequestRejected
		case StageApproved:
			approved++
		case StageInProgress:
			active++
		case StagePending:
			pending++
		}
	}

	if approved == len(considered) {
		return RequestApproved
	}
	if active > 0 || approved > 0 {
		return RequestInProgress
	}
	return current
}

func (e *Engine) logAudit(ctx context.Context, eventType audit.EventType, tenantID string, userID int64, resourceType, resourceID, message string) {
	var uid *int64
	if userID != 0 {
		uid = &userID
	}
	if err := e.auditLog.Log(ctx, &audit.AuditEvent{
		EventType:    eventType,
		Status:       audit.EventStatusSuccess,
		TenantID:     tenantID,
		UserID:       uid,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Message:      message,
	}); err != nil {
		e.logger.WithError(err).Warn("failed to write audit event")
	}
}
