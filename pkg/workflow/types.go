package workflow

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel domain errors. Handlers map these to 400s per the error taxonomy.
var (
	ErrTooFewStages           = errors.New("workflow_needs_two_stages")
	ErrWorkflowNotRequired    = errors.New("workflow_not_required")
	ErrInvalidTransition      = errors.New("invalid_status_transition")
	ErrPredecessorNotApproved = errors.New("predecessor_not_approved")
	ErrStaleState             = errors.New("stale_state")
)

// WorkflowType distinguishes ordered multi-level approval from independent
// multi-person approval
type WorkflowType string

const (
	TypeMultiLevel  WorkflowType = "MULTI_LEVEL"
	TypeMultiPerson WorkflowType = "MULTI_PERSON"
)

// RequestStatus is the aggregated status of an approval request
type RequestStatus string

const (
	RequestDraft      RequestStatus = "DRAFT"
	RequestPending    RequestStatus = "PENDING"
	RequestInProgress RequestStatus = "IN_PROGRESS"
	RequestApproved   RequestStatus = "APPROVED"
	RequestRejected   RequestStatus = "REJECTED"
	RequestCancelled  RequestStatus = "CANCELLED"
	RequestExpired    RequestStatus = "EXPIRED"
)

// StageType distinguishes ordered stages from independent peers
type StageType string

const (
	StageSequential StageType = "SEQUENTIAL"
	StageParallel   StageType = "PARALLEL"
)

// StageStatus is one reviewer checkpoint's status
type StageStatus string

const (
	StagePending    StageStatus = "PENDING"
	StageInProgress StageStatus = "IN_PROGRESS"
	StageApproved   StageStatus = "APPROVED"
	StageRejected   StageStatus = "REJECTED"
	StageSkipped    StageStatus = "SKIPPED"
	StageExpired    StageStatus = "EXPIRED"
	StageCancelled  StageStatus = "CANCELLED"
)

// Terminal reports whether the stage status admits no further transitions
func (s StageStatus) Terminal() bool {
	switch s {
	case StageApproved, StageRejected, StageSkipped, StageExpired, StageCancelled:
		return true
	}
	return false
}

// Completes reports whether the status carries a completion time. SKIPPED is
// terminal but was never worked, so it stamps none.
func (s StageStatus) Completes() bool {
	return s.Terminal() && s != StageSkipped
}

// Priority of an approval request
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// CommentType classifies approval comments
type CommentType string

const (
	CommentGeneral         CommentType = "GENERAL"
	CommentRejectionReason CommentType = "REJECTION_REASON"
	CommentClarification   CommentType = "CLARIFICATION"
	CommentApprovalNote    CommentType = "APPROVAL_NOTE"
)

// VersionType classifies emitted versions
type VersionType string

const (
	VersionInitial       VersionType = "INITIAL"
	VersionRevision      VersionType = "REVISION"
	VersionConsolidation VersionType = "CONSOLIDATION"
	VersionFinal         VersionType = "FINAL"
)

// Workflow is the template describing how approval proceeds for a class of
// subjects. Deletion is forbidden; is_active=false is the only tombstone.
type Workflow struct {
	WorkflowID         string       `json:"workflow_id"`
	TenantID           string       `json:"tenant_id"`
	WorkflowName       string       `json:"workflow_name"`
	WorkflowType       WorkflowType `json:"workflow_type"`
	BusinessObjectType string       `json:"business_object_type,omitempty"`
	IsActive           bool         `json:"is_active"`
	CreatedBy          int64        `json:"created_by"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// ApprovalRequest is a concrete instance of a workflow bound to a subject.
// overall_status is a pure function of its non-skipped stages.
type ApprovalRequest struct {
	ApprovalID         string                 `json:"approval_id"`
	TenantID           string                 `json:"tenant_id"`
	WorkflowID         string                 `json:"workflow_id"`
	RequestTitle       string                 `json:"request_title"`
	RequestDescription string                 `json:"request_description,omitempty"`
	RequesterID        int64                  `json:"requester_id"`
	RequesterDept      string                 `json:"requester_department,omitempty"`
	Priority           Priority               `json:"priority"`
	RequestData        map[string]interface{} `json:"request_data,omitempty"`
	OverallStatus      RequestStatus          `json:"overall_status"`
	SubmissionDate     *time.Time             `json:"submission_date,omitempty"`
	CompletionDate     *time.Time             `json:"completion_date,omitempty"`
	ExpiryDate         *time.Time             `json:"expiry_date,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
}

// ApprovalStage is one reviewer's checkpoint within an approval request
type ApprovalStage struct {
	StageID          string                 `json:"stage_id"`
	TenantID         string                 `json:"tenant_id"`
	ApprovalID       string                 `json:"approval_id"`
	StageOrder       int                    `json:"stage_order"`
	StageName        string                 `json:"stage_name"`
	StageDescription string                 `json:"stage_description,omitempty"`
	AssignedUserID   int64                  `json:"assigned_user_id"`
	AssignedUserName string                 `json:"assigned_user_name,omitempty"`
	AssignedUserRole string                 `json:"assigned_user_role,omitempty"`
	Department       string                 `json:"department,omitempty"`
	StageType        StageType              `json:"stage_type"`
	StageStatus      StageStatus            `json:"stage_status"`
	DeadlineDate     *time.Time             `json:"deadline_date,omitempty"`
	ExtendedDeadline *time.Time             `json:"extended_deadline,omitempty"`
	ExtensionReason  string                 `json:"extension_reason,omitempty"`
	StartedAt        *time.Time             `json:"started_at,omitempty"`
	CompletedAt      *time.Time             `json:"completed_at,omitempty"`
	ResponseData     map[string]interface{} `json:"response_data,omitempty"`
	RejectionReason  string                 `json:"rejection_reason,omitempty"`
	EscalationLevel  int                    `json:"escalation_level"`
	IsMandatory      bool                   `json:"is_mandatory"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// EffectiveDeadline is the extended deadline when one was granted, else the
// original deadline
func (s *ApprovalStage) EffectiveDeadline() *time.Time {
	if s.ExtendedDeadline != nil {
		return s.ExtendedDeadline
	}
	return s.DeadlineDate
}

// ApprovalComment is append-only; never mutated after creation
type ApprovalComment struct {
	CommentID       string      `json:"comment_id"`
	TenantID        string      `json:"tenant_id"`
	ApprovalID      string      `json:"approval_id"`
	StageID         string      `json:"stage_id,omitempty"`
	ParentCommentID string      `json:"parent_comment_id,omitempty"`
	CommentText     string      `json:"comment_text"`
	CommentType     CommentType `json:"comment_type"`
	CommentedBy     int64       `json:"commented_by"`
	CommentedByName string      `json:"commented_by_name,omitempty"`
	IsInternal      bool        `json:"is_internal"`
	CreatedAt       time.Time   `json:"created_at"`
}

// ApprovalRequestVersion is an immutable snapshot of an approval request and
// its stages at the moment of a transition
type ApprovalRequestVersion struct {
	VersionID       string      `json:"version_id"`
	TenantID        string      `json:"tenant_id"`
	ApprovalID      string      `json:"approval_id"`
	VersionNumber   int         `json:"version_number"`
	VersionLabel    string      `json:"version_label,omitempty"`
	JSONPayload     string      `json:"json_payload"`
	ChangesSummary  string      `json:"changes_summary,omitempty"`
	CreatedBy       int64       `json:"created_by"`
	CreatedByName   string      `json:"created_by_name,omitempty"`
	CreatedByRole   string      `json:"created_by_role,omitempty"`
	VersionType     VersionType `json:"version_type"`
	ParentVersionID string      `json:"parent_version_id,omitempty"`
	IsCurrent       bool        `json:"is_current"`
	IsApproved      bool        `json:"is_approved"`
	ChangeReason    string      `json:"change_reason,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

func newID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:20]
}

// NewWorkflowID generates a prefixed workflow identifier
func NewWorkflowID() string { return newID("wf") }

// NewApprovalID generates a prefixed approval-request identifier
func NewApprovalID() string { return newID("apr") }

// NewStageID generates a prefixed stage identifier
func NewStageID() string { return newID("stg") }

// NewCommentID generates a prefixed comment identifier
func NewCommentID() string { return newID("cmt") }

// NewVersionID generates a prefixed version identifier
func NewVersionID() string { return newID("ver") }
