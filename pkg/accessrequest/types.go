package accessrequest

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyDecided is returned when a decision targets a terminal request
var ErrAlreadyDecided = errors.New("already_decided")

// ErrNotAdmin is returned when a non-administrator attempts a decision
var ErrNotAdmin = errors.New("admin_required")

// Status of an access request. REQUESTED is the only non-terminal state.
type Status string

const (
	StatusRequested Status = "REQUESTED"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
)

// Verification outcomes recorded by the grant procedure
const (
	VerificationPass    = "PASS"
	VerificationPartial = "PARTIAL"
	VerificationFailed  = "FAILED"
)

// AuditEntry is one append-only line of an access request's audit trail
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	ActorID   int64     `json:"actor_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// AccessRequest is a user's request for a capability they lack
type AccessRequest struct {
	ID                 string       `json:"id"`
	TenantID           string       `json:"tenant_id"`
	UserID             int64        `json:"user_id"`
	RequestedURL       string       `json:"requested_url,omitempty"`
	RequestedFeature   string       `json:"requested_feature,omitempty"`
	RequiredPermission string       `json:"required_permission,omitempty"`
	RequestedRole      string       `json:"requested_role,omitempty"`
	Status             Status       `json:"status"`
	Message            string       `json:"message,omitempty"`
	AuditTrail         []AuditEntry `json:"audit_trail"`
	ApprovedBy         *int64       `json:"approved_by,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// NewID generates a prefixed access-request identifier
func NewID() string {
	return "acr_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:20]
}
