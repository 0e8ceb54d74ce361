package rfp

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle status of an RFP
type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusInReview Status = "IN_REVIEW"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusClosed   Status = "CLOSED"
)

// RFP is the business object approval workflows bind to. The engine only
// ever moves its status and binding fields; everything else belongs to the
// RFP module proper.
type RFP struct {
	ID                string    `json:"id"`
	TenantID          string    `json:"tenant_id"`
	Title             string    `json:"title"`
	Description       string    `json:"description,omitempty"`
	Status            Status    `json:"status"`
	AutoApprove       bool      `json:"auto_approve"`
	WorkflowID        string    `json:"workflow_id,omitempty"`
	ApprovedBy        int64     `json:"approved_by,omitempty"`
	SelectedProposals []string  `json:"selected_proposals,omitempty"`
	CreatedBy         int64     `json:"created_by"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// NewID generates a prefixed RFP identifier
func NewID() string {
	return "rfp_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:20]
}
