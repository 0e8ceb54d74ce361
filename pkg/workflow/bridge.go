package workflow

import (
	"context"
	"database/sql"

	"github.com/pacehq/pace/pkg/audit"
	"github.com/pacehq/pace/pkg/rfp"
	"github.com/pacehq/pace/pkg/tenancy"
)

// propagate pushes the workflow's aggregated outcome onto its bound business
// object. Best effort: failures are logged and never surface as request
// failures; the workflow state change stands.
func (e *Engine) propagate(ctx context.Context, tenantID, workflowID string) {
	subject, err := e.rfps.GetByWorkflow(ctx, tenantID, workflowID)
	if err != nil {
		if err != sql.ErrNoRows {
			e.logger.WithError(err).WithField("workflow_id", workflowID).Warn("failed to resolve business object for propagation")
		}
		return
	}

	requests, err := e.store.ListRequestsByWorkflow(ctx, e.store.DB(), tenantID, workflowID)
	if err != nil {
		e.logger.WithError(err).WithField("workflow_id", workflowID).Warn("failed to load workflow requests for propagation")
		return
	}
	if len(requests) == 0 {
		return
	}

	status, approvedBy, ok := e.reduce(ctx, tenantID, subject.Status, requests)
	if !ok || status == subject.Status {
		return
	}

	if err := e.rfps.SetStatus(ctx, tenantID, subject.ID, status, approvedBy); err != nil {
		e.logger.WithError(err).WithFields(map[string]interface{}{
			"workflow_id": workflowID,
			"rfp_id":      subject.ID,
		}).Warn("failed to propagate status to business object")
		return
	}

	e.logAudit(ctx, audit.EventTypeBusinessObjectUpdated, tenantID, approvedBy, "rfp", subject.ID, "business object status updated to "+string(status))
}

// reduce computes the object's status over all requests sharing the
// workflow: any rejection reopens review; full approval of every request and
// every non-skipped stage approves the object; any in-progress request moves
// a draft object into review.
func (e *Engine) reduce(ctx context.Context, tenantID string, current rfp.Status, requests []*ApprovalRequest) (rfp.Status, int64, bool) {
	allApproved := true
	anyInProgress := false

	for _, req := range requests {
		switch req.OverallStatus {
		case RequestRejected, RequestExpired:
			return rfp.StatusInReview, 0, true
		case RequestApproved:
		case RequestInProgress:
			anyInProgress = true
			allApproved = false
		default:
			allApproved = false
		}
	}

	if allApproved {
		approvedBy, ok := e.latestApprover(ctx, tenantID, requests)
		if !ok {
			return current, 0, false
		}
		return rfp.StatusApproved, approvedBy, true
	}
	if anyInProgress && current == rfp.StatusDraft {
		return rfp.StatusInReview, 0, true
	}
	return current, 0, false
}

// latestApprover finds the user who completed the most recent APPROVED
// stage, verifying along the way that every non-skipped stage is approved.
func (e *Engine) latestApprover(ctx context.Context, tenantID string, requests []*ApprovalRequest) (int64, bool) {
	var approver int64
	var latest *ApprovalStage
	for _, req := range requests {
		stages, err := e.store.ListStagesByApproval(ctx, e.store.DB(), tenantID, req.ApprovalID)
		if err != nil {
			e.logger.WithError(err).Warn("failed to load stages for propagation")
			return 0, false
		}
		for _, st := range stages {
			switch st.StageStatus {
			case StageSkipped, StageCancelled:
				continue
			case StageApproved:
				if latest == nil || (st.CompletedAt != nil && latest.CompletedAt != nil && st.CompletedAt.After(*latest.CompletedAt)) {
					latest = st
					approver = st.AssignedUserID
				}
			default:
				// A request marked APPROVED with a non-approved stage means
				// the snapshot moved under us; skip this propagation round
				return 0, false
			}
		}
	}
	return approver, latest != nil
}

// ResolveBusinessObjectID maps an approval request to its bound business
// object id. A tenant-scoped lookup is tried first; the cross-tenant
// fallback is read-only and logged.
func (e *Engine) ResolveBusinessObjectID(ctx context.Context, tenantID, approvalID string) (string, error) {
	req, err := e.store.GetRequest(ctx, e.store.DB(), tenantID, approvalID)
	if err != nil {
		return "", err
	}

	subject, err := e.rfps.GetByWorkflow(ctx, tenantID, req.WorkflowID)
	if err == nil {
		return subject.ID, nil
	}
	if err != sql.ErrNoRows {
		return "", err
	}

	subject, err = e.rfps.GetByWorkflowAnyTenant(ctx, req.WorkflowID)
	if err != nil {
		return "", err
	}
	tenancy.LogCrossTenantRead(e.logger, tenantID, subject.TenantID, "rfp:"+subject.ID)
	return subject.ID, nil
}
