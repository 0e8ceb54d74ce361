package workflow

import (
	"context"
	"encoding/json"
	"fmt"
)

// snapshot is the full serialized state of a workflow and all its requests
// and stages at the moment of a transition. Replay and debugging depend on
// it being complete, never lazy.
type snapshot struct {
	Workflow *Workflow          `json:"workflow"`
	Requests []*requestSnapshot `json:"requests"`
}

type requestSnapshot struct {
	Request *ApprovalRequest `json:"request"`
	Stages  []*ApprovalStage `json:"stages"`
}

// buildSnapshot serializes the workflow graph as read through q, which is
// the transition transaction, so the snapshot reflects the state being
// committed.
func (s *Store) buildSnapshot(ctx context.Context, q DBTX, tenantID, workflowID string) (string, error) {
	w, err := scanWorkflow(q.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM workflows WHERE tenant_id = $1 AND workflow_id = $2", workflowColumns),
		tenantID, workflowID))
	if err != nil {
		return "", fmt.Errorf("failed to snapshot workflow: %w", err)
	}

	requests, err := s.ListRequestsByWorkflow(ctx, q, tenantID, workflowID)
	if err != nil {
		return "", err
	}

	snap := snapshot{Workflow: w}
	for _, r := range requests {
		stages, err := s.ListStagesByApproval(ctx, q, tenantID, r.ApprovalID)
		if err != nil {
			return "", err
		}
		snap.Requests = append(snap.Requests, &requestSnapshot{Request: r, Stages: stages})
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("failed to serialize snapshot: %w", err)
	}
	return string(payload), nil
}

// EmitVersion inserts the next version for an approval request inside the
// caller's transaction: dense version_number, single is_current flip, full
// graph snapshot. A failure here aborts the whole transaction.
func (s *Store) EmitVersion(ctx context.Context, q DBTX, tenantID, workflowID, approvalID string, vType VersionType, createdBy int64, summary string) (*ApprovalRequestVersion, error) {
	payload, err := s.buildSnapshot(ctx, q, tenantID, workflowID)
	if err != nil {
		return nil, err
	}

	number, err := s.NextVersionNumber(ctx, q, tenantID, approvalID)
	if err != nil {
		return nil, err
	}

	parentID, err := s.CurrentVersionID(ctx, q, tenantID, approvalID)
	if err != nil {
		return nil, err
	}
	if err := s.ClearCurrentVersion(ctx, q, tenantID, approvalID); err != nil {
		return nil, err
	}

	version := &ApprovalRequestVersion{
		TenantID:        tenantID,
		ApprovalID:      approvalID,
		VersionNumber:   number,
		VersionLabel:    fmt.Sprintf("v%d", number),
		JSONPayload:     payload,
		ChangesSummary:  summary,
		CreatedBy:       createdBy,
		VersionType:     vType,
		ParentVersionID: parentID,
		IsCurrent:       true,
		IsApproved:      vType == VersionFinal,
	}
	if err := s.InsertVersion(ctx, q, version); err != nil {
		return nil, err
	}
	return version, nil
}
