package workflow

import (
	"context"
	"database/sql"
	"io"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pacehq/pace/pkg/observability"
	"github.com/pacehq/pace/pkg/rfp"
)

func newTestEngine(t *testing.T) (*Engine, *rfp.Store) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// sqlite serializes writers; a single connection keeps the in-memory
	// database alive across the pool
	db.SetMaxOpenConns(1)

	store := NewStore(db, WithoutRowLocks())
	require.NoError(t, store.EnsureTables(context.Background()))

	rfps := rfp.NewStore(db)
	require.NoError(t, rfps.EnsureTable(context.Background()))

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewEngine(store, rfps, logger, nil, nil), rfps
}

func twoStageInput(workflowType WorkflowType) CreateWorkflowInput {
	return CreateWorkflowInput{
		WorkflowName: "Contract Review",
		WorkflowType: workflowType,
		StagesConfig: []StageConfig{
			{StageOrder: 1, StageName: "Manager Review", AssignedUserID: 10},
			{StageOrder: 2, StageName: "Director Review", AssignedUserID: 20},
		},
	}
}

func TestCreateWorkflowRejectsTooFewStages(t *testing.T) {
	engine, _ := newTestEngine(t)

	input := twoStageInput(TypeMultiLevel)
	input.StagesConfig = input.StagesConfig[:1]
	_, err := engine.CreateWorkflow(context.Background(), "acme", 1, input)
	assert.ErrorIs(t, err, ErrTooFewStages)

	// Exactly two stages is accepted
	_, err = engine.CreateWorkflow(context.Background(), "acme", 1, twoStageInput(TypeMultiLevel))
	assert.NoError(t, err)
}

func TestCreateWorkflowRejectsAutoApproveSubject(t *testing.T) {
	engine, rfps := newTestEngine(t)
	ctx := context.Background()

	subject := &rfp.RFP{TenantID: "acme", Title: "Network upgrade", AutoApprove: true, CreatedBy: 1}
	require.NoError(t, rfps.Create(ctx, subject))

	input := twoStageInput(TypeMultiLevel)
	input.RFPData = &RFPData{RFPID: subject.ID}
	_, err := engine.CreateWorkflow(ctx, "acme", 1, input)
	assert.ErrorIs(t, err, ErrWorkflowNotRequired)
}

func TestCreateWorkflowBindsSubject(t *testing.T) {
	engine, rfps := newTestEngine(t)
	ctx := context.Background()

	subject := &rfp.RFP{TenantID: "acme", Title: "Network upgrade", CreatedBy: 1}
	require.NoError(t, rfps.Create(ctx, subject))

	input := twoStageInput(TypeMultiLevel)
	input.RFPData = &RFPData{RFPID: subject.ID}
	result, err := engine.CreateWorkflow(ctx, "acme", 1, input)
	require.NoError(t, err)

	bound, err := rfps.Get(ctx, "acme", subject.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Workflow.WorkflowID, bound.WorkflowID)
}

func TestLinearApproval(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	result, err := engine.CreateWorkflow(ctx, "acme", 1, twoStageInput(TypeMultiLevel))
	require.NoError(t, err)
	require.Len(t, result.Requests, 1)
	require.Len(t, result.Stages, 2)

	req := result.Requests[0]
	stage1, stage2 := result.Stages[0], result.Stages[1]

	_, err = engine.CompleteStage(ctx, "acme", stage1.StageID, 10, TransitionInput{
		Status: DecisionApprove, Comments: "ok",
	})
	require.NoError(t, err)

	loaded, err := engine.Store().GetRequest(ctx, engine.Store().DB(), "acme", req.ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, RequestInProgress, loaded.OverallStatus)

	_, err = engine.CompleteStage(ctx, "acme", stage2.StageID, 20, TransitionInput{Status: DecisionApprove})
	require.NoError(t, err)

	loaded, err = engine.Store().GetRequest(ctx, engine.Store().DB(), "acme", req.ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, RequestApproved, loaded.OverallStatus)
	assert.NotNil(t, loaded.CompletionDate)

	versions, err := engine.Store().ListVersions(ctx, "acme", req.ApprovalID)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	current := 0
	for i, v := range versions {
		assert.Equal(t, i+1, v.VersionNumber)
		if v.IsCurrent {
			current++
		}
	}
	assert.Equal(t, 1, current)
	assert.Equal(t, VersionInitial, versions[0].VersionType)
	assert.Equal(t, VersionRevision, versions[1].VersionType)
	assert.Equal(t, VersionFinal, versions[2].VersionType)
	assert.True(t, versions[2].IsCurrent)

	comments, err := engine.Store().ListComments(ctx, "acme", req.ApprovalID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "ok", comments[0].CommentText)
	assert.Equal(t, CommentApprovalNote, comments[0].CommentType)
}

func TestRejectionShortCircuits(t *testing.T) {
	engine, rfps := newTestEngine(t)
	ctx := context.Background()

	subject := &rfp.RFP{TenantID: "acme", Title: "Network upgrade", CreatedBy: 1}
	require.NoError(t, rfps.Create(ctx, subject))

	input := twoStageInput(TypeMultiLevel)
	input.RFPData = &RFPData{RFPID: subject.ID}
	result, err := engine.CreateWorkflow(ctx, "acme", 1, input)
	require.NoError(t, err)

	stage1, stage2 := result.Stages[0], result.Stages[1]

	_, err = engine.CompleteStage(ctx, "acme", stage1.StageID, 10, TransitionInput{
		Status: DecisionRequestChanges, Comments: "missing figures",
	})
	require.NoError(t, err)

	loaded, err := engine.Store().GetRequest(ctx, engine.Store().DB(), "acme", result.Requests[0].ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, RequestRejected, loaded.OverallStatus)
	assert.NotNil(t, loaded.CompletionDate)

	// The rejected predecessor blocks the second reviewer
	_, err = engine.CompleteStage(ctx, "acme", stage2.StageID, 20, TransitionInput{Status: DecisionApprove})
	assert.ErrorIs(t, err, ErrPredecessorNotApproved)

	updated, err := rfps.Get(ctx, "acme", subject.ID)
	require.NoError(t, err)
	assert.Equal(t, rfp.StatusInReview, updated.Status)

	rejected, err := engine.Store().GetStage(ctx, engine.Store().DB(), "acme", stage1.StageID)
	require.NoError(t, err)
	assert.Equal(t, "missing figures", rejected.RejectionReason)
	assert.NotNil(t, rejected.CompletedAt)
}

func TestSequentialOrderEnforced(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	result, err := engine.CreateWorkflow(ctx, "acme", 1, twoStageInput(TypeMultiLevel))
	require.NoError(t, err)
	stage1, stage2 := result.Stages[0], result.Stages[1]

	_, err = engine.CompleteStage(ctx, "acme", stage2.StageID, 20, TransitionInput{Status: DecisionApprove})
	assert.ErrorIs(t, err, ErrPredecessorNotApproved)
	_, err = engine.StartStage(ctx, "acme", stage2.StageID, 20)
	assert.ErrorIs(t, err, ErrPredecessorNotApproved)

	_, err = engine.CompleteStage(ctx, "acme", stage1.StageID, 10, TransitionInput{Status: DecisionApprove})
	require.NoError(t, err)

	_, err = engine.CompleteStage(ctx, "acme", stage2.StageID, 20, TransitionInput{Status: DecisionApprove})
	assert.NoError(t, err)
}

func TestParallelCommittee(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	input := CreateWorkflowInput{
		WorkflowName: "Committee Evaluation",
		WorkflowType: TypeMultiPerson,
		StagesConfig: []StageConfig{
			{StageName: "Member A", AssignedUserID: 30},
			{StageName: "Member B", AssignedUserID: 31},
			{StageName: "Member C", AssignedUserID: 32},
		},
	}
	result, err := engine.CreateWorkflow(ctx, "acme", 1, input)
	require.NoError(t, err)
	require.Len(t, result.Requests, 1)
	require.Len(t, result.Stages, 3)
	for _, st := range result.Stages {
		assert.Equal(t, StageParallel, st.StageType)
		assert.Equal(t, 0, st.StageOrder)
	}

	req := result.Requests[0]

	// Members act in arbitrary order, no ordering constraint
	_, err = engine.CompleteStage(ctx, "acme", result.Stages[2].StageID, 32, TransitionInput{Status: DecisionApprove})
	require.NoError(t, err)
	_, err = engine.CompleteStage(ctx, "acme", result.Stages[0].StageID, 30, TransitionInput{Status: DecisionApprove})
	require.NoError(t, err)

	loaded, err := engine.Store().GetRequest(ctx, engine.Store().DB(), "acme", req.ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, RequestInProgress, loaded.OverallStatus)

	_, err = engine.CompleteStage(ctx, "acme", result.Stages[1].StageID, 31, TransitionInput{Status: DecisionApprove})
	require.NoError(t, err)

	loaded, err = engine.Store().GetRequest(ctx, engine.Store().DB(), "acme", req.ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, RequestApproved, loaded.OverallStatus)
}

func TestBulkProposalFanOut(t *testing.T) {
	engine, rfps := newTestEngine(t)
	ctx := context.Background()

	subject := &rfp.RFP{
		TenantID:          "acme",
		Title:             "Network upgrade",
		SelectedProposals: []string{"prop-1", "prop-2", "prop-3"},
		CreatedBy:         1,
	}
	require.NoError(t, rfps.Create(ctx, subject))

	input := twoStageInput(TypeMultiLevel)
	input.RFPData = &RFPData{RFPID: subject.ID}
	result, err := engine.CreateWorkflow(ctx, "acme", 1, input)
	require.NoError(t, err)

	require.Len(t, result.Requests, 3)
	require.Len(t, result.Stages, 6)
	for _, st := range result.Stages {
		assert.Equal(t, StageParallel, st.StageType)
	}

	// Each request's status is computed independently
	var first *ApprovalRequest
	for _, req := range result.Requests {
		if req.RequestData["proposal_id"] == "prop-1" {
			first = req
		}
	}
	require.NotNil(t, first)

	stages, err := engine.Store().ListStagesByApproval(ctx, engine.Store().DB(), "acme", first.ApprovalID)
	require.NoError(t, err)
	require.Len(t, stages, 2)
	for _, st := range stages {
		_, err = engine.CompleteStage(ctx, "acme", st.StageID, st.AssignedUserID, TransitionInput{Status: DecisionApprove})
		require.NoError(t, err)
	}

	loaded, err := engine.Store().GetRequest(ctx, engine.Store().DB(), "acme", first.ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, RequestApproved, loaded.OverallStatus)

	for _, req := range result.Requests {
		if req.ApprovalID == first.ApprovalID {
			continue
		}
		other, err := engine.Store().GetRequest(ctx, engine.Store().DB(), "acme", req.ApprovalID)
		require.NoError(t, err)
		assert.Equal(t, RequestPending, other.OverallStatus)
	}
}

func TestDuplicateTransitionIsStale(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	result, err := engine.CreateWorkflow(ctx, "acme", 1, twoStageInput(TypeMultiLevel))
	require.NoError(t, err)
	stage1 := result.Stages[0]

	_, err = engine.CompleteStage(ctx, "acme", stage1.StageID, 10, TransitionInput{Status: DecisionApprove})
	require.NoError(t, err)

	_, err = engine.CompleteStage(ctx, "acme", stage1.StageID, 10, TransitionInput{Status: DecisionApprove})
	assert.ErrorIs(t, err, ErrStaleState)
	_, err = engine.StartStage(ctx, "acme", stage1.StageID, 10)
	assert.ErrorIs(t, err, ErrStaleState)
}

func TestStartStagePromotesRequest(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	result, err := engine.CreateWorkflow(ctx, "acme", 1, twoStageInput(TypeMultiLevel))
	require.NoError(t, err)

	stage, err := engine.StartStage(ctx, "acme", result.Stages[0].StageID, 10)
	require.NoError(t, err)
	assert.Equal(t, StageInProgress, stage.StageStatus)
	assert.NotNil(t, stage.StartedAt)
	assert.Nil(t, stage.CompletedAt)

	loaded, err := engine.Store().GetRequest(ctx, engine.Store().DB(), "acme", result.Requests[0].ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, RequestInProgress, loaded.OverallStatus)
}

func TestSkippedStagesExcludedFromAggregation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	input := CreateWorkflowInput{
		WorkflowName: "Committee Evaluation",
		WorkflowType: TypeMultiPerson,
		StagesConfig: []StageConfig{
			{StageName: "Member A", AssignedUserID: 30},
			{StageName: "Member B", AssignedUserID: 31},
			{StageName: "Member C", AssignedUserID: 32},
		},
	}
	result, err := engine.CreateWorkflow(ctx, "acme", 1, input)
	require.NoError(t, err)

	_, err = engine.SkipStage(ctx, "acme", result.Stages[2].StageID, 1, "member unavailable")
	require.NoError(t, err)
	_, err = engine.CompleteStage(ctx, "acme", result.Stages[0].StageID, 30, TransitionInput{Status: DecisionApprove})
	require.NoError(t, err)
	_, err = engine.CompleteStage(ctx, "acme", result.Stages[1].StageID, 31, TransitionInput{Status: DecisionApprove})
	require.NoError(t, err)

	loaded, err := engine.Store().GetRequest(ctx, engine.Store().DB(), "acme", result.Requests[0].ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, RequestApproved, loaded.OverallStatus)
}

func TestPropagationApprovesSubject(t *testing.T) {
	engine, rfps := newTestEngine(t)
	ctx := context.Background()

	subject := &rfp.RFP{TenantID: "acme", Title: "Network upgrade", CreatedBy: 1}
	require.NoError(t, rfps.Create(ctx, subject))

	input := twoStageInput(TypeMultiLevel)
	input.RFPData = &RFPData{RFPID: subject.ID}
	result, err := engine.CreateWorkflow(ctx, "acme", 1, input)
	require.NoError(t, err)

	_, err = engine.CompleteStage(ctx, "acme", result.Stages[0].StageID, 10, TransitionInput{Status: DecisionApprove})
	require.NoError(t, err)
	_, err = engine.CompleteStage(ctx, "acme", result.Stages[1].StageID, 20, TransitionInput{Status: DecisionApprove})
	require.NoError(t, err)

	updated, err := rfps.Get(ctx, "acme", subject.ID)
	require.NoError(t, err)
	assert.Equal(t, rfp.StatusApproved, updated.Status)
	assert.Equal(t, int64(20), updated.ApprovedBy)
}

func TestVersionEmittedPerTransition(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	result, err := engine.CreateWorkflow(ctx, "acme", 1, twoStageInput(TypeMultiLevel))
	require.NoError(t, err)
	req := result.Requests[0]

	count := func() int {
		versions, err := engine.Store().ListVersions(ctx, "acme", req.ApprovalID)
		require.NoError(t, err)
		return len(versions)
	}
	require.Equal(t, 1, count())

	_, err = engine.StartStage(ctx, "acme", result.Stages[0].StageID, 10)
	require.NoError(t, err)
	require.Equal(t, 2, count())

	_, err = engine.CompleteStage(ctx, "acme", result.Stages[0].StageID, 10, TransitionInput{Status: DecisionApprove})
	require.NoError(t, err)
	require.Equal(t, 3, count())

	// A failed transition emits nothing
	_, err = engine.CompleteStage(ctx, "acme", result.Stages[0].StageID, 10, TransitionInput{Status: DecisionApprove})
	require.ErrorIs(t, err, ErrStaleState)
	require.Equal(t, 3, count())
}

func TestSweeperExpiresOverdueStages(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	input := CreateWorkflowInput{
		WorkflowName: "Committee Evaluation",
		WorkflowType: TypeMultiPerson,
		StagesConfig: []StageConfig{
			{StageName: "Member A", AssignedUserID: 30, DeadlineDate: &past},
			{StageName: "Member B", AssignedUserID: 31},
		},
	}
	result, err := engine.CreateWorkflow(ctx, "acme", 1, input)
	require.NoError(t, err)

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	sweeper := NewSweeper(engine, logger, "")
	sweeper.Sweep(ctx)

	expired, err := engine.Store().GetStage(ctx, engine.Store().DB(), "acme", result.Stages[0].StageID)
	require.NoError(t, err)
	assert.Equal(t, StageExpired, expired.StageStatus)

	untouched, err := engine.Store().GetStage(ctx, engine.Store().DB(), "acme", result.Stages[1].StageID)
	require.NoError(t, err)
	assert.Equal(t, StagePending, untouched.StageStatus)

	// An expired stage aggregates as unresolved-rejected
	loaded, err := engine.Store().GetRequest(ctx, engine.Store().DB(), "acme", result.Requests[0].ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, RequestRejected, loaded.OverallStatus)
}

func TestExtendedDeadlineDefersExpiry(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	input := twoStageInput(TypeMultiLevel)
	input.StagesConfig[0].DeadlineDate = &past
	result, err := engine.CreateWorkflow(ctx, "acme", 1, input)
	require.NoError(t, err)

	future := time.Now().UTC().Add(24 * time.Hour)
	require.NoError(t, engine.Store().ExtendStageDeadline(ctx, "acme", result.Stages[0].StageID, future, "reviewer on leave"))

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	NewSweeper(engine, logger, "").Sweep(ctx)

	stage, err := engine.Store().GetStage(ctx, engine.Store().DB(), "acme", result.Stages[0].StageID)
	require.NoError(t, err)
	assert.Equal(t, StagePending, stage.StageStatus)
	require.NotNil(t, stage.ExtendedDeadline)
	assert.Equal(t, "reviewer on leave", stage.ExtensionReason)
}

func TestExtendDeadlineRejectsTerminalStage(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	result, err := engine.CreateWorkflow(ctx, "acme", 1, twoStageInput(TypeMultiLevel))
	require.NoError(t, err)
	_, err = engine.CompleteStage(ctx, "acme", result.Stages[0].StageID, 10, TransitionInput{Status: DecisionApprove})
	require.NoError(t, err)

	err = engine.Store().ExtendStageDeadline(ctx, "acme", result.Stages[0].StageID, time.Now().UTC().Add(time.Hour), "")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestResolveBusinessObjectID(t *testing.T) {
	engine, rfps := newTestEngine(t)
	ctx := context.Background()

	subject := &rfp.RFP{TenantID: "acme", Title: "Network upgrade", CreatedBy: 1}
	require.NoError(t, rfps.Create(ctx, subject))

	input := twoStageInput(TypeMultiLevel)
	input.RFPData = &RFPData{RFPID: subject.ID}
	result, err := engine.CreateWorkflow(ctx, "acme", 1, input)
	require.NoError(t, err)

	id, err := engine.ResolveBusinessObjectID(ctx, "acme", result.Requests[0].ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, subject.ID, id)

	// Unresolvable links are not found, no time-window fallback
	bare, err := engine.CreateWorkflow(ctx, "acme", 1, twoStageInput(TypeMultiLevel))
	require.NoError(t, err)
	_, err = engine.ResolveBusinessObjectID(ctx, "acme", bare.Requests[0].ApprovalID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestTenantIsolation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	result, err := engine.CreateWorkflow(ctx, "acme", 1, twoStageInput(TypeMultiLevel))
	require.NoError(t, err)

	_, err = engine.Store().GetWorkflow(ctx, "globex", result.Workflow.WorkflowID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	_, err = engine.Store().GetRequest(ctx, engine.Store().DB(), "globex", result.Requests[0].ApprovalID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	_, err = engine.CompleteStage(ctx, "globex", result.Stages[0].StageID, 10, TransitionInput{Status: DecisionApprove})
	assert.ErrorIs(t, err, sql.ErrNoRows)

	workflows, err := engine.Store().ListWorkflows(ctx, "globex")
	require.NoError(t, err)
	assert.Empty(t, workflows)
}

func TestDeactivateWorkflowIsSoftDelete(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	result, err := engine.CreateWorkflow(ctx, "acme", 1, twoStageInput(TypeMultiLevel))
	require.NoError(t, err)

	require.NoError(t, engine.Store().DeactivateWorkflow(ctx, "acme", result.Workflow.WorkflowID))

	w, err := engine.Store().GetWorkflow(ctx, "acme", result.Workflow.WorkflowID)
	require.NoError(t, err)
	assert.False(t, w.IsActive)
}

func TestSkipStampsNoWorkTimestamps(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	result, err := engine.CreateWorkflow(ctx, "acme", 1, twoStageInput(TypeMultiLevel))
	require.NoError(t, err)

	skipped, err := engine.SkipStage(ctx, "acme", result.Stages[0].StageID, 1, "reviewer on leave")
	require.NoError(t, err)
	assert.Equal(t, StageSkipped, skipped.StageStatus)
	assert.Nil(t, skipped.StartedAt)
	assert.Nil(t, skipped.CompletedAt)

	stored, err := engine.Store().GetStage(ctx, engine.Store().DB(), "acme", skipped.StageID)
	require.NoError(t, err)
	assert.Nil(t, stored.StartedAt)
	assert.Nil(t, stored.CompletedAt)

	// SKIPPED stays terminal: no further transitions
	_, err = engine.StartStage(ctx, "acme", skipped.StageID, 10)
	assert.ErrorIs(t, err, ErrStaleState)

	// Worked terminal stages still carry completion times
	started, err := engine.StartStage(ctx, "acme", result.Stages[1].StageID, 20)
	require.NoError(t, err)
	require.NotNil(t, started.StartedAt)
	approved, err := engine.CompleteStage(ctx, "acme", started.StageID, 20, TransitionInput{Status: DecisionApprove})
	require.NoError(t, err)
	assert.NotNil(t, approved.CompletedAt)
}
