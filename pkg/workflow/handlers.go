package workflow

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/pacehq/pace/pkg/httputil"
	"github.com/pacehq/pace/pkg/identity"
	"github.com/pacehq/pace/pkg/observability"
	"github.com/pacehq/pace/pkg/tenancy"
)

// Handler exposes the workflow HTTP surface
type Handler struct {
	engine *Engine
	logger *observability.Logger
}

// NewHandler creates a workflow handler
func NewHandler(engine *Engine, logger *observability.Logger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

// Guard wraps a route handler with an access check
type Guard func(http.Handler) http.Handler

func guarded(g Guard, fn http.HandlerFunc) http.Handler {
	if g == nil {
		return fn
	}
	return g(fn)
}

// RegisterRoutes mounts the workflow endpoints on the router. Workflow
// creation and listing require viewRFP; request creation and stage
// transitions require approveRFP. Nil guards leave routes authenticated-only.
func (h *Handler) RegisterRoutes(router *mux.Router, viewRFP, approveRFP Guard) {
	router.Handle("/workflows", guarded(viewRFP, h.CreateWorkflow)).Methods(http.MethodPost)
	router.Handle("/workflows", guarded(viewRFP, h.ListWorkflows)).Methods(http.MethodGet)
	router.HandleFunc("/workflows/{id}", h.GetWorkflow).Methods(http.MethodGet)
	router.HandleFunc("/workflows/{id}", h.UpdateWorkflow).Methods(http.MethodPatch)
	router.HandleFunc("/workflows/{id}", h.DeactivateWorkflow).Methods(http.MethodDelete)

	router.Handle("/approval-requests", guarded(approveRFP, h.CreateRequest)).Methods(http.MethodPost)
	router.HandleFunc("/approval-requests", h.ListRequests).Methods(http.MethodGet)
	router.HandleFunc("/approval-requests/{id}/comments", h.ListComments).Methods(http.MethodGet)
	router.HandleFunc("/approval-requests/{id}/versions", h.ListVersions).Methods(http.MethodGet)

	router.HandleFunc("/stages", h.ListStages).Methods(http.MethodGet)
	router.HandleFunc("/stages", h.CreateStage).Methods(http.MethodPost)
	router.HandleFunc("/stages/user/{user_id}", h.ListUserStages).Methods(http.MethodGet)
	router.Handle("/stages/{id}/start", guarded(approveRFP, h.StartStage)).Methods(http.MethodPost)
	router.Handle("/stages/{id}/status", guarded(approveRFP, h.CompleteStage)).Methods(http.MethodPost)
	router.HandleFunc("/stages/{id}/extend", h.ExtendStage).Methods(http.MethodPost)

	router.HandleFunc("/approval/{approval_id}/rfp-id", h.ResolveRFPID).Methods(http.MethodGet)
}

// writeDomainError maps domain errors onto the HTTP status table
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		httputil.WriteNotFoundError(w, "not found")
	case errors.Is(err, ErrTooFewStages),
		errors.Is(err, ErrWorkflowNotRequired),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrPredecessorNotApproved),
		errors.Is(err, ErrStaleState):
		httputil.WriteBadRequest(w, err.Error())
	default:
		h.logger.WithError(err).Error("workflow operation failed")
		httputil.WriteInternalError(w, err)
	}
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (*identity.Identity, string, bool) {
	ident := identity.FromContext(r.Context())
	if ident == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil, "", false
	}
	tenantID, err := tenancy.FromContext(r.Context())
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return nil, "", false
	}
	return ident, tenantID, true
}

// CreateWorkflow creates a workflow and fans out requests and stages
func (h *Handler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	ident, tenantID, ok := h.caller(w, r)
	if !ok {
		return
	}

	var input CreateWorkflowInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}
	if !httputil.RequireNonEmpty(w, input.WorkflowName, "workflow_name") {
		return
	}

	result, err := h.engine.CreateWorkflow(r.Context(), tenantID, ident.UserID, input)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, result)
}

// ListWorkflows returns the tenant's workflows
func (h *Handler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	_, tenantID, ok := h.caller(w, r)
	if !ok {
		return
	}
	workflows, err := h.engine.Store().ListWorkflows(r.Context(), tenantID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"workflows": workflows})
}

// GetWorkflow returns one workflow
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	_, tenantID, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	workflow, err := h.engine.Store().GetWorkflow(r.Context(), tenantID, id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, workflow)
}

// UpdateWorkflow patches workflow metadata
func (h *Handler) UpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	_, tenantID, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var body struct {
		WorkflowName *string `json:"workflow_name"`
		IsActive     *bool   `json:"is_active"`
	}
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}

	if err := h.engine.Store().UpdateWorkflow(r.Context(), tenantID, id, body.WorkflowName, body.IsActive); err != nil {
		h.writeDomainError(w, err)
		return
	}
	workflow, err := h.engine.Store().GetWorkflow(r.Context(), tenantID, id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, workflow)
}

// DeactivateWorkflow is the soft delete
func (h *Handler) DeactivateWorkflow(w http.ResponseWriter, r *http.Request) {
	_, tenantID, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.engine.Store().DeactivateWorkflow(r.Context(), tenantID, id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"workflow_id": id, "is_active": false})
}

// CreateRequest creates an approval request under an existing workflow
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	ident, tenantID, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req ApprovalRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.RequesterID == 0 {
		req.RequesterID = ident.UserID
	}

	created, err := h.engine.CreateRequest(r.Context(), tenantID, &req)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, created)
}

// ListRequests returns the tenant's approval requests, optionally filtered
// by workflow
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	_, tenantID, ok := h.caller(w, r)
	if !ok {
		return
	}
	workflowID := httputil.ParseQueryString(r, "workflow_id", "")
	requests, err := h.engine.Store().ListRequests(r.Context(), tenantID, workflowID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"requests": requests})
}

// ListComments returns a request's comment thread
func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	_, tenantID, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	comments, err := h.engine.Store().ListComments(r.Context(), tenantID, id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"comments": comments})
}

// ListVersions returns a request's version history
func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	_, tenantID, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	versions, err := h.engine.Store().ListVersions(r.Context(), tenantID, id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"versions": versions})
}

// ListStages returns stages, optionally filtered by approval request
func (h *Handler) ListStages(w http.ResponseWriter, r *http.Request) {
	_, tenantID, ok := h.caller(w, r)
	if !ok {
		return
	}
	approvalID := httputil.ParseQueryString(r, "approval_id", "")

	var stages []*ApprovalStage
	var err error
	if approvalID != "" {
		stages, err = h.engine.Store().ListStagesByApproval(r.Context(), h.engine.Store().DB(), tenantID, approvalID)
	} else {
		stages, err = h.engine.Store().ListStagesByTenant(r.Context(), tenantID)
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"stages": stages})
}

// CreateStage adds a stage to an approval request
func (h *Handler) CreateStage(w http.ResponseWriter, r *http.Request) {
	_, tenantID, ok := h.caller(w, r)
	if !ok {
		return
	}

	var stage ApprovalStage
	if !httputil.ParseJSONOrError(w, r, &stage) {
		return
	}

	created, err := h.engine.CreateStage(r.Context(), tenantID, &stage)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, created)
}

// ListUserStages returns the stages assigned to a user
func (h *Handler) ListUserStages(w http.ResponseWriter, r *http.Request) {
	_, tenantID, ok := h.caller(w, r)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	stages, err := h.engine.Store().ListStagesByUser(r.Context(), tenantID, userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"stages": stages})
}

// StartStage transitions a stage to IN_PROGRESS
func (h *Handler) StartStage(w http.ResponseWriter, r *http.Request) {
	ident, tenantID, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	stage, err := h.engine.StartStage(r.Context(), tenantID, id, ident.UserID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, stage)
}

// CompleteStage applies a terminal transition to a stage
func (h *Handler) CompleteStage(w http.ResponseWriter, r *http.Request) {
	ident, tenantID, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var input TransitionInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	stage, err := h.engine.CompleteStage(r.Context(), tenantID, id, ident.UserID, input)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, stage)
}

// ExtendStage grants a deadline extension on a non-terminal stage
func (h *Handler) ExtendStage(w http.ResponseWriter, r *http.Request) {
	_, tenantID, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var body struct {
		ExtendedDeadline time.Time `json:"extended_deadline"`
		Reason           string    `json:"reason"`
	}
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	if body.ExtendedDeadline.IsZero() {
		httputil.WriteValidationError(w, "extended_deadline is required")
		return
	}

	if err := h.engine.Store().ExtendStageDeadline(r.Context(), tenantID, id, body.ExtendedDeadline.UTC(), body.Reason); err != nil {
		h.writeDomainError(w, err)
		return
	}
	stage, err := h.engine.Store().GetStage(r.Context(), h.engine.Store().DB(), tenantID, id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, stage)
}

// ResolveRFPID maps an approval request to its business object id
func (h *Handler) ResolveRFPID(w http.ResponseWriter, r *http.Request) {
	_, tenantID, ok := h.caller(w, r)
	if !ok {
		return
	}
	approvalID, ok := httputil.ParsePathStringOrError(w, r, "approval_id")
	if !ok {
		return
	}

	rfpID, err := h.engine.ResolveBusinessObjectID(r.Context(), tenantID, approvalID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"approval_id": approvalID, "rfp_id": rfpID})
}
