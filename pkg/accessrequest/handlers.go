package accessrequest

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pacehq/pace/pkg/httputil"
	"github.com/pacehq/pace/pkg/identity"
	"github.com/pacehq/pace/pkg/observability"
	"github.com/pacehq/pace/pkg/tenancy"
)

// Handler exposes the access-request HTTP surface
type Handler struct {
	service   *Service
	extractor *identity.Extractor
	logger    *observability.Logger
}

// NewHandler creates an access-request handler
func NewHandler(service *Service, extractor *identity.Extractor, logger *observability.Logger) *Handler {
	return &Handler{service: service, extractor: extractor, logger: logger}
}

// RegisterRoutes mounts the access-request endpoints. Creation goes on the
// open router because it supports the user_id body fallback when token
// extraction fails; the rest require an authenticated identity in context.
func (h *Handler) RegisterRoutes(open, authed *mux.Router) {
	open.HandleFunc("/access-requests", h.Create).Methods(http.MethodPost)
	authed.HandleFunc("/access-requests/{user_id}", h.List).Methods(http.MethodGet)
	authed.HandleFunc("/access-requests/{id}/status", h.Decide).Methods(http.MethodPut)
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		httputil.WriteNotFoundError(w, "not found")
	case errors.Is(err, ErrAlreadyDecided):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrNotAdmin):
		httputil.WriteForbidden(w, err.Error())
	default:
		h.logger.WithError(err).Error("access request operation failed")
		httputil.WriteInternalError(w, err)
	}
}

// Create submits an access request. This is the sole handler that accepts
// the explicit user_id parameter fallback when token extraction fails.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CreateInput
		UserID int64 `json:"user_id,omitempty"`
	}
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}

	ident, err := h.extractor.FromRequest(r, identity.Options{
		AllowParamFallback: true,
		FallbackUserID:     body.UserID,
	})
	if err != nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	// The fallback may resolve a user without a tenant; nothing is ever
	// persisted unstamped
	if ident.TenantID == "" {
		httputil.WriteBadRequest(w, tenancy.ErrNoTenant.Error())
		return
	}

	request, alreadyAdded, err := h.service.Create(r.Context(), ident.TenantID, ident.UserID, body.CreateInput)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	if alreadyAdded {
		httputil.WriteSuccess(w, map[string]interface{}{
			"request":       request,
			"already_added": true,
		})
		return
	}
	httputil.WriteCreated(w, map[string]interface{}{"request": request})
}

// List returns the requests the caller may see
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromContext(r.Context())
	if ident == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	targetUserID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	requests, err := h.service.List(r.Context(), ident.TenantID, ident.UserID, targetUserID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"requests": requests})
}

// Decide applies an administrator's decision to a request
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromContext(r.Context())
	if ident == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	id := mux.Vars(r)["id"]

	var body struct {
		Status Status `json:"status"`
		UserID int64  `json:"user_id,omitempty"`
	}
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	if body.Status != StatusApproved && body.Status != StatusRejected {
		httputil.WriteValidationError(w, "status must be APPROVED or REJECTED")
		return
	}

	request, err := h.service.Decide(r.Context(), ident.TenantID, ident.UserID, id, body.Status)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"request": request})
}
