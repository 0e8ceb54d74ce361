package capability

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pacehq/pace/pkg/httputil"
	"github.com/pacehq/pace/pkg/identity"
	"github.com/pacehq/pace/pkg/observability"
)

// Handler exposes the permission-check HTTP surface
type Handler struct {
	engine *Engine
	logger *observability.Logger
}

// NewHandler creates a permission handler
func NewHandler(engine *Engine, logger *observability.Logger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

// RegisterRoutes mounts the permission endpoints on the router
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/permissions", h.Summary).Methods(http.MethodGet)
	router.HandleFunc("/permissions/bulk", h.BulkCheck).Methods(http.MethodPost)
	router.HandleFunc("/permissions/{module}", h.CheckOne).Methods(http.MethodGet)
}

// Summary returns the caller's role and full per-module capability summary
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromContext(r.Context())
	if ident == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	role, modules, err := h.engine.Summary(r.Context(), ident.TenantID, ident.UserID)
	if err != nil {
		h.logger.WithError(err).Error("failed to load permission summary")
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"user_id":     ident.UserID,
		"tenant_id":   ident.TenantID,
		"role":        role,
		"permissions": modules,
	})
}

// CheckOne evaluates a single capability identified by module plus the
// permission_type query parameter. A feature or url query parameter is
// accepted as an alternative identification; force_refresh=true bypasses
// the cache.
func (h *Handler) CheckOne(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromContext(r.Context())
	if ident == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	module := mux.Vars(r)["module"]
	permissionType := r.URL.Query().Get("permission_type")
	feature := r.URL.Query().Get("feature")
	url := r.URL.Query().Get("url")
	forceRefresh := r.URL.Query().Get("force_refresh") == "true"

	name := permissionType
	if name != "" && module != "" {
		if cap, ok := Lookup(permissionType); ok && string(cap.Module) != Normalize(module) {
			httputil.WriteValidationError(w, "permission does not belong to module")
			return
		}
	}
	if name == "" && url == "" && feature == "" {
		httputil.WriteValidationError(w, "permission_type, url, or feature is required")
		return
	}

	result, err := h.engine.Check(r.Context(), CheckRequest{
		TenantID:     ident.TenantID,
		UserID:       ident.UserID,
		Capability:   name,
		URL:          url,
		Feature:      feature,
		ForceRefresh: forceRefresh,
	})
	if err != nil {
		h.logger.WithError(err).Error("permission check failed")
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, result)
}

// BulkCheck evaluates many (module, type) pairs in one request
func (h *Handler) BulkCheck(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromContext(r.Context())
	if ident == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var body struct {
		Permissions []BulkCheckItem `json:"permissions"`
	}
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	if len(body.Permissions) == 0 {
		httputil.WriteValidationError(w, "permissions list is required")
		return
	}

	results, err := h.engine.BulkCheck(r.Context(), ident.TenantID, ident.UserID, body.Permissions)
	if err != nil {
		h.logger.WithError(err).Error("bulk permission check failed")
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{"results": results})
}
