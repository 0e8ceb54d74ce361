package capability

import (
	"net/http"

	"github.com/pacehq/pace/pkg/httputil"
	"github.com/pacehq/pace/pkg/identity"
	"github.com/pacehq/pace/pkg/observability"
)

// RequireCapability guards a route with a named capability. The caller
// identity must already be attached to the request context; checks fail
// closed, so an engine error is a 403, not a pass-through.
func RequireCapability(engine *Engine, logger *observability.Logger, name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident := identity.FromContext(r.Context())
			if ident == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			result, err := engine.Check(r.Context(), CheckRequest{
				TenantID:   ident.TenantID,
				UserID:     ident.UserID,
				Capability: name,
			})
			if err != nil {
				logger.WithError(err).WithFields(map[string]interface{}{
					"tenant_id":  ident.TenantID,
					"user_id":    ident.UserID,
					"capability": name,
				}).Error("permission check failed")
				httputil.WriteForbidden(w, "permission check failed")
				return
			}
			if !result.Allowed {
				httputil.WriteForbidden(w, (&DeniedError{Capability: result.Capability}).Error())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireURLCapability guards a route by resolving the request path through
// the route table instead of a declared capability name.
func RequireURLCapability(engine *Engine, logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident := identity.FromContext(r.Context())
			if ident == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			result, err := engine.Check(r.Context(), CheckRequest{
				TenantID: ident.TenantID,
				UserID:   ident.UserID,
				URL:      r.URL.Path,
			})
			if err != nil {
				logger.WithError(err).WithField("path", r.URL.Path).Error("permission check failed")
				httputil.WriteForbidden(w, "permission check failed")
				return
			}
			if !result.Allowed {
				httputil.WriteForbidden(w, (&DeniedError{Capability: result.Capability}).Error())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
