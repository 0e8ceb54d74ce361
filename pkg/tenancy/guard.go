// Package tenancy enforces tenant isolation. Every read filters on the
// caller's tenant_id and every write stamps it; a handler that cannot
// determine the tenant fails with ErrNoTenant.
package tenancy

import (
	"context"
	"errors"
	"net/http"

	"github.com/pacehq/pace/pkg/contextkeys"
	"github.com/pacehq/pace/pkg/httputil"
	"github.com/pacehq/pace/pkg/identity"
	"github.com/pacehq/pace/pkg/observability"
)

// ErrNoTenant is returned when the tenant cannot be determined
var ErrNoTenant = errors.New("no_tenant")

// FromContext returns the tenant ID stamped on the context
func FromContext(ctx context.Context) (string, error) {
	tenantID := contextkeys.GetTenant(ctx)
	if tenantID == "" {
		return "", ErrNoTenant
	}
	return tenantID, nil
}

// Middleware stamps the caller's tenant into the request context. It must
// run after identity extraction.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident := identity.FromContext(r.Context())
		if ident == nil || ident.TenantID == "" {
			httputil.WriteBadRequest(w, ErrNoTenant.Error())
			return
		}
		ctx := contextkeys.WithTenant(r.Context(), ident.TenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LogCrossTenantRead records a permitted cross-tenant read fallback. Such
// fallbacks are read-only and narrowly documented; writes never cross
// tenants.
func LogCrossTenantRead(logger *observability.Logger, callerTenant, recordTenant, resource string) {
	if logger == nil {
		return
	}
	logger.WithFields(map[string]interface{}{
		"caller_tenant": callerTenant,
		"record_tenant": recordTenant,
		"resource":      resource,
	}).Warn("cross-tenant read fallback")
}
