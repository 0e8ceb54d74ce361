// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// IdentityKey contains *identity.Identity
	// Set by: identity.Middleware (pkg/identity/middleware.go)
	// Required by: all protected endpoints, tenant guard, PACE middleware
	IdentityKey Key = "identity"

	// TenantKey contains the tenant ID string
	// Set by: tenancy.Middleware (pkg/tenancy/guard.go)
	// Required by: every store read/write
	TenantKey Key = "tenant_id"

	// RequestIDKey contains request ID string (UUID)
	// Set by: observability middleware
	// Used by: logger, audit trail
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: observability middleware
	// Used by: handlers that need structured logging with request context
	LoggerKey Key = "logger"
)

// WithIdentity adds the resolved identity to the context
func WithIdentity(ctx context.Context, ident interface{}) context.Context {
	return context.WithValue(ctx, IdentityKey, ident)
}

// WithTenant adds the tenant ID to the context
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantKey, tenantID)
}

// WithRequestID adds the request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithLogger adds the logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetTenant retrieves the tenant ID from context
func GetTenant(ctx context.Context) string {
	if tenantID, ok := ctx.Value(TenantKey).(string); ok {
		return tenantID
	}
	return ""
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
