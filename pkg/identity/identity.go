package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"github.com/pacehq/pace/pkg/contextkeys"
)

// ErrUnauthenticated is returned when no channel yields an identity
var ErrUnauthenticated = errors.New("unauthenticated")

// SessionCookieName carries the session token, encoded the same way as the
// bearer token
const SessionCookieName = "pace_session"

// userIDClaims are probed in order; the first claim that decodes to a
// non-empty integer wins
var userIDClaims = []string{"user_id", "id", "userid", "sub", "userId"}

// Identity is the resolved caller: a user within a tenant.
//
// Role assertions in the token are never trusted; capabilities are always
// re-read from the capability store.
type Identity struct {
	UserID   int64  `json:"user_id"`
	TenantID string `json:"tenant_id"`
}

// Extractor resolves (user_id, tenant_id) from an inbound request
type Extractor struct {
	secret        []byte
	defaultTenant string
}

// NewExtractor creates an identity extractor with the token signing secret
func NewExtractor(jwtSecret string, defaultTenant string) *Extractor {
	return &Extractor{
		secret:        []byte(jwtSecret),
		defaultTenant: defaultTenant,
	}
}

// Options controls per-handler extraction behavior
type Options struct {
	// AllowParamFallback accepts an explicit user_id parameter when token
	// and session extraction fail. Access-request creation is the sole
	// whitelisted caller.
	AllowParamFallback bool
	// FallbackUserID is the explicit parameter value supplied by the caller
	FallbackUserID int64
}

// FromContext returns the identity attached to the context, or nil
func FromContext(ctx context.Context) *Identity {
	ident, ok := ctx.Value(contextkeys.IdentityKey).(*Identity)
	if !ok {
		return nil
	}
	return ident
}

// FromRequest resolves the caller identity in priority order: trusted
// context identity, bearer token, session cookie, then the explicit
// parameter fallback when whitelisted.
func (e *Extractor) FromRequest(r *http.Request, opts Options) (*Identity, error) {
	// 1. Trusted identity attached by an upstream authenticator
	if ident := FromContext(r.Context()); ident != nil {
		return ident, nil
	}

	// 2. Signed bearer token
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			if ident, err := e.fromToken(r, parts[1]); err == nil {
				return ident, nil
			}
		}
	}

	// 3. Session-attached identity
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		if ident, err := e.fromToken(r, cookie.Value); err == nil {
			return ident, nil
		}
	}

	// 4. Explicit user_id parameter, only when the handler whitelists it
	if opts.AllowParamFallback && opts.FallbackUserID > 0 {
		return &Identity{
			UserID:   opts.FallbackUserID,
			TenantID: e.tenantFor(r, nil),
		}, nil
	}

	return nil, ErrUnauthenticated
}

// fromToken validates the signed token and extracts the user and tenant
func (e *Extractor) fromToken(r *http.Request, raw string) (*Identity, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return e.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrUnauthenticated
	}

	userID := userIDFromClaims(claims)
	if userID == 0 {
		return nil, ErrUnauthenticated
	}

	return &Identity{
		UserID:   userID,
		TenantID: e.tenantFor(r, claims),
	}, nil
}

// tenantFor resolves the tenant: token claim, then header, then the
// configured default
func (e *Extractor) tenantFor(r *http.Request, claims jwt.MapClaims) string {
	if claims != nil {
		if tenant, ok := claims["tenant_id"].(string); ok && tenant != "" {
			return tenant
		}
	}
	if tenant := r.Header.Get("X-Tenant-ID"); tenant != "" {
		return tenant
	}
	return e.defaultTenant
}

// userIDFromClaims probes the recognized user-id claims in priority order
func userIDFromClaims(claims jwt.MapClaims) int64 {
	for _, name := range userIDClaims {
		raw, ok := claims[name]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case float64:
			if v > 0 {
				return int64(v)
			}
		case string:
			if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
				return id
			}
		}
	}
	return 0
}
