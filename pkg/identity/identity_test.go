package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pacehq/pace/pkg/contextkeys"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestBearerToken(t *testing.T) {
	extractor := NewExtractor(testSecret, "default")
	r := httptest.NewRequest(http.MethodGet, "/workflows", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{
		"user_id":   float64(42),
		"tenant_id": "acme",
		"exp":       time.Now().Add(time.Hour).Unix(),
	}))

	ident, err := extractor.FromRequest(r, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(42), ident.UserID)
	assert.Equal(t, "acme", ident.TenantID)
}

func TestUserIDClaimPriority(t *testing.T) {
	extractor := NewExtractor(testSecret, "default")

	// user_id wins over sub when both are present
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{
		"user_id": float64(42),
		"sub":     "99",
	}))
	ident, err := extractor.FromRequest(r, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(42), ident.UserID)

	// string sub decodes when it is the only claim
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{"sub": "99"}))
	ident, err = extractor.FromRequest(r, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(99), ident.UserID)
}

func TestSessionCookie(t *testing.T) {
	extractor := NewExtractor(testSecret, "default")
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{
		Name:  SessionCookieName,
		Value: signToken(t, jwt.MapClaims{"user_id": float64(7), "tenant_id": "acme"}),
	})

	ident, err := extractor.FromRequest(r, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(7), ident.UserID)
}

func TestTenantResolutionOrder(t *testing.T) {
	extractor := NewExtractor(testSecret, "default")

	// Header wins when the token has no tenant claim
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{"user_id": float64(1)}))
	r.Header.Set("X-Tenant-ID", "globex")
	ident, err := extractor.FromRequest(r, Options{})
	require.NoError(t, err)
	assert.Equal(t, "globex", ident.TenantID)

	// Configured default when neither claim nor header is present
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{"user_id": float64(1)}))
	ident, err = extractor.FromRequest(r, Options{})
	require.NoError(t, err)
	assert.Equal(t, "default", ident.TenantID)
}

func TestForgedTokenRejected(t *testing.T) {
	extractor := NewExtractor(testSecret, "default")
	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": float64(1)})
	signed, err := forged.SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+signed)
	_, err = extractor.FromRequest(r, Options{})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestParamFallbackRequiresWhitelist(t *testing.T) {
	extractor := NewExtractor(testSecret, "default")
	r := httptest.NewRequest(http.MethodPost, "/access-requests", nil)

	_, err := extractor.FromRequest(r, Options{FallbackUserID: 42})
	assert.ErrorIs(t, err, ErrUnauthenticated)

	ident, err := extractor.FromRequest(r, Options{AllowParamFallback: true, FallbackUserID: 42})
	require.NoError(t, err)
	assert.Equal(t, int64(42), ident.UserID)
	assert.Equal(t, "default", ident.TenantID)
}

func TestMiddlewareAttachesIdentity(t *testing.T) {
	extractor := NewExtractor(testSecret, "default")
	mw := NewMiddleware(extractor, false)

	var got *Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{"user_id": float64(5), "tenant_id": "acme"}))
	w := httptest.NewRecorder()
	mw.Handler(next).ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, got)
	assert.Equal(t, int64(5), got.UserID)
}

func TestMiddlewareRejectsWhenRequired(t *testing.T) {
	extractor := NewExtractor(testSecret, "default")

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	NewMiddleware(extractor, false).Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run")
	})).ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Optional mode lets the request through unauthenticated
	called := false
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	w = httptest.NewRecorder()
	NewMiddleware(extractor, true).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Nil(t, FromContext(r.Context()))
	})).ServeHTTP(w, r)
	assert.True(t, called)
}

func TestTrustedContextIdentityWins(t *testing.T) {
	extractor := NewExtractor(testSecret, "default")
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := contextkeys.WithIdentity(r.Context(), &Identity{UserID: 3, TenantID: "acme"})

	ident, err := extractor.FromRequest(r.WithContext(ctx), Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), ident.UserID)
}
