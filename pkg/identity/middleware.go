package identity

import (
	"net/http"

	"github.com/pacehq/pace/pkg/contextkeys"
	"github.com/pacehq/pace/pkg/httputil"
)

// Middleware provides identity extraction middleware
type Middleware struct {
	extractor *Extractor
	optional  bool // If true, allow requests without an identity
}

// NewMiddleware creates identity middleware. When optional is true, requests
// without a resolvable identity pass through unauthenticated; the handler
// must apply its own fallback (access-request creation does).
func NewMiddleware(extractor *Extractor, optional bool) *Middleware {
	return &Middleware{
		extractor: extractor,
		optional:  optional,
	}
}

// Handler wraps an HTTP handler with identity extraction
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident, err := m.extractor.FromRequest(r, Options{})
		if err != nil {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "unauthenticated")
			return
		}

		ctx := contextkeys.WithIdentity(r.Context(), ident)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
