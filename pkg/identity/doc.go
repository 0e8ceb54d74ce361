// Package identity resolves the caller's (user_id, tenant_id) pair from an
// inbound request.
//
// Resolution order:
//
//  1. Trusted identity already attached to the request context by an
//     upstream authenticator.
//  2. A signed token in an "Authorization: Bearer <token>" header. The token
//     must carry at least one of the claims user_id | id | userid | sub |
//     userId; the first one that decodes to a non-empty integer wins.
//  3. Session-attached identity (the pace_session cookie, same encoding).
//  4. An explicit user_id parameter, accepted only when the handler
//     whitelists the fallback via Options.AllowParamFallback.
//
// The extractor never trusts a role assertion inside the token; roles and
// capabilities are always re-read from the capability store.
package identity
