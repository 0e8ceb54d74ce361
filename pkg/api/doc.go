// Package api assembles the HTTP surface: the gorilla/mux router, the
// middleware chain (recovery, metrics, identity, tenant stamping) and the
// per-route capability guards in front of the domain handlers.
package api
