// Package observability provides structured logging, Prometheus metrics,
// and panic recovery for the PACE service.
//
// The Logger wraps stdlib slog with a JSON handler and a chained
// WithField/WithFields/WithError API. Metrics cover the HTTP surface, the
// permission engine (check outcomes, cache hits/misses/invalidations) and
// the workflow engine (stage transitions, version emission).
package observability
