// Package accessrequest implements the human-in-the-loop grant pipeline: a
// user requests a capability they lack, an administrator decides, and an
// approval runs the atomic grant procedure: capability flip, cache
// invalidation, then a force-refreshed verification recorded in the
// request's audit trail.
package accessrequest
