// Package workflow implements the approval workflow engine: the durable
// workflow/request/stage/comment/version graph, the stage state machine with
// sequential and parallel semantics, request status aggregation, version
// snapshots on every transition, and propagation of terminal outcomes to the
// bound business object.
//
// Every domain mutation runs in a single transaction. Stage transitions lock
// the stage and its owning request row; concurrent transitions on the same
// stage resolve to one success and one stale_state.
package workflow
