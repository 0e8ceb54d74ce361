// Package capability implements PACE, the permission engine: a declarative
// catalog of boolean capability flags spanning the GRC business modules, a
// wide-table store keyed by (tenant_id, user_id), a cache layer with memory
// and redis backends, and the check engine with its administrative
// short-circuits.
//
// The catalog is the single source of truth for flag names, table columns,
// and module membership; the store's SQL and DDL are generated from it.
// Checks fail closed: a missing record, an inactive record, or an
// unrecognized capability name is a deny, never an error surfaced as a pass.
package capability
