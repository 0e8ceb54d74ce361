package capability

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pacehq/pace/pkg/audit"
	"github.com/pacehq/pace/pkg/observability"
)

// DeniedError carries the name of the denied capability so handlers can
// report it
type DeniedError struct {
	Capability string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("capability denied: %s", e.Capability)
}

// CheckRequest asks whether a user may perform a capability within a tenant.
// Exactly one of Capability, URL, or Feature must identify the capability;
// resolution order is Capability > URL > Feature.
type CheckRequest struct {
	TenantID     string `json:"tenant_id"`
	UserID       int64  `json:"user_id"`
	Capability   string `json:"capability,omitempty"`
	URL          string `json:"url,omitempty"`
	Feature      string `json:"feature,omitempty"`
	ForceRefresh bool   `json:"force_refresh,omitempty"`
}

// CheckResult is the outcome of a permission check
type CheckResult struct {
	Allowed    bool      `json:"allowed"`
	Capability string    `json:"capability,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// BulkCheckItem is one (module, operation) pair of a bulk check
type BulkCheckItem struct {
	Module    string `json:"module"`
	Operation string `json:"type"`
}

// BulkCheckResult is the per-pair outcome of a bulk check
type BulkCheckResult struct {
	Module    string `json:"module"`
	Operation string `json:"type"`
	Allowed   bool   `json:"allowed"`
}

// Engine answers "is user U permitted to perform capability C within tenant
// T?" in O(1) amortized time and fails closed on any uncertainty.
type Engine struct {
	store     *Store
	cache     Cache
	adminSeed map[string][]int64
	metrics   *observability.Metrics
	auditLog  audit.Logger
	group     singleflight.Group
}

// NewEngine creates the permission engine. adminSeed maps tenant IDs to user
// IDs treated as administrators regardless of their capability record.
func NewEngine(store *Store, cache Cache, adminSeed map[string][]int64, metrics *observability.Metrics, auditLog audit.Logger) *Engine {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	return &Engine{
		store:     store,
		cache:     cache,
		adminSeed: adminSeed,
		metrics:   metrics,
		auditLog:  auditLog,
	}
}

// Check resolves the requested capability and evaluates it against the
// user's capability matrix. Missing records, unknown capabilities, and
// inactive records all deny.
func (e *Engine) Check(ctx context.Context, req CheckRequest) (*CheckResult, error) {
	result := &CheckResult{CheckedAt: time.Now().UTC()}

	cap, err := Resolve(req.Capability, req.URL, req.Feature)
	if err != nil {
		result.Reason = "unknown_capability"
		e.count("", "denied")
		return result, nil
	}
	result.Capability = cap.FullName()

	if e.isSeedAdmin(req.TenantID, req.UserID) {
		result.Allowed = true
		result.Reason = "administrative seed"
		e.count(string(cap.Module), "allowed")
		return result, nil
	}

	record, err := e.loadRecord(ctx, req.TenantID, req.UserID, req.ForceRefresh)
	if err != nil {
		return nil, err
	}
	if record == nil || !record.IsActive {
		result.Reason = "no capability record"
		e.count(string(cap.Module), "denied")
		e.logDenied(ctx, req, cap)
		return result, nil
	}

	if record.IsAdmin() {
		result.Allowed = true
		result.Reason = fmt.Sprintf("administrative role: %s", record.Role)
		e.count(string(cap.Module), "allowed")
		return result, nil
	}

	if record.Has(cap.Column) {
		result.Allowed = true
		e.count(string(cap.Module), "allowed")
		return result, nil
	}

	result.Reason = "capability flag not set"
	e.count(string(cap.Module), "denied")
	e.logDenied(ctx, req, cap)
	return result, nil
}

// BulkCheck evaluates a list of (module, operation) pairs from a single
// capability-record read; no per-pair database trip.
func (e *Engine) BulkCheck(ctx context.Context, tenantID string, userID int64, items []BulkCheckItem) ([]BulkCheckResult, error) {
	record, err := e.loadRecord(ctx, tenantID, userID, false)
	if err != nil {
		return nil, err
	}

	seedAdmin := e.isSeedAdmin(tenantID, userID)
	active := record != nil && record.IsActive
	admin := seedAdmin || (active && record.IsAdmin())

	results := make([]BulkCheckResult, 0, len(items))
	for _, item := range items {
		outcome := BulkCheckResult{Module: item.Module, Operation: item.Operation}
		cap, ok := Lookup(item.Operation)
		if ok && string(cap.Module) == Normalize(item.Module) {
			if admin {
				outcome.Allowed = true
			} else if active {
				outcome.Allowed = record.Has(cap.Column)
			}
		}
		results = append(results, outcome)
	}
	return results, nil
}

// ModuleSummary returns the user's flags for one module, served from the
// module-scoped cache derivative when possible.
func (e *Engine) ModuleSummary(ctx context.Context, tenantID string, userID int64, module BusinessModule, forceRefresh bool) (map[string]bool, error) {
	if !forceRefresh {
		if summary, ok := e.cache.GetModuleSummary(ctx, tenantID, userID, module); ok {
			return summary, nil
		}
	}

	record, err := e.loadRecord(ctx, tenantID, userID, forceRefresh)
	if err != nil {
		return nil, err
	}

	admin := e.isSeedAdmin(tenantID, userID) || (record != nil && record.IsActive && record.IsAdmin())
	summary := make(map[string]bool, len(ByModule(module)))
	for _, cap := range ByModule(module) {
		if admin {
			summary[cap.Canonical] = true
		} else if record != nil && record.IsActive {
			summary[cap.Canonical] = record.Has(cap.Column)
		} else {
			summary[cap.Canonical] = false
		}
	}

	e.cache.SetModuleSummary(ctx, tenantID, userID, module, summary)
	return summary, nil
}

// Summary returns the caller's role and per-module flags
func (e *Engine) Summary(ctx context.Context, tenantID string, userID int64) (string, map[BusinessModule]map[string]bool, error) {
	record, err := e.loadRecord(ctx, tenantID, userID, false)
	if err != nil {
		return "", nil, err
	}

	role := ""
	if record != nil {
		role = record.Role
	}
	if e.isSeedAdmin(tenantID, userID) && role == "" {
		role = "Administrator"
	}

	modules := make(map[BusinessModule]map[string]bool, len(Modules()))
	for _, module := range Modules() {
		summary, err := e.ModuleSummary(ctx, tenantID, userID, module, false)
		if err != nil {
			return "", nil, err
		}
		modules[module] = summary
	}
	return role, modules, nil
}

// IsAdmin reports whether the user short-circuits permission checks, either
// through an administrative role or the configured seed set
func (e *Engine) IsAdmin(ctx context.Context, tenantID string, userID int64) (bool, error) {
	if e.isSeedAdmin(tenantID, userID) {
		return true, nil
	}
	record, err := e.loadRecord(ctx, tenantID, userID, false)
	if err != nil {
		return false, err
	}
	return record != nil && record.IsActive && record.IsAdmin(), nil
}

// Invalidate drops every cache entry that could contain stale permission
// data for the user
func (e *Engine) Invalidate(ctx context.Context, tenantID string, userID int64) error {
	return e.cache.Invalidate(ctx, tenantID, userID)
}

// loadRecord reads the capability record through the cache. forceRefresh
// bypasses the cache entirely and re-primes it; concurrent database loads
// for the same key collapse through singleflight.
func (e *Engine) loadRecord(ctx context.Context, tenantID string, userID int64, forceRefresh bool) (*Record, error) {
	if !forceRefresh {
		if record, ok := e.cache.GetRecord(ctx, tenantID, userID); ok {
			return record, nil
		}
	}

	key := recordKey(tenantID, userID)
	value, err, _ := e.group.Do(key, func() (interface{}, error) {
		record, err := e.store.Get(ctx, tenantID, userID)
		if err == sql.ErrNoRows {
			return (*Record)(nil), nil
		}
		if err != nil {
			return nil, err
		}
		return record, nil
	})
	if err != nil {
		return nil, err
	}

	record := value.(*Record)
	if record != nil {
		e.cache.SetRecord(ctx, record)
	}
	return record, nil
}

func (e *Engine) isSeedAdmin(tenantID string, userID int64) bool {
	for _, id := range e.adminSeed[tenantID] {
		if id == userID {
			return true
		}
	}
	return false
}

func (e *Engine) count(module, outcome string) {
	if e.metrics == nil {
		return
	}
	e.metrics.PermissionChecksTotal.WithLabelValues(module, outcome).Inc()
}

func (e *Engine) logDenied(ctx context.Context, req CheckRequest, cap Capability) {
	userID := req.UserID
	_ = e.auditLog.Log(ctx, &audit.AuditEvent{
		EventType:    audit.EventTypeAuthzDenied,
		Status:       audit.EventStatusDenied,
		TenantID:     req.TenantID,
		UserID:       &userID,
		ResourceType: "capability",
		ResourceID:   cap.FullName(),
		Message:      "capability check denied",
	})
}
