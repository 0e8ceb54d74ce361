package accessrequest

import (
	"context"
	"fmt"
	"time"

	"github.com/pacehq/pace/pkg/audit"
	"github.com/pacehq/pace/pkg/capability"
	"github.com/pacehq/pace/pkg/observability"
)

// CreateInput is the access-request submission payload
type CreateInput struct {
	RequestedURL       string `json:"requested_url,omitempty"`
	RequestedFeature   string `json:"requested_feature,omitempty"`
	RequiredPermission string `json:"required_permission,omitempty"`
	RequestedRole      string `json:"requested_role,omitempty"`
	Message            string `json:"message,omitempty"`
}

// Service implements the access-request pipeline: submission, admin
// decision, and the atomic grant-and-verify procedure.
type Service struct {
	store       *Store
	caps        *capability.Store
	engine      *capability.Engine
	dedupWindow time.Duration
	logger      *observability.Logger
	metrics     *observability.Metrics
	auditLog    audit.Logger
}

// NewService creates the access-request service
func NewService(store *Store, caps *capability.Store, engine *capability.Engine, dedupWindow time.Duration, logger *observability.Logger, metrics *observability.Metrics, auditLog audit.Logger) *Service {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	return &Service{
		store:       store,
		caps:        caps,
		engine:      engine,
		dedupWindow: dedupWindow,
		logger:      logger,
		metrics:     metrics,
		auditLog:    auditLog,
	}
}

// Create submits a new access request. Duplicate submissions for the same
// target inside the dedup window are suppressed: the existing request comes
// back with alreadyAdded true.
func (s *Service) Create(ctx context.Context, tenantID string, userID int64, input CreateInput) (*AccessRequest, bool, error) {
	request := &AccessRequest{
		TenantID:           tenantID,
		UserID:             userID,
		RequestedURL:       input.RequestedURL,
		RequestedFeature:   input.RequestedFeature,
		RequiredPermission: input.RequiredPermission,
		RequestedRole:      input.RequestedRole,
		Message:            input.Message,
		Status:             StatusRequested,
	}

	if s.dedupWindow > 0 {
		existing, err := s.store.FindRecentDuplicate(ctx, request, time.Now().UTC().Add(-s.dedupWindow))
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, true, nil
		}
	}

	request.AuditTrail = []AuditEntry{{
		Timestamp: time.Now().UTC(),
		Action:    "submitted",
		ActorID:   userID,
		Detail:    input.Message,
	}}
	if err := s.store.Create(ctx, request); err != nil {
		return nil, false, err
	}

	s.logEvent(ctx, audit.EventTypeAccessRequestCreated, tenantID, userID, request.ID, "access request submitted")
	return request, false, nil
}

// List returns the requests visible to the caller: administrators see the
// whole tenant, everyone else sees only their own regardless of the
// requested user id.
func (s *Service) List(ctx context.Context, tenantID string, callerID, targetUserID int64) ([]*AccessRequest, error) {
	admin, err := s.engine.IsAdmin(ctx, tenantID, callerID)
	if err != nil {
		return nil, err
	}
	if admin {
		if targetUserID > 0 && targetUserID != callerID {
			return s.store.ListByUser(ctx, tenantID, targetUserID)
		}
		return s.store.ListByTenant(ctx, tenantID)
	}
	return s.store.ListByUser(ctx, tenantID, callerID)
}

// Decide applies an administrator's terminal decision. Approvals run the
// grant procedure; rejections never touch the capability store.
func (s *Service) Decide(ctx context.Context, tenantID string, adminID int64, requestID string, decision Status) (*AccessRequest, error) {
	if decision != StatusApproved && decision != StatusRejected {
		return nil, fmt.Errorf("invalid decision status: %s", decision)
	}

	admin, err := s.engine.IsAdmin(ctx, tenantID, adminID)
	if err != nil {
		return nil, err
	}
	if !admin {
		return nil, ErrNotAdmin
	}

	request, err := s.store.Get(ctx, tenantID, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status != StatusRequested {
		return nil, ErrAlreadyDecided
	}

	now := time.Now().UTC()
	request.ApprovedBy = &adminID

	if decision == StatusRejected {
		request.Status = StatusRejected
		request.AuditTrail = append(request.AuditTrail, AuditEntry{
			Timestamp: now, Action: "rejected", ActorID: adminID,
		})
		if err := s.store.UpdateDecision(ctx, request); err != nil {
			return nil, err
		}
		s.logEvent(ctx, audit.EventTypeAccessRequestDecided, tenantID, adminID, request.ID, "access request rejected")
		return request, nil
	}

	if err := s.grant(ctx, request, adminID); err != nil {
		return nil, err
	}

	request.Status = StatusApproved
	request.AuditTrail = append(request.AuditTrail, AuditEntry{
		Timestamp: time.Now().UTC(), Action: "approved", ActorID: adminID,
	})
	if err := s.store.UpdateDecision(ctx, request); err != nil {
		return nil, err
	}
	s.logEvent(ctx, audit.EventTypeAccessRequestDecided, tenantID, adminID, request.ID, "access request approved")
	return request, nil
}

// grant executes the grant procedure: resolve, ensure, set flag, set role,
// commit, invalidate, then verify with a forced refresh. Verification
// failure never rolls back; it marks the trail for operators.
func (s *Service) grant(ctx context.Context, request *AccessRequest, adminID int64) error {
	now := func() time.Time { return time.Now().UTC() }

	cap, resolveErr := capability.Resolve(request.RequiredPermission, request.RequestedURL, request.RequestedFeature)
	resolved := resolveErr == nil
	if resolved {
		request.AuditTrail = append(request.AuditTrail, AuditEntry{
			Timestamp: now(), Action: "capability_resolved", ActorID: adminID, Detail: cap.FullName(),
		})
	} else {
		// The grant proceeds for the role change alone
		request.AuditTrail = append(request.AuditTrail, AuditEntry{
			Timestamp: now(), Action: "capability_unresolved", ActorID: adminID,
		})
	}

	tx, err := s.caps.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin grant transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.caps.Ensure(ctx, tx, request.TenantID, request.UserID, request.RequestedRole); err != nil {
		return err
	}
	if resolved {
		if err := s.caps.SetFlag(ctx, tx, request.TenantID, request.UserID, cap.Column, true); err != nil {
			return err
		}
		request.AuditTrail = append(request.AuditTrail, AuditEntry{
			Timestamp: now(), Action: "flag_granted", ActorID: adminID, Detail: cap.Column,
		})
	}
	if request.RequestedRole != "" {
		if err := s.caps.SetRole(ctx, tx, request.TenantID, request.UserID, request.RequestedRole); err != nil {
			return err
		}
		request.AuditTrail = append(request.AuditTrail, AuditEntry{
			Timestamp: now(), Action: "role_granted", ActorID: adminID, Detail: request.RequestedRole,
		})
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit grant: %w", err)
	}

	// Invalidation strictly between commit and verification; verifying
	// against a stale cache would produce false negatives
	if err := s.engine.Invalidate(ctx, request.TenantID, request.UserID); err != nil {
		s.logger.WithError(err).Warn("failed to invalidate capability cache after grant")
	}

	verification := s.verify(ctx, request, cap, resolved)
	request.AuditTrail = append(request.AuditTrail, AuditEntry{
		Timestamp: now(), Action: "verification", ActorID: adminID, Detail: verification,
	})
	if s.metrics != nil {
		s.metrics.CapabilityGrantsTotal.WithLabelValues(verification).Inc()
	}
	s.logEvent(ctx, audit.EventTypeGrantVerification, request.TenantID, adminID, request.ID, "grant verification "+verification)
	if verification == VerificationFailed {
		s.logger.WithFields(map[string]interface{}{
			"tenant_id": request.TenantID,
			"user_id":   request.UserID,
			"request":   request.ID,
		}).Error("post-grant verification failed; cache invalidation may be incomplete")
	}
	return nil
}

// verify re-reads the granted capability through the permission engine with
// a forced refresh
func (s *Service) verify(ctx context.Context, request *AccessRequest, cap capability.Capability, resolved bool) string {
	if !resolved {
		// Nothing to prove beyond the role change
		return VerificationPartial
	}
	result, err := s.engine.Check(ctx, capability.CheckRequest{
		TenantID:     request.TenantID,
		UserID:       request.UserID,
		Capability:   cap.FullName(),
		ForceRefresh: true,
	})
	if err != nil {
		s.logger.WithError(err).Warn("post-grant verification check failed")
		return VerificationFailed
	}
	if result.Allowed {
		return VerificationPass
	}
	return VerificationFailed
}

// Get loads one request within the tenant
func (s *Service) Get(ctx context.Context, tenantID, id string) (*AccessRequest, error) {
	return s.store.Get(ctx, tenantID, id)
}

func (s *Service) logEvent(ctx context.Context, eventType audit.EventType, tenantID string, userID int64, resourceID, message string) {
	uid := userID
	if err := s.auditLog.Log(ctx, &audit.AuditEvent{
		EventType:    eventType,
		Status:       audit.EventStatusSuccess,
		TenantID:     tenantID,
		UserID:       &uid,
		ResourceType: "access_request",
		ResourceID:   resourceID,
		Message:      message,
	}); err != nil {
		s.logger.WithError(err).Warn("failed to write audit event")
	}
}
