package audit

import (
	"context"
	"encoding/json"
	"time"
)

// EventType categorizes audit events
type EventType string

const (
	EventTypeAuthzDenied            EventType = "authz.capability_denied"
	EventTypeAuthzGranted           EventType = "authz.capability_granted"
	EventTypeGrantVerification      EventType = "authz.grant_verification"
	EventTypeAccessRequestCreated   EventType = "access_request.created"
	EventTypeAccessRequestDecided   EventType = "access_request.decided"
	EventTypeWorkflowCreated        EventType = "workflow.created"
	EventTypeStageTransitioned      EventType = "workflow.stage_transitioned"
	EventTypeBusinessObjectUpdated  EventType = "workflow.business_object_updated"
)

// EventStatus is the outcome recorded with an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// AuditEvent is one audit log record
type AuditEvent struct {
	ID           int64                  `json:"id,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
	EventType    EventType              `json:"event_type"`
	Status       EventStatus            `json:"status"`
	TenantID     string                 `json:"tenant_id"`
	UserID       *int64                 `json:"user_id,omitempty"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	Message      string                 `json:"message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON serializes the event
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON deserializes an event
func FromJSON(data []byte) (*AuditEvent, error) {
	var event AuditEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// Logger records audit events
type Logger interface {
	Log(ctx context.Context, event *AuditEvent) error
}

// NopLogger discards events; used in tests and when auditing is disabled
type NopLogger struct{}

func (NopLogger) Log(ctx context.Context, event *AuditEvent) error { return nil }
