package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// DBLogger implements audit logging to the relational database
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-based audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{db: db}
	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_logs table: %w", err)
	}
	return logger, nil
}

// ensureTable creates the audit_logs table if it doesn't exist
func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		tenant_id VARCHAR(64) NOT NULL,
		user_id BIGINT,
		resource_type VARCHAR(50),
		resource_id VARCHAR(255),
		message TEXT,
		metadata TEXT,
		created_at TIMESTAMP NOT NULL
	)`

	_, err := l.db.Exec(query)
	return err
}

// Log writes an audit event to the database. Audit failures are the
// caller's to log; they never fail the domain mutation.
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	var metadataJSON []byte
	if event.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (timestamp, event_type, status, tenant_id, user_id, resource_type, resource_id, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := l.db.ExecContext(ctx, query,
		event.Timestamp,
		event.EventType,
		event.Status,
		event.TenantID,
		event.UserID,
		event.ResourceType,
		event.ResourceID,
		event.Message,
		nullableString(metadataJSON),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// List returns recent events for a tenant, newest first
func (l *DBLogger) List(ctx context.Context, tenantID string, limit int) ([]*AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT id, timestamp, event_type, status, tenant_id, user_id, resource_type, resource_id, message, metadata
		FROM audit_logs
		WHERE tenant_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`
	rows, err := l.db.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*AuditEvent
	for rows.Next() {
		var event AuditEvent
		var userID sql.NullInt64
		var metadataJSON sql.NullString
		err := rows.Scan(
			&event.ID, &event.Timestamp, &event.EventType, &event.Status,
			&event.TenantID, &userID, &event.ResourceType, &event.ResourceID,
			&event.Message, &metadataJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if userID.Valid {
			id := userID.Int64
			event.UserID = &id
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &event.Metadata); err != nil {
				event.Metadata = nil
			}
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}

func nullableString(data []byte) interface{} {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}
