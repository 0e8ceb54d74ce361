package audit

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockLogger(t *testing.T) (*DBLogger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_logs").WillReturnResult(sqlmock.NewResult(0, 0))
	logger, err := NewDBLogger(db)
	require.NoError(t, err)
	return logger, mock
}

func TestLogInsertsEvent(t *testing.T) {
	logger, mock := newMockLogger(t)

	userID := int64(42)
	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(
			sqlmock.AnyArg(), EventTypeAuthzDenied, EventStatusDenied, "acme",
			&userID, "capability", "view_vendors", "denied", sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := logger.Log(context.Background(), &AuditEvent{
		EventType:    EventTypeAuthzDenied,
		Status:       EventStatusDenied,
		TenantID:     "acme",
		UserID:       &userID,
		ResourceType: "capability",
		ResourceID:   "view_vendors",
		Message:      "denied",
		Metadata:     map[string]interface{}{"module": "vendor"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogStampsTimestamp(t *testing.T) {
	logger, mock := newMockLogger(t)

	var stamped time.Time
	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	event := &AuditEvent{EventType: EventTypeWorkflowCreated, Status: EventStatusSuccess, TenantID: "acme"}
	require.NoError(t, logger.Log(context.Background(), event))
	stamped = event.Timestamp
	assert.False(t, stamped.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListScansEvents(t *testing.T) {
	logger, mock := newMockLogger(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "timestamp", "event_type", "status", "tenant_id",
		"user_id", "resource_type", "resource_id", "message", "metadata",
	}).AddRow(
		int64(1), now, string(EventTypeGrantVerification), string(EventStatusSuccess), "acme",
		int64(7), "access_request", "acr_1", "grant verification PASS", `{"verification":"PASS"}`,
	)
	mock.ExpectQuery("SELECT (.+) FROM audit_logs").
		WithArgs("acme", 100).
		WillReturnRows(rows)

	events, err := logger.List(context.Background(), "acme", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeGrantVerification, events[0].EventType)
	require.NotNil(t, events[0].UserID)
	assert.Equal(t, int64(7), *events[0].UserID)
	assert.Equal(t, "PASS", events[0].Metadata["verification"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewDBLoggerRequiresDatabase(t *testing.T) {
	_, err := NewDBLogger(nil)
	assert.Error(t, err)
}
