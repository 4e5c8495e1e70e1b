package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockLogger(t *testing.T) (*Logger, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewLogger(db, nil), mock
}

func TestLoggerRecord(t *testing.T) {
	logger, mock := newMockLogger(t)

	mock.ExpectExec(`INSERT INTO audit_logs`).
		WithArgs(sqlmock.AnyArg(), "t-1", "admin-1", ActionInvitationCreate, "invitation", "inv-1", `{"email":"alice@example.com"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	logger.Record(context.Background(), Entry{
		TenantID:   "t-1",
		ActorID:    "admin-1",
		Action:     ActionInvitationCreate,
		TargetType: "invitation",
		TargetID:   "inv-1",
		Detail:     map[string]any{"email": "alice@example.com"},
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoggerRecordSwallowsWriteFailure(t *testing.T) {
	logger, mock := newMockLogger(t)

	mock.ExpectExec(`INSERT INTO audit_logs`).
		WillReturnError(assert.AnError)

	// Must not panic or propagate.
	logger.Record(context.Background(), Entry{
		Action:     ActionRoleAssign,
		TargetType: "role_assignment",
	})
}

func TestLoggerListByTenant(t *testing.T) {
	logger, mock := newMockLogger(t)

	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "actor_id", "action", "target_type", "target_id", "detail", "created_at",
	}).AddRow("a-1", "t-1", "admin-1", "invitation.cancel", "invitation", "inv-1", `{"reason":"requested"}`, time.Now())

	mock.ExpectQuery(`FROM audit_logs`).
		WithArgs("t-1", 100).
		WillReturnRows(rows)

	entries, err := logger.ListByTenant(context.Background(), "t-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ActionInvitationCancel, entries[0].Action)
	assert.Equal(t, "requested", entries[0].Detail["reason"])
}
