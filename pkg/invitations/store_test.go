package invitations

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-io/gatehouse/pkg/identity"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func invitationRows(inv *Invitation) *sqlmock.Rows {
	roleIDs := "["
	for i, id := range inv.ProposedRoleIDs {
		if i > 0 {
			roleIDs += ","
		}
		roleIDs += `"` + id + `"`
	}
	roleIDs += "]"
	return sqlmock.NewRows([]string{
		"id", "token", "tenant_id", "invited_email", "invited_username",
		"proposed_role_ids", "invited_by", "status", "created_at", "expires_at",
	}).AddRow(inv.ID, inv.Token, inv.TenantID, inv.InvitedEmail, inv.InvitedUsername,
		roleIDs, inv.InvitedBy, inv.Status, inv.CreatedAt, inv.ExpiresAt)
}

func pendingInvitation(expiresAt time.Time) *Invitation {
	return &Invitation{
		ID:              "inv-1",
		Token:           "tok-1",
		TenantID:        "t-1",
		InvitedEmail:    "alice@example.com",
		InvitedUsername: "alice",
		ProposedRoleIDs: []string{"r-1"},
		InvitedBy:       "admin-1",
		Status:          StatusPending,
		CreatedAt:       time.Now(),
		ExpiresAt:       expiresAt,
	}
}

func TestStoreInsertAndGetByToken(t *testing.T) {
	store, mock := newMockStore(t)
	inv := pendingInvitation(time.Now().Add(7 * 24 * time.Hour))

	mock.ExpectQuery(`INSERT INTO invitations`).
		WithArgs(inv.ID, inv.Token, inv.TenantID, inv.InvitedEmail, inv.InvitedUsername,
			`["r-1"]`, inv.InvitedBy, inv.Status, inv.ExpiresAt).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	require.NoError(t, store.Insert(context.Background(), inv))

	mock.ExpectQuery(`WHERE token = \$1`).
		WithArgs("tok-1").
		WillReturnRows(invitationRows(inv))

	got, err := store.GetByToken(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "inv-1", got.ID)
	assert.Equal(t, []string{"r-1"}, got.ProposedRoleIDs)
}

func TestStoreGetByTokenNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`WHERE token = \$1`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetByToken(context.Background(), "ghost")
	assert.ErrorIs(t, err, identity.ErrNotFound)
}

func TestStoreTransitionFromPending(t *testing.T) {
	t.Run("winner", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectExec(`UPDATE invitations SET status = \$2 WHERE token = \$1 AND status = 'pending'`).
			WithArgs("tok-1", StatusCancelled).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.TransitionFromPending(context.Background(), "tok-1", StatusCancelled))
	})

	t.Run("loser observes invalid state", func(t *testing.T) {
		store, mock := newMockStore(t)

		// The row left pending already; the conditional update matches nothing.
		mock.ExpectExec(`UPDATE invitations SET status = \$2 WHERE token = \$1 AND status = 'pending'`).
			WithArgs("tok-1", StatusAccepted).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.TransitionFromPending(context.Background(), "tok-1", StatusAccepted)
		assert.ErrorIs(t, err, identity.ErrInvalidState)
	})
}

func TestStoreReissue(t *testing.T) {
	t.Run("pending row updated", func(t *testing.T) {
		store, mock := newMockStore(t)
		newExpiry := time.Now().Add(7 * 24 * time.Hour)

		mock.ExpectExec(`UPDATE invitations SET token = \$2, expires_at = \$3 WHERE id = \$1 AND status = 'pending'`).
			WithArgs("inv-1", "tok-2", newExpiry).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.Reissue(context.Background(), "inv-1", "tok-2", newExpiry))
	})

	t.Run("terminal row is not found", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectExec(`UPDATE invitations SET token = \$2`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.Reissue(context.Background(), "inv-1", "tok-2", time.Now())
		assert.ErrorIs(t, err, identity.ErrNotFound)
	})
}

func TestStoreCleanupExpired(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec(`UPDATE invitations SET status = 'expired' WHERE status = 'pending' AND expires_at < \$1`).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	count, err := store.CleanupExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestProjectedStatus(t *testing.T) {
	expiresAt := time.Now()

	t.Run("pending before expiry", func(t *testing.T) {
		inv := pendingInvitation(expiresAt)
		assert.Equal(t, StatusPending, inv.ProjectedStatus(expiresAt.Add(-time.Second)))
	})

	t.Run("pending after expiry reads expired", func(t *testing.T) {
		inv := pendingInvitation(expiresAt)
		assert.Equal(t, StatusExpired, inv.ProjectedStatus(expiresAt.Add(time.Second)))
	})

	t.Run("terminal states are never projected", func(t *testing.T) {
		for _, status := range []Status{StatusAccepted, StatusExpired, StatusCancelled} {
			inv := pendingInvitation(expiresAt)
			inv.Status = status
			assert.Equal(t, status, inv.ProjectedStatus(expiresAt.Add(time.Hour)))
			assert.True(t, status.Terminal())
		}
	})
}

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken()
	require.NoError(t, err)
	b, err := GenerateToken()
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}
