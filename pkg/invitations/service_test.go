package invitations

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-io/gatehouse/pkg/identity"
	"github.com/gatehouse-io/gatehouse/pkg/observability"
	"github.com/gatehouse-io/gatehouse/pkg/rbac"
	"github.com/gatehouse-io/gatehouse/pkg/tenants"
	"github.com/gatehouse-io/gatehouse/pkg/users"
)

type stubHasher struct{}

func (stubHasher) Hash(password string) (string, error) {
	return "hashed:" + password, nil
}

type recordingNotifier struct {
	invitations   chan string
	verifications chan string
	err           error
}

func newRecordingNotifier(err error) *recordingNotifier {
	return &recordingNotifier{
		invitations:   make(chan string, 4),
		verifications: make(chan string, 4),
		err:           err,
	}
}

func (n *recordingNotifier) SendInvitation(_ context.Context, email, _ string, _ tenants.TenantRef) error {
	n.invitations <- email
	return n.err
}

func (n *recordingNotifier) SendEmailVerification(_ context.Context, email, _ string) error {
	n.verifications <- email
	return n.err
}

type serviceFixture struct {
	svc  *Service
	mock sqlmock.Sqlmock
	now  time.Time
}

func newFixture(t *testing.T, notifier Notifier, opts ...ServiceOption) *serviceFixture {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	base := []ServiceOption{WithClock(func() time.Time { return now })}
	svc := NewService(
		NewStore(db),
		NewTokenStore(db),
		tenants.NewStore(db),
		users.NewStore(db),
		rbac.NewManager(rbac.NewStore(db)),
		notifier,
		stubHasher{},
		append(base, opts...)...,
	)
	return &serviceFixture{svc: svc, mock: mock, now: now}
}

func adminRow(id, tenantID string, isAdmin, isActive bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "username", "email", "password_hash", "first_name", "last_name",
		"is_active", "is_tenant_admin", "email_verified", "account_locked",
		"failed_login_attempts", "invitation_state", "created_at", "updated_at",
	}).AddRow(id, tenantID, "admin", "admin@example.com", "hash", nil, nil,
		isActive, isAdmin, true, false, 0, "none", time.Now(), time.Now())
}

func expectAdminLookup(mock sqlmock.Sqlmock, id, tenantID string) {
	mock.ExpectQuery(`FROM users WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(adminRow(id, tenantID, true, true))
}

func TestServiceInvite(t *testing.T) {
	validReq := InviteRequest{
		TenantID:  "t-1",
		InvitedBy: "admin-1",
		Email:     "Alice@Example.com",
		Username:  "alice",
		RoleIDs:   []string{"r-1"},
	}

	t.Run("success", func(t *testing.T) {
		f := newFixture(t, nil)

		expectAdminLookup(f.mock, "admin-1", "t-1")
		f.mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs("alice", "alice@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		f.mock.ExpectQuery(`FROM roles WHERE id = \$1`).
			WithArgs("r-1").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "name", "description", "permissions", "is_active", "created_at", "updated_at",
			}).AddRow("r-1", "member", nil, `[]`, true, time.Now(), time.Now()))
		f.mock.ExpectQuery(`INSERT INTO invitations`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(f.now))

		ref, err := f.svc.Invite(context.Background(), validReq)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, ref.Status)
		assert.Equal(t, f.now.Add(7*24*time.Hour), ref.ExpiresAt)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("non-admin is forbidden", func(t *testing.T) {
		f := newFixture(t, nil)

		f.mock.ExpectQuery(`FROM users WHERE id = \$1`).
			WithArgs("user-1").
			WillReturnRows(adminRow("user-1", "t-1", false, true))

		req := validReq
		req.InvitedBy = "user-1"
		_, err := f.svc.Invite(context.Background(), req)
		assert.ErrorIs(t, err, identity.ErrForbidden)
	})

	t.Run("cross-tenant admin is forbidden", func(t *testing.T) {
		f := newFixture(t, nil)

		f.mock.ExpectQuery(`FROM users WHERE id = \$1`).
			WithArgs("admin-1").
			WillReturnRows(adminRow("admin-1", "t-other", true, true))

		_, err := f.svc.Invite(context.Background(), validReq)
		assert.ErrorIs(t, err, identity.ErrForbidden)
	})

	t.Run("taken username or email", func(t *testing.T) {
		f := newFixture(t, nil)

		expectAdminLookup(f.mock, "admin-1", "t-1")
		f.mock.ExpectQuery(`SELECT EXISTS`).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		_, err := f.svc.Invite(context.Background(), validReq)
		assert.ErrorIs(t, err, identity.ErrValidation)
	})

	t.Run("bad email", func(t *testing.T) {
		f := newFixture(t, nil)

		req := validReq
		req.Email = "not-an-email"
		_, err := f.svc.Invite(context.Background(), req)
		assert.ErrorIs(t, err, identity.ErrValidation)
	})

	t.Run("email dispatch failure does not fail the invite", func(t *testing.T) {
		notifier := newRecordingNotifier(errors.New("smtp down"))
		f := newFixture(t, notifier)
		f.mock.MatchExpectationsInOrder(false)

		expectAdminLookup(f.mock, "admin-1", "t-1")
		f.mock.ExpectQuery(`SELECT EXISTS`).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		f.mock.ExpectQuery(`FROM roles WHERE id = \$1`).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "name", "description", "permissions", "is_active", "created_at", "updated_at",
			}).AddRow("r-1", "member", nil, `[]`, true, time.Now(), time.Now()))
		f.mock.ExpectQuery(`INSERT INTO invitations`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(f.now))
		// The dispatch goroutine looks up the tenant for email context.
		f.mock.ExpectQuery(`FROM tenants WHERE id = \$1`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := f.svc.Invite(context.Background(), validReq)
		require.NoError(t, err)

		select {
		case email := <-notifier.invitations:
			assert.Equal(t, "alice@example.com", email)
		case <-time.After(2 * time.Second):
			t.Fatal("invitation email was never dispatched")
		}
	})
}

func TestServiceLookup(t *testing.T) {
	t.Run("pending just before expiry", func(t *testing.T) {
		f := newFixture(t, nil)
		inv := pendingInvitation(f.now.Add(time.Second))

		f.mock.ExpectQuery(`WHERE token = \$1`).
			WithArgs("tok-1").
			WillReturnRows(invitationRows(inv))

		ref, err := f.svc.Lookup(context.Background(), "tok-1")
		require.NoError(t, err)
		assert.Equal(t, StatusPending, ref.Status)
	})

	t.Run("pending just after expiry projects expired", func(t *testing.T) {
		f := newFixture(t, nil)
		inv := pendingInvitation(f.now.Add(-time.Second))

		f.mock.ExpectQuery(`WHERE token = \$1`).
			WithArgs("tok-1").
			WillReturnRows(invitationRows(inv))

		ref, err := f.svc.Lookup(context.Background(), "tok-1")
		require.NoError(t, err)
		assert.Equal(t, StatusExpired, ref.Status)
	})

	t.Run("unknown token", func(t *testing.T) {
		f := newFixture(t, nil)

		f.mock.ExpectQuery(`WHERE token = \$1`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := f.svc.Lookup(context.Background(), "ghost")
		assert.ErrorIs(t, err, identity.ErrNotFound)
	})
}

func validAccept() AcceptRequest {
	return AcceptRequest{
		Token:                "tok-1",
		Password:             "correct horse battery",
		PasswordConfirmation: "correct horse battery",
		FirstName:            "Alice",
		LastName:             "Smith",
	}
}

func TestServiceAccept(t *testing.T) {
	t.Run("success activates user and grants roles atomically", func(t *testing.T) {
		f := newFixture(t, nil, WithActivateOnAccept(true))
		inv := pendingInvitation(f.now.Add(24 * time.Hour))

		f.mock.ExpectQuery(`WHERE token = \$1`).
			WithArgs("tok-1").
			WillReturnRows(invitationRows(inv))
		f.mock.ExpectBegin()
		f.mock.ExpectExec(`UPDATE invitations SET status = \$2 WHERE token = \$1 AND status = 'pending'`).
			WithArgs("tok-1", StatusAccepted).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectQuery(`INSERT INTO users`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(f.now, f.now))
		f.mock.ExpectQuery(`INSERT INTO role_assignments`).
			WillReturnRows(sqlmock.NewRows([]string{"assigned_at"}).AddRow(f.now))
		f.mock.ExpectCommit()

		ref, err := f.svc.Accept(context.Background(), validAccept())
		require.NoError(t, err)
		assert.Equal(t, "t-1", ref.TenantID)
		assert.Equal(t, "alice", ref.Username)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("inactive-until-verified issues a verification token", func(t *testing.T) {
		notifier := newRecordingNotifier(nil)
		f := newFixture(t, notifier, WithActivateOnAccept(false))
		inv := pendingInvitation(f.now.Add(24 * time.Hour))

		f.mock.ExpectQuery(`WHERE token = \$1`).
			WillReturnRows(invitationRows(inv))
		f.mock.ExpectBegin()
		f.mock.ExpectExec(`UPDATE invitations SET status`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectQuery(`INSERT INTO users`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(f.now, f.now))
		f.mock.ExpectQuery(`INSERT INTO role_assignments`).
			WillReturnRows(sqlmock.NewRows([]string{"assigned_at"}).AddRow(f.now))
		f.mock.ExpectQuery(`INSERT INTO verification_tokens`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(f.now))
		f.mock.ExpectCommit()

		_, err := f.svc.Accept(context.Background(), validAccept())
		require.NoError(t, err)

		select {
		case email := <-notifier.verifications:
			assert.Equal(t, "alice@example.com", email)
		case <-time.After(2 * time.Second):
			t.Fatal("verification email was never dispatched")
		}
	})

	t.Run("unknown token is not found, nothing written", func(t *testing.T) {
		f := newFixture(t, nil)

		f.mock.ExpectQuery(`WHERE token = \$1`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := f.svc.Accept(context.Background(), validAccept())
		assert.ErrorIs(t, err, identity.ErrNotFound)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("storage failure is counted as an error, not a miss", func(t *testing.T) {
		metrics := observability.NewMetrics()
		f := newFixture(t, nil, WithMetrics(metrics))

		f.mock.ExpectQuery(`WHERE token = \$1`).
			WillReturnError(errors.New("connection reset by peer"))

		_, err := f.svc.Accept(context.Background(), validAccept())
		require.Error(t, err)
		assert.NotErrorIs(t, err, identity.ErrNotFound)

		expected := `
# HELP gatehouse_invitations_total Invitation lifecycle events by action and outcome
# TYPE gatehouse_invitations_total counter
gatehouse_invitations_total{action="accept",outcome="error"} 1
`
		require.NoError(t, testutil.GatherAndCompare(
			metrics.Registry(), strings.NewReader(expected), "gatehouse_invitations_total"))
	})

	t.Run("cancelled invitation is invalid state", func(t *testing.T) {
		f := newFixture(t, nil)
		inv := pendingInvitation(f.now.Add(24 * time.Hour))
		inv.Status = StatusCancelled

		f.mock.ExpectQuery(`WHERE token = \$1`).
			WillReturnRows(invitationRows(inv))

		_, err := f.svc.Accept(context.Background(), validAccept())
		assert.ErrorIs(t, err, identity.ErrInvalidState)
	})

	t.Run("expired invitation creates no user", func(t *testing.T) {
		f := newFixture(t, nil)
		inv := pendingInvitation(f.now.Add(-time.Second))

		f.mock.ExpectQuery(`WHERE token = \$1`).
			WillReturnRows(invitationRows(inv))

		_, err := f.svc.Accept(context.Background(), validAccept())
		assert.ErrorIs(t, err, identity.ErrExpired)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("password validation", func(t *testing.T) {
		cases := []struct {
			name     string
			password string
			confirm  string
		}{
			{"mismatch", "correct horse battery", "wrong horse"},
			{"too short", "short", "short"},
			{"too long", string(make([]byte, 129)), string(make([]byte, 129))},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				f := newFixture(t, nil)
				inv := pendingInvitation(f.now.Add(24 * time.Hour))

				f.mock.ExpectQuery(`WHERE token = \$1`).
					WillReturnRows(invitationRows(inv))

				req := validAccept()
				req.Password = tc.password
				req.PasswordConfirmation = tc.confirm
				_, err := f.svc.Accept(context.Background(), req)
				assert.ErrorIs(t, err, identity.ErrValidation)
			})
		}
	})

	t.Run("concurrent double-accept loser gets invalid state", func(t *testing.T) {
		f := newFixture(t, nil, WithActivateOnAccept(true))
		inv := pendingInvitation(f.now.Add(24 * time.Hour))

		f.mock.ExpectQuery(`WHERE token = \$1`).
			WillReturnRows(invitationRows(inv))
		f.mock.ExpectBegin()
		// The winner flipped the status between our read and our update.
		f.mock.ExpectExec(`UPDATE invitations SET status`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		f.mock.ExpectRollback()

		_, err := f.svc.Accept(context.Background(), validAccept())
		assert.ErrorIs(t, err, identity.ErrInvalidState)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("no proposed roles falls back to the default role", func(t *testing.T) {
		f := newFixture(t, nil, WithActivateOnAccept(true))
		inv := pendingInvitation(f.now.Add(24 * time.Hour))
		inv.ProposedRoleIDs = nil

		f.mock.ExpectQuery(`WHERE token = \$1`).
			WillReturnRows(invitationRows(inv))
		f.mock.ExpectQuery(`FROM roles WHERE name = \$1`).
			WithArgs(rbac.DefaultRoleName).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "name", "description", "permissions", "is_active", "created_at", "updated_at",
			}).AddRow("r-default", "member", nil, `[]`, true, time.Now(), time.Now()))
		f.mock.ExpectBegin()
		f.mock.ExpectExec(`UPDATE invitations SET status`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectQuery(`INSERT INTO users`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(f.now, f.now))
		f.mock.ExpectQuery(`INSERT INTO role_assignments`).
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "r-default", "admin-1", nil).
			WillReturnRows(sqlmock.NewRows([]string{"assigned_at"}).AddRow(f.now))
		f.mock.ExpectCommit()

		_, err := f.svc.Accept(context.Background(), validAccept())
		require.NoError(t, err)
	})
}

func TestServiceResend(t *testing.T) {
	t.Run("reissues fresh token", func(t *testing.T) {
		f := newFixture(t, nil)
		inv := pendingInvitation(f.now.Add(time.Hour))

		expectAdminLookup(f.mock, "admin-1", "t-1")
		f.mock.ExpectQuery(`AND invited_email = \$2 AND status = 'pending'`).
			WithArgs("t-1", "alice@example.com").
			WillReturnRows(invitationRows(inv))
		f.mock.ExpectExec(`UPDATE invitations SET token = \$2, expires_at = \$3`).
			WithArgs("inv-1", sqlmock.AnyArg(), f.now.Add(7*24*time.Hour)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ref, err := f.svc.Resend(context.Background(), "t-1", "admin-1", "Alice@Example.com")
		require.NoError(t, err)
		assert.Equal(t, f.now.Add(7*24*time.Hour), ref.ExpiresAt)
	})

	t.Run("no pending invitation", func(t *testing.T) {
		f := newFixture(t, nil)

		expectAdminLookup(f.mock, "admin-1", "t-1")
		f.mock.ExpectQuery(`AND invited_email = \$2 AND status = 'pending'`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := f.svc.Resend(context.Background(), "t-1", "admin-1", "gone@example.com")
		assert.ErrorIs(t, err, identity.ErrNotFound)
	})
}

func TestServiceCancel(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := newFixture(t, nil)
		inv := pendingInvitation(f.now.Add(time.Hour))

		expectAdminLookup(f.mock, "admin-1", "t-1")
		f.mock.ExpectQuery(`WHERE token = \$1`).
			WillReturnRows(invitationRows(inv))
		f.mock.ExpectExec(`UPDATE invitations SET status`).
			WithArgs("tok-1", StatusCancelled).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, f.svc.Cancel(context.Background(), "t-1", "admin-1", "tok-1"))
	})

	t.Run("already terminal is not found", func(t *testing.T) {
		f := newFixture(t, nil)
		inv := pendingInvitation(f.now.Add(time.Hour))

		expectAdminLookup(f.mock, "admin-1", "t-1")
		f.mock.ExpectQuery(`WHERE token = \$1`).
			WillReturnRows(invitationRows(inv))
		f.mock.ExpectExec(`UPDATE invitations SET status`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := f.svc.Cancel(context.Background(), "t-1", "admin-1", "tok-1")
		assert.ErrorIs(t, err, identity.ErrNotFound)
	})

	t.Run("other tenant's invitation is forbidden", func(t *testing.T) {
		f := newFixture(t, nil)
		inv := pendingInvitation(f.now.Add(time.Hour))
		inv.TenantID = "t-other"

		expectAdminLookup(f.mock, "admin-1", "t-1")
		f.mock.ExpectQuery(`WHERE token = \$1`).
			WillReturnRows(invitationRows(inv))

		err := f.svc.Cancel(context.Background(), "t-1", "admin-1", "tok-1")
		assert.ErrorIs(t, err, identity.ErrForbidden)
	})
}

func TestServiceCleanupExpired(t *testing.T) {
	f := newFixture(t, nil)

	f.mock.ExpectExec(`UPDATE invitations SET status = 'expired'`).
		WithArgs(f.now).
		WillReturnResult(sqlmock.NewResult(0, 5))

	count, err := f.svc.CleanupExpired(context.Background(), f.now)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}
