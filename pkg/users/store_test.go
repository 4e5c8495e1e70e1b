package users

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
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

func validRequest() CreateUserRequest {
	return CreateUserRequest{
		TenantID:     "t-1",
		Username:     "alice",
		Email:        "Alice@Example.com",
		PasswordHash: "$argon2id$...",
		FirstName:    "Alice",
		LastName:     "Smith",
		IsActive:     true,
	}
}

func TestStoreCreate(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery(`INSERT INTO users`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).
				AddRow(time.Now(), time.Now()))

		user, err := store.Create(context.Background(), validRequest())
		require.NoError(t, err)
		assert.NotEmpty(t, user.ID)
		assert.Equal(t, "alice", user.Username)
		assert.Equal(t, "alice@example.com", user.Email)
		assert.Equal(t, InvitationStateNone, user.InvitationState)
	})

	t.Run("validation", func(t *testing.T) {
		store, _ := newMockStore(t)

		cases := []struct {
			name   string
			mutate func(*CreateUserRequest)
		}{
			{"missing tenant", func(r *CreateUserRequest) { r.TenantID = "" }},
			{"missing username", func(r *CreateUserRequest) { r.Username = "  " }},
			{"bad email", func(r *CreateUserRequest) { r.Email = "not-an-email" }},
			{"missing password hash", func(r *CreateUserRequest) { r.PasswordHash = "" }},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				req := validRequest()
				tc.mutate(&req)
				_, err := store.Create(context.Background(), req)
				assert.ErrorIs(t, err, identity.ErrValidation)
			})
		}
	})

	t.Run("duplicate username or email", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery(`INSERT INTO users`).
			WillReturnError(&pq.Error{Code: "23505"})

		_, err := store.Create(context.Background(), validRequest())
		assert.ErrorIs(t, err, identity.ErrConflict)
	})
}

func TestStoreExistsByUsernameOrEmail(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("alice", "alice@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := store.ExistsByUsernameOrEmail(context.Background(), " alice ", "Alice@Example.com")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStoreGetByEmail(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "username", "email", "password_hash", "first_name", "last_name",
		"is_active", "is_tenant_admin", "email_verified", "account_locked",
		"failed_login_attempts", "invitation_state", "created_at", "updated_at",
	}).AddRow("u-1", "t-1", "alice", "alice@example.com", "hash", "Alice", "Smith",
		true, false, true, false, 0, "accepted", time.Now(), time.Now())

	mock.ExpectQuery(`WHERE email = \$1`).
		WithArgs("alice@example.com").
		WillReturnRows(rows)

	user, err := store.GetByEmail(context.Background(), "Alice@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "u-1", user.ID)
	assert.Equal(t, "Alice Smith", user.FullName())
	assert.Equal(t, InvitationStateAccepted, user.InvitationState)
}

func TestStoreRecordFailedLogin(t *testing.T) {
	t.Run("below threshold", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery(`UPDATE users`).
			WithArgs("u-1", MaxFailedLoginAttempts).
			WillReturnRows(sqlmock.NewRows([]string{"account_locked"}).AddRow(false))

		locked, err := store.RecordFailedLogin(context.Background(), "u-1")
		require.NoError(t, err)
		assert.False(t, locked)
	})

	t.Run("locks at threshold", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery(`UPDATE users`).
			WithArgs("u-1", MaxFailedLoginAttempts).
			WillReturnRows(sqlmock.NewRows([]string{"account_locked"}).AddRow(true))

		locked, err := store.RecordFailedLogin(context.Background(), "u-1")
		require.NoError(t, err)
		assert.True(t, locked)
	})

	t.Run("unknown user", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery(`UPDATE users`).
			WillReturnRows(sqlmock.NewRows([]string{"account_locked"}))

		_, err := store.RecordFailedLogin(context.Background(), "missing")
		assert.ErrorIs(t, err, identity.ErrNotFound)
	})
}

func TestStoreDeactivate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE users SET is_active = false`).
		WithArgs("u-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Deactivate(context.Background(), "u-1")
	assert.ErrorIs(t, err, identity.ErrNotFound)
}

func TestUserFullName(t *testing.T) {
	cases := []struct {
		first, last, username, want string
	}{
		{"Alice", "Smith", "alice", "Alice Smith"},
		{"Alice", "", "alice", "Alice"},
		{"", "Smith", "alice", "Smith"},
		{"", "", "alice", "alice"},
	}
	for _, tc := range cases {
		u := &User{FirstName: tc.first, LastName: tc.last, Username: tc.username}
		assert.Equal(t, tc.want, u.FullName())
	}
}
