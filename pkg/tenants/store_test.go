package tenants

import (
	"context"
	"strings"
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

func TestStoreCreate(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery(`INSERT INTO tenants`).
			WithArgs(sqlmock.AnyArg(), "Acme Corp", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), true).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).
				AddRow(time.Now(), time.Now()))

		domain := "Acme.example.COM"
		tenant, err := store.Create(context.Background(), CreateTenantRequest{
			Name:   "  Acme Corp  ",
			Domain: &domain,
		})

		require.NoError(t, err)
		assert.Equal(t, "Acme Corp", tenant.Name)
		require.NotNil(t, tenant.Domain)
		assert.Equal(t, "acme.example.com", *tenant.Domain)
		assert.True(t, tenant.IsActive)
		assert.NotEmpty(t, tenant.ID)
		assert.Contains(t, tenant.OAuthClientID, "gh_")
		assert.True(t, strings.HasPrefix(tenant.APIKey, "gh_"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty name", func(t *testing.T) {
		store, _ := newMockStore(t)

		_, err := store.Create(context.Background(), CreateTenantRequest{Name: "   "})
		assert.ErrorIs(t, err, identity.ErrValidation)
	})

	t.Run("invalid domain", func(t *testing.T) {
		store, _ := newMockStore(t)

		for _, bad := range []string{"no-dot", "has space.com", "http://a.com", "a@b.com"} {
			d := bad
			_, err := store.Create(context.Background(), CreateTenantRequest{Name: "Acme", Domain: &d})
			assert.ErrorIs(t, err, identity.ErrValidation, "domain %q", bad)
		}
	})

	t.Run("duplicate domain", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery(`INSERT INTO tenants`).
			WillReturnError(&pq.Error{Code: "23505"})

		domain := "taken.example.com"
		_, err := store.Create(context.Background(), CreateTenantRequest{Name: "Acme", Domain: &domain})
		assert.ErrorIs(t, err, identity.ErrConflict)
	})
}

func tenantRow(id, name, domain, clientID, apiKey string, active bool) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "name", "domain", "oauth_client_id", "api_key", "is_active", "created_at", "updated_at",
	})
	if domain == "" {
		rows.AddRow(id, name, nil, clientID, apiKey, active, time.Now(), time.Now())
	} else {
		rows.AddRow(id, name, domain, clientID, apiKey, active, time.Now(), time.Now())
	}
	return rows
}

func TestStoreFindByDomain(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery(`WHERE domain = \$1 AND is_active = true`).
			WithArgs("acme.example.com").
			WillReturnRows(tenantRow("t-1", "Acme", "acme.example.com", "gh_abc", "key", true))

		tenant, err := store.FindByDomain(context.Background(), "acme.example.com")
		require.NoError(t, err)
		assert.Equal(t, "t-1", tenant.ID)
		require.NotNil(t, tenant.Domain)
		assert.Equal(t, "acme.example.com", *tenant.Domain)
	})

	t.Run("not found", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery(`WHERE domain = \$1 AND is_active = true`).
			WithArgs("gone.example.com").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := store.FindByDomain(context.Background(), "gone.example.com")
		assert.ErrorIs(t, err, identity.ErrNotFound)
	})
}

func TestStoreFindByAPIKey(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`WHERE api_key = \$1 AND is_active = true`).
		WithArgs("secret").
		WillReturnRows(tenantRow("t-1", "Acme", "", "gh_abc", "secret", true))

	tenant, err := store.FindByAPIKey(context.Background(), "secret")
	require.NoError(t, err)
	assert.Equal(t, "t-1", tenant.ID)
	assert.Nil(t, tenant.Domain)
}

func TestStoreDeactivate(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectExec(`UPDATE tenants SET is_active = false`).
			WithArgs("t-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, store.Deactivate(context.Background(), "t-1"))
	})

	t.Run("already inactive", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectExec(`UPDATE tenants SET is_active = false`).
			WithArgs("t-1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.Deactivate(context.Background(), "t-1")
		assert.ErrorIs(t, err, identity.ErrNotFound)
	})
}
