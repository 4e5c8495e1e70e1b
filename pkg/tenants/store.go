package tenants

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/gatehouse-io/gatehouse/pkg/auth"
	"github.com/gatehouse-io/gatehouse/pkg/identity"
)

const uniqueViolation = "23505"

// Store handles tenant persistence in PostgreSQL.
type Store struct {
	db     *sql.DB
	tokens *auth.TokenGenerator
}

// NewStore creates a new tenant store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, tokens: auth.NewTokenGenerator()}
}

// Create registers a new tenant. The OAuth client identifier and API
// key are generated server-side and returned on the tenant record.
func (s *Store) Create(ctx context.Context, req CreateTenantRequest) (*Tenant, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: tenant name is required", identity.ErrValidation)
	}
	domain, err := normalizeDomain(req.Domain)
	if err != nil {
		return nil, err
	}

	clientID := auth.TokenPrefix + uuid.NewString()
	apiKey, _, _, err := s.tokens.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate api key: %w", err)
	}

	tenant := &Tenant{
		ID:            uuid.NewString(),
		Name:          name,
		Domain:        domain,
		OAuthClientID: clientID,
		APIKey:        apiKey,
		IsActive:      true,
	}

	query := `
		INSERT INTO tenants (id, name, domain, oauth_client_id, api_key, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	err = s.db.QueryRowContext(ctx, query,
		tenant.ID, tenant.Name, tenant.Domain, tenant.OAuthClientID, tenant.APIKey, tenant.IsActive,
	).Scan(&tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%w: tenant domain already registered", identity.ErrConflict)
		}
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}

	return tenant, nil
}

// Get retrieves a tenant by ID regardless of active state. Admin and
// internal callers use this; the resolution paths below never do.
func (s *Store) Get(ctx context.Context, id string) (*Tenant, error) {
	return s.queryOne(ctx, `WHERE id = $1`, id)
}

// FindByDomain resolves an active tenant by its login domain.
func (s *Store) FindByDomain(ctx context.Context, domain string) (*Tenant, error) {
	return s.queryOne(ctx, `WHERE domain = $1 AND is_active = true`, domain)
}

// FindByClientID resolves an active tenant by OAuth client identifier.
func (s *Store) FindByClientID(ctx context.Context, clientID string) (*Tenant, error) {
	return s.queryOne(ctx, `WHERE oauth_client_id = $1 AND is_active = true`, clientID)
}

// FindByAPIKey resolves an active tenant by API key.
func (s *Store) FindByAPIKey(ctx context.Context, apiKey string) (*Tenant, error) {
	return s.queryOne(ctx, `WHERE api_key = $1 AND is_active = true`, apiKey)
}

// Deactivate soft-deletes a tenant. Rows referencing the tenant are
// kept; the tenant simply disappears from every resolution path.
func (s *Store) Deactivate(ctx context.Context, id string) error {
	query := `UPDATE tenants SET is_active = false, updated_at = NOW() WHERE id = $1 AND is_active = true`
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate tenant: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: tenant %s", identity.ErrNotFound, id)
	}

	return nil
}

const tenantColumns = `id, name, domain, oauth_client_id, api_key, is_active, created_at, updated_at`

func (s *Store) queryOne(ctx context.Context, where string, arg any) (*Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants ` + where

	tenant := &Tenant{}
	var domain sql.NullString
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&tenant.ID, &tenant.Name, &domain, &tenant.OAuthClientID,
		&tenant.APIKey, &tenant.IsActive, &tenant.CreatedAt, &tenant.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: tenant", identity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	if domain.Valid {
		d := domain.String
		tenant.Domain = &d
	}

	return tenant, nil
}

// normalizeDomain lowercases and validates an optional login domain.
func normalizeDomain(domain *string) (*string, error) {
	if domain == nil {
		return nil, nil
	}
	d := strings.ToLower(strings.TrimSpace(*domain))
	if d == "" {
		return nil, nil
	}
	if strings.ContainsAny(d, " /:@") || !strings.Contains(d, ".") {
		return nil, fmt.Errorf("%w: invalid domain %q", identity.ErrValidation, d)
	}
	return &d, nil
}
