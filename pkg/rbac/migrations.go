package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gatehouse-io/gatehouse/pkg/identity"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the full Gatehouse schema in order.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create tenants table",
			SQL: `
				CREATE TABLE IF NOT EXISTS tenants (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					domain VARCHAR(255) UNIQUE,
					oauth_client_id VARCHAR(255) NOT NULL UNIQUE,
					api_key VARCHAR(255) NOT NULL UNIQUE,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_tenants_domain ON tenants(domain) WHERE domain IS NOT NULL;
				CREATE INDEX idx_tenants_oauth_client_id ON tenants(oauth_client_id);
				CREATE INDEX idx_tenants_api_key ON tenants(api_key);
			`,
		},
		{
			Version:     2,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id UUID PRIMARY KEY,
					tenant_id UUID NOT NULL REFERENCES tenants(id),
					username VARCHAR(255) NOT NULL UNIQUE,
					email VARCHAR(255) NOT NULL UNIQUE,
					password_hash VARCHAR(512) NOT NULL,
					first_name VARCHAR(255),
					last_name VARCHAR(255),
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					is_tenant_admin BOOLEAN NOT NULL DEFAULT FALSE,
					email_verified BOOLEAN NOT NULL DEFAULT FALSE,
					account_locked BOOLEAN NOT NULL DEFAULT FALSE,
					failed_login_attempts INT NOT NULL DEFAULT 0,
					invitation_state VARCHAR(50) NOT NULL DEFAULT 'none',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_users_tenant_id ON users(tenant_id);
				CREATE INDEX idx_users_email ON users(email);
			`,
		},
		{
			Version:     3,
			Description: "Create roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					description TEXT,
					permissions JSONB NOT NULL DEFAULT '[]',
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_roles_name ON roles(name);
			`,
		},
		{
			Version:     4,
			Description: "Create role_assignments table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_assignments (
					id UUID PRIMARY KEY,
					user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role_id UUID NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					assigned_by UUID,
					assigned_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					expires_at TIMESTAMPTZ,
					is_active BOOLEAN NOT NULL DEFAULT TRUE
				);

				CREATE UNIQUE INDEX idx_role_assignments_active_pair
					ON role_assignments(user_id, role_id) WHERE is_active = TRUE;
				CREATE INDEX idx_role_assignments_user_id ON role_assignments(user_id);
				CREATE INDEX idx_role_assignments_expires_at
					ON role_assignments(expires_at) WHERE is_active = TRUE AND expires_at IS NOT NULL;
			`,
		},
		{
			Version:     5,
			Description: "Create invitations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS invitations (
					id UUID PRIMARY KEY,
					token VARCHAR(255) NOT NULL UNIQUE,
					tenant_id UUID NOT NULL REFERENCES tenants(id),
					invited_email VARCHAR(255) NOT NULL,
					invited_username VARCHAR(255) NOT NULL,
					proposed_role_ids JSONB NOT NULL DEFAULT '[]',
					invited_by UUID NOT NULL,
					status VARCHAR(50) NOT NULL DEFAULT 'pending',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					expires_at TIMESTAMPTZ NOT NULL
				);

				CREATE INDEX idx_invitations_tenant_id ON invitations(tenant_id);
				CREATE INDEX idx_invitations_status_expires
					ON invitations(expires_at) WHERE status = 'pending';
				CREATE INDEX idx_invitations_email ON invitations(invited_email);
			`,
		},
		{
			Version:     6,
			Description: "Create verification_tokens table",
			SQL: `
				CREATE TABLE IF NOT EXISTS verification_tokens (
					token VARCHAR(255) PRIMARY KEY,
					user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					email VARCHAR(255) NOT NULL,
					token_type VARCHAR(50) NOT NULL,
					expires_at TIMESTAMPTZ NOT NULL,
					used_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_verification_tokens_user_id ON verification_tokens(user_id);
			`,
		},
		{
			Version:     7,
			Description: "Create audit_logs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_logs (
					id UUID PRIMARY KEY,
					tenant_id UUID,
					actor_id UUID,
					action VARCHAR(100) NOT NULL,
					target_type VARCHAR(100) NOT NULL,
					target_id VARCHAR(255),
					detail JSONB,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_audit_logs_tenant_id ON audit_logs(tenant_id);
				CREATE INDEX idx_audit_logs_created_at ON audit_logs(created_at);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// InitializeBuiltInRoles seeds the catalog roles if they don't exist.
func InitializeBuiltInRoles(ctx context.Context, store *Store) error {
	for _, role := range BuiltInRoles() {
		_, err := store.GetRoleByName(ctx, role.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, identity.ErrNotFound) {
			return fmt.Errorf("failed to look up built-in role %s: %w", role.Name, err)
		}

		r := role
		if err := store.CreateRole(ctx, &r); err != nil {
			return fmt.Errorf("failed to create built-in role %s: %w", role.Name, err)
		}
	}
	return nil
}
