package users

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/gatehouse-io/gatehouse/pkg/identity"
)

const uniqueViolation = "23505"

// Store handles user persistence in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new user store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateUserRequest represents a request to create a user account.
type CreateUserRequest struct {
	TenantID        string
	Username        string
	Email           string
	PasswordHash    string
	FirstName       string
	LastName        string
	IsActive        bool
	IsTenantAdmin   bool
	InvitationState InvitationState
}

// Create inserts a new user. Username and email are unique across
// tenants; a collision surfaces as ErrConflict.
func (s *Store) Create(ctx context.Context, req CreateUserRequest) (*User, error) {
	user, err := newUser(req)
	if err != nil {
		return nil, err
	}
	if err := insertUser(ctx, s.db, user); err != nil {
		return nil, err
	}
	return user, nil
}

// CreateTx inserts a new user inside an existing transaction. The
// invitation accept path uses this so the user row, its role
// assignments, and the invitation status flip commit together.
func (s *Store) CreateTx(ctx context.Context, tx *sql.Tx, req CreateUserRequest) (*User, error) {
	user, err := newUser(req)
	if err != nil {
		return nil, err
	}
	if err := insertUser(ctx, tx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func newUser(req CreateUserRequest) (*User, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.ToLower(strings.TrimSpace(req.Email))

	if req.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", identity.ErrValidation)
	}
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", identity.ErrValidation)
	}
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: invalid email %q", identity.ErrValidation, email)
	}
	if req.PasswordHash == "" {
		return nil, fmt.Errorf("%w: password hash is required", identity.ErrValidation)
	}

	state := req.InvitationState
	if state == "" {
		state = InvitationStateNone
	}

	return &User{
		ID:              uuid.NewString(),
		TenantID:        req.TenantID,
		Username:        username,
		Email:           email,
		PasswordHash:    req.PasswordHash,
		FirstName:       strings.TrimSpace(req.FirstName),
		LastName:        strings.TrimSpace(req.LastName),
		IsActive:        req.IsActive,
		IsTenantAdmin:   req.IsTenantAdmin,
		InvitationState: state,
	}, nil
}

type execQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertUser(ctx context.Context, q execQuerier, user *User) error {
	query := `
		INSERT INTO users (id, tenant_id, username, email, password_hash, first_name, last_name,
			is_active, is_tenant_admin, email_verified, account_locked, failed_login_attempts, invitation_state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`
	err := q.QueryRowContext(ctx, query,
		user.ID, user.TenantID, user.Username, user.Email, user.PasswordHash,
		user.FirstName, user.LastName, user.IsActive, user.IsTenantAdmin,
		user.EmailVerified, user.AccountLocked, user.FailedLoginAttempts, user.InvitationState,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: username or email already registered", identity.ErrConflict)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

const userColumns = `id, tenant_id, username, email, password_hash, first_name, last_name,
	is_active, is_tenant_admin, email_verified, account_locked, failed_login_attempts, invitation_state,
	created_at, updated_at`

// Get retrieves a user by ID.
func (s *Store) Get(ctx context.Context, id string) (*User, error) {
	return s.queryOne(ctx, `WHERE id = $1`, id)
}

// GetByUsername retrieves a user by its globally unique username.
func (s *Store) GetByUsername(ctx context.Context, username string) (*User, error) {
	return s.queryOne(ctx, `WHERE username = $1`, strings.TrimSpace(username))
}

// GetByEmail retrieves a user by its globally unique email address.
func (s *Store) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.queryOne(ctx, `WHERE email = $1`, strings.ToLower(strings.TrimSpace(email)))
}

// ExistsByUsernameOrEmail reports whether any user holds the given
// username or email, across all tenants.
func (s *Store) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE username = $1 OR email = $2)`
	var exists bool
	err := s.db.QueryRowContext(ctx, query,
		strings.TrimSpace(username), strings.ToLower(strings.TrimSpace(email)),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return exists, nil
}

// ListByTenant returns all users belonging to a tenant.
func (s *Store) ListByTenant(ctx context.Context, tenantID string) ([]*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE tenant_id = $1 ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var result []*User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, user)
	}
	return result, rows.Err()
}

// Deactivate soft-deletes a user account.
func (s *Store) Deactivate(ctx context.Context, id string) error {
	return s.flagUpdate(ctx, `SET is_active = false`, `AND is_active = true`, id)
}

// Activate re-enables a user account.
func (s *Store) Activate(ctx context.Context, id string) error {
	return s.flagUpdate(ctx, `SET is_active = true`, `AND is_active = false`, id)
}

// MarkEmailVerified records a successful email verification.
func (s *Store) MarkEmailVerified(ctx context.Context, id string) error {
	return s.flagUpdate(ctx, `SET email_verified = true`, ``, id)
}

func (s *Store) flagUpdate(ctx context.Context, set, extra, id string) error {
	query := `UPDATE users ` + set + `, updated_at = NOW() WHERE id = $1 ` + extra
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: user %s", identity.ErrNotFound, id)
	}
	return nil
}

// RecordFailedLogin increments the failed-login counter and locks the
// account once the threshold is reached, in a single statement.
func (s *Store) RecordFailedLogin(ctx context.Context, id string) (locked bool, err error) {
	query := `
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1,
			account_locked = (failed_login_attempts + 1 >= $2),
			updated_at = NOW()
		WHERE id = $1
		RETURNING account_locked
	`
	err = s.db.QueryRowContext(ctx, query, id, MaxFailedLoginAttempts).Scan(&locked)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("%w: user %s", identity.ErrNotFound, id)
	}
	if err != nil {
		return false, fmt.Errorf("failed to record failed login: %w", err)
	}
	return locked, nil
}

// ResetFailedLogins clears the failed-login counter after a successful
// authentication.
func (s *Store) ResetFailedLogins(ctx context.Context, id string) error {
	query := `
		UPDATE users
		SET failed_login_attempts = 0, account_locked = false, updated_at = NOW()
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to reset failed logins: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: user %s", identity.ErrNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	user := &User{}
	var firstName, lastName sql.NullString
	err := row.Scan(
		&user.ID, &user.TenantID, &user.Username, &user.Email, &user.PasswordHash,
		&firstName, &lastName, &user.IsActive, &user.IsTenantAdmin, &user.EmailVerified,
		&user.AccountLocked, &user.FailedLoginAttempts, &user.InvitationState,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	user.FirstName = firstName.String
	user.LastName = lastName.String
	return user, nil
}

func (s *Store) queryOne(ctx context.Context, where string, arg any) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users ` + where

	row := s.db.QueryRowContext(ctx, query, arg)
	user := &User{}
	var firstName, lastName sql.NullString
	err := row.Scan(
		&user.ID, &user.TenantID, &user.Username, &user.Email, &user.PasswordHash,
		&firstName, &lastName, &user.IsActive, &user.IsTenantAdmin, &user.EmailVerified,
		&user.AccountLocked, &user.FailedLoginAttempts, &user.InvitationState,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: user", identity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user.FirstName = firstName.String
	user.LastName = lastName.String
	return user, nil
}
