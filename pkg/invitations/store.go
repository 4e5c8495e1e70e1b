package invitations

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/gatehouse-io/gatehouse/pkg/identity"
)

const uniqueViolation = "23505"

// Store handles invitation persistence in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new invitation store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle so the accept path can open the
// transaction that spans invitation, user, and assignment writes.
func (s *Store) DB() *sql.DB {
	return s.db
}

// GenerateToken returns an opaque 32-byte hex token.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Insert persists a new pending invitation.
func (s *Store) Insert(ctx context.Context, inv *Invitation) error {
	roleIDsJSON, err := json.Marshal(inv.ProposedRoleIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal role ids: %w", err)
	}

	query := `
		INSERT INTO invitations (id, token, tenant_id, invited_email, invited_username, proposed_role_ids, invited_by, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`
	err = s.db.QueryRowContext(ctx, query,
		inv.ID, inv.Token, inv.TenantID, inv.InvitedEmail, inv.InvitedUsername,
		string(roleIDsJSON), inv.InvitedBy, inv.Status, inv.ExpiresAt,
	).Scan(&inv.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: invitation token collision", identity.ErrConflict)
		}
		return fmt.Errorf("failed to create invitation: %w", err)
	}
	return nil
}

const invitationColumns = `id, token, tenant_id, invited_email, invited_username, proposed_role_ids, invited_by, status, created_at, expires_at`

// GetByToken retrieves an invitation by its opaque token.
func (s *Store) GetByToken(ctx context.Context, token string) (*Invitation, error) {
	return s.queryOne(ctx, `WHERE token = $1`, token)
}

// FindPendingByEmail retrieves the pending invitation for an email
// address within a tenant.
func (s *Store) FindPendingByEmail(ctx context.Context, tenantID, email string) (*Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE tenant_id = $1 AND invited_email = $2 AND status = 'pending'`

	inv, err := s.scanOne(s.db.QueryRowContext(ctx, query, tenantID, email))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no pending invitation for %s", identity.ErrNotFound, email)
	}
	return inv, err
}

func (s *Store) queryOne(ctx context.Context, where string, arg any) (*Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations ` + where

	inv, err := s.scanOne(s.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: invitation", identity.ErrNotFound)
	}
	return inv, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanOne(row rowScanner) (*Invitation, error) {
	inv := &Invitation{}
	var roleIDsJSON string
	err := row.Scan(
		&inv.ID, &inv.Token, &inv.TenantID, &inv.InvitedEmail, &inv.InvitedUsername,
		&roleIDsJSON, &inv.InvitedBy, &inv.Status, &inv.CreatedAt, &inv.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	if err := json.Unmarshal([]byte(roleIDsJSON), &inv.ProposedRoleIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal role ids: %w", err)
	}
	return inv, nil
}

// TransitionFromPending flips a pending invitation into a terminal
// state. The conditional update is the single-writer guarantee: exactly
// one concurrent caller observes success.
func (s *Store) TransitionFromPending(ctx context.Context, token string, to Status) error {
	return transitionFromPending(ctx, s.db, token, to)
}

// TransitionFromPendingTx is TransitionFromPending inside an existing
// transaction; the accept path uses it.
func (s *Store) TransitionFromPendingTx(ctx context.Context, tx *sql.Tx, token string, to Status) error {
	return transitionFromPending(ctx, tx, token, to)
}

type queryExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func transitionFromPending(ctx context.Context, q queryExecer, token string, to Status) error {
	query := `UPDATE invitations SET status = $2 WHERE token = $1 AND status = 'pending'`
	result, err := q.ExecContext(ctx, query, token, to)
	if err != nil {
		return fmt.Errorf("failed to transition invitation: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: invitation is no longer pending", identity.ErrInvalidState)
	}
	return nil
}

// Reissue replaces the token and expiry on a pending invitation. The
// previous token fails every subsequent lookup and accept.
func (s *Store) Reissue(ctx context.Context, id, newToken string, newExpiresAt time.Time) error {
	query := `UPDATE invitations SET token = $2, expires_at = $3 WHERE id = $1 AND status = 'pending'`
	result, err := s.db.ExecContext(ctx, query, id, newToken, newExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to reissue invitation: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: invitation %s is no longer pending", identity.ErrNotFound, id)
	}
	return nil
}

// CleanupExpired transitions every overdue pending invitation to
// expired in bulk and returns the count. The status guard makes the
// sweep safe against a concurrent accept of the same row.
func (s *Store) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `UPDATE invitations SET status = 'expired' WHERE status = 'pending' AND expires_at < $1`
	result, err := s.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired invitations: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return count, nil
}

// NewInvitation assembles an unsaved pending invitation with a fresh token.
func NewInvitation(tenantID, email, username, invitedBy string, roleIDs []string, now time.Time, validityDays int) (*Invitation, error) {
	token, err := GenerateToken()
	if err != nil {
		return nil, err
	}
	if roleIDs == nil {
		roleIDs = []string{}
	}
	return &Invitation{
		ID:              uuid.NewString(),
		Token:           token,
		TenantID:        tenantID,
		InvitedEmail:    email,
		InvitedUsername: username,
		ProposedRoleIDs: roleIDs,
		InvitedBy:       invitedBy,
		Status:          StatusPending,
		ExpiresAt:       now.Add(time.Duration(validityDays) * 24 * time.Hour),
	}, nil
}
