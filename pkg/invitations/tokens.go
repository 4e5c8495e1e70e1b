package invitations

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gatehouse-io/gatehouse/pkg/identity"
)

// TokenStore handles single-use verification tokens.
type TokenStore struct {
	db *sql.DB
}

// NewTokenStore creates a verification token store.
func NewTokenStore(db *sql.DB) *TokenStore {
	return &TokenStore{db: db}
}

// IssueTx inserts a fresh verification token inside an existing
// transaction.
func (s *TokenStore) IssueTx(ctx context.Context, tx *sql.Tx, userID, email string, tokenType TokenType, expiresAt time.Time) (*VerificationToken, error) {
	token, err := GenerateToken()
	if err != nil {
		return nil, err
	}

	vt := &VerificationToken{
		Token:     token,
		UserID:    userID,
		Email:     email,
		TokenType: tokenType,
		ExpiresAt: expiresAt,
	}

	query := `
		INSERT INTO verification_tokens (token, user_id, email, token_type, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	err = tx.QueryRowContext(ctx, query,
		vt.Token, vt.UserID, vt.Email, vt.TokenType, vt.ExpiresAt,
	).Scan(&vt.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to issue verification token: %w", err)
	}
	return vt, nil
}

// Consume marks a token used, exactly once: the conditional update on
// used_at IS NULL makes one of two concurrent consumers lose.
func (s *TokenStore) Consume(ctx context.Context, token string, tokenType TokenType, now time.Time) (*VerificationToken, error) {
	query := `
		UPDATE verification_tokens
		SET used_at = $3
		WHERE token = $1 AND token_type = $2 AND used_at IS NULL AND expires_at > $3
		RETURNING user_id, email, expires_at, created_at
	`
	vt := &VerificationToken{Token: token, TokenType: tokenType, UsedAt: &now}
	err := s.db.QueryRowContext(ctx, query, token, tokenType, now).Scan(
		&vt.UserID, &vt.Email, &vt.ExpiresAt, &vt.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, s.classifyConsumeFailure(ctx, token, tokenType, now)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume verification token: %w", err)
	}
	return vt, nil
}

// classifyConsumeFailure distinguishes an absent token from a used or
// expired one so callers get the right taxonomy error.
func (s *TokenStore) classifyConsumeFailure(ctx context.Context, token string, tokenType TokenType, now time.Time) error {
	query := `SELECT used_at, expires_at FROM verification_tokens WHERE token = $1 AND token_type = $2`
	var usedAt sql.NullTime
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx, query, token, tokenType).Scan(&usedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: verification token", identity.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to inspect verification token: %w", err)
	}
	if usedAt.Valid {
		return fmt.Errorf("%w: verification token already used", identity.ErrInvalidState)
	}
	if !expiresAt.After(now) {
		return fmt.Errorf("%w: verification token", identity.ErrExpired)
	}
	return fmt.Errorf("%w: verification token", identity.ErrNotFound)
}
