package invitations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gatehouse-io/gatehouse/pkg/identity"
	"github.com/gatehouse-io/gatehouse/pkg/observability"
	"github.com/gatehouse-io/gatehouse/pkg/rbac"
	"github.com/gatehouse-io/gatehouse/pkg/tenants"
	"github.com/gatehouse-io/gatehouse/pkg/users"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 128

	verificationTokenValidity = 24 * time.Hour
)

// Notifier dispatches onboarding email. Implementations must be safe
// for concurrent use; the service never awaits delivery on the request
// path.
type Notifier interface {
	SendInvitation(ctx context.Context, email, token string, tenant tenants.TenantRef) error
	SendEmailVerification(ctx context.Context, email, token string) error
}

// PasswordHasher is the pluggable password hashing capability.
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// AcceptRequest carries the accept-form input for a pending invitation.
type AcceptRequest struct {
	Token                string `json:"token"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
	FirstName            string `json:"first_name,omitempty"`
	LastName             string `json:"last_name,omitempty"`
}

// Service coordinates the invitation lifecycle.
type Service struct {
	store            *Store
	tokens           *TokenStore
	tenants          *tenants.Store
	users            *users.Store
	rbacStore        *rbac.Store
	rbacMgr          *rbac.Manager
	notifier         Notifier
	hasher           PasswordHasher
	logger           *observability.Logger
	metrics          *observability.Metrics
	clock            func() time.Time
	validity         int
	activateOnAccept bool
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock overrides the service clock, for tests and replay.
func WithClock(clock func() time.Time) ServiceOption {
	return func(s *Service) {
		s.clock = clock
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *observability.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics enables invitation metrics.
func WithMetrics(metrics *observability.Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = metrics
	}
}

// WithValidityDays overrides the default invitation validity window.
func WithValidityDays(days int) ServiceOption {
	return func(s *Service) {
		s.validity = days
	}
}

// WithActivateOnAccept controls whether accepted users start active or
// inactive-until-verified. Inactive users get an email verification
// token issued in the accept transaction.
func WithActivateOnAccept(activate bool) ServiceOption {
	return func(s *Service) {
		s.activateOnAccept = activate
	}
}

// NewService creates the invitation service.
func NewService(
	store *Store,
	tokens *TokenStore,
	tenantStore *tenants.Store,
	userStore *users.Store,
	rbacMgr *rbac.Manager,
	notifier Notifier,
	hasher PasswordHasher,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		store:     store,
		tokens:    tokens,
		tenants:   tenantStore,
		users:     userStore,
		rbacStore: rbacMgr.Store(),
		rbacMgr:   rbacMgr,
		notifier:  notifier,
		hasher:    hasher,
		logger:    observability.NewLogger(observability.InfoLevel, nil),
		clock:     time.Now,
		validity:  DefaultValidityDays,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InviteRequest carries the input for issuing an invitation.
type InviteRequest struct {
	TenantID     string   `json:"tenant_id"`
	InvitedBy    string   `json:"invited_by"`
	Email        string   `json:"email"`
	Username     string   `json:"username"`
	RoleIDs      []string `json:"role_ids,omitempty"`
	ValidityDays int      `json:"validity_days,omitempty"`
}

// Invite issues a pending invitation. Only a tenant admin may invite,
// scoped to their own tenant; the invited username and email must not
// be registered anywhere. The invitation email is dispatched
// fire-and-forget: delivery failure is logged, never propagated.
func (s *Service) Invite(ctx context.Context, req InviteRequest) (*InvitationRef, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	username := strings.TrimSpace(req.Username)

	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: invalid email %q", identity.ErrValidation, email)
	}
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", identity.ErrValidation)
	}

	if err := s.requireTenantAdmin(ctx, req.InvitedBy, req.TenantID); err != nil {
		return nil, err
	}

	taken, err := s.users.ExistsByUsernameOrEmail(ctx, username, email)
	if err != nil {
		return nil, err
	}
	if taken {
		s.record("create", "validation")
		return nil, fmt.Errorf("%w: username or email already registered", identity.ErrValidation)
	}

	for _, roleID := range req.RoleIDs {
		if _, err := s.rbacStore.GetRole(ctx, roleID); err != nil {
			return nil, err
		}
	}

	validity := req.ValidityDays
	if validity <= 0 {
		validity = s.validity
	}

	now := s.clock()
	inv, err := NewInvitation(req.TenantID, email, username, req.InvitedBy, req.RoleIDs, now, validity)
	if err != nil {
		return nil, err
	}
	if err := s.store.Insert(ctx, inv); err != nil {
		s.record("create", "error")
		return nil, err
	}

	s.dispatchInvitation(inv)
	s.record("create", "success")
	s.logger.WithFields(map[string]interface{}{
		"tenant_id":     inv.TenantID,
		"invitation_id": inv.ID,
	}).Info("invitation created")

	ref := inv.Ref(now)
	return &ref, nil
}

// Lookup returns the invitation projection for a token. Public and
// unauthenticated; a pending invitation past its expiry reads as
// expired even before the sweep persists the transition.
func (s *Service) Lookup(ctx context.Context, token string) (*InvitationRef, error) {
	inv, err := s.store.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	ref := inv.Ref(s.clock())
	return &ref, nil
}

// Accept redeems a pending invitation: it creates the user, grants the
// proposed roles (the default role when none were proposed), and marks
// the invitation accepted, all in one transaction. Preconditions fail
// in order: unknown token, non-pending status, expired window, then
// password policy. Of two concurrent accepts exactly one wins; the
// loser observes the conditional status update affect zero rows.
func (s *Service) Accept(ctx context.Context, req AcceptRequest) (*users.UserRef, error) {
	now := s.clock()

	inv, err := s.store.GetByToken(ctx, req.Token)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			s.record("accept", "not_found")
		} else {
			s.record("accept", "error")
		}
		return nil, err
	}
	if inv.Status != StatusPending {
		s.record("accept", "invalid_state")
		return nil, fmt.Errorf("%w: invitation is %s", identity.ErrInvalidState, inv.Status)
	}
	if now.After(inv.ExpiresAt) {
		s.record("accept", "expired")
		return nil, fmt.Errorf("%w: invitation", identity.ErrExpired)
	}
	if err := validatePassword(req.Password, req.PasswordConfirmation); err != nil {
		s.record("accept", "validation")
		return nil, err
	}

	roleIDs, err := s.resolveRoleIDs(ctx, inv.ProposedRoleIDs)
	if err != nil {
		return nil, err
	}

	passwordHash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	tx, err := s.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	// Single-writer guarantee: the loser of a concurrent double-accept
	// (or a race against the cleanup sweep) stops here.
	if err := s.store.TransitionFromPendingTx(ctx, tx, req.Token, StatusAccepted); err != nil {
		s.record("accept", "invalid_state")
		return nil, err
	}

	user, err := s.users.CreateTx(ctx, tx, users.CreateUserRequest{
		TenantID:        inv.TenantID,
		Username:        inv.InvitedUsername,
		Email:           inv.InvitedEmail,
		PasswordHash:    passwordHash,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		IsActive:        s.activateOnAccept,
		InvitationState: users.InvitationStateAccepted,
	})
	if err != nil {
		s.record("accept", "error")
		return nil, err
	}

	for _, roleID := range roleIDs {
		if _, err := s.rbacMgr.AssignTx(ctx, tx, user.ID, roleID, inv.InvitedBy, nil); err != nil {
			s.record("accept", "error")
			return nil, err
		}
	}

	var verification *VerificationToken
	if !s.activateOnAccept {
		verification, err = s.tokens.IssueTx(ctx, tx, user.ID, user.Email, TokenTypeEmailVerification, now.Add(verificationTokenValidity))
		if err != nil {
			s.record("accept", "error")
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		s.record("accept", "error")
		return nil, fmt.Errorf("failed to commit accept: %w", err)
	}

	if verification != nil {
		s.dispatchVerification(user.Email, verification.Token)
	}

	s.record("accept", "success")
	s.logger.WithFields(map[string]interface{}{
		"tenant_id":     inv.TenantID,
		"invitation_id": inv.ID,
		"user_id":       user.ID,
	}).Info("invitation accepted")

	ref := user.Ref()
	return &ref, nil
}

// Resend re-issues a fresh token and expiry on the pending invitation
// for the target email, invalidating the previous token.
func (s *Service) Resend(ctx context.Context, tenantID, requestedBy, email string) (*InvitationRef, error) {
	if err := s.requireTenantAdmin(ctx, requestedBy, tenantID); err != nil {
		return nil, err
	}

	email = strings.ToLower(strings.TrimSpace(email))
	inv, err := s.store.FindPendingByEmail(ctx, tenantID, email)
	if err != nil {
		s.record("resend", "not_found")
		return nil, err
	}

	token, err := GenerateToken()
	if err != nil {
		return nil, err
	}
	now := s.clock()
	expiresAt := now.Add(time.Duration(s.validity) * 24 * time.Hour)

	if err := s.store.Reissue(ctx, inv.ID, token, expiresAt); err != nil {
		s.record("resend", "error")
		return nil, err
	}

	inv.Token = token
	inv.ExpiresAt = expiresAt
	s.dispatchInvitation(inv)
	s.record("resend", "success")

	ref := inv.Ref(now)
	return &ref, nil
}

// Cancel transitions a pending invitation to cancelled. An already
// terminal invitation fails with a not-found, making repeat cancels a
// deterministic no-op failure.
func (s *Service) Cancel(ctx context.Context, tenantID, requestedBy, token string) error {
	if err := s.requireTenantAdmin(ctx, requestedBy, tenantID); err != nil {
		return err
	}

	inv, err := s.store.GetByToken(ctx, token)
	if err != nil {
		s.record("cancel", "not_found")
		return err
	}
	if inv.TenantID != tenantID {
		s.record("cancel", "forbidden")
		return fmt.Errorf("%w: invitation belongs to another tenant", identity.ErrForbidden)
	}

	if err := s.store.TransitionFromPending(ctx, token, StatusCancelled); err != nil {
		if errors.Is(err, identity.ErrInvalidState) {
			s.record("cancel", "not_found")
			return fmt.Errorf("%w: no pending invitation for token", identity.ErrNotFound)
		}
		s.record("cancel", "error")
		return err
	}

	s.record("cancel", "success")
	return nil
}

// CleanupExpired sweeps overdue pending invitations into the expired
// state and returns how many rows changed. Idempotent; safe to run
// concurrently with Accept.
func (s *Service) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	count, err := s.store.CleanupExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	if s.metrics != nil {
		s.metrics.RecordInvitationSweep(int(count))
	}
	if count > 0 {
		s.logger.WithField("count", count).Info("expired invitations swept")
	}
	return count, nil
}

func (s *Service) requireTenantAdmin(ctx context.Context, userID, tenantID string) error {
	if userID == "" || tenantID == "" {
		return fmt.Errorf("%w: tenant id and acting user are required", identity.ErrValidation)
	}
	actor, err := s.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return fmt.Errorf("%w: unknown acting user", identity.ErrUnauthorized)
		}
		return err
	}
	if actor.TenantID != tenantID {
		return fmt.Errorf("%w: cross-tenant access", identity.ErrForbidden)
	}
	if !actor.IsTenantAdmin || !actor.IsActive {
		return fmt.Errorf("%w: tenant admin required", identity.ErrForbidden)
	}
	return nil
}

func (s *Service) resolveRoleIDs(ctx context.Context, proposed []string) ([]string, error) {
	if len(proposed) > 0 {
		return proposed, nil
	}
	role, err := s.rbacStore.GetRoleByName(ctx, rbac.DefaultRoleName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve default role: %w", err)
	}
	return []string{role.ID}, nil
}

// dispatchInvitation sends the invitation email off the request path.
func (s *Service) dispatchInvitation(inv *Invitation) {
	if s.notifier == nil {
		return
	}
	email, token, tenantID := inv.InvitedEmail, inv.Token, inv.TenantID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		ref := tenants.TenantRef{ID: tenantID}
		if tenant, err := s.tenants.Get(ctx, tenantID); err == nil {
			ref = tenant.Ref()
		}
		if err := s.notifier.SendInvitation(ctx, email, token, ref); err != nil {
			s.logger.WithError(err).WithField("tenant_id", tenantID).Warn("invitation email dispatch failed")
		}
	}()
}

func (s *Service) dispatchVerification(email, token string) {
	if s.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.notifier.SendEmailVerification(ctx, email, token); err != nil {
			s.logger.WithError(err).Warn("verification email dispatch failed")
		}
	}()
}

func (s *Service) record(action, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordInvitation(action, outcome)
	}
}

func validatePassword(password, confirmation string) error {
	if password != confirmation {
		return fmt.Errorf("%w: password confirmation does not match", identity.ErrValidation)
	}
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return fmt.Errorf("%w: password must be between %d and %d characters", identity.ErrValidation, minPasswordLength, maxPasswordLength)
	}
	return nil
}
