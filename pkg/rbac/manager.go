package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gatehouse-io/gatehouse/pkg/identity"
	"github.com/gatehouse-io/gatehouse/pkg/observability"
)

// Manager coordinates role assignment lifecycle operations on top of
// the store. All operations take explicit user and role identifiers.
type Manager struct {
	store   *Store
	logger  *observability.Logger
	metrics *observability.Metrics
	clock   func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *observability.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics enables assignment metrics.
func WithMetrics(metrics *observability.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithClock overrides the manager clock, for tests.
func WithClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.clock = clock
	}
}

// NewManager creates a role assignment manager.
func NewManager(store *Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		logger: observability.NewLogger(observability.InfoLevel, nil),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store exposes the underlying store for read-path collaborators.
func (m *Manager) Store() *Store {
	return m.store
}

// Assign grants a role to a user, optionally time-bound. A duplicate
// active grant for the pair fails with ErrConflict.
func (m *Manager) Assign(ctx context.Context, userID, roleID, assignedBy string, expiresAt *time.Time) (*RoleAssignment, error) {
	if userID == "" || roleID == "" {
		return nil, fmt.Errorf("%w: user id and role id are required", identity.ErrValidation)
	}
	if expiresAt != nil && !expiresAt.After(m.clock()) {
		return nil, fmt.Errorf("%w: expiry must be in the future", identity.ErrValidation)
	}

	assignment := &RoleAssignment{
		UserID:     userID,
		RoleID:     roleID,
		AssignedBy: assignedBy,
		ExpiresAt:  expiresAt,
	}
	if err := m.store.InsertAssignment(ctx, assignment); err != nil {
		m.record("assign", err)
		return nil, err
	}

	m.record("assign", nil)
	m.logger.WithFields(map[string]interface{}{
		"user_id": userID,
		"role_id": roleID,
	}).Info("role assigned")
	return assignment, nil
}

// AssignTx grants a role inside an existing transaction. The invitation
// accept path uses this so user creation and initial grants commit
// atomically.
func (m *Manager) AssignTx(ctx context.Context, tx *sql.Tx, userID, roleID, assignedBy string, expiresAt *time.Time) (*RoleAssignment, error) {
	assignment := &RoleAssignment{
		UserID:     userID,
		RoleID:     roleID,
		AssignedBy: assignedBy,
		ExpiresAt:  expiresAt,
	}
	if err := m.store.InsertAssignmentTx(ctx, tx, assignment); err != nil {
		return nil, err
	}
	return assignment, nil
}

// Extend moves an active assignment's expiry to a later instant.
func (m *Manager) Extend(ctx context.Context, assignmentID string, newExpiresAt time.Time) error {
	assignment, err := m.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return err
	}
	if !assignment.IsActive {
		return fmt.Errorf("%w: assignment %s is not active", identity.ErrInvalidState, assignmentID)
	}
	if assignment.ExpiresAt != nil && !newExpiresAt.After(*assignment.ExpiresAt) {
		return fmt.Errorf("%w: new expiry must be after current expiry", identity.ErrValidation)
	}

	if err := m.store.UpdateExpiry(ctx, assignmentID, &newExpiresAt); err != nil {
		m.record("extend", err)
		return err
	}
	m.record("extend", nil)
	return nil
}

// MakePermanent clears an active assignment's expiry.
func (m *Manager) MakePermanent(ctx context.Context, assignmentID string) error {
	if err := m.store.UpdateExpiry(ctx, assignmentID, nil); err != nil {
		m.record("make_permanent", err)
		return err
	}
	m.record("make_permanent", nil)
	return nil
}

// Deactivate revokes an assignment by ID.
func (m *Manager) Deactivate(ctx context.Context, assignmentID string) error {
	if err := m.store.DeactivateAssignment(ctx, assignmentID); err != nil {
		m.record("deactivate", err)
		return err
	}
	m.record("deactivate", nil)
	return nil
}

// DeactivateByUserAndRole revokes the active grant for a (user, role) pair.
func (m *Manager) DeactivateByUserAndRole(ctx context.Context, userID, roleID string) error {
	if err := m.store.DeactivateByUserAndRole(ctx, userID, roleID); err != nil {
		m.record("deactivate", err)
		return err
	}
	m.record("deactivate", nil)
	return nil
}

// BulkAssign grants a role to each user in the batch. Rows succeed or
// fail independently; the caller receives a per-row outcome.
func (m *Manager) BulkAssign(ctx context.Context, userIDs []string, roleID, assignedBy string, expiresAt *time.Time) []BulkOutcome {
	outcomes := make([]BulkOutcome, 0, len(userIDs))
	for _, userID := range userIDs {
		assignment, err := m.Assign(ctx, userID, roleID, assignedBy, expiresAt)
		outcome := BulkOutcome{UserID: userID, Err: err}
		if err == nil {
			outcome.AssignmentID = assignment.ID
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// BulkDeactivate revokes a role from each user in the batch. A user
// without an active grant contributes a not-found outcome that does not
// block the others.
func (m *Manager) BulkDeactivate(ctx context.Context, userIDs []string, roleID string) []BulkOutcome {
	outcomes := make([]BulkOutcome, 0, len(userIDs))
	for _, userID := range userIDs {
		err := m.DeactivateByUserAndRole(ctx, userID, roleID)
		outcomes = append(outcomes, BulkOutcome{UserID: userID, Err: err})
	}
	return outcomes
}

// SweepExpired deactivates all assignments past their expiry and
// returns how many rows were swept.
func (m *Manager) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	count, err := m.store.SweepExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		m.logger.WithField("count", count).Info("swept expired role assignments")
	}
	if m.metrics != nil {
		if active, err := m.store.CountActiveAssignments(ctx); err == nil {
			m.metrics.SetActiveRoleAssignments(float64(active))
		}
	}
	return count, nil
}

// ListExpiringWithin returns active assignments expiring within the
// next days, for expiry-warning dispatch.
func (m *Manager) ListExpiringWithin(ctx context.Context, days int) ([]*RoleAssignment, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: days must be positive", identity.ErrValidation)
	}
	return m.store.ListExpiringWithin(ctx, m.clock(), time.Duration(days)*24*time.Hour)
}

func (m *Manager) record(action string, err error) {
	if m.metrics == nil {
		return
	}
	outcome := "success"
	switch {
	case errors.Is(err, identity.ErrConflict):
		outcome = "conflict"
	case errors.Is(err, identity.ErrNotFound):
		outcome = "not_found"
	case err != nil:
		outcome = "error"
	}
	m.metrics.RecordRoleAssignment(action, outcome)
}
