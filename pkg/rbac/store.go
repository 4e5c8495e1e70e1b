package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/gatehouse-io/gatehouse/pkg/identity"
)

const uniqueViolation = "23505"

// Store handles role and assignment persistence in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new RBAC store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateRole inserts a catalog role. Role names are globally unique.
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	if role.Name == "" {
		return fmt.Errorf("%w: role name is required", identity.ErrValidation)
	}
	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	query := `
		INSERT INTO roles (id, name, description, permissions, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	err = s.db.QueryRowContext(ctx, query,
		role.ID, role.Name, role.Description, string(permissionsJSON), role.IsActive,
	).Scan(&role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: role %s already exists", identity.ErrConflict, role.Name)
		}
		return fmt.Errorf("failed to create role: %w", err)
	}
	return nil
}

const roleColumns = `id, name, description, permissions, is_active, created_at, updated_at`

// GetRole retrieves a role by ID.
func (s *Store) GetRole(ctx context.Context, id string) (*Role, error) {
	return s.queryOneRole(ctx, `WHERE id = $1`, id)
}

// GetRoleByName retrieves a role by its globally unique name.
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	return s.queryOneRole(ctx, `WHERE name = $1`, name)
}

// ListRoles returns the full role catalog.
func (s *Store) ListRoles(ctx context.Context) ([]*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles ORDER BY name`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (s *Store) queryOneRole(ctx context.Context, where string, arg any) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles ` + where
	role, err := scanRole(s.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: role", identity.ErrNotFound)
	}
	return role, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRole(row rowScanner) (*Role, error) {
	role := &Role{}
	var permissionsJSON string
	var description sql.NullString
	err := row.Scan(
		&role.ID, &role.Name, &description, &permissionsJSON,
		&role.IsActive, &role.CreatedAt, &role.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan role: %w", err)
	}
	role.Description = description.String
	if err := json.Unmarshal([]byte(permissionsJSON), &role.Permissions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
	}
	return role, nil
}

type execer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// InsertAssignment persists a new assignment row. The partial unique
// index on active (user_id, role_id) pairs rejects a duplicate active
// grant, surfaced as ErrConflict.
func (s *Store) InsertAssignment(ctx context.Context, assignment *RoleAssignment) error {
	return insertAssignment(ctx, s.db, assignment)
}

// InsertAssignmentTx persists an assignment inside an existing
// transaction; the invitation accept path uses this.
func (s *Store) InsertAssignmentTx(ctx context.Context, tx *sql.Tx, assignment *RoleAssignment) error {
	return insertAssignment(ctx, tx, assignment)
}

func insertAssignment(ctx context.Context, q execer, assignment *RoleAssignment) error {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	query := `
		INSERT INTO role_assignments (id, user_id, role_id, assigned_by, expires_at, is_active)
		VALUES ($1, $2, $3, $4, $5, true)
		RETURNING assigned_at
	`
	err := q.QueryRowContext(ctx, query,
		assignment.ID, assignment.UserID, assignment.RoleID, assignment.AssignedBy, assignment.ExpiresAt,
	).Scan(&assignment.AssignedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: user already holds an active assignment for this role", identity.ErrConflict)
		}
		return fmt.Errorf("failed to create role assignment: %w", err)
	}
	assignment.IsActive = true
	return nil
}

const assignmentColumns = `id, user_id, role_id, assigned_by, assigned_at, expires_at, is_active`

// GetAssignment retrieves an assignment by ID.
func (s *Store) GetAssignment(ctx context.Context, id string) (*RoleAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM role_assignments WHERE id = $1`

	assignment := &RoleAssignment{}
	var expiresAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&assignment.ID, &assignment.UserID, &assignment.RoleID, &assignment.AssignedBy,
		&assignment.AssignedAt, &expiresAt, &assignment.IsActive,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: role assignment %s", identity.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role assignment: %w", err)
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		assignment.ExpiresAt = &t
	}
	return assignment, nil
}

// UpdateExpiry sets a new expiry on an active assignment. A nil
// newExpiresAt makes the grant permanent.
func (s *Store) UpdateExpiry(ctx context.Context, id string, newExpiresAt *time.Time) error {
	query := `UPDATE role_assignments SET expires_at = $2 WHERE id = $1 AND is_active = true`
	result, err := s.db.ExecContext(ctx, query, id, newExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to update assignment expiry: %w", err)
	}
	return requireRow(result, fmt.Sprintf("role assignment %s", id))
}

// DeactivateAssignment revokes an active assignment by ID.
func (s *Store) DeactivateAssignment(ctx context.Context, id string) error {
	query := `UPDATE role_assignments SET is_active = false WHERE id = $1 AND is_active = true`
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate assignment: %w", err)
	}
	return requireRow(result, fmt.Sprintf("role assignment %s", id))
}

// DeactivateByUserAndRole revokes the active assignment for a
// (user, role) pair. At most one such row exists.
func (s *Store) DeactivateByUserAndRole(ctx context.Context, userID, roleID string) error {
	query := `UPDATE role_assignments SET is_active = false WHERE user_id = $1 AND role_id = $2 AND is_active = true`
	result, err := s.db.ExecContext(ctx, query, userID, roleID)
	if err != nil {
		return fmt.Errorf("failed to deactivate assignment: %w", err)
	}
	return requireRow(result, fmt.Sprintf("active assignment for user %s role %s", userID, roleID))
}

func requireRow(result sql.Result, what string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", identity.ErrNotFound, what)
	}
	return nil
}

// SweepExpired deactivates every assignment whose validity window has
// passed. The conditional update is row-level atomic; re-running a
// sweep that finds nothing is a no-op.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `UPDATE role_assignments SET is_active = false WHERE is_active = true AND expires_at IS NOT NULL AND expires_at < $1`
	result, err := s.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired assignments: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return count, nil
}

// ListExpiringWithin returns active assignments expiring in the next
// window, for proactive expiry warnings.
func (s *Store) ListExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]*RoleAssignment, error) {
	query := `
		SELECT ` + assignmentColumns + `
		FROM role_assignments
		WHERE is_active = true AND expires_at IS NOT NULL AND expires_at > $1 AND expires_at <= $2
		ORDER BY expires_at
	`
	rows, err := s.db.QueryContext(ctx, query, now, now.Add(window))
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring assignments: %w", err)
	}
	defer rows.Close()

	var result []*RoleAssignment
	for rows.Next() {
		assignment := &RoleAssignment{}
		var expiresAt sql.NullTime
		if err := rows.Scan(
			&assignment.ID, &assignment.UserID, &assignment.RoleID, &assignment.AssignedBy,
			&assignment.AssignedAt, &expiresAt, &assignment.IsActive,
		); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			assignment.ExpiresAt = &t
		}
		result = append(result, assignment)
	}
	return result, rows.Err()
}

// ActiveRolesForUser returns the active roles granted to a user via
// active, unexpired assignments.
func (s *Store) ActiveRolesForUser(ctx context.Context, userID string, now time.Time) ([]*Role, error) {
	query := `
		SELECT r.id, r.name, r.description, r.permissions, r.is_active, r.created_at, r.updated_at
		FROM role_assignments ra
		JOIN roles r ON r.id = ra.role_id
		WHERE ra.user_id = $1
			AND ra.is_active = true
			AND (ra.expires_at IS NULL OR ra.expires_at > $2)
			AND r.is_active = true
		ORDER BY r.name
	`
	rows, err := s.db.QueryContext(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query active roles: %w", err)
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// EffectivePermissions computes the union of permissions over the
// user's active roles at the given instant. The result is sorted so
// repeated calls against unchanged data are identical.
func (s *Store) EffectivePermissions(ctx context.Context, userID string, now time.Time) ([]string, error) {
	roles, err := s.ActiveRolesForUser(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	for _, role := range roles {
		for _, p := range role.Permissions {
			seen[p] = struct{}{}
		}
	}

	permissions := make([]string, 0, len(seen))
	for p := range seen {
		permissions = append(permissions, p)
	}
	sort.Strings(permissions)
	return permissions, nil
}

// HasRole reports whether the user holds an active, unexpired
// assignment of the named active role.
func (s *Store) HasRole(ctx context.Context, userID, roleName string, now time.Time) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1
			FROM role_assignments ra
			JOIN roles r ON r.id = ra.role_id
			WHERE ra.user_id = $1
				AND r.name = $2
				AND ra.is_active = true
				AND (ra.expires_at IS NULL OR ra.expires_at > $3)
				AND r.is_active = true
		)
	`
	var has bool
	if err := s.db.QueryRowContext(ctx, query, userID, roleName, now).Scan(&has); err != nil {
		return false, fmt.Errorf("failed to check role: %w", err)
	}
	return has, nil
}

// CountActiveAssignments returns the number of currently active
// assignments, for the metrics gauge.
func (s *Store) CountActiveAssignments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM role_assignments WHERE is_active = true`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active assignments: %w", err)
	}
	return count, nil
}
