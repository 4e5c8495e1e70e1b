package identity

import "errors"

// Sentinel errors forming the result taxonomy of the identity core.
// Services wrap these with fmt.Errorf("%w: ...") so callers can match
// with errors.Is while still seeing a useful message. Storage
// connectivity faults are never wrapped in one of these; they propagate
// as-is and are treated as unexpected.
var (
	// ErrNotFound indicates the referenced token, user, tenant, role or
	// assignment does not exist (or is not visible to the caller).
	ErrNotFound = errors.New("not found")

	// ErrInvalidState indicates an operation on an invitation that is no
	// longer in the state the operation requires (e.g. accepting an
	// already-accepted invitation).
	ErrInvalidState = errors.New("invalid state")

	// ErrExpired indicates a token past its validity window.
	ErrExpired = errors.New("expired")

	// ErrConflict indicates a uniqueness violation: a duplicate active
	// role assignment, or a domain/username/email collision.
	ErrConflict = errors.New("conflict")

	// ErrValidation indicates malformed input: password mismatch, policy
	// violation, bad domain format.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized indicates a caller without an authenticated principal.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates a cross-tenant access attempt or a non-admin
	// invoking an admin-only operation.
	ErrForbidden = errors.New("forbidden")
)

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err is (or wraps) ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
