// Package invitations implements the time-boxed user onboarding flow.
// An invitation is a single-use token that, when accepted, creates a
// user account and its initial role assignments in one atomic unit.
//
// The status state machine is PENDING -> {ACCEPTED, EXPIRED, CANCELLED};
// terminal states are never left. Every persisted transition is a
// single conditional update on the pending status, so a concurrent
// accept, cancel, or cleanup sweep can never race an invitation into
// two terminal states.
package invitations
