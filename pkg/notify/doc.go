// Package notify dispatches onboarding and lifecycle email. Dispatch
// is best-effort: callers fire and forget, and delivery failures are
// logged rather than propagated.
package notify
