// Package audit keeps an append-only trail of administrative
// operations: invitations issued and revoked, role grants, and tenant
// lifecycle changes.
package audit
