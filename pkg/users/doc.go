// Package users manages user accounts. Every user belongs to exactly
// one tenant for its lifetime; usernames and email addresses are unique
// across all tenants.
package users
