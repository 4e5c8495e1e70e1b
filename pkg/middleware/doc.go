// Package middleware provides HTTP middleware for tenant resolution and
// principal authentication.
package middleware
