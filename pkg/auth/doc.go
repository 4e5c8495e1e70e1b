// Package auth supplies the pluggable credential capabilities the
// identity core consumes: password hashing, opaque token handling, and
// the adapter that turns an upstream OIDC token into a principal.
package auth
