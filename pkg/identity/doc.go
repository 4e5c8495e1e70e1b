// Package identity holds the shared vocabulary of the Gatehouse core:
// the error taxonomy returned by every service, and the Principal type
// that represents who a request is acting as.
//
// The package is intentionally free of storage and transport concerns so
// that every other package can depend on it without cycles.
package identity
