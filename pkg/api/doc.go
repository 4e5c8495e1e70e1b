// Package api exposes the identity core over HTTP: tenant directory
// management, invitation lifecycle, role assignment, and token claims
// enrichment.
package api
