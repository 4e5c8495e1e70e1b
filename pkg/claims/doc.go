// Package claims builds the tenant, role, and permission claims
// injected into issued access tokens. The build is a pure read path:
// deterministic for a fixed principal and instant, and safe to invoke
// on every token issuance.
package claims
