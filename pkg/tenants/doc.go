// Package tenants implements the tenant directory: the registry of
// customer organizations and the read path that resolves which tenant a
// request belongs to.
//
// Resolution happens by login domain, OAuth client identifier or API
// key, and only ever surfaces active tenants. This is the multi-tenant
// isolation boundary: a deactivated tenant is invisible to every
// resolution path even though its rows remain in place.
package tenants
