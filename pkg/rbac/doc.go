// Package rbac implements the role catalog and time-bound role
// assignments. Roles are global, tenant-agnostic bundles of permission
// strings; a user's effective permission set is the union over their
// active, unexpired assignments of active roles.
package rbac
