package identity

// Principal identifies who a request acts as. Exactly two variants
// exist: a human user resolved to a tenant, and a machine client
// authenticated via client credentials. Callers branch on the concrete
// type rather than inspecting claim bags at runtime.
type Principal interface {
	// Subject returns a stable identifier for logging and audit.
	Subject() string

	isPrincipal()
}

// HumanUser is a principal backed by a user row within a tenant.
type HumanUser struct {
	UserID   string
	TenantID string
}

// Subject implements Principal.
func (h HumanUser) Subject() string { return h.UserID }

func (HumanUser) isPrincipal() {}

// MachineClient is a tenant-less principal authenticated through the
// client-credentials grant. It never carries user or tenant claims.
type MachineClient struct {
	ClientID string
}

// Subject implements Principal.
func (m MachineClient) Subject() string { return m.ClientID }

func (MachineClient) isPrincipal() {}
