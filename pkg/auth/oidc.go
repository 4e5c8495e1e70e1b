package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/gatehouse-io/gatehouse/pkg/identity"
)

// PrincipalVerifier validates upstream OIDC tokens and maps them onto
// identity principals. The OAuth2/OIDC protocol machinery itself lives
// upstream; this is the boundary where its tokens enter the core.
type PrincipalVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewPrincipalVerifier discovers the issuer and builds a verifier for
// tokens minted for the given client.
func NewPrincipalVerifier(ctx context.Context, issuerURL, clientID string) (*PrincipalVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover oidc issuer: %w", err)
	}
	return &PrincipalVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

// Principal verifies a raw token and returns the principal it carries.
func (v *PrincipalVerifier) Principal(ctx context.Context, rawToken string) (identity.Principal, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", identity.ErrUnauthorized, err)
	}

	var tokenClaims struct {
		TenantID string `json:"tenant_id"`
		ClientID string `json:"client_id"`
	}
	if err := idToken.Claims(&tokenClaims); err != nil {
		return nil, fmt.Errorf("%w: malformed token claims", identity.ErrUnauthorized)
	}

	return PrincipalFromClaims(idToken.Subject, tokenClaims.TenantID, tokenClaims.ClientID)
}

// PrincipalFromClaims maps verified token claims onto the principal
// union. A subject with tenant context is a human user; a subject
// without one is a machine client from a client-credentials exchange.
func PrincipalFromClaims(subject, tenantID, clientID string) (identity.Principal, error) {
	if tenantID != "" {
		if subject == "" {
			return nil, fmt.Errorf("%w: token carries tenant context without a subject", identity.ErrUnauthorized)
		}
		return identity.HumanUser{UserID: subject, TenantID: tenantID}, nil
	}

	id := clientID
	if id == "" {
		id = subject
	}
	if id == "" {
		return nil, fmt.Errorf("%w: token carries no principal", identity.ErrUnauthorized)
	}
	return identity.MachineClient{ClientID: id}, nil
}
