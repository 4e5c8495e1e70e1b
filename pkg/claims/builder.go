package claims

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/gatehouse-io/gatehouse/pkg/identity"
	"github.com/gatehouse-io/gatehouse/pkg/observability"
	"github.com/gatehouse-io/gatehouse/pkg/rbac"
	"github.com/gatehouse-io/gatehouse/pkg/tenants"
	"github.com/gatehouse-io/gatehouse/pkg/users"
)

const (
	defaultRoleCacheSize = 4096
	defaultRoleCacheTTL  = 5 * time.Second
)

// Builder assembles token claims from the role and permission model.
// Role lookups are cached briefly so minting an access and refresh
// token together costs one database round trip, not two.
type Builder struct {
	tenants   *tenants.Store
	users     *users.Store
	rbac      *rbac.Store
	roleCache *expirable.LRU[string, []*rbac.Role]
	metrics   *observability.Metrics
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithRoleCache sizes the per-issuance role cache.
func WithRoleCache(size int, ttl time.Duration) BuilderOption {
	return func(b *Builder) {
		b.roleCache = expirable.NewLRU[string, []*rbac.Role](size, nil, ttl)
	}
}

// WithMetrics enables claims build metrics.
func WithMetrics(metrics *observability.Metrics) BuilderOption {
	return func(b *Builder) {
		b.metrics = metrics
	}
}

// NewBuilder creates a claims builder.
func NewBuilder(tenantStore *tenants.Store, userStore *users.Store, rbacStore *rbac.Store, opts ...BuilderOption) *Builder {
	b := &Builder{
		tenants:   tenantStore,
		users:     userStore,
		rbac:      rbacStore,
		roleCache: expirable.NewLRU[string, []*rbac.Role](defaultRoleCacheSize, nil, defaultRoleCacheTTL),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BuildTokenClaims produces the claim set for a token issued to the
// given principal at the given instant. Machine principals carry no
// tenant or user claims; human principals get tenant, profile, role,
// and permission claims derived from their active assignments.
func (b *Builder) BuildTokenClaims(ctx context.Context, principal identity.Principal, now time.Time) (map[string]any, error) {
	start := time.Now()
	defer func() {
		if b.metrics != nil {
			b.metrics.ObserveClaimsBuild(time.Since(start))
		}
	}()

	switch p := principal.(type) {
	case identity.MachineClient:
		return map[string]any{
			"client_id": p.ClientID,
		}, nil
	case identity.HumanUser:
		return b.buildHumanClaims(ctx, p, now)
	default:
		return nil, fmt.Errorf("%w: unsupported principal type %T", identity.ErrValidation, principal)
	}
}

func (b *Builder) buildHumanClaims(ctx context.Context, p identity.HumanUser, now time.Time) (map[string]any, error) {
	user, err := b.users.Get(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	tenant, err := b.tenants.Get(ctx, p.TenantID)
	if err != nil {
		return nil, err
	}

	roles, err := b.activeRoles(ctx, p.UserID, now)
	if err != nil {
		return nil, err
	}

	roleNames := make([]string, 0, len(roles))
	seen := make(map[string]struct{})
	for _, role := range roles {
		roleNames = append(roleNames, role.Name)
		for _, perm := range role.Permissions {
			seen[perm] = struct{}{}
		}
	}
	sort.Strings(roleNames)

	permissions := make([]string, 0, len(seen))
	for perm := range seen {
		permissions = append(permissions, perm)
	}
	sort.Strings(permissions)

	tokenClaims := map[string]any{
		"tenant_id":       tenant.ID,
		"tenant_name":     tenant.Name,
		"user_id":         user.ID,
		"email":           user.Email,
		"full_name":       user.FullName(),
		"roles":           roleNames,
		"permissions":     permissions,
		"is_tenant_admin": user.IsTenantAdmin,
	}
	if tenant.Domain != nil {
		tokenClaims["tenant_domain"] = *tenant.Domain
	}
	return tokenClaims, nil
}

// activeRoles returns the user's active roles at now. The cache key
// carries the issuance instant: the access and refresh token of one
// issuance share the lookup, while a build at any later instant (or
// after a revocation) always reads fresh state.
func (b *Builder) activeRoles(ctx context.Context, userID string, now time.Time) ([]*rbac.Role, error) {
	key := userID + "@" + strconv.FormatInt(now.UnixNano(), 10)
	if roles, ok := b.roleCache.Get(key); ok {
		return roles, nil
	}

	roles, err := b.rbac.ActiveRolesForUser(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	b.roleCache.Add(key, roles)
	return roles, nil
}
