package tenants

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/gatehouse-io/gatehouse/pkg/identity"
	"github.com/gatehouse-io/gatehouse/pkg/observability"
)

// Directory is the read path that maps a request hint (login domain,
// OAuth client id, API key) onto an active tenant. It has no side
// effects and is safe for unbounded concurrent use.
//
// Lookups are optionally fronted by a short-TTL Redis cache: API-key
// and client-id resolution sits on the hot path of every widget call
// and client-credentials exchange, while the underlying rows change
// rarely. Cache failures degrade silently to the database.
type Directory struct {
	store    *Store
	cache    *redis.Client
	cacheTTL time.Duration
	logger   *observability.Logger
}

// DirectoryOption configures a Directory.
type DirectoryOption func(*Directory)

// WithCache enables the Redis resolution cache.
func WithCache(client *redis.Client, ttl time.Duration) DirectoryOption {
	return func(d *Directory) {
		d.cache = client
		d.cacheTTL = ttl
	}
}

// WithLogger sets the directory logger.
func WithLogger(logger *observability.Logger) DirectoryOption {
	return func(d *Directory) {
		d.logger = logger
	}
}

// NewDirectory creates a tenant directory backed by the given store.
func NewDirectory(store *Store, opts ...DirectoryOption) *Directory {
	d := &Directory{
		store:    store,
		cacheTTL: 30 * time.Second,
		logger:   observability.NewLogger(observability.InfoLevel, nil),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ResolveByDomain resolves an active tenant by login domain. Returns
// ErrNotFound on a miss; only connectivity faults surface as other errors.
func (d *Directory) ResolveByDomain(ctx context.Context, domain string) (*Tenant, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return nil, fmt.Errorf("%w: tenant", identity.ErrNotFound)
	}
	return d.resolve(ctx, "domain", domain, d.store.FindByDomain)
}

// ResolveByClientID resolves an active tenant by OAuth client identifier.
func (d *Directory) ResolveByClientID(ctx context.Context, clientID string) (*Tenant, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, fmt.Errorf("%w: tenant", identity.ErrNotFound)
	}
	return d.resolve(ctx, "client_id", clientID, d.store.FindByClientID)
}

// ResolveByAPIKey resolves an active tenant by API key.
func (d *Directory) ResolveByAPIKey(ctx context.Context, apiKey string) (*Tenant, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: tenant", identity.ErrNotFound)
	}
	return d.resolve(ctx, "api_key", apiKey, d.store.FindByAPIKey)
}

// Deactivate soft-deletes a tenant and evicts every cached resolution
// for it so the isolation boundary takes effect immediately.
func (d *Directory) Deactivate(ctx context.Context, id string) error {
	tenant, err := d.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := d.store.Deactivate(ctx, id); err != nil {
		return err
	}
	d.evict(ctx, tenant)
	return nil
}

func (d *Directory) resolve(ctx context.Context, kind, key string, lookup func(context.Context, string) (*Tenant, error)) (*Tenant, error) {
	if cached := d.cacheGet(ctx, kind, key); cached != nil {
		return cached, nil
	}

	tenant, err := lookup(ctx, key)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("resolve tenant by %s: %w", kind, err)
	}

	d.cacheSet(ctx, kind, key, tenant)
	return tenant, nil
}

func cacheKey(kind, key string) string {
	return "gatehouse:tenant:" + kind + ":" + key
}

// cachedTenant mirrors Tenant with the API key included; the public
// Tenant type hides the key from JSON responses, but the cache needs it
// round-tripped for eviction.
type cachedTenant struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Domain        *string   `json:"domain,omitempty"`
	OAuthClientID string    `json:"oauth_client_id"`
	APIKey        string    `json:"api_key"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (d *Directory) cacheGet(ctx context.Context, kind, key string) *Tenant {
	if d.cache == nil {
		return nil
	}
	data, err := d.cache.Get(ctx, cacheKey(kind, key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			d.logger.WithError(err).Warn("tenant cache read failed")
		}
		return nil
	}
	var entry cachedTenant
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil
	}
	return &Tenant{
		ID:            entry.ID,
		Name:          entry.Name,
		Domain:        entry.Domain,
		OAuthClientID: entry.OAuthClientID,
		APIKey:        entry.APIKey,
		IsActive:      entry.IsActive,
		CreatedAt:     entry.CreatedAt,
		UpdatedAt:     entry.UpdatedAt,
	}
}

func (d *Directory) cacheSet(ctx context.Context, kind, key string, tenant *Tenant) {
	if d.cache == nil {
		return
	}
	data, err := json.Marshal(cachedTenant{
		ID:            tenant.ID,
		Name:          tenant.Name,
		Domain:        tenant.Domain,
		OAuthClientID: tenant.OAuthClientID,
		APIKey:        tenant.APIKey,
		IsActive:      tenant.IsActive,
		CreatedAt:     tenant.CreatedAt,
		UpdatedAt:     tenant.UpdatedAt,
	})
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, cacheKey(kind, key), data, d.cacheTTL).Err(); err != nil {
		d.logger.WithError(err).Warn("tenant cache write failed")
	}
}

func (d *Directory) evict(ctx context.Context, tenant *Tenant) {
	if d.cache == nil {
		return
	}
	keys := []string{
		cacheKey("client_id", tenant.OAuthClientID),
		cacheKey("api_key", tenant.APIKey),
	}
	if tenant.Domain != nil {
		keys = append(keys, cacheKey("domain", *tenant.Domain))
	}
	if err := d.cache.Del(ctx, keys...).Err(); err != nil {
		d.logger.WithError(err).Warn("tenant cache eviction failed")
	}
}
