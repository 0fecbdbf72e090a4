package authority

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"vouch/internal/autherr"
	"vouch/internal/identity"
	"vouch/pkg/logging"
)

// Endpoints is one authority's resolved OAuth2/OIDC endpoint set.
// A value is only ever produced fully populated: a discovery document
// missing any of the three fields is a discovery failure.
type Endpoints struct {
	AuthorizationEndpoint string
	TokenEndpoint         string
	Issuer                string
}

// discoveryDocument is the subset of the OIDC discovery payload this
// resolver consumes.
type discoveryDocument struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	Issuer                string `json:"issuer"`
}

// cacheEntry pairs resolved endpoints with the set of UPN domains the
// entry was validated for. The domain set only matters for ADFS.
type cacheEntry struct {
	endpoints       Endpoints
	validForDomains map[string]struct{}
}

// EndpointCache holds resolved endpoints per canonical authority string.
// It is an explicitly-owned object: applications share one instance
// process-wide, tests construct isolated instances, and an owning
// application may Clear it at construction to guarantee determinism
// across rebuilds within the same process.
type EndpointCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
}

// NewEndpointCache creates an empty endpoint cache.
func NewEndpointCache() *EndpointCache {
	return &EndpointCache{entries: make(map[string]*cacheEntry)}
}

// Clear drops every cached resolution.
func (c *EndpointCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}

func (c *EndpointCache) get(info Info, upn string) (Endpoints, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[info.CanonicalURL]
	if !ok {
		return Endpoints{}, false
	}

	if info.Kind != KindADFS {
		return entry.endpoints, true
	}

	if upn != "" {
		if _, ok := entry.validForDomains[DomainFromUPN(upn)]; !ok {
			return Endpoints{}, false
		}
	}
	return entry.endpoints, true
}

// put stores a resolution. For ADFS entries the validated-domain sets of
// the previous entry are merged in rather than overwritten, so a
// resolution for domain B never invalidates one for domain A.
func (c *EndpointCache) put(info Info, upn string, endpoints Endpoints) {
	updated := &cacheEntry{
		endpoints:       endpoints,
		validForDomains: make(map[string]struct{}),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if info.Kind == KindADFS {
		if prev, ok := c.entries[info.CanonicalURL]; ok {
			for d := range prev.validForDomains {
				updated.validForDomains[d] = struct{}{}
			}
		}
		if domain := DomainFromUPN(upn); domain != "" {
			updated.validForDomains[domain] = struct{}{}
		}
	}

	c.entries[info.CanonicalURL] = updated
}

// DiscoveryURLBuilder yields the OIDC discovery URL for an authority,
// performing any authority-kind specific validation first. Implemented
// per authority kind; the default covers the well-known layouts.
type DiscoveryURLBuilder interface {
	DiscoveryURL(ctx context.Context, info Info, upn string, rctx *identity.RequestContext) (string, error)
}

// wellKnownBuilder derives discovery URLs from the canonical authority,
// the layout every supported kind shares.
type wellKnownBuilder struct{}

func (wellKnownBuilder) DiscoveryURL(_ context.Context, info Info, _ string, _ *identity.RequestContext) (string, error) {
	return strings.TrimSuffix(info.CanonicalURL, "/") + "/v2.0/.well-known/openid-configuration", nil
}

// Resolver discovers and caches authority endpoints.
type Resolver struct {
	cache      *EndpointCache
	builder    DiscoveryURLBuilder
	httpClient *http.Client

	// group deduplicates concurrent discoveries of the same authority.
	group singleflight.Group
}

// ResolverOption customizes a Resolver.
type ResolverOption func(*Resolver)

// WithHTTPClient overrides the HTTP client used for discovery fetches.
func WithHTTPClient(hc *http.Client) ResolverOption {
	return func(r *Resolver) { r.httpClient = hc }
}

// WithDiscoveryURLBuilder overrides the authority-validation collaborator.
func WithDiscoveryURLBuilder(b DiscoveryURLBuilder) ResolverOption {
	return func(r *Resolver) { r.builder = b }
}

// NewResolver creates a resolver over the given cache.
func NewResolver(cache *EndpointCache, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		cache:      cache,
		builder:    wellKnownBuilder{},
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the endpoint set for the authority, from cache when the
// entry is valid for the request. For ADFS authorities a cached entry only
// matches when no UPN was supplied or the UPN's domain was previously
// validated; any other UPN triggers re-discovery.
func (r *Resolver) Resolve(ctx context.Context, rctx *identity.RequestContext, info Info, userPrincipalName string) (Endpoints, error) {
	if endpoints, ok := r.cache.get(info, userPrincipalName); ok {
		logging.Debug("Authority", "Endpoint cache hit for %s (correlation=%s)", info.CanonicalURL, rctx.CorrelationID)
		return endpoints, nil
	}

	logging.Debug("Authority", "Endpoint cache miss for %s, discovering (correlation=%s)", info.CanonicalURL, rctx.CorrelationID)

	// Group key includes the UPN domain so an ADFS discovery for one
	// domain does not satisfy a concurrent request for another.
	groupKey := info.CanonicalURL + "|" + DomainFromUPN(userPrincipalName)

	result, err, _ := r.group.Do(groupKey, func() (interface{}, error) {
		if endpoints, ok := r.cache.get(info, userPrincipalName); ok {
			return endpoints, nil
		}
		return r.discover(ctx, rctx, info, userPrincipalName)
	})
	if err != nil {
		return Endpoints{}, err
	}
	return result.(Endpoints), nil
}

func (r *Resolver) discover(ctx context.Context, rctx *identity.RequestContext, info Info, upn string) (Endpoints, error) {
	discoveryURL, err := r.builder.DiscoveryURL(ctx, info, upn, rctx)
	if err != nil {
		return Endpoints{}, fmt.Errorf("authority validation failed for %s: %w", info.CanonicalURL, err)
	}

	doc, err := r.fetchDiscoveryDocument(ctx, rctx, discoveryURL)
	if err != nil {
		return Endpoints{}, err
	}

	if doc.AuthorizationEndpoint == "" {
		return Endpoints{}, autherr.NewServiceError(autherr.CodeTenantDiscoveryFailed,
			"authorize endpoint was not found in the openid configuration of %s", info.CanonicalURL)
	}
	if doc.TokenEndpoint == "" {
		return Endpoints{}, autherr.NewServiceError(autherr.CodeTenantDiscoveryFailed,
			"token endpoint was not found in the openid configuration of %s", info.CanonicalURL)
	}
	if doc.Issuer == "" {
		return Endpoints{}, autherr.NewServiceError(autherr.CodeTenantDiscoveryFailed,
			"issuer was not found in the openid configuration of %s", info.CanonicalURL)
	}

	endpoints := Endpoints{
		AuthorizationEndpoint: SubstituteTenant(doc.AuthorizationEndpoint, info.Tenant),
		TokenEndpoint:         SubstituteTenant(doc.TokenEndpoint, info.Tenant),
		Issuer:                doc.Issuer,
	}

	r.cache.put(info, upn, endpoints)

	logging.Debug("Authority", "Resolved endpoints for %s (authorize=%s, token=%s)",
		info.CanonicalURL, endpoints.AuthorizationEndpoint, endpoints.TokenEndpoint)

	return endpoints, nil
}

func (r *Resolver) fetchDiscoveryDocument(ctx context.Context, rctx *identity.RequestContext, discoveryURL string) (discoveryDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return discoveryDocument{}, fmt.Errorf("failed to create discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("client-request-id", rctx.CorrelationID)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return discoveryDocument{}, autherr.NewRetryableServiceError(autherr.CodeTenantDiscoveryFailed,
			"discovery request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return discoveryDocument{}, fmt.Errorf("failed to read discovery response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		svcErr := autherr.NewServiceError(autherr.CodeTenantDiscoveryFailed,
			"discovery returned status %d for %s", resp.StatusCode, discoveryURL)
		svcErr.StatusCode = resp.StatusCode
		svcErr.Retryable = resp.StatusCode >= 500
		return discoveryDocument{}, svcErr
	}

	var doc discoveryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return discoveryDocument{}, fmt.Errorf("failed to parse discovery document: %w", err)
	}
	return doc, nil
}

// tenantPlaceholder matches the {tenant} and {tenantid} placeholders some
// discovery documents embed in endpoint templates, in any casing.
var tenantPlaceholder = regexp.MustCompile(`(?i)\{tenant(id)?\}`)

// SubstituteTenant replaces tenant placeholders in an endpoint template
// with the resolved tenant id.
func SubstituteTenant(template, tenantID string) string {
	return tenantPlaceholder.ReplaceAllString(template, tenantID)
}
