package authority

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vouch/internal/autherr"
	"vouch/internal/identity"
)

// staticBuilder pins discovery to a test server URL.
type staticBuilder struct {
	url string
}

func (b staticBuilder) DiscoveryURL(context.Context, Info, string, *identity.RequestContext) (string, error) {
	return b.url, nil
}

func discoveryServer(t *testing.T, doc map[string]string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	}))
}

func fullDoc() map[string]string {
	return map[string]string{
		"authorization_endpoint": "https://h/{tenant}/oauth2/v2.0/authorize",
		"token_endpoint":         "https://h/{tenantid}/oauth2/v2.0/token",
		"issuer":                 "https://h/{tenantid}/v2.0",
	}
}

func mustInfo(t *testing.T, raw string) Info {
	t.Helper()
	info, err := NewInfo(raw)
	require.NoError(t, err)
	return info
}

func TestResolveSubstitutesTenant(t *testing.T) {
	srv := discoveryServer(t, fullDoc(), nil)
	defer srv.Close()

	resolver := NewResolver(NewEndpointCache(), WithDiscoveryURLBuilder(staticBuilder{srv.URL}))
	info := mustInfo(t, "https://login.microsoftonline.com/tid-1")

	endpoints, err := resolver.Resolve(context.Background(), identity.NewRequestContext(), info, "")
	require.NoError(t, err)

	assert.Equal(t, "https://h/tid-1/oauth2/v2.0/authorize", endpoints.AuthorizationEndpoint)
	assert.Equal(t, "https://h/tid-1/oauth2/v2.0/token", endpoints.TokenEndpoint)
	assert.NotEmpty(t, endpoints.Issuer)
}

func TestResolveCachesPerAuthority(t *testing.T) {
	var hits atomic.Int32
	srv := discoveryServer(t, fullDoc(), &hits)
	defer srv.Close()

	resolver := NewResolver(NewEndpointCache(), WithDiscoveryURLBuilder(staticBuilder{srv.URL}))
	info := mustInfo(t, "https://login.microsoftonline.com/tid-1")
	rctx := identity.NewRequestContext()

	_, err := resolver.Resolve(context.Background(), rctx, info, "")
	require.NoError(t, err)
	_, err = resolver.Resolve(context.Background(), rctx, info, "")
	require.NoError(t, err)

	assert.Equal(t, int32(1), hits.Load(), "second resolve must hit the cache")
}

func TestResolveADFSDomainScoping(t *testing.T) {
	var hits atomic.Int32
	srv := discoveryServer(t, fullDoc(), &hits)
	defer srv.Close()

	resolver := NewResolver(NewEndpointCache(), WithDiscoveryURLBuilder(staticBuilder{srv.URL}))
	info := mustInfo(t, "https://fs.contoso.com/adfs")
	rctx := identity.NewRequestContext()

	// First resolution validates domain contoso.com.
	_, err := resolver.Resolve(context.Background(), rctx, info, "jane@contoso.com")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	// Same domain: cache hit.
	_, err = resolver.Resolve(context.Background(), rctx, info, "john@contoso.com")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load(), "same-domain UPN must reuse the cached entry")

	// Different domain: re-discovery.
	_, err = resolver.Resolve(context.Background(), rctx, info, "jane@fabrikam.com")
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load(), "different-domain UPN must trigger re-discovery")

	// Both domains now validated; the sets were merged, not overwritten.
	_, err = resolver.Resolve(context.Background(), rctx, info, "john@contoso.com")
	require.NoError(t, err)
	_, err = resolver.Resolve(context.Background(), rctx, info, "john@fabrikam.com")
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load(), "validated-domain sets must merge across discoveries")
}

func TestResolveADFSNoUPNUsesCache(t *testing.T) {
	var hits atomic.Int32
	srv := discoveryServer(t, fullDoc(), &hits)
	defer srv.Close()

	resolver := NewResolver(NewEndpointCache(), WithDiscoveryURLBuilder(staticBuilder{srv.URL}))
	info := mustInfo(t, "https://fs.contoso.com/adfs")
	rctx := identity.NewRequestContext()

	_, err := resolver.Resolve(context.Background(), rctx, info, "jane@contoso.com")
	require.NoError(t, err)

	_, err = resolver.Resolve(context.Background(), rctx, info, "")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load(), "UPN-less request must accept any cached ADFS entry")
}

func TestResolveIncompleteDiscoveryIsFatal(t *testing.T) {
	tests := []struct {
		name    string
		missing string
	}{
		{"missing authorization endpoint", "authorization_endpoint"},
		{"missing token endpoint", "token_endpoint"},
		{"missing issuer", "issuer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := fullDoc()
			delete(doc, tt.missing)
			srv := discoveryServer(t, doc, nil)
			defer srv.Close()

			resolver := NewResolver(NewEndpointCache(), WithDiscoveryURLBuilder(staticBuilder{srv.URL}))
			info := mustInfo(t, "https://login.microsoftonline.com/tid-1")

			_, err := resolver.Resolve(context.Background(), identity.NewRequestContext(), info, "")
			require.Error(t, err)

			var svcErr *autherr.ServiceError
			require.ErrorAs(t, err, &svcErr)
			assert.Equal(t, autherr.CodeTenantDiscoveryFailed, svcErr.Code)
			assert.False(t, svcErr.Retryable)
		})
	}
}

func TestResolveServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	resolver := NewResolver(NewEndpointCache(), WithDiscoveryURLBuilder(staticBuilder{srv.URL}))
	info := mustInfo(t, "https://login.microsoftonline.com/tid-1")

	_, err := resolver.Resolve(context.Background(), identity.NewRequestContext(), info, "")
	require.Error(t, err)

	var svcErr *autherr.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.True(t, svcErr.Retryable)
	assert.Equal(t, http.StatusServiceUnavailable, svcErr.StatusCode)
}

func TestEndpointCacheClear(t *testing.T) {
	var hits atomic.Int32
	srv := discoveryServer(t, fullDoc(), &hits)
	defer srv.Close()

	cache := NewEndpointCache()
	resolver := NewResolver(cache, WithDiscoveryURLBuilder(staticBuilder{srv.URL}))
	info := mustInfo(t, "https://login.microsoftonline.com/tid-1")
	rctx := identity.NewRequestContext()

	_, err := resolver.Resolve(context.Background(), rctx, info, "")
	require.NoError(t, err)

	cache.Clear()

	_, err = resolver.Resolve(context.Background(), rctx, info, "")
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load(), "Clear must force re-discovery")
}

func TestResolveCorrelationIDHeader(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("client-request-id")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"authorization_endpoint":"a","token_endpoint":"t","issuer":"i"}`)
	}))
	defer srv.Close()

	resolver := NewResolver(NewEndpointCache(), WithDiscoveryURLBuilder(staticBuilder{srv.URL}))
	info := mustInfo(t, "https://login.microsoftonline.com/tid-1")
	rctx := identity.WithCorrelationID("corr-42")

	_, err := resolver.Resolve(context.Background(), rctx, info, "")
	require.NoError(t, err)
	assert.Equal(t, "corr-42", gotHeader)
}
