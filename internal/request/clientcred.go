package request

import (
	"context"

	"vouch/internal/cache"
	"vouch/internal/identity"
	"vouch/pkg/logging"
)

// AcquireClientCredential acquires an application token with no user
// context. Cache entries are keyed by client id, tenant and scopes only.
func (o *Orchestrator) AcquireClientCredential(ctx context.Context, rctx *identity.RequestContext, req ClientCredentialRequest) (identity.TokenResponse, error) {
	key := cache.AccessTokenKey{
		Environment: req.Authority.Host,
		ClientID:    req.ClientID,
		Realm:       req.Authority.Tenant,
		Scopes:      req.Scopes,
	}

	details := cache.EventDetails{IsAppCache: true, SuggestedKey: req.ClientID}
	if err := o.store.NotifyBeforeAccess(ctx, details); err != nil {
		return identity.TokenResponse{}, err
	}

	if !req.ForceRefresh {
		if item, ok := o.store.MatchAccessToken(key); ok && !item.IsExpired(o.expiryMargin) {
			logging.Debug("Request", "Client-credential cache hit (correlation=%s)", rctx.CorrelationID)
			return cachedResponse(item, identity.Account{}, rctx.CorrelationID), nil
		}
	}

	endpoints, err := o.resolver.Resolve(ctx, rctx, req.Authority, "")
	if err != nil {
		return identity.TokenResponse{}, err
	}

	response, err := o.tokens.RedeemClientCredentials(ctx, rctx,
		endpoints.TokenEndpoint, req.ClientID, req.ClientSecret, req.Scopes)
	if err != nil {
		return identity.TokenResponse{}, err
	}

	if err := o.commit(ctx, rctx, &response, req.ClientID, req.Authority, req.Scopes, identity.PoPDescriptor{}); err != nil {
		return identity.TokenResponse{}, err
	}
	return response, nil
}
