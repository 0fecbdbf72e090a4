package request

import (
	"context"
	"crypto/sha256"
	"encoding/base64"

	"vouch/internal/cache"
	"vouch/internal/identity"
	"vouch/pkg/logging"
)

// assertionHash keys on-behalf-of cache entries by the inbound assertion
// so a new assertion for a different user never reuses another user's
// cached token.
func assertionHash(assertion string) string {
	sum := sha256.Sum256([]byte(assertion))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// AcquireOnBehalfOf exchanges an inbound user assertion for a downstream
// token, caching per assertion hash.
func (o *Orchestrator) AcquireOnBehalfOf(ctx context.Context, rctx *identity.RequestContext, req OnBehalfOfRequest) (identity.TokenResponse, error) {
	hash := assertionHash(req.UserAssertion)
	key := cache.AccessTokenKey{
		HomeAccountID: hash,
		Environment:   req.Authority.Host,
		ClientID:      req.ClientID,
		Realm:         req.Authority.Tenant,
		Scopes:        req.Scopes,
	}

	details := cache.EventDetails{SuggestedKey: req.ClientID, HomeAccountFilter: hash}
	if err := o.store.NotifyBeforeAccess(ctx, details); err != nil {
		return identity.TokenResponse{}, err
	}

	if !req.ForceRefresh {
		if item, ok := o.store.MatchAccessToken(key); ok && !item.IsExpired(o.expiryMargin) {
			logging.Debug("Request", "On-behalf-of cache hit (correlation=%s)", rctx.CorrelationID)
			return cachedResponse(item, identity.Account{}, rctx.CorrelationID), nil
		}
	}

	endpoints, err := o.resolver.Resolve(ctx, rctx, req.Authority, "")
	if err != nil {
		return identity.TokenResponse{}, err
	}

	response, err := o.tokens.RedeemOnBehalfOf(ctx, rctx,
		endpoints.TokenEndpoint, req.ClientID, req.ClientSecret, req.UserAssertion, req.Scopes)
	if err != nil {
		return identity.TokenResponse{}, err
	}

	// The assertion hash is the partition identity for this entry; the
	// provider-issued home account id would let a different assertion for
	// the same user alias into this cache line.
	response.Account = identity.Account{HomeAccountID: hash}
	if err := o.commit(ctx, rctx, &response, req.ClientID, req.Authority, req.Scopes, identity.PoPDescriptor{}); err != nil {
		return identity.TokenResponse{}, err
	}
	return response, nil
}
