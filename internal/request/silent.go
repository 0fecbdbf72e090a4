package request

import (
	"context"
	"errors"

	"vouch/internal/autherr"
	"vouch/internal/broker"
	"vouch/internal/cache"
	"vouch/internal/identity"
	"vouch/pkg/logging"
)

// AcquireSilent serves a token without interaction: from the cache when a
// usable item exists, otherwise through a refresh-token exchange or the
// broker. It never falls through to interactive; callers do that on a
// UIRequiredError.
func (o *Orchestrator) AcquireSilent(ctx context.Context, rctx *identity.RequestContext, req SilentRequest) (identity.TokenResponse, error) {
	key := cache.AccessTokenKey{
		HomeAccountID: req.Account.HomeAccountID,
		Environment:   req.Authority.Host,
		ClientID:      req.ClientID,
		Realm:         req.Authority.Tenant,
		Scopes:        req.Scopes,
		Discriminator: req.PoP.CacheDiscriminator(),
	}

	details := cache.EventDetails{
		SuggestedKey:      req.ClientID,
		HomeAccountFilter: req.Account.HomeAccountID,
	}
	if err := o.store.NotifyBeforeAccess(ctx, details); err != nil {
		return identity.TokenResponse{}, err
	}

	var cached cache.AccessTokenItem
	var hasCached bool
	if !req.ForceRefresh {
		if item, ok := o.store.MatchAccessToken(key); ok && !item.IsExpired(o.expiryMargin) {
			cached, hasCached = item, true
		}
	}

	if hasCached && !cached.NeedsRefresh() {
		logging.Debug("Request", "Cache hit (correlation=%s)", rctx.CorrelationID)
		if err := o.store.NotifyAfterAccess(ctx, details); err != nil {
			logging.Warn("Request", "Cache after-access hook failed: %v", err)
		}
		return cachedResponse(cached, req.Account, rctx.CorrelationID), nil
	}

	if req.ThroughBroker {
		return o.silentThroughBroker(ctx, rctx, req)
	}

	rt, ok := o.store.FindRefreshToken(req.Account.HomeAccountID, req.Authority.Host, req.ClientID)
	if !ok {
		if hasCached {
			return o.serveCachedAfterRefreshMiss(ctx, rctx, cached, req, details), nil
		}
		return identity.TokenResponse{}, autherr.NewUIRequiredError(autherr.NoMatchingAccount,
			"no refresh token found for account %s and client %s",
			logging.TruncateID(req.Account.HomeAccountID), req.ClientID)
	}
	if rt.FamilyID != "" && rt.ClientID != req.ClientID {
		logging.Debug("Request", "Using family refresh token from sibling client (correlation=%s)", rctx.CorrelationID)
	}

	endpoints, err := o.resolver.Resolve(ctx, rctx, req.Authority, req.Account.Username)
	if err != nil {
		return identity.TokenResponse{}, err
	}

	response, err := o.tokens.RedeemRefreshToken(ctx, rctx,
		endpoints.TokenEndpoint, req.ClientID, rt.Secret, req.Scopes)
	if err != nil {
		// A failed proactive refresh never discards a token that is still
		// inside its hard expiry; the soft hint only schedules the attempt.
		if hasCached {
			return o.serveCachedAfterRefreshMiss(ctx, rctx, cached, req, details), nil
		}
		// Transient conditions stay retryable for the caller; everything
		// else ends the silent path.
		var svcErr *autherr.ServiceError
		if errors.As(err, &svcErr) && svcErr.Retryable {
			return identity.TokenResponse{}, err
		}
		return identity.TokenResponse{}, autherr.NewUIRequiredError(autherr.RefreshFailed,
			"refresh token exchange failed: %v", err)
	}

	if response.Account.HomeAccountID == "" {
		response.Account = req.Account
	}
	if err := o.commit(ctx, rctx, &response, req.ClientID, req.Authority, req.Scopes, req.PoP); err != nil {
		return identity.TokenResponse{}, err
	}
	return response, nil
}

// serveCachedAfterRefreshMiss renders a still-valid cached item after a
// proactive refresh could not complete.
func (o *Orchestrator) serveCachedAfterRefreshMiss(ctx context.Context, rctx *identity.RequestContext, item cache.AccessTokenItem, req SilentRequest, details cache.EventDetails) identity.TokenResponse {
	logging.Warn("Request", "Proactive refresh failed, serving the cached token until hard expiry (correlation=%s)", rctx.CorrelationID)
	if err := o.store.NotifyAfterAccess(ctx, details); err != nil {
		logging.Warn("Request", "Cache after-access hook failed: %v", err)
	}
	return cachedResponse(item, req.Account, rctx.CorrelationID)
}

// silentThroughBroker targets a broker-issued account. A missing broker
// account fails fast as UI-required; falling through to the local refresh
// path would acquire for the wrong identity.
func (o *Orchestrator) silentThroughBroker(ctx context.Context, rctx *identity.RequestContext, req SilentRequest) (identity.TokenResponse, error) {
	if !o.broker.IsInvokable(ctx) {
		return identity.TokenResponse{}, autherr.NewClientError(autherr.CodeBrokerUnavailable,
			"account is broker-issued but no broker is invokable")
	}

	accounts, err := o.broker.Accounts(ctx, rctx, req.ClientID)
	if err != nil {
		return identity.TokenResponse{}, autherr.NewClientError(autherr.CodeBrokerSilentFailed,
			"broker account enumeration failed: %v", err)
	}
	found := false
	for _, account := range accounts {
		if account.HomeAccountID == req.Account.HomeAccountID {
			found = true
			break
		}
	}
	if !found {
		return identity.TokenResponse{}, autherr.NewUIRequiredError(autherr.BrokerAccountMissing,
			"broker has no account %s", logging.TruncateID(req.Account.HomeAccountID))
	}

	response, err := o.broker.AcquireSilent(ctx, rctx, broker.Request{
		Authority:    req.Authority,
		ClientID:     req.ClientID,
		Scopes:       req.Scopes,
		PoP:          req.PoP,
		Account:      req.Account,
		ForceRefresh: req.ForceRefresh,
	})
	if err != nil {
		return identity.TokenResponse{}, err
	}
	if err := o.commit(ctx, rctx, &response, req.ClientID, req.Authority, req.Scopes, req.PoP); err != nil {
		return identity.TokenResponse{}, err
	}
	return response, nil
}
