// Package request sequences the acquisition paths: interactive
// authorization, silent cache/refresh, on-behalf-of, and client
// credentials. It owns the decision logic between cache, broker and
// direct token-endpoint exchange, and commits every successful result
// into the token cache as one unit.
package request

import (
	"context"
	"fmt"
	"time"

	"vouch/internal/autherr"
	"vouch/internal/authority"
	"vouch/internal/broker"
	"vouch/internal/cache"
	"vouch/internal/identity"
	"vouch/pkg/logging"
)

// defaultExpiryMargin is the clock-skew margin applied to cached access
// tokens before serving them.
const defaultExpiryMargin = 5 * time.Minute

// InteractiveRequest describes one interactive acquisition.
type InteractiveRequest struct {
	Authority   authority.Info
	ClientID    string
	Scopes      []string
	RedirectURI string

	LoginHint            string
	Claims               string
	ExtraQueryParameters map[string]string
	PoP                  identity.PoPDescriptor

	// UseBroker delegates the whole flow to the OS broker when one is
	// invokable.
	UseBroker bool
}

// SilentRequest describes one silent acquisition for a known account.
type SilentRequest struct {
	Authority authority.Info
	ClientID  string
	Scopes    []string
	Account   identity.Account

	PoP          identity.PoPDescriptor
	ForceRefresh bool

	// ThroughBroker targets the account at the OS broker instead of the
	// local refresh-token path. Set for accounts the broker issued.
	ThroughBroker bool
}

// OnBehalfOfRequest describes a downstream acquisition on behalf of an
// inbound user assertion.
type OnBehalfOfRequest struct {
	Authority     authority.Info
	ClientID      string
	ClientSecret  string
	Scopes        []string
	UserAssertion string
	ForceRefresh  bool
}

// ClientCredentialRequest describes an application-only acquisition.
type ClientCredentialRequest struct {
	Authority    authority.Info
	ClientID     string
	ClientSecret string
	Scopes       []string
	ForceRefresh bool
}

// Orchestrator sequences cache lookup, broker delegation and network
// exchange per request kind.
type Orchestrator struct {
	store    *cache.Store
	resolver *authority.Resolver
	broker   broker.Invoker
	tokens   *TokenClient
	authz    AuthorizationProvider

	expiryMargin time.Duration
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithExpiryMargin overrides the cached-token clock-skew margin.
func WithExpiryMargin(margin time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.expiryMargin = margin }
}

// WithAuthorizationProvider installs the interactive UI collaborator.
func WithAuthorizationProvider(p AuthorizationProvider) OrchestratorOption {
	return func(o *Orchestrator) { o.authz = p }
}

// NewOrchestrator wires the orchestrator over its collaborators. A nil
// invoker falls back to the no-broker variant.
func NewOrchestrator(store *cache.Store, resolver *authority.Resolver, invoker broker.Invoker, tokens *TokenClient, opts ...OrchestratorOption) *Orchestrator {
	if invoker == nil {
		invoker = broker.NewNoBroker()
	}
	o := &Orchestrator{
		store:        store,
		resolver:     resolver,
		broker:       invoker,
		tokens:       tokens,
		expiryMargin: defaultExpiryMargin,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// AcquireInteractive runs the interactive authorization flow, through the
// broker when requested and invokable, else via the external
// authorization UI plus a direct code exchange.
func (o *Orchestrator) AcquireInteractive(ctx context.Context, rctx *identity.RequestContext, req InteractiveRequest) (identity.TokenResponse, error) {
	if err := validateRedirectURI(req.RedirectURI); err != nil {
		return identity.TokenResponse{}, err
	}

	endpoints, err := o.resolver.Resolve(ctx, rctx, req.Authority, req.LoginHint)
	if err != nil {
		return identity.TokenResponse{}, err
	}

	if req.UseBroker && o.broker.IsInvokable(ctx) {
		return o.interactiveThroughBroker(ctx, rctx, req)
	}

	if o.authz == nil {
		return identity.TokenResponse{}, autherr.NewClientError("no_authorization_provider",
			"interactive acquisition requires an authorization provider or an invokable broker")
	}

	pkce, err := newPKCEPair()
	if err != nil {
		return identity.TokenResponse{}, err
	}
	state := newState()

	authorizeURL, err := buildAuthorizationURL(
		endpoints.AuthorizationEndpoint, req.ClientID, req.RedirectURI,
		req.Scopes, pkce, state, req.LoginHint, req.Claims, req.ExtraQueryParameters)
	if err != nil {
		return identity.TokenResponse{}, err
	}

	result, err := o.authz.Authorize(ctx, authorizeURL)
	if err != nil {
		if ctx.Err() != nil {
			return identity.TokenResponse{}, autherr.NewCancelledError("authorization was cancelled: %v", ctx.Err())
		}
		return identity.TokenResponse{}, fmt.Errorf("authorization failed: %w", err)
	}
	logAuthorizationOutcome(rctx, result)

	code, err := validateAuthorizationResult(result, state)
	if err != nil {
		return identity.TokenResponse{}, err
	}

	// A broker-install redirect hands back a continuation marker instead
	// of a redeemable code; the flow finishes at the broker.
	if requiresBrokerContinuation(code, req.RedirectURI) {
		logging.Info("Request", "Authorization re-routed to broker (correlation=%s)", rctx.CorrelationID)
		return o.interactiveThroughBroker(ctx, rctx, req)
	}

	response, err := o.tokens.RedeemAuthorizationCode(ctx, rctx,
		endpoints.TokenEndpoint, req.ClientID, code, req.RedirectURI, pkce.verifier, req.Scopes)
	if err != nil {
		return identity.TokenResponse{}, err
	}

	if err := o.commit(ctx, rctx, &response, req.ClientID, req.Authority, req.Scopes, req.PoP); err != nil {
		return identity.TokenResponse{}, err
	}
	return response, nil
}

func (o *Orchestrator) interactiveThroughBroker(ctx context.Context, rctx *identity.RequestContext, req InteractiveRequest) (identity.TokenResponse, error) {
	if !o.broker.IsInvokable(ctx) {
		return identity.TokenResponse{}, autherr.NewClientError(autherr.CodeBrokerUnavailable,
			"flow requires the broker but no broker is invokable")
	}
	response, err := o.broker.AcquireInteractive(ctx, rctx, broker.Request{
		Authority:            req.Authority,
		ClientID:             req.ClientID,
		Scopes:               req.Scopes,
		RedirectURI:          req.RedirectURI,
		Claims:               req.Claims,
		ExtraQueryParameters: req.ExtraQueryParameters,
		PoP:                  req.PoP,
		LoginHint:            req.LoginHint,
	})
	if err != nil {
		return identity.TokenResponse{}, err
	}
	if err := o.commit(ctx, rctx, &response, req.ClientID, req.Authority, req.Scopes, req.PoP); err != nil {
		return identity.TokenResponse{}, err
	}
	return response, nil
}

// commit writes the access/refresh/id-token and account records of one
// successful acquisition into the store as a single unit under the cache
// guard. A cancelled context never writes.
func (o *Orchestrator) commit(ctx context.Context, rctx *identity.RequestContext, response *identity.TokenResponse, clientID string, info authority.Info, requestedScopes []string, pop identity.PoPDescriptor) error {
	if ctx.Err() != nil {
		logging.Debug("Request", "Skipping cache write after cancellation (correlation=%s)", rctx.CorrelationID)
		return ctx.Err()
	}
	if response.AccessToken == "" {
		return autherr.NewServiceError("empty_token_response", "acquisition produced no access token")
	}

	if err := o.store.Lock(ctx); err != nil {
		return err
	}
	defer o.store.Unlock()

	homeAccountID := response.Account.HomeAccountID
	if homeAccountID == "" && response.ClientInfo != "" {
		if ci, err := identity.ParseClientInfo(response.ClientInfo); err == nil {
			homeAccountID = ci.HomeAccountID()
		}
	}

	// Realm is pinned to the requesting authority's tenant so lookup and
	// write always address the same partition and key.
	realm := info.Tenant
	username := response.Account.Username
	if username == "" && response.IDToken != "" {
		if claims, err := identity.ParseIDTokenClaims(response.IDToken); err == nil {
			username = claims.PreferredUsername
		}
	}

	// The item is keyed by the scopes the caller asked for, so a repeat
	// of the same request always finds it again even when the provider
	// grants a different set. The granted scopes stay on the response.
	scopes := requestedScopes
	if len(scopes) == 0 {
		scopes = response.GrantedScopes
	}

	details := cache.EventDetails{SuggestedKey: clientID, HomeAccountFilter: homeAccountID}
	if err := o.store.NotifyBeforeWrite(ctx, details); err != nil {
		return fmt.Errorf("cache before-write hook failed: %w", err)
	}

	item := cache.AccessTokenItem{
		HomeAccountID: homeAccountID,
		Environment:   info.Host,
		ClientID:      clientID,
		Realm:         realm,
		Scopes:        identity.NormalizeScopes(scopes),
		Secret:        response.AccessToken,
		TokenType:     response.TokenType,
		Discriminator: pop.CacheDiscriminator(),
		ExpiresOn:     response.ExpiresOn,
		RefreshOn:     response.RefreshOn,
	}
	if err := o.store.SaveAccessToken(item); err != nil {
		return err
	}

	if response.RefreshToken != "" {
		o.store.SaveRefreshToken(cache.RefreshTokenItem{
			HomeAccountID: homeAccountID,
			Environment:   info.Host,
			ClientID:      clientID,
			FamilyID:      response.FamilyID,
			Secret:        response.RefreshToken,
		})
		o.store.SaveAppMetadata(cache.AppMetadata{
			Environment: info.Host,
			ClientID:    clientID,
			FamilyID:    response.FamilyID,
		})
	}

	if response.IDToken != "" && homeAccountID != "" {
		o.store.SaveIDToken(cache.IDTokenItem{
			HomeAccountID: homeAccountID,
			Environment:   info.Host,
			ClientID:      clientID,
			Realm:         realm,
			Secret:        response.IDToken,
		})
	}

	if homeAccountID != "" {
		account := response.Account
		account.HomeAccountID = homeAccountID
		account.Username = username
		if account.Environment == "" {
			account.Environment = info.Host
		}
		o.store.SaveAccount(account, realm, false)
		response.Account = account
	}

	if err := o.store.NotifyAfterAccess(ctx, details); err != nil {
		logging.Warn("Request", "Cache after-access hook failed: %v", err)
	}
	return nil
}

// cachedResponse renders a cache hit as a TokenResponse.
func cachedResponse(item cache.AccessTokenItem, account identity.Account, correlationID string) identity.TokenResponse {
	return identity.TokenResponse{
		TokenType:     item.TokenType,
		AccessToken:   item.Secret,
		GrantedScopes: item.Scopes,
		ExpiresOn:     item.ExpiresOn,
		RefreshOn:     item.RefreshOn,
		Source:        identity.SourceCache,
		Account:       account,
		CorrelationID: correlationID,
	}
}
