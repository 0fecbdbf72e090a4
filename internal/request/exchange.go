package request

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"vouch/internal/autherr"
	"vouch/internal/identity"
	"vouch/pkg/logging"
)

const (
	grantAuthorizationCode = "authorization_code"
	grantRefreshToken      = "refresh_token"
	grantClientCredentials = "client_credentials"
	grantJWTBearer         = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	// requestedTokenUseOBO marks a jwt-bearer exchange as on-behalf-of.
	requestedTokenUseOBO = "on_behalf_of"
)

// TokenClient performs the direct token-endpoint exchanges. It is the
// network half of every non-broker acquisition path.
type TokenClient struct {
	httpClient *http.Client
}

// NewTokenClient creates a client over the given HTTP transport, or
// http.DefaultClient when nil.
func NewTokenClient(hc *http.Client) *TokenClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &TokenClient{httpClient: hc}
}

// RedeemAuthorizationCode exchanges an authorization code for tokens.
func (c *TokenClient) RedeemAuthorizationCode(ctx context.Context, rctx *identity.RequestContext, tokenEndpoint, clientID, code, redirectURI, codeVerifier string, scopes []string) (identity.TokenResponse, error) {
	form := url.Values{
		"grant_type":    {grantAuthorizationCode},
		"client_id":     {clientID},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"code_verifier": {codeVerifier},
		"scope":         {identity.JoinScopes(identity.NormalizeScopes(scopes))},
	}
	return c.exchange(ctx, rctx, tokenEndpoint, form)
}

// RedeemRefreshToken exchanges a refresh token for a fresh token set.
func (c *TokenClient) RedeemRefreshToken(ctx context.Context, rctx *identity.RequestContext, tokenEndpoint, clientID, refreshToken string, scopes []string) (identity.TokenResponse, error) {
	form := url.Values{
		"grant_type":    {grantRefreshToken},
		"client_id":     {clientID},
		"refresh_token": {refreshToken},
		"scope":         {identity.JoinScopes(identity.NormalizeScopes(scopes))},
	}
	return c.exchange(ctx, rctx, tokenEndpoint, form)
}

// RedeemOnBehalfOf exchanges an inbound user assertion for a downstream
// token using the on-behalf-of grant.
func (c *TokenClient) RedeemOnBehalfOf(ctx context.Context, rctx *identity.RequestContext, tokenEndpoint, clientID, clientSecret, assertion string, scopes []string) (identity.TokenResponse, error) {
	form := url.Values{
		"grant_type":          {grantJWTBearer},
		"client_id":           {clientID},
		"client_secret":       {clientSecret},
		"assertion":           {assertion},
		"requested_token_use": {requestedTokenUseOBO},
		"scope":               {identity.JoinScopes(identity.NormalizeScopes(scopes))},
	}
	return c.exchange(ctx, rctx, tokenEndpoint, form)
}

// RedeemClientCredentials acquires an application token with no user
// context.
func (c *TokenClient) RedeemClientCredentials(ctx context.Context, rctx *identity.RequestContext, tokenEndpoint, clientID, clientSecret string, scopes []string) (identity.TokenResponse, error) {
	form := url.Values{
		"grant_type":    {grantClientCredentials},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"scope":         {identity.JoinScopes(identity.NormalizeScopes(scopes))},
	}
	return c.exchange(ctx, rctx, tokenEndpoint, form)
}

// wireTokenResponse is the provider's JSON token payload, success and
// error halves combined the way OAuth2 providers actually answer.
type wireTokenResponse struct {
	TokenType    string `json:"token_type"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	Scope        string `json:"scope"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshIn    int64  `json:"refresh_in"`
	ClientInfo   string `json:"client_info"`
	FamilyID     string `json:"foci"`

	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	SubError         string `json:"suberror"`
}

func (c *TokenClient) exchange(ctx context.Context, rctx *identity.RequestContext, tokenEndpoint string, form url.Values) (identity.TokenResponse, error) {
	grant := form.Get("grant_type")
	logging.Debug("Request", "Token exchange (grant=%s correlation=%s)", grant, rctx.CorrelationID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return identity.TokenResponse{}, fmt.Errorf("failed to build token request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("client-request-id", rctx.CorrelationID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return identity.TokenResponse{}, autherr.NewRetryableServiceError(
			"token_endpoint_unreachable",
			"token exchange failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return identity.TokenResponse{}, autherr.NewRetryableServiceError(
			"token_endpoint_read_failed",
			"reading token response failed: %v", err)
	}

	var wire wireTokenResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return identity.TokenResponse{}, autherr.NewServiceError(
			"token_response_malformed",
			"token endpoint returned unparseable payload (status %d)", resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK || wire.Error != "" {
		svcErr := &autherr.ServiceError{
			Code:        wire.Error,
			Message:     fmt.Sprintf("token exchange rejected (status %d): %s", resp.StatusCode, wire.ErrorDescription),
			Retryable:   resp.StatusCode >= 500,
			StatusCode:  resp.StatusCode,
			OAuthError:  wire.Error,
			SubError:    wire.SubError,
			Description: wire.ErrorDescription,
		}
		if svcErr.Code == "" {
			svcErr.Code = fmt.Sprintf("http_%d", resp.StatusCode)
		}
		logging.Debug("Request", "Token exchange rejected (grant=%s error=%s suberror=%s correlation=%s)",
			grant, wire.Error, wire.SubError, rctx.CorrelationID)
		return identity.TokenResponse{
			Err: &identity.ResponseError{
				Code:        wire.Error,
				Description: wire.ErrorDescription,
				SubError:    wire.SubError,
			},
		}, svcErr
	}

	now := time.Now().UTC()
	response := identity.TokenResponse{
		TokenType:     wire.TokenType,
		AccessToken:   wire.AccessToken,
		RefreshToken:  wire.RefreshToken,
		IDToken:       wire.IDToken,
		GrantedScopes: identity.SplitScopes(wire.Scope),
		ExpiresOn:     now.Add(time.Duration(wire.ExpiresIn) * time.Second),
		FamilyID:      wire.FamilyID,
		ClientInfo:    wire.ClientInfo,
		Source:        identity.SourceNetwork,
		CorrelationID: rctx.CorrelationID,
	}
	if response.TokenType == "" {
		response.TokenType = "Bearer"
	}
	if wire.RefreshIn > 0 && wire.RefreshIn < wire.ExpiresIn {
		response.RefreshOn = now.Add(time.Duration(wire.RefreshIn) * time.Second)
	}
	if wire.ClientInfo != "" {
		if ci, err := identity.ParseClientInfo(wire.ClientInfo); err == nil {
			response.Account.HomeAccountID = ci.HomeAccountID()
		}
	}
	if wire.IDToken != "" {
		if claims, err := identity.ParseIDTokenClaims(wire.IDToken); err == nil {
			response.Account.Username = claims.PreferredUsername
		}
	}
	return response, nil
}
