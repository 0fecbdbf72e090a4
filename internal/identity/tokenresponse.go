package identity

import (
	"time"

	"golang.org/x/oauth2"
)

// TokenSource tells callers which path produced a TokenResponse.
type TokenSource string

const (
	SourceNetwork TokenSource = "network"
	SourceCache   TokenSource = "cache"
	SourceBroker  TokenSource = "broker"
)

// ResponseError carries the provider's protocol-level error triple when a
// token response represents a failure that still has wire-level structure.
type ResponseError struct {
	Code        string `json:"error,omitempty"`
	Description string `json:"error_description,omitempty"`
	SubError    string `json:"suberror,omitempty"`
}

// TokenResponse is the normalized result of every acquisition path:
// direct token-endpoint exchange, cache hit, or broker delegation.
type TokenResponse struct {
	// TokenType is "Bearer" for ordinary tokens or "pop" when the token
	// is bound to a proof-of-possession key.
	TokenType string `json:"token_type"`

	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`

	// GrantedScopes is what the provider actually granted, which may be a
	// subset of the requested scopes.
	GrantedScopes []string `json:"granted_scopes,omitempty"`

	// ExpiresOn is the absolute UTC expiry of the access token.
	ExpiresOn time.Time `json:"expires_on,omitempty"`

	// RefreshOn, when set, is an instant before ExpiresOn at which the
	// token should be proactively refreshed. A token past RefreshOn is
	// still valid; the hint is soft.
	RefreshOn time.Time `json:"refresh_on,omitempty"`

	// FamilyID marks refresh tokens shareable across a family of client
	// ids ("1" for first-party families).
	FamilyID string `json:"foci,omitempty"`

	// ClientInfo is the raw base64url uid/utid envelope from the provider,
	// used to derive the home account id.
	ClientInfo string `json:"client_info,omitempty"`

	// Source records which path produced this response.
	Source TokenSource `json:"source"`

	// Account is the resolved account, when known.
	Account Account `json:"account,omitempty"`

	// AccountSwitched is set when a broker authenticated a different
	// account than the one requested and the result was still accepted.
	// Callers that require the exact requested account must check it.
	AccountSwitched bool `json:"account_switched,omitempty"`

	// CorrelationID ties the response back to the request for tracing.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Err carries the provider's error triple for failure responses that
	// were normalized rather than returned as Go errors.
	Err *ResponseError `json:"error_detail,omitempty"`
}

// IsExpired reports whether the access token is past its hard expiry,
// applying the given margin for clock skew.
func (t *TokenResponse) IsExpired(margin time.Duration) bool {
	if t.ExpiresOn.IsZero() {
		return false
	}
	return time.Now().Add(margin).After(t.ExpiresOn)
}

// NeedsRefresh reports whether the soft refresh hint has elapsed.
func (t *TokenResponse) NeedsRefresh() bool {
	return !t.RefreshOn.IsZero() && time.Now().After(t.RefreshOn)
}

// ToOAuth2Token converts the response into the golang.org/x/oauth2 token
// shape for callers that integrate with oauth2-based HTTP clients.
func (t *TokenResponse) ToOAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.ExpiresOn,
	}
}
