package request

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"vouch/internal/autherr"
	"vouch/internal/identity"
	"vouch/pkg/logging"
)

// brokerContinuationPrefix tags an authorization code that is not a code
// at all but an instruction to finish the flow through the OS broker
// (typically after a broker-install redirect).
const brokerContinuationPrefix = "msauth://"

// AuthorizationProvider drives the platform's interactive authorization
// UI (system browser, embedded web view). It is an external collaborator;
// this package only builds the URL and validates the outcome.
type AuthorizationProvider interface {
	Authorize(ctx context.Context, authorizationURL string) (AuthorizationResult, error)
}

// AuthorizationResult is the raw outcome of one interactive authorization.
type AuthorizationResult struct {
	Code  string
	State string

	// Error and ErrorDescription carry the provider's protocol error when
	// the authorization did not produce a code.
	Error            string
	ErrorDescription string
}

// pkcePair is one code-verifier/challenge binding.
type pkcePair struct {
	verifier  string
	challenge string
}

// newPKCEPair generates a fresh verifier and its S256 challenge.
func newPKCEPair() (pkcePair, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return pkcePair{}, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(buf)
	sum := sha256.Sum256([]byte(verifier))
	return pkcePair{
		verifier:  verifier,
		challenge: base64.RawURLEncoding.EncodeToString(sum[:]),
	}, nil
}

// validateRedirectURI rejects redirect URIs the provider would refuse
// before any network round trip is spent on them.
func validateRedirectURI(redirectURI string) error {
	if redirectURI == "" {
		return autherr.NewClientError(autherr.CodeInvalidRedirectURI, "redirect URI is empty")
	}
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return autherr.NewClientError(autherr.CodeInvalidRedirectURI, "redirect URI %q is not a valid URI: %v", redirectURI, err)
	}
	if parsed.Scheme == "" {
		return autherr.NewClientError(autherr.CodeInvalidRedirectURI, "redirect URI %q has no scheme", redirectURI)
	}
	return nil
}

// buildAuthorizationURL assembles the authorize-endpoint URL with PKCE
// and anti-forgery parameters. Extra query parameters may not shadow the
// protocol's own parameters or each other.
func buildAuthorizationURL(authorizeEndpoint, clientID, redirectURI string, scopes []string, pkce pkcePair, state, loginHint, claims string, extra map[string]string) (string, error) {
	parsed, err := url.Parse(authorizeEndpoint)
	if err != nil {
		return "", fmt.Errorf("invalid authorization endpoint: %w", err)
	}

	query := parsed.Query()
	set := func(key, value string) error {
		if query.Has(key) {
			return autherr.NewClientError(autherr.CodeDuplicateQueryParam,
				"query parameter %q is already present on the authorization request", key)
		}
		query.Set(key, value)
		return nil
	}

	params := []struct{ key, value string }{
		{"response_type", "code"},
		{"client_id", clientID},
		{"redirect_uri", redirectURI},
		{"scope", identity.JoinScopes(identity.NormalizeScopes(scopes))},
		{"code_challenge", pkce.challenge},
		{"code_challenge_method", "S256"},
		{"state", state},
	}
	for _, p := range params {
		if err := set(p.key, p.value); err != nil {
			return "", err
		}
	}
	if loginHint != "" {
		if err := set("login_hint", loginHint); err != nil {
			return "", err
		}
	}
	if claims != "" {
		if err := set("claims", claims); err != nil {
			return "", err
		}
	}
	for key, value := range extra {
		if err := set(key, value); err != nil {
			return "", err
		}
	}

	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// validateAuthorizationResult enforces the anti-forgery state contract
// and maps protocol errors onto the library's taxonomy. The returned
// code is valid only when err is nil.
func validateAuthorizationResult(result AuthorizationResult, sentState string) (string, error) {
	switch result.Error {
	case "":
		// fall through to state validation
	case "login_required", "interaction_required", "consent_required":
		return "", autherr.NewUIRequiredError(autherr.NoPromptFailed,
			"authorization requires a prompt: %s", result.ErrorDescription)
	case "access_denied":
		return "", autherr.NewCancelledError("authorization was declined: %s", result.ErrorDescription)
	default:
		return "", autherr.NewServiceError(result.Error,
			"authorization failed: %s", result.ErrorDescription)
	}

	// State must match even on apparent success.
	if !strings.EqualFold(result.State, sentState) {
		return "", autherr.NewClientError(autherr.CodeStateMismatch,
			"returned state %q does not match sent state %q", result.State, sentState)
	}
	if result.Code == "" {
		return "", autherr.NewServiceError("authorization_code_missing",
			"authorization succeeded but returned no code")
	}
	return result.Code, nil
}

// requiresBrokerContinuation reports whether an authorization code is a
// broker-install continuation marker rather than a redeemable code.
func requiresBrokerContinuation(code, redirectURI string) bool {
	if strings.HasPrefix(code, brokerContinuationPrefix) {
		return true
	}
	return code == redirectURI
}

// newState generates the anti-forgery state value.
func newState() string {
	return uuid.NewString()
}

func logAuthorizationOutcome(rctx *identity.RequestContext, result AuthorizationResult) {
	if result.Error != "" {
		logging.Debug("Request", "Authorization returned error %s (correlation=%s)", result.Error, rctx.CorrelationID)
		return
	}
	logging.Debug("Request", "Authorization returned code (correlation=%s)", rctx.CorrelationID)
}
