package broker

import (
	"context"
	"fmt"
	"strings"

	"vouch/internal/autherr"
	"vouch/internal/authority"
	"vouch/internal/identity"
	"vouch/pkg/logging"
)

// Native parameter property keys shared with the broker runtime.
const (
	propIdentityProvider = "identity_provider"
	propRequestType      = "request_type"

	identityProviderPersonal       = "personal"
	identityProviderOrganizational = "organizational"

	requestTypeSilentDefaultUser = "silent_default_user"
)

// callState tracks one acquisition through the adapter. The four terminal
// states are the only outcomes; the adapter itself never retries.
type callState int

const (
	stateNotStarted callState = iota
	stateParamBuild
	stateAwaitingResult
	stateSuccess
	stateRecoverableUIRequired
	stateRetryableServiceError
	stateFatalConfigError
)

func (s callState) String() string {
	switch s {
	case stateNotStarted:
		return "not_started"
	case stateParamBuild:
		return "param_build"
	case stateAwaitingResult:
		return "awaiting_result"
	case stateSuccess:
		return "success"
	case stateRecoverableUIRequired:
		return "ui_required"
	case stateRetryableServiceError:
		return "retryable_service_error"
	case stateFatalConfigError:
		return "fatal_config_error"
	default:
		return "unknown"
	}
}

// Adapter normalizes a native OS broker behind the Invoker capability set.
type Adapter struct {
	native NativeBroker
}

// NewAdapter wraps a native broker binding.
func NewAdapter(native NativeBroker) *Adapter {
	return &Adapter{native: native}
}

// IsInvokable reports whether the native broker can serve requests.
func (a *Adapter) IsInvokable(ctx context.Context) bool {
	return a.native.Installed(ctx)
}

// AcquireInteractive delegates an interactive acquisition to the broker.
func (a *Adapter) AcquireInteractive(ctx context.Context, rctx *identity.RequestContext, req Request) (identity.TokenResponse, error) {
	return a.acquire(ctx, rctx, req, a.native.AcquireInteractive)
}

// AcquireSilent delegates a silent acquisition for a known account.
func (a *Adapter) AcquireSilent(ctx context.Context, rctx *identity.RequestContext, req Request) (identity.TokenResponse, error) {
	return a.acquire(ctx, rctx, req, a.native.AcquireSilent)
}

// AcquireSilentForDefaultUser acquires silently for the OS session's
// default account.
func (a *Adapter) AcquireSilentForDefaultUser(ctx context.Context, rctx *identity.RequestContext, req Request) (identity.TokenResponse, error) {
	return a.acquire(ctx, rctx, req, func(ctx context.Context, params NativeParameters) (NativeResult, error) {
		params.Properties[propRequestType] = requestTypeSilentDefaultUser
		return a.native.AcquireSilentForDefaultUser(ctx, params)
	})
}

func (a *Adapter) acquire(
	ctx context.Context,
	rctx *identity.RequestContext,
	req Request,
	call func(context.Context, NativeParameters) (NativeResult, error),
) (identity.TokenResponse, error) {
	state := stateParamBuild
	params := a.projectParameters(rctx, req)

	state = stateAwaitingResult
	result, err := call(ctx, params)
	if err != nil {
		// Transport-level failure of the binding itself, not a broker
		// protocol answer.
		state = stateRetryableServiceError
		logging.Debug("Broker", "Acquisition finished in state %s (correlation=%s)", state, rctx.CorrelationID)
		return identity.TokenResponse{}, fmt.Errorf("broker invocation failed: %w", err)
	}

	response, err := a.normalizeResult(rctx, req, result)
	if err == nil {
		state = stateSuccess
	} else {
		state = terminalStateFor(result)
	}
	logging.Debug("Broker", "Acquisition finished in state %s (correlation=%s)", state, rctx.CorrelationID)

	return response, err
}

// terminalStateFor maps a failed native result onto the adapter's
// terminal state, for tracing.
func terminalStateFor(result NativeResult) callState {
	if result.Error == nil {
		return stateRetryableServiceError
	}
	switch result.Error.Status {
	case StatusInteractionRequired, StatusAccountUnusable:
		return stateRecoverableUIRequired
	case StatusIncorrectConfiguration, StatusAPIContractViolation:
		return stateFatalConfigError
	default:
		return stateRetryableServiceError
	}
}

// projectParameters maps the generic request onto the broker's native
// parameter set, applying the library defaults.
func (a *Adapter) projectParameters(rctx *identity.RequestContext, req Request) NativeParameters {
	params := NativeParameters{
		ClientID:      req.ClientID,
		Authority:     req.Authority.CanonicalURL,
		RedirectURI:   req.RedirectURI,
		CorrelationID: rctx.CorrelationID,
		LoginHint:     req.LoginHint,
		Properties:    make(map[string]string),
		ForceRefresh:  req.ForceRefresh,
	}

	// Default scope set when the request names none beyond the reserved
	// scopes the provider grants implicitly.
	if identity.HasNonReservedScopes(req.Scopes) {
		params.RequestedScopes = identity.JoinScopes(identity.NormalizeScopes(req.Scopes))
	} else {
		params.RequestedScopes = identity.JoinScopes(identity.ReservedScopes)
		logging.Debug("Broker", "No scopes in request, using reserved default scopes (correlation=%s)", rctx.CorrelationID)
	}

	if req.Claims != "" {
		params.DecodedClaims = req.Claims
	}

	for k, v := range req.ExtraQueryParameters {
		params.Properties[k] = v
	}

	// Identity-provider hint from the account's home tenant.
	if tenant := homeTenant(req.Account.HomeAccountID); tenant != "" {
		if authority.IsConsumerTenant(tenant) {
			params.Properties[propIdentityProvider] = identityProviderPersonal
		} else {
			params.Properties[propIdentityProvider] = identityProviderOrganizational
		}
	}

	if localID := req.Account.LocalAccountID(req.ClientID); localID != "" {
		params.LocalAccountID = localID
	}

	// PoP parameters travel only when a descriptor is present.
	if !req.PoP.IsZero() {
		params.PoPMethod = req.PoP.HTTPMethod
		params.PoPHost = req.PoP.Host
		params.PoPPath = req.PoP.Path
		params.PoPNonce = req.PoP.Nonce
	}

	return params
}

// normalizeResult turns a native result into the common TokenResponse or
// a classified error.
func (a *Adapter) normalizeResult(rctx *identity.RequestContext, req Request, result NativeResult) (identity.TokenResponse, error) {
	accountSwitched := false

	if !result.Success {
		// The user-switch status is the one failure shape that still
		// carries a token; it is tolerated as success with a signal.
		if result.Error != nil && result.Error.Status == StatusUserSwitch {
			logging.Info("Broker", "Broker reported account switch, treating as success (correlation=%s)", rctx.CorrelationID)
			accountSwitched = true
		} else {
			if result.Error == nil {
				return identity.TokenResponse{}, &autherr.UnknownBrokerError{
					Message: "broker reported failure without error detail",
				}
			}
			return identity.TokenResponse{}, classifyError(*result.Error, req.ClientID)
		}
	}

	token := result.AccessToken
	tokenType := "Bearer"
	if result.IsPoPAuthorization {
		// PoP results carry the token inside the authorization header.
		parts := strings.SplitN(result.AuthorizationHeader, " ", 2)
		if len(parts) == 2 {
			token = parts[1]
		}
		tokenType = "pop"
	}

	response := identity.TokenResponse{
		TokenType:       tokenType,
		AccessToken:     token,
		IDToken:         result.IDToken,
		GrantedScopes:   identity.SplitScopes(result.GrantedScopes),
		ExpiresOn:       result.ExpiresOn.UTC(),
		Source:          identity.SourceBroker,
		AccountSwitched: accountSwitched,
		CorrelationID:   rctx.CorrelationID,
		ClientInfo:      result.Account.ClientInfo,
	}

	if account, ok := convertAccount(result.Account, req.ClientID); ok {
		response.Account = account
	}

	return response, nil
}

// convertAccount converts a native account to the library's Account type.
// Conversion requires all four identity fields; incomplete records are
// logged (PII and scrubbed renderings) and skipped, never errors.
func convertAccount(native NativeAccount, clientID string) (identity.Account, bool) {
	if native.AccountID == "" || native.HomeAccountID == "" ||
		native.Environment == "" || native.Username == "" {
		logging.DebugPii("Broker",
			fmt.Sprintf("cannot convert native account: accountID=%q homeAccountID=%q environment=%q username=%q",
				native.AccountID, native.HomeAccountID, native.Environment, native.Username),
			fmt.Sprintf("cannot convert native account: accountID present=%t homeAccountID present=%t environment=%q username present=%t",
				native.AccountID != "", native.HomeAccountID != "", native.Environment, native.Username != ""))
		return identity.Account{}, false
	}

	return identity.Account{
		HomeAccountID: native.HomeAccountID,
		Username:      native.Username,
		Environment:   native.Environment,
		LocalAccountIDs: map[string]string{
			clientID: native.AccountID,
		},
	}, true
}

// Accounts enumerates the broker's accounts visible to the client,
// dropping records that fail conversion.
func (a *Adapter) Accounts(ctx context.Context, rctx *identity.RequestContext, clientID string) ([]identity.Account, error) {
	natives, err := a.native.Accounts(ctx, clientID, rctx.CorrelationID)
	if err != nil {
		return nil, fmt.Errorf("broker account enumeration failed: %w", err)
	}

	accounts := make([]identity.Account, 0, len(natives))
	for _, native := range natives {
		if account, ok := convertAccount(native, clientID); ok {
			accounts = append(accounts, account)
		}
	}
	return accounts, nil
}

// RemoveAccount asks the broker to drop its record of the account.
func (a *Adapter) RemoveAccount(ctx context.Context, rctx *identity.RequestContext, account identity.Account, clientID string) error {
	native := NativeAccount{
		AccountID:     account.LocalAccountID(clientID),
		HomeAccountID: account.HomeAccountID,
		Environment:   account.Environment,
		Username:      account.Username,
	}
	if err := a.native.RemoveAccount(ctx, native, rctx.CorrelationID); err != nil {
		return fmt.Errorf("broker account removal failed: %w", err)
	}
	return nil
}

// homeTenant extracts the utid half of a home account id.
func homeTenant(homeAccountID string) string {
	if i := strings.Index(homeAccountID, "."); i >= 0 && i < len(homeAccountID)-1 {
		return homeAccountID[i+1:]
	}
	return ""
}
