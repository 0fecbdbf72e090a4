// Package broker adapts heterogeneous native OS brokers to one request,
// response and error shape. The native IPC binding itself is an external
// collaborator behind the NativeBroker interface; this package owns
// parameter projection and result normalization only.
package broker

import (
	"context"
	"time"

	"vouch/internal/authority"
	"vouch/internal/identity"
)

// Request is the generic acquisition request handed to a broker variant.
type Request struct {
	Authority authority.Info
	ClientID  string
	Scopes    []string

	RedirectURI string
	Claims      string

	// ExtraQueryParameters are copied into the native parameter set
	// verbatim.
	ExtraQueryParameters map[string]string

	// PoP describes proof-of-possession binding; zero means bearer.
	PoP identity.PoPDescriptor

	// Account targets a known account for silent calls.
	Account identity.Account

	// LoginHint seeds the broker's account picker for interactive calls.
	LoginHint string

	ForceRefresh bool
}

// NativeParameters is the projected, broker-native parameter set.
type NativeParameters struct {
	ClientID        string
	Authority       string
	RequestedScopes string
	RedirectURI     string
	DecodedClaims   string
	CorrelationID   string
	LoginHint       string

	// LocalAccountID addresses the broker's own account record.
	LocalAccountID string

	// Properties is the open key/value channel into the native layer.
	Properties map[string]string

	// Proof-of-possession fields; empty unless a PoP descriptor was set.
	PoPMethod string
	PoPHost   string
	PoPPath   string
	PoPNonce  string

	ForceRefresh bool
}

// NativeAccount is the broker's account record as returned over IPC.
type NativeAccount struct {
	AccountID     string
	HomeAccountID string
	Environment   string
	Username      string
	ClientInfo    string
}

// NativeResult is a native broker's answer: either a token payload or a
// NativeError. Exactly one of the two halves is meaningful; Success
// discriminates, with the one tolerated exception of the user-switch
// status (see Adapter).
type NativeResult struct {
	Success bool

	AccessToken         string
	AuthorizationHeader string
	IsPoPAuthorization  bool
	IDToken             string
	GrantedScopes       string
	ExpiresOn           time.Time
	Account             NativeAccount

	Error *NativeError
}

// NativeBroker is the external binding to one OS broker implementation
// (account manager, runtime broker). Implementations live outside this
// module; tests substitute fakes.
type NativeBroker interface {
	// Installed reports whether the native broker is present and usable.
	Installed(ctx context.Context) bool

	AcquireInteractive(ctx context.Context, params NativeParameters) (NativeResult, error)
	AcquireSilent(ctx context.Context, params NativeParameters) (NativeResult, error)

	// AcquireSilentForDefaultUser acquires for the OS session's default
	// account without an account handle.
	AcquireSilentForDefaultUser(ctx context.Context, params NativeParameters) (NativeResult, error)

	Accounts(ctx context.Context, clientID, correlationID string) ([]NativeAccount, error)
	RemoveAccount(ctx context.Context, account NativeAccount, correlationID string) error
}

// Invoker is the capability set the orchestrator consumes. Variants:
// Adapter (native OS broker) and NoBroker (fallback).
type Invoker interface {
	IsInvokable(ctx context.Context) bool

	AcquireInteractive(ctx context.Context, rctx *identity.RequestContext, req Request) (identity.TokenResponse, error)
	AcquireSilent(ctx context.Context, rctx *identity.RequestContext, req Request) (identity.TokenResponse, error)
	AcquireSilentForDefaultUser(ctx context.Context, rctx *identity.RequestContext, req Request) (identity.TokenResponse, error)

	Accounts(ctx context.Context, rctx *identity.RequestContext, clientID string) ([]identity.Account, error)
	RemoveAccount(ctx context.Context, rctx *identity.RequestContext, account identity.Account, clientID string) error
}
