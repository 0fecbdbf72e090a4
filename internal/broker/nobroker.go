package broker

import (
	"context"

	"vouch/internal/autherr"
	"vouch/internal/identity"
)

// NoBroker is the Invoker used when no native broker is installed or the
// platform has none. Every acquisition fails with a broker-unavailable
// client error so callers can fall back to the web flows.
type NoBroker struct{}

// NewNoBroker returns the fallback invoker.
func NewNoBroker() *NoBroker {
	return &NoBroker{}
}

// IsInvokable always reports false.
func (*NoBroker) IsInvokable(ctx context.Context) bool {
	return false
}

func unavailable() error {
	return autherr.NewClientError(autherr.CodeBrokerUnavailable,
		"no broker is available on this platform")
}

func (*NoBroker) AcquireInteractive(ctx context.Context, rctx *identity.RequestContext, req Request) (identity.TokenResponse, error) {
	return identity.TokenResponse{}, unavailable()
}

func (*NoBroker) AcquireSilent(ctx context.Context, rctx *identity.RequestContext, req Request) (identity.TokenResponse, error) {
	return identity.TokenResponse{}, unavailable()
}

func (*NoBroker) AcquireSilentForDefaultUser(ctx context.Context, rctx *identity.RequestContext, req Request) (identity.TokenResponse, error) {
	return identity.TokenResponse{}, unavailable()
}

func (*NoBroker) Accounts(ctx context.Context, rctx *identity.RequestContext, clientID string) ([]identity.Account, error) {
	return nil, unavailable()
}

func (*NoBroker) RemoveAccount(ctx context.Context, rctx *identity.RequestContext, account identity.Account, clientID string) error {
	return unavailable()
}
