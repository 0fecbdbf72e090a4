package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vouch/internal/autherr"
	"vouch/internal/authority"
	"vouch/internal/identity"
)

// fakeNative scripts one NativeBroker answer and records the projected
// parameters it was invoked with.
type fakeNative struct {
	installed bool
	result    NativeResult
	err       error

	lastParams NativeParameters
	accounts   []NativeAccount
	removed    []NativeAccount
}

func (f *fakeNative) Installed(ctx context.Context) bool { return f.installed }

func (f *fakeNative) AcquireInteractive(ctx context.Context, params NativeParameters) (NativeResult, error) {
	f.lastParams = params
	return f.result, f.err
}

func (f *fakeNative) AcquireSilent(ctx context.Context, params NativeParameters) (NativeResult, error) {
	f.lastParams = params
	return f.result, f.err
}

func (f *fakeNative) AcquireSilentForDefaultUser(ctx context.Context, params NativeParameters) (NativeResult, error) {
	f.lastParams = params
	return f.result, f.err
}

func (f *fakeNative) Accounts(ctx context.Context, clientID, correlationID string) ([]NativeAccount, error) {
	return f.accounts, f.err
}

func (f *fakeNative) RemoveAccount(ctx context.Context, account NativeAccount, correlationID string) error {
	f.removed = append(f.removed, account)
	return f.err
}

func testAuthority(t *testing.T) authority.Info {
	t.Helper()
	info, err := authority.NewInfo("https://login.microsoftonline.com/contoso.onmicrosoft.com")
	require.NoError(t, err)
	return info
}

func successResult() NativeResult {
	return NativeResult{
		Success:       true,
		AccessToken:   "at-secret",
		IDToken:       "idt",
		GrantedScopes: "user.read openid",
		ExpiresOn:     time.Now().Add(time.Hour),
		Account: NativeAccount{
			AccountID:     "local-1",
			HomeAccountID: "uid.utid",
			Environment:   "login.microsoftonline.com",
			Username:      "user@contoso.com",
			ClientInfo:    "ci",
		},
	}
}

func TestAdapterSuccessNormalization(t *testing.T) {
	native := &fakeNative{installed: true, result: successResult()}
	adapter := NewAdapter(native)
	rctx := identity.NewRequestContext()

	resp, err := adapter.AcquireSilent(context.Background(), rctx, Request{
		Authority: testAuthority(t),
		ClientID:  "client-1",
		Scopes:    []string{"User.Read"},
	})
	require.NoError(t, err)

	assert.Equal(t, identity.SourceBroker, resp.Source)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, "at-secret", resp.AccessToken)
	assert.False(t, resp.AccountSwitched)
	assert.Equal(t, rctx.CorrelationID, resp.CorrelationID)
	assert.Equal(t, "uid.utid", resp.Account.HomeAccountID)
	assert.Equal(t, "local-1", resp.Account.LocalAccountID("client-1"))
	assert.ElementsMatch(t, []string{"user.read", "openid"}, resp.GrantedScopes)
}

func TestAdapterUserCancellationIsClientError(t *testing.T) {
	native := &fakeNative{
		installed: true,
		result: NativeResult{
			Success: false,
			Error:   &NativeError{Status: StatusUserCanceled, Code: 40},
		},
	}
	adapter := NewAdapter(native)

	_, err := adapter.AcquireInteractive(context.Background(), identity.NewRequestContext(), Request{
		Authority: testAuthority(t),
		ClientID:  "client-1",
		Scopes:    []string{"user.read"},
	})
	require.Error(t, err)

	var clientErr *autherr.ClientError
	require.True(t, errors.As(err, &clientErr), "cancellation must be a client error, got %T", err)
	assert.True(t, clientErr.Cancelled)

	var svcErr *autherr.ServiceError
	assert.False(t, errors.As(err, &svcErr), "cancellation must not classify as a service error")
}

func TestAdapterUserSwitchToleratedAsSuccess(t *testing.T) {
	result := successResult()
	result.Success = false
	result.Error = &NativeError{Status: StatusUserSwitch}
	native := &fakeNative{installed: true, result: result}
	adapter := NewAdapter(native)

	resp, err := adapter.AcquireInteractive(context.Background(), identity.NewRequestContext(), Request{
		Authority: testAuthority(t),
		ClientID:  "client-1",
		Scopes:    []string{"user.read"},
	})
	require.NoError(t, err)
	assert.True(t, resp.AccountSwitched)
	assert.Equal(t, "at-secret", resp.AccessToken)
}

func TestAdapterInteractionRequiredClassification(t *testing.T) {
	for _, status := range []ResponseStatus{StatusInteractionRequired, StatusAccountUnusable} {
		native := &fakeNative{
			installed: true,
			result:    NativeResult{Error: &NativeError{Status: status}},
		}
		_, err := NewAdapter(native).AcquireSilent(context.Background(), identity.NewRequestContext(), Request{
			Authority: testAuthority(t),
			ClientID:  "client-1",
			Scopes:    []string{"user.read"},
		})

		var uiErr *autherr.UIRequiredError
		require.True(t, errors.As(err, &uiErr), "status %d", status)
		assert.Equal(t, autherr.NoPromptFailed, uiErr.Classification)
	}
}

func TestAdapterConfigurationErrorCarriesRedirectURI(t *testing.T) {
	native := &fakeNative{
		installed: true,
		result:    NativeResult{Error: &NativeError{Status: StatusIncorrectConfiguration, Code: 7}},
	}
	_, err := NewAdapter(native).AcquireInteractive(context.Background(), identity.NewRequestContext(), Request{
		Authority: testAuthority(t),
		ClientID:  "client-1",
		Scopes:    []string{"user.read"},
	})

	var svcErr *autherr.ServiceError
	require.True(t, errors.As(err, &svcErr))
	assert.False(t, svcErr.Retryable)
	assert.Contains(t, svcErr.Message, ExpectedRedirectURI("client-1"))
}

func TestAdapterNetworkErrorsAreRetryable(t *testing.T) {
	for _, status := range []ResponseStatus{StatusNoNetwork, StatusNetworkTemporarilyUnavailable, StatusServerTemporarilyUnavailable} {
		native := &fakeNative{
			installed: true,
			result:    NativeResult{Error: &NativeError{Status: status}},
		}
		_, err := NewAdapter(native).AcquireSilent(context.Background(), identity.NewRequestContext(), Request{
			Authority: testAuthority(t),
			ClientID:  "client-1",
			Scopes:    []string{"user.read"},
		})

		var svcErr *autherr.ServiceError
		require.True(t, errors.As(err, &svcErr), "status %d", status)
		assert.True(t, svcErr.Retryable, "status %d", status)
	}
}

func TestAdapterUnknownStatusSurfaced(t *testing.T) {
	native := &fakeNative{
		installed: true,
		result: NativeResult{Error: &NativeError{
			Status:    StatusInsufficientBuffer,
			Context:   "buffer too small",
			Telemetry: "tele-1",
		}},
	}
	_, err := NewAdapter(native).AcquireSilent(context.Background(), identity.NewRequestContext(), Request{
		Authority: testAuthority(t),
		ClientID:  "client-1",
		Scopes:    []string{"user.read"},
	})

	var unknownErr *autherr.UnknownBrokerError
	require.True(t, errors.As(err, &unknownErr))
	assert.Equal(t, int(StatusInsufficientBuffer), unknownErr.Status)
	assert.Equal(t, "tele-1", unknownErr.Telemetry)
}

func TestAdapterDefaultsReservedScopes(t *testing.T) {
	native := &fakeNative{installed: true, result: successResult()}
	adapter := NewAdapter(native)

	_, err := adapter.AcquireInteractive(context.Background(), identity.NewRequestContext(), Request{
		Authority: testAuthority(t),
		ClientID:  "client-1",
		Scopes:    []string{"openid", "profile"},
	})
	require.NoError(t, err)
	assert.Equal(t, identity.JoinScopes(identity.ReservedScopes), native.lastParams.RequestedScopes)
}

func TestAdapterIdentityProviderHint(t *testing.T) {
	consumer := "uid.9188040d-6c67-4c5b-b112-36a304b66dad"
	tests := []struct {
		name          string
		homeAccountID string
		want          string
	}{
		{"consumer tenant", consumer, "personal"},
		{"work tenant", "uid.contoso-tenant", "organizational"},
		{"no account", "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			native := &fakeNative{installed: true, result: successResult()}
			_, err := NewAdapter(native).AcquireSilent(context.Background(), identity.NewRequestContext(), Request{
				Authority: testAuthority(t),
				ClientID:  "client-1",
				Scopes:    []string{"user.read"},
				Account:   identity.Account{HomeAccountID: tc.homeAccountID},
			})
			require.NoError(t, err)
			assert.Equal(t, tc.want, native.lastParams.Properties[propIdentityProvider])
		})
	}
}

func TestAdapterPoPProjectionAndResult(t *testing.T) {
	result := successResult()
	result.IsPoPAuthorization = true
	result.AuthorizationHeader = "PoP signed-token"
	native := &fakeNative{installed: true, result: result}

	resp, err := NewAdapter(native).AcquireSilent(context.Background(), identity.NewRequestContext(), Request{
		Authority: testAuthority(t),
		ClientID:  "client-1",
		Scopes:    []string{"user.read"},
		PoP: identity.PoPDescriptor{
			HTTPMethod: "GET",
			Host:       "resource.example.com",
			Path:       "/api",
			Nonce:      "n-1",
			KeyID:      "kid-1",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "GET", native.lastParams.PoPMethod)
	assert.Equal(t, "resource.example.com", native.lastParams.PoPHost)
	assert.Equal(t, "/api", native.lastParams.PoPPath)
	assert.Equal(t, "n-1", native.lastParams.PoPNonce)

	assert.Equal(t, "pop", resp.TokenType)
	assert.Equal(t, "signed-token", resp.AccessToken)
}

func TestAdapterExtraQueryParametersCopied(t *testing.T) {
	native := &fakeNative{installed: true, result: successResult()}
	_, err := NewAdapter(native).AcquireInteractive(context.Background(), identity.NewRequestContext(), Request{
		Authority:            testAuthority(t),
		ClientID:             "client-1",
		Scopes:               []string{"user.read"},
		ExtraQueryParameters: map[string]string{"slice": "testslice"},
	})
	require.NoError(t, err)
	assert.Equal(t, "testslice", native.lastParams.Properties["slice"])
}

func TestAdapterDefaultUserRequestType(t *testing.T) {
	native := &fakeNative{installed: true, result: successResult()}
	_, err := NewAdapter(native).AcquireSilentForDefaultUser(context.Background(), identity.NewRequestContext(), Request{
		Authority: testAuthority(t),
		ClientID:  "client-1",
		Scopes:    []string{"user.read"},
	})
	require.NoError(t, err)
	assert.Equal(t, requestTypeSilentDefaultUser, native.lastParams.Properties[propRequestType])
}

func TestAdapterIncompleteAccountSkippedNotFatal(t *testing.T) {
	result := successResult()
	result.Account.Username = ""
	native := &fakeNative{installed: true, result: result}

	resp, err := NewAdapter(native).AcquireSilent(context.Background(), identity.NewRequestContext(), Request{
		Authority: testAuthority(t),
		ClientID:  "client-1",
		Scopes:    []string{"user.read"},
	})
	require.NoError(t, err)
	assert.True(t, resp.Account.IsZero())
	assert.Equal(t, "at-secret", resp.AccessToken)
}

func TestAdapterAccountsDropsIncompleteRecords(t *testing.T) {
	native := &fakeNative{
		installed: true,
		accounts: []NativeAccount{
			{AccountID: "a1", HomeAccountID: "u1.t1", Environment: "env", Username: "one@contoso.com"},
			{AccountID: "a2", HomeAccountID: "", Environment: "env", Username: "two@contoso.com"},
		},
	}
	accounts, err := NewAdapter(native).Accounts(context.Background(), identity.NewRequestContext(), "client-1")
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "one@contoso.com", accounts[0].Username)
}

func TestAdapterRemoveAccountProjectsRecord(t *testing.T) {
	native := &fakeNative{installed: true}
	account := identity.Account{
		HomeAccountID:   "u1.t1",
		Username:        "one@contoso.com",
		Environment:     "env",
		LocalAccountIDs: map[string]string{"client-1": "local-9"},
	}
	err := NewAdapter(native).RemoveAccount(context.Background(), identity.NewRequestContext(), account, "client-1")
	require.NoError(t, err)
	require.Len(t, native.removed, 1)
	assert.Equal(t, "local-9", native.removed[0].AccountID)
	assert.Equal(t, "u1.t1", native.removed[0].HomeAccountID)
}

func TestAdapterBindingFailureWrapped(t *testing.T) {
	native := &fakeNative{installed: true, err: errors.New("ipc pipe closed")}
	_, err := NewAdapter(native).AcquireSilent(context.Background(), identity.NewRequestContext(), Request{
		Authority: testAuthority(t),
		ClientID:  "client-1",
		Scopes:    []string{"user.read"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ipc pipe closed")
}

func TestAdapterIsInvokable(t *testing.T) {
	assert.True(t, NewAdapter(&fakeNative{installed: true}).IsInvokable(context.Background()))
	assert.False(t, NewAdapter(&fakeNative{installed: false}).IsInvokable(context.Background()))
}

func TestNoBrokerAlwaysUnavailable(t *testing.T) {
	nb := NewNoBroker()
	rctx := identity.NewRequestContext()

	assert.False(t, nb.IsInvokable(context.Background()))

	_, err := nb.AcquireSilent(context.Background(), rctx, Request{})
	var clientErr *autherr.ClientError
	require.True(t, errors.As(err, &clientErr))
	assert.Equal(t, autherr.CodeBrokerUnavailable, clientErr.Code)

	_, err = nb.Accounts(context.Background(), rctx, "client-1")
	assert.Error(t, err)
	assert.Error(t, nb.RemoveAccount(context.Background(), rctx, identity.Account{}, "client-1"))
}
