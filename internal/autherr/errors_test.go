package autherr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientErrorMatching(t *testing.T) {
	err := fmt.Errorf("acquire failed: %w", NewClientError(CodeStateMismatch, "state %q != %q", "a", "b"))

	var clientErr *ClientError
	assert.True(t, errors.As(err, &clientErr))
	assert.Equal(t, CodeStateMismatch, clientErr.Code)
	assert.False(t, clientErr.Cancelled)
	assert.Contains(t, clientErr.Message, `"a"`)
}

func TestCancelledError(t *testing.T) {
	err := NewCancelledError("user closed the window")

	var clientErr *ClientError
	assert.True(t, errors.As(error(err), &clientErr))
	assert.True(t, clientErr.Cancelled)
}

func TestUIRequiredErrorClassification(t *testing.T) {
	err := NewUIRequiredError(NoMatchingAccount, "no token for client %s", "client-1")
	assert.Contains(t, err.Error(), "no_matching_account")

	var uiErr *UIRequiredError
	assert.True(t, errors.As(error(err), &uiErr))
	assert.Equal(t, NoMatchingAccount, uiErr.Classification)
}

func TestServiceErrorRetryable(t *testing.T) {
	transient := NewRetryableServiceError("server_unavailable", "503 from token endpoint")
	assert.True(t, transient.Retryable)

	config := NewServiceError("provider_error_9", "incorrect configuration")
	assert.False(t, config.Retryable)
}

func TestUnknownBrokerError(t *testing.T) {
	err := &UnknownBrokerError{Status: 42, Message: "unmapped", Telemetry: "{...}"}
	assert.Contains(t, err.Error(), "status 42")

	var unknown *UnknownBrokerError
	assert.True(t, errors.As(error(err), &unknown))
}
