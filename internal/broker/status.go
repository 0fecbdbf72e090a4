package broker

import (
	"vouch/internal/autherr"
	"vouch/pkg/logging"
)

// ResponseStatus is the native broker's status vocabulary. The numeric
// values are the broker runtime's wire contract and must not be reordered.
type ResponseStatus int

const (
	StatusUnexpected ResponseStatus = iota
	StatusReserved
	StatusInteractionRequired
	StatusNoNetwork
	StatusNetworkTemporarilyUnavailable
	StatusServerTemporarilyUnavailable
	StatusAPIContractViolation
	StatusUserCanceled
	StatusApplicationCanceled
	StatusIncorrectConfiguration
	StatusInsufficientBuffer
	StatusAuthorityUntrusted
	StatusUserSwitch
	StatusAccountUnusable
	StatusUserDataRemovalRequired
)

// NativeError is the failure half of a native broker result.
type NativeError struct {
	Status ResponseStatus

	// Code is the broker's numeric error code.
	Code int64

	// Tag is the broker's internal error tag, opaque to this library but
	// valuable in support cases.
	Tag string

	// Context is the broker's human-readable error context.
	Context string

	// Telemetry is the broker's non-PII diagnostic payload.
	Telemetry string
}

// ExpectedRedirectURI is the broker redirect URI an application must have
// registered for its client id. Surfaced in configuration-error guidance.
func ExpectedRedirectURI(clientID string) string {
	return "ms-appx-web://auth-broker-plugin/" + clientID
}

// classifyError maps a native broker failure onto the library's error
// taxonomy. It never retries; retry policy belongs to the orchestrator's
// caller.
func classifyError(nativeErr NativeError, clientID string) error {
	switch nativeErr.Status {
	case StatusUserCanceled, StatusApplicationCanceled:
		logging.Debug("Broker", "Broker reported cancellation (code=%d)", nativeErr.Code)
		return autherr.NewCancelledError("authentication was cancelled (broker code %d)", nativeErr.Code)

	case StatusInteractionRequired, StatusAccountUnusable:
		logging.Debug("Broker", "Broker requires interaction (status=%d code=%d)", nativeErr.Status, nativeErr.Code)
		return autherr.NewUIRequiredError(autherr.NoPromptFailed,
			"broker error: code=%d message=%s internal=%s", nativeErr.Code, nativeErr.Context, nativeErr.Tag)

	case StatusIncorrectConfiguration, StatusAPIContractViolation:
		svcErr := autherr.NewServiceError(
			"broker_configuration_error",
			"broker error: code=%d status=%d message=%s internal=%s; "+
				"ensure the redirect URI %s is registered for this client id",
			nativeErr.Code, nativeErr.Status, nativeErr.Context, nativeErr.Tag,
			ExpectedRedirectURI(clientID))
		svcErr.Retryable = false
		return svcErr

	case StatusNoNetwork, StatusNetworkTemporarilyUnavailable, StatusServerTemporarilyUnavailable:
		return autherr.NewRetryableServiceError(
			"broker_network_error",
			"broker error: code=%d status=%d message=%s internal=%s",
			nativeErr.Code, nativeErr.Status, nativeErr.Context, nativeErr.Tag)

	default:
		logging.Warn("Broker", "Unclassified broker failure (status=%d code=%d telemetry=%s)",
			nativeErr.Status, nativeErr.Code, nativeErr.Telemetry)
		return &autherr.UnknownBrokerError{
			Status:    int(nativeErr.Status),
			Message:   nativeErr.Context,
			Telemetry: nativeErr.Telemetry,
		}
	}
}
