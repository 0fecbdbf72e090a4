// Package autherr defines the error taxonomy shared by every acquisition
// path. Callers classify failures with errors.As:
//
//	var uiErr *autherr.UIRequiredError
//	if errors.As(err, &uiErr) { /* fall back to interactive */ }
package autherr

import "fmt"

// UIRequiredClassification refines a UIRequiredError so callers can tell
// why the silent path gave up.
type UIRequiredClassification string

const (
	// NoPromptFailed: the authorize endpoint required a prompt while the
	// request forbade one (login_required).
	NoPromptFailed UIRequiredClassification = "no_prompt_failed"

	// NoMatchingAccount: no cached credential matched the request.
	NoMatchingAccount UIRequiredClassification = "no_matching_account"

	// BrokerAccountMissing: a broker-issued account was targeted but the
	// broker no longer knows it.
	BrokerAccountMissing UIRequiredClassification = "broker_account_missing"

	// RefreshFailed: a refresh-token exchange was rejected.
	RefreshFailed UIRequiredClassification = "refresh_failed"
)

// ClientError is a non-retryable, locally-detected failure: malformed
// input, user cancellation, duplicate query parameter, missing
// configuration.
type ClientError struct {
	Code    string
	Message string

	// Cancelled marks user-initiated cancellations so callers can treat
	// them as non-failures.
	Cancelled bool
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewClientError builds a plain client error.
func NewClientError(code, format string, args ...interface{}) *ClientError {
	return &ClientError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewCancelledError builds a client error representing user cancellation.
func NewCancelledError(format string, args ...interface{}) *ClientError {
	return &ClientError{
		Code:      "authentication_canceled",
		Message:   fmt.Sprintf(format, args...),
		Cancelled: true,
	}
}

// UIRequiredError signals that silent acquisition cannot proceed and the
// caller must run an interactive flow.
type UIRequiredError struct {
	Classification UIRequiredClassification
	Message        string
}

func (e *UIRequiredError) Error() string {
	return fmt.Sprintf("interaction required (%s): %s", e.Classification, e.Message)
}

// NewUIRequiredError builds a UI-required error with a classification.
func NewUIRequiredError(c UIRequiredClassification, format string, args ...interface{}) *UIRequiredError {
	return &UIRequiredError{Classification: c, Message: fmt.Sprintf(format, args...)}
}

// ServiceError is a failure reported by the provider or broker.
// Retryable separates transient network/server conditions from
// configuration and contract violations.
type ServiceError struct {
	Code        string
	Message     string
	Retryable   bool
	StatusCode  int
	OAuthError  string
	SubError    string
	Description string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewServiceError builds a non-retryable service error.
func NewServiceError(code, format string, args ...interface{}) *ServiceError {
	return &ServiceError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewRetryableServiceError builds a service error the caller may retry.
func NewRetryableServiceError(code, format string, args ...interface{}) *ServiceError {
	return &ServiceError{Code: code, Message: fmt.Sprintf(format, args...), Retryable: true}
}

// UnknownBrokerError wraps a broker failure that matched no known status.
// It is always surfaced, never swallowed; Telemetry carries the broker's
// non-PII diagnostic payload for support cases.
type UnknownBrokerError struct {
	Status    int
	Message   string
	Telemetry string
}

func (e *UnknownBrokerError) Error() string {
	return fmt.Sprintf("unknown broker error (status %d): %s", e.Status, e.Message)
}

// Common error codes, mirrored from the provider's vocabulary so logs and
// support tooling line up across client libraries.
const (
	CodeTenantDiscoveryFailed = "tenant_discovery_failed"
	CodeStateMismatch         = "state_mismatch"
	CodeDuplicateQueryParam   = "duplicate_query_parameter"
	CodeInvalidRedirectURI    = "invalid_redirect_uri"
	CodeBrokerUnavailable     = "broker_unavailable"
	CodeBrokerSilentFailed    = "failed_to_acquire_token_silently_from_broker"
	CodeNoTokensFound         = "no_tokens_found"
)
