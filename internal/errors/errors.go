// Package errors provides the structured error taxonomy for the tokenization layer.
//
// Every failure that crosses a component boundary is a *ServiceError carrying a
// stable Code. Callers branch on the code (CodeOf, Is) rather than on messages.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies an error category.
type ErrorCode string

const (
	// Input validation (never retried)
	CodeInvalidInput          ErrorCode = "INVALID_INPUT"
	CodeUnsupportedModuleType ErrorCode = "UNSUPPORTED_MODULE_TYPE"
	CodeParamsMismatch        ErrorCode = "PARAMS_MISMATCH"
	CodeMalformedExpression   ErrorCode = "MALFORMED_EXPRESSION"
	CodeUnsupportedAssetType  ErrorCode = "UNSUPPORTED_ASSET_TYPE"
	CodeUnsupportedAction     ErrorCode = "UNSUPPORTED_ACTION"

	// Authentication (terminal per attempt)
	CodeInvalidCredential         ErrorCode = "INVALID_CREDENTIAL"
	CodeVerificationNotConfigured ErrorCode = "VERIFICATION_NOT_CONFIGURED"
	CodeExpiredChallenge          ErrorCode = "EXPIRED_CHALLENGE"

	// Transport (one bounded retry)
	CodeTransport ErrorCode = "TRANSPORT"

	// On-chain
	CodeTransactionReverted ErrorCode = "TRANSACTION_REVERTED"
	CodeReceiptTimeout      ErrorCode = "RECEIPT_TIMEOUT"

	// Lifecycle
	CodeCancelled ErrorCode = "CANCELLED"

	// HTTP surface
	CodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	CodeInvalidToken      ErrorCode = "INVALID_TOKEN"
	CodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeInternal          ErrorCode = "INTERNAL"
)

// ServiceError is a coded error with an HTTP mapping and optional details.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is matches another *ServiceError by code so errors.Is works against sentinels.
func (e *ServiceError) Is(target error) bool {
	var t *ServiceError
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// WithDetails returns a copy of the error with an extra detail set.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	cp := *e
	cp.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// New creates a ServiceError with the HTTP status derived from the code.
func New(code ErrorCode, message string) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: statusFor(code)}
}

// Newf creates a ServiceError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *ServiceError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates a ServiceError wrapping err.
func Wrap(code ErrorCode, message string, err error) *ServiceError {
	se := New(code, message)
	se.Err = err
	return se
}

func statusFor(code ErrorCode) int {
	switch code {
	case CodeInvalidInput, CodeUnsupportedModuleType, CodeParamsMismatch, CodeMalformedExpression,
		CodeUnsupportedAssetType, CodeUnsupportedAction:
		return http.StatusBadRequest
	case CodeInvalidCredential, CodeExpiredChallenge, CodeUnauthorized, CodeInvalidToken:
		return http.StatusUnauthorized
	case CodeVerificationNotConfigured:
		return http.StatusPreconditionFailed
	case CodeTransport:
		return http.StatusBadGateway
	case CodeTransactionReverted:
		return http.StatusUnprocessableEntity
	case CodeReceiptTimeout:
		return http.StatusGatewayTimeout
	case CodeCancelled:
		return 499
	case CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// =============================================================================
// Constructors
// =============================================================================

// InvalidInput reports a malformed request.
func InvalidInput(message string) *ServiceError { return New(CodeInvalidInput, message) }

// InvalidCredential reports a wrong verification code.
func InvalidCredential(err error) *ServiceError {
	return Wrap(CodeInvalidCredential, "verification credential rejected", err)
}

// VerificationNotConfigured reports a missing verification method for the user.
func VerificationNotConfigured(verificationType string) *ServiceError {
	return Newf(CodeVerificationNotConfigured, "no %s verification configured for user", verificationType)
}

// ExpiredChallenge reports an elapsed challenge window.
func ExpiredChallenge(err error) *ServiceError {
	return Wrap(CodeExpiredChallenge, "verification challenge expired", err)
}

// Transport reports a network failure talking to an external service.
func Transport(service string, err error) *ServiceError {
	return Wrap(CodeTransport, service+" request failed", err).WithDetails("service", service)
}

// Unauthorized reports missing authentication.
func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "unauthorized"
	}
	return New(CodeUnauthorized, message)
}

// InvalidToken reports a rejected bearer token.
func InvalidToken(err error) *ServiceError {
	return Wrap(CodeInvalidToken, "invalid token", err)
}

// RateLimitExceeded reports a throttled caller.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return Newf(CodeRateLimitExceeded, "rate limit of %d per %s exceeded", limit, window)
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *ServiceError {
	return Newf(CodeNotFound, "%s %s not found", resource, id)
}

// Internal reports an unexpected failure.
func Internal(message string, err error) *ServiceError {
	return Wrap(CodeInternal, message, err)
}

// =============================================================================
// Inspection
// =============================================================================

// GetServiceError extracts the first *ServiceError in err's chain.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// CodeOf returns the error code of err, or CodeInternal when err is not coded.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if se := GetServiceError(err); se != nil {
		return se.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable reports whether err may be retried once with backoff.
func IsRetryable(err error) bool {
	return HasCode(err, CodeTransport)
}

// IsAuthentication reports whether err requires fresh user input.
func IsAuthentication(err error) bool {
	switch CodeOf(err) {
	case CodeInvalidCredential, CodeVerificationNotConfigured, CodeExpiredChallenge:
		return true
	}
	return false
}
