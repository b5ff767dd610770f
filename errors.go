package authcore

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorKind classifies an Error. Callers match kinds with errors.Is against
// the Err* sentinels below.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindNotFound      ErrorKind = "not_found"
	KindAuth          ErrorKind = "auth"
	KindConflict      ErrorKind = "conflict"
	KindRateLimited   ErrorKind = "rate_limited"
	KindUpstream      ErrorKind = "upstream"
	KindConfiguration ErrorKind = "configuration"
	KindInternal      ErrorKind = "internal"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrValidation       = &Error{Kind: KindValidation}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrAuth             = &Error{Kind: KindAuth}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrRateLimited      = &Error{Kind: KindRateLimited}
	ErrUpstreamProvider = &Error{Kind: KindUpstream}
	ErrConfiguration    = &Error{Kind: KindConfiguration}
	ErrInternal         = &Error{Kind: KindInternal}
)

// Stable error codes returned to clients.
const (
	CodeInvalidEmail               = "invalid_email"
	CodeInvalidEmailOrPassword     = "invalid_email_or_password"
	CodeInvalidPassword            = "invalid_password"
	CodePasswordTooShort           = "password_too_short"
	CodePasswordTooLong            = "password_too_long"
	CodeUserAlreadyExists          = "user_already_exists"
	CodeUserNotFound               = "user_not_found"
	CodeEmailNotVerified           = "email_not_verified"
	CodeEmailAlreadyVerified       = "email_already_verified"
	CodeEmailIsTheSame             = "email_is_the_same"
	CodeEmailCannotBeUpdated       = "email_cannot_be_updated"
	CodeSessionNotFound            = "session_not_found"
	CodeSessionNotFresh            = "session_not_fresh"
	CodeUnauthorized               = "unauthorized"
	CodeInvalidToken               = "invalid_token"
	CodeMissingField               = "missing_field"
	CodeInvalidField               = "invalid_field"
	CodeHookVetoed                 = "operation_rejected"
	CodeSignUpDisabled             = "signup_disabled"
	CodeEmailPasswordDisabled      = "email_password_disabled"
	CodeFeatureDisabled            = "feature_disabled"
	CodeCredentialAccountNotFound  = "credential_account_not_found"
	CodePasswordAlreadySet         = "password_already_set"
	CodeProviderNotFound           = "provider_not_found"
	CodeInvalidCallbackURL         = "invalid_callback_url"
	CodeInvalidState               = "invalid_state"
	CodeOAuthProviderError         = "oauth_provider_error"
	CodeCodeExchangeFailed         = "oauth_code_exchange_failed"
	CodeUserInfoFailed             = "oauth_user_info_failed"
	CodeEmailNotFound              = "email_not_found"
	CodeAccountNotLinked           = "account_not_linked"
	CodeAccountLinkingDisabled     = "account_linking_disabled"
	CodeAccountLinkedToOtherUser   = "account_already_linked_to_different_user"
	CodeEmailMismatch              = "email_mismatch"
	CodeAccountNotFound            = "account_not_found"
	CodeFailedToUnlinkLastAccount  = "failed_to_unlink_last_account"
	CodeRefreshTokenNotFound       = "refresh_token_not_found"
	CodeFailedToRefreshAccessToken = "failed_to_refresh_access_token"
	CodeTooManyRequests            = "too_many_requests"
	CodeConfiguration              = "invalid_configuration"
	CodeInternal                   = "internal_error"
)

// Error is the error type returned by every operation of Auth.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	// Field names the offending input field for validation errors.
	Field string
	// RetryAfter is set on rate limited errors.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind. A target with a
// code only matches errors carrying that code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

// HTTPStatus maps the error kind to a response status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAuth:
		if e.Code == CodeEmailNotVerified {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func NewValidationError(code, message, field string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message, Field: field}
}

func NewNotFoundError(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

func NewAuthError(code, message string) *Error {
	return &Error{Kind: KindAuth, Code: code, Message: message}
}

func NewConflictError(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

func NewRateLimitedError(retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Code: CodeTooManyRequests, Message: "too many requests, try again later", RetryAfter: retryAfter}
}

func NewUpstreamError(code, message string, err error) *Error {
	return &Error{Kind: KindUpstream, Code: code, Message: message, Err: err}
}

func NewConfigurationError(message string) *Error {
	return &Error{Kind: KindConfiguration, Code: CodeConfiguration, Message: message}
}

// internalError wraps storage and other unexpected failures.
func internalError(message string, err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: message, Err: err}
}

// AsError returns err as an *Error, wrapping unknown errors as internal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return internalError("unexpected error", err)
}
