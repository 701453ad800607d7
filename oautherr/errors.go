// Package oautherr defines the closed set of failure kinds reported by the
// login flow, together with the short human-readable text shown to end users.
package oautherr

import (
	"errors"
	"fmt"
)

// Code identifies a kind of authentication failure.
type Code string

const (
	InvalidProvider     Code = "invalid_provider"
	MissingConfig       Code = "missing_config"
	InvalidState        Code = "invalid_state"
	AuthorizationFailed Code = "authorization_failed"
	TokenExchangeFailed Code = "token_exchange_failed"
	ProfileFetchFailed  Code = "profile_fetch_failed"
	InvalidToken        Code = "invalid_token"
	NetworkError        Code = "network_error"
	ProviderError       Code = "provider_error"
	SessionExpired      Code = "session_expired"
	InvalidScope        Code = "invalid_scope"
)

// Codes lists every known Code in a stable order.
var Codes = []Code{
	InvalidProvider,
	MissingConfig,
	InvalidState,
	AuthorizationFailed,
	TokenExchangeFailed,
	ProfileFetchFailed,
	InvalidToken,
	NetworkError,
	ProviderError,
	SessionExpired,
	InvalidScope,
}

var userMessages = map[Code]string{
	InvalidProvider:     "The selected authentication provider is not supported.",
	MissingConfig:       "Authentication configuration is missing or invalid.",
	InvalidState:        "Authentication state is invalid or expired.",
	AuthorizationFailed: "Authorization with the provider failed.",
	TokenExchangeFailed: "Failed to exchange authorization code for access token.",
	ProfileFetchFailed:  "Failed to fetch user profile from the provider.",
	InvalidToken:        "The access token is invalid or expired.",
	NetworkError:        "Network error occurred during authentication.",
	ProviderError:       "The authentication provider returned an error.",
	SessionExpired:      "Your session has expired. Please log in again.",
	InvalidScope:        "The requested permissions are invalid.",
}

// Valid reports whether c is one of the known codes.
func (c Code) Valid() bool {
	_, ok := userMessages[c]
	return ok
}

// Error is a classified authentication failure.
//
// Err carries the upstream diagnostic (a provider error body, a transport
// error) for logging. It must not be shown to end users; use UserMessage.
type Error struct {
	Code     Code
	Message  string
	Provider string
	Err      error
}

// New creates an Error without an underlying cause.
func New(code Code, provider, message string) *Error {
	return &Error{Code: code, Message: message, Provider: provider}
}

// Wrap creates an Error carrying err as its cause.
func Wrap(code Code, provider, message string, err error) *Error {
	return &Error{Code: code, Message: message, Provider: provider, Err: err}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, provider, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Provider: provider}
}

func (e *Error) Error() string {
	if e == nil {
		return "oauth: <nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = UserMessage(e.Code, "")
	}
	if e.Provider != "" {
		return fmt.Sprintf("oauth %s (%s): %s", e.Code, e.Provider, msg)
	}
	return fmt.Sprintf("oauth %s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error with the same Code, so callers can write
// errors.Is(err, &oautherr.Error{Code: oautherr.InvalidState}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// UserMessage returns the short text for code. Unknown codes fall back to
// fallback, then to a generic message.
func UserMessage(code Code, fallback string) string {
	if m, ok := userMessages[code]; ok {
		return m
	}
	if fallback != "" {
		return fallback
	}
	return "An unknown error occurred during authentication."
}

// CodeOf returns the Code of the first *Error in err's chain, or ProviderError
// if err is non-nil but unclassified. It returns "" for a nil error.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Code
	}
	return ProviderError
}

// As returns err as an *Error. Unclassified errors are wrapped as
// ProviderError for provider.
func As(err error, provider string) *Error {
	if err == nil {
		return nil
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}
	msg := err.Error()
	if msg == "" {
		msg = "Unknown error occurred"
	}
	return Wrap(ProviderError, provider, msg, err)
}
