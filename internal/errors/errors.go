package errors

import "errors"

// Authentication errors.
var (
	ErrInvalidAPIKey       = errors.New("invalid API key")
	ErrOAuthConfigMissing  = errors.New("OAuth configuration is missing")
	ErrRefreshTokenMissing = errors.New("token has no refresh token")
	ErrRefreshRejected     = errors.New("refresh token rejected by authorization server")
	ErrStateMismatch       = errors.New("OAuth state parameter mismatch")
	ErrAuthorizationDenied = errors.New("authorization denied")
	ErrNoAuthorizationCode = errors.New("no authorization code received")
)

// Storage errors.
var (
	ErrTokenStore    = errors.New("token store operation failed")
	ErrTokenTampered = errors.New("stored token failed integrity check")
)

// Text codes attached to classified errors.
const (
	CodeRefreshTokenMissing = "AUTH_REFRESH_TOKEN_MISSING"
	CodeRefreshRejected     = "AUTH_REFRESH_REJECTED"
	CodeRefreshExhausted    = "AUTH_REFRESH_EXHAUSTED"
	CodeOAuthConfigMissing  = "AUTH_OAUTH_CONFIG_MISSING"
	CodeInvalidAPIKey       = "AUTH_INVALID_API_KEY"
)

var authSentinels = []error{
	ErrInvalidAPIKey,
	ErrRefreshTokenMissing,
	ErrRefreshRejected,
	ErrStateMismatch,
	ErrAuthorizationDenied,
	ErrNoAuthorizationCode,
}
