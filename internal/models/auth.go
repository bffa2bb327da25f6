package models

import (
	"fmt"
	"time"
)

// AuthMethod identifies how a credential was obtained. The string value is
// also the storage key for that method's token.
type AuthMethod string

const (
	AuthMethodAPIKey AuthMethod = "api_key"
	AuthMethodOAuth  AuthMethod = "oauth"
)

var authMethods = map[AuthMethod]struct{}{
	AuthMethodAPIKey: {},
	AuthMethodOAuth:  {},
}

// Valid reports whether m is a known method.
func (m AuthMethod) Valid() bool {
	_, ok := authMethods[m]
	return ok
}

// ParseAuthMethod converts a configuration string into an AuthMethod. The
// empty string parses to the empty method, meaning "no preference".
func ParseAuthMethod(s string) (AuthMethod, error) {
	if s == "" {
		return "", nil
	}

	m := AuthMethod(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown auth method %q", s)
	}

	return m, nil
}

// AuthState is a node in the session state machine.
type AuthState string

const (
	StateInitial         AuthState = "initial"
	StateAuthenticating  AuthState = "authenticating"
	StateAuthenticated   AuthState = "authenticated"
	StateFailed          AuthState = "failed"
	StateRefreshing      AuthState = "refreshing"
	StateExpired         AuthState = "expired"
	StateUnauthenticated AuthState = "unauthenticated"
)

var authStates = map[AuthState]struct{}{
	StateInitial:         {},
	StateAuthenticating:  {},
	StateAuthenticated:   {},
	StateFailed:          {},
	StateRefreshing:      {},
	StateExpired:         {},
	StateUnauthenticated: {},
}

// Valid reports whether s is a known state.
func (s AuthState) Valid() bool {
	_, ok := authStates[s]
	return ok
}

// AuthResult is the outcome of a single authenticate or refresh call.
type AuthResult struct {
	Success bool       `json:"success"`
	Method  AuthMethod `json:"method,omitempty"`
	Token   *AuthToken `json:"token,omitempty"`
	State   AuthState  `json:"state"`
	Error   string     `json:"error,omitempty"`
}

const (
	DefaultTokenRefreshThreshold = 300 * time.Second
	DefaultMaxRetryAttempts      = 3
	DefaultRetryBackoff          = time.Second
)

// AuthConfig is supplied once when the session manager is built.
type AuthConfig struct {
	APIKey                string
	OAuth                 *OAuthConfig
	PreferredMethod       AuthMethod
	AutoRefresh           *bool
	TokenRefreshThreshold time.Duration
	MaxRetryAttempts      int
	// RetryBackoff is multiplied by the attempt number between refresh
	// attempts. Zero disables waiting.
	RetryBackoff time.Duration
}

// AutoRefreshEnabled returns the AutoRefresh setting, true when unset.
func (c AuthConfig) AutoRefreshEnabled() bool {
	return c.AutoRefresh == nil || *c.AutoRefresh
}

// WithDefaults returns a copy of c with unset numeric fields filled in.
func (c AuthConfig) WithDefaults() AuthConfig {
	if c.TokenRefreshThreshold <= 0 {
		c.TokenRefreshThreshold = DefaultTokenRefreshThreshold
	}

	if c.MaxRetryAttempts <= 0 {
		c.MaxRetryAttempts = DefaultMaxRetryAttempts
	}

	if c.RetryBackoff < 0 {
		c.RetryBackoff = 0
	}

	return c
}
