package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- AuthToken ---

func TestAuthToken_NoExpiryNeverRefreshes(t *testing.T) {
	tok := &AuthToken{AccessToken: "abc"}
	now := time.Now()

	assert.False(t, tok.Expired(now))
	assert.False(t, tok.NeedsRefresh(now, time.Hour))
}

func TestAuthToken_NeedsRefreshInsideThreshold(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	tok := &AuthToken{AccessToken: "abc", ExpiresAt: now.Unix() + 200}

	assert.True(t, tok.NeedsRefresh(now, 300*time.Second))
	assert.False(t, tok.NeedsRefresh(now, 100*time.Second))
	assert.False(t, tok.Expired(now))
}

func TestAuthToken_ExpiredAtBoundary(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	tok := &AuthToken{ExpiresAt: now.Unix()}

	assert.True(t, tok.Expired(now))
	assert.False(t, tok.Expired(now.Add(-time.Second)))
}

func TestAuthToken_CloneIsIndependent(t *testing.T) {
	tok := &AuthToken{AccessToken: "a", RefreshToken: "r"}
	c := tok.Clone()
	c.AccessToken = "b"

	assert.Equal(t, "a", tok.AccessToken)
	assert.Nil(t, (*AuthToken)(nil).Clone())
}

// --- AuthMethod / AuthState ---

func TestParseAuthMethod(t *testing.T) {
	m, err := ParseAuthMethod("oauth")
	require.NoError(t, err)
	assert.Equal(t, AuthMethodOAuth, m)

	m, err = ParseAuthMethod("")
	require.NoError(t, err)
	assert.Equal(t, AuthMethod(""), m)

	_, err = ParseAuthMethod("password")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password")
}

func TestAuthState_Valid(t *testing.T) {
	assert.True(t, StateRefreshing.Valid())
	assert.False(t, AuthState("paused").Valid())
}

// --- AuthConfig ---

func TestAuthConfig_WithDefaults(t *testing.T) {
	cfg := AuthConfig{}.WithDefaults()

	assert.Equal(t, DefaultTokenRefreshThreshold, cfg.TokenRefreshThreshold)
	assert.Equal(t, DefaultMaxRetryAttempts, cfg.MaxRetryAttempts)
	assert.True(t, cfg.AutoRefreshEnabled())
}

func TestAuthConfig_AutoRefreshDisabled(t *testing.T) {
	off := false
	cfg := AuthConfig{AutoRefresh: &off}

	assert.False(t, cfg.AutoRefreshEnabled())
}

// --- OAuthConfig ---

func validOAuthConfig() OAuthConfig {
	return OAuthConfig{
		ClientID:              "cli",
		AuthorizationEndpoint: "https://auth.example.com/authorize",
		TokenEndpoint:         "https://auth.example.com/token",
		RedirectURI:           "http://127.0.0.1:8765/callback",
	}
}

func TestOAuthConfig_Validate(t *testing.T) {
	require.NoError(t, validOAuthConfig().Validate())

	cfg := validOAuthConfig()
	cfg.ClientID = ""
	assert.ErrorContains(t, cfg.Validate(), "client_id")

	cfg = validOAuthConfig()
	cfg.TokenEndpoint = "/token"
	assert.ErrorContains(t, cfg.Validate(), "token_endpoint")
}

func TestOAuthConfig_ScopeSetDeduplicates(t *testing.T) {
	cfg := OAuthConfig{Scopes: []string{"read", " write", "", "read"}}

	assert.Equal(t, []string{"read", "write"}, cfg.ScopeSet())
}

func TestOAuthConfig_EffectiveResponseType(t *testing.T) {
	assert.Equal(t, "code", OAuthConfig{}.EffectiveResponseType())
	assert.Equal(t, "token", OAuthConfig{ResponseType: "token"}.EffectiveResponseType())
}
