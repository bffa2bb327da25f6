package e2e_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	apperrors "github.com/alexjbarnes/authsession/internal/errors"
	"github.com/alexjbarnes/authsession/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- authorization code flow ---

func TestOAuthLogin_PersistsEncryptedToken(t *testing.T) {
	h := newHarness(t)

	res := h.login(t)
	assert.Equal(t, models.AuthMethodOAuth, res.Method)
	assert.Equal(t, models.StateAuthenticated, res.State)
	assert.Equal(t, "read write", res.Token.Scope)
	assert.NotEmpty(t, res.Token.RefreshToken)
	assert.Equal(t, 1, h.AS.Hits("authorization_code"))

	entries, err := os.ReadDir(h.TokenDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	raw, err := os.ReadFile(filepath.Join(h.TokenDir, entries[0].Name()))
	require.NoError(t, err)
	assert.False(t, bytes.Contains(raw, []byte(res.Token.AccessToken)), "token file must not hold the access token in clear")

	reopened := h.openStore(t)
	stored, err := reopened.GetToken(t.Context(), "oauth")
	require.NoError(t, err)
	assert.Equal(t, res.Token, stored)
}

func TestOAuthLogin_Denied(t *testing.T) {
	h := newHarness(t)
	h.AS.SetDeny(true)

	res := h.Session.Authenticate(t.Context(), models.AuthMethodOAuth)
	assert.False(t, res.Success)
	assert.Equal(t, models.StateFailed, res.State)
	assert.Contains(t, res.Error, "authorization denied")
	assert.Zero(t, h.AS.Hits("authorization_code"))
}

func TestOAuthLogin_RepeatedFailuresAreCounted(t *testing.T) {
	h := newHarness(t)
	h.AS.SetDeny(true)

	for range 2 {
		require.False(t, h.Session.Authenticate(t.Context(), models.AuthMethodOAuth).Success)
	}

	h.Errors.Flush()

	var found bool

	for key, n := range h.Errors.Counts() {
		if strings.Contains(key, "authorization denied") {
			found = true

			assert.True(t, strings.HasPrefix(key, string(apperrors.CategoryAuthentication)+":"), key)
			assert.Equal(t, 2, n)
		}
	}

	assert.True(t, found, "no occurrence counter for the denial")
}

func TestAPIKeyPreferredOverOAuth(t *testing.T) {
	h := newHarness(t, func(c *models.AuthConfig) { c.APIKey = "sk-e2e" })

	res := h.Session.Authenticate(t.Context(), "")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, models.AuthMethodAPIKey, res.Method)
	assert.Zero(t, h.AS.Hits("authorization_code"))

	tok := h.Session.GetValidToken(t.Context())
	require.NotNil(t, tok)
	assert.Equal(t, "sk-e2e", tok.AccessToken)
}

// --- refresh ---

func TestGetValidToken_RefreshesNearExpiry(t *testing.T) {
	h := newHarness(t)
	h.AS.SetTokenLifetime(time.Minute)

	first := h.login(t).Token

	h.AS.SetTokenLifetime(time.Hour)

	tok := h.Session.GetValidToken(t.Context())
	require.NotNil(t, tok)
	assert.NotEqual(t, first.AccessToken, tok.AccessToken)
	assert.NotEqual(t, first.RefreshToken, tok.RefreshToken, "server rotates refresh tokens")
	assert.Equal(t, 1, h.AS.Hits("refresh_token"))

	again := h.Session.GetValidToken(t.Context())
	require.NotNil(t, again)
	assert.Equal(t, tok.AccessToken, again.AccessToken)
	assert.Equal(t, 1, h.AS.Hits("refresh_token"))
}

func TestGetValidToken_KeepsRefreshTokenWithoutRotation(t *testing.T) {
	h := newHarness(t)
	h.AS.SetTokenLifetime(time.Minute)
	h.AS.SetRotateRefreshTokens(false)

	first := h.login(t).Token

	h.AS.SetTokenLifetime(time.Hour)

	tok := h.Session.GetValidToken(t.Context())
	require.NotNil(t, tok)
	assert.Equal(t, first.RefreshToken, tok.RefreshToken)
}

func TestGetValidToken_RetriesTransientFailures(t *testing.T) {
	h := newHarness(t, func(c *models.AuthConfig) { c.MaxRetryAttempts = 3 })
	h.AS.SetTokenLifetime(time.Minute)
	h.login(t)

	h.AS.SetTokenLifetime(time.Hour)
	h.AS.FailNext(2)

	tok := h.Session.GetValidToken(t.Context())
	require.NotNil(t, tok)
	assert.Equal(t, 3, h.AS.Hits("refresh_token"))
	assert.Equal(t, models.StateAuthenticated, h.Session.State())
}

func TestGetValidToken_RetriesExhausted(t *testing.T) {
	h := newHarness(t, func(c *models.AuthConfig) { c.MaxRetryAttempts = 2 })
	h.AS.SetTokenLifetime(time.Minute)
	h.login(t)

	h.AS.FailNext(5)

	assert.Nil(t, h.Session.GetValidToken(t.Context()))
	assert.Equal(t, models.StateFailed, h.Session.State())
	assert.Equal(t, 2, h.AS.Hits("refresh_token"))

	h.Errors.Flush()
	assert.Contains(t, h.Reports.textCodes(), apperrors.CodeRefreshExhausted)
}

func TestGetValidToken_RevokedRefreshTokenExpiresSession(t *testing.T) {
	h := newHarness(t)
	h.AS.SetTokenLifetime(time.Minute)
	h.login(t)

	h.AS.RevokeRefreshTokens()

	assert.Nil(t, h.Session.GetValidToken(t.Context()))
	assert.Equal(t, models.StateExpired, h.Session.State())
	assert.Equal(t, 1, h.AS.Hits("refresh_token"), "a rejected refresh token is not retried")

	stored, err := h.Store.GetToken(t.Context(), "oauth")
	require.NoError(t, err)
	assert.Nil(t, stored)

	h.Errors.Flush()
	assert.Contains(t, h.Reports.textCodes(), apperrors.CodeRefreshRejected)
}

// --- persistence across processes ---

func TestSession_SurvivesRestart(t *testing.T) {
	h := newHarness(t)
	res := h.login(t)

	restarted := h.newSession(h.openStore(t))
	assert.Equal(t, models.StateInitial, restarted.State())

	tok := restarted.GetValidToken(t.Context())
	require.NotNil(t, tok)
	assert.Equal(t, res.Token.AccessToken, tok.AccessToken)
	assert.Equal(t, models.StateAuthenticated, restarted.State())
	assert.Equal(t, models.AuthMethodOAuth, restarted.Method())
}

func TestSession_WatcherSeesLogoutFromOtherProcess(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	require.NoError(t, h.Store.StartWatch(t.Context()))
	require.NotNil(t, h.Session.GetValidToken(t.Context()))

	other := h.newSession(h.openStore(t))
	require.NoError(t, other.Logout(t.Context()))

	require.Eventually(t, func() bool {
		return h.Session.GetValidToken(t.Context()) == nil
	}, 5*time.Second, 20*time.Millisecond)
}
