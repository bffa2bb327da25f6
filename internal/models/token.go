package models

import "time"

// AuthToken is an issued credential. Values are treated as immutable: a
// refresh produces a new AuthToken rather than editing an existing one.
// ExpiresAt is in unix seconds; zero means the token does not expire.
type AuthToken struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ID           string `json:"id,omitempty"`
}

// HasRefreshToken reports whether the token can be refreshed.
func (t *AuthToken) HasRefreshToken() bool {
	return t != nil && t.RefreshToken != ""
}

// Expired reports whether the token is past its expiry at now.
func (t *AuthToken) Expired(now time.Time) bool {
	if t == nil || t.ExpiresAt == 0 {
		return false
	}

	return now.Unix() >= t.ExpiresAt
}

// NeedsRefresh reports whether now falls inside the refresh window that
// opens threshold before expiry. Tokens without an expiry never need one.
func (t *AuthToken) NeedsRefresh(now time.Time, threshold time.Duration) bool {
	if t == nil || t.ExpiresAt == 0 {
		return false
	}

	return now.Unix() >= t.ExpiresAt-int64(threshold/time.Second)
}

// Clone returns a copy of t, or nil for a nil token.
func (t *AuthToken) Clone() *AuthToken {
	if t == nil {
		return nil
	}

	c := *t

	return &c
}
