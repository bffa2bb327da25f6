// Package models defines types shared across internal packages.
package models

import (
	"errors"
	"net/url"
	"slices"
	"strings"
)

// DefaultResponseType is the OAuth response_type used when none is configured.
const DefaultResponseType = "code"

// OAuthConfig describes an OAuth client registration and the endpoint pair
// used for the authorization-code exchange.
type OAuthConfig struct {
	ClientID              string   `json:"client_id" yaml:"client_id"`
	ClientSecret          string   `json:"client_secret,omitempty" yaml:"client_secret"`
	AuthorizationEndpoint string   `json:"authorization_endpoint" yaml:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint" yaml:"token_endpoint"`
	RedirectURI           string   `json:"redirect_uri" yaml:"redirect_uri"`
	Scopes                []string `json:"scopes,omitempty" yaml:"scopes"`
	ResponseType          string   `json:"response_type,omitempty" yaml:"response_type"`
	UsePKCE               bool     `json:"use_pkce,omitempty" yaml:"use_pkce"`
}

// ScopeSet returns the configured scopes with blanks and duplicates removed,
// in first-seen order.
func (c OAuthConfig) ScopeSet() []string {
	out := make([]string, 0, len(c.Scopes))

	for _, s := range c.Scopes {
		s = strings.TrimSpace(s)
		if s == "" || slices.Contains(out, s) {
			continue
		}

		out = append(out, s)
	}

	return out
}

// EffectiveResponseType returns ResponseType, or "code" when unset.
func (c OAuthConfig) EffectiveResponseType() string {
	if c.ResponseType == "" {
		return DefaultResponseType
	}

	return c.ResponseType
}

// Validate checks that the fields required for an exchange are present and
// that every endpoint is an absolute URL.
func (c OAuthConfig) Validate() error {
	if c.ClientID == "" {
		return errors.New("oauth client_id is required")
	}

	for _, f := range []struct{ name, raw string }{
		{"authorization_endpoint", c.AuthorizationEndpoint},
		{"token_endpoint", c.TokenEndpoint},
		{"redirect_uri", c.RedirectURI},
	} {
		name, raw := f.name, f.raw
		if raw == "" {
			return errors.New("oauth " + name + " is required")
		}

		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.New("oauth " + name + " must be an absolute URL")
		}
	}

	return nil
}
