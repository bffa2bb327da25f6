// Package oauth runs the OAuth 2.0 authorization-code grant, with optional
// PKCE, and the refresh grant. The protocol work is delegated to
// golang.org/x/oauth2; this package maps its inputs and outputs onto
// models.OAuthConfig and models.AuthToken.
package oauth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	apperrors "github.com/alexjbarnes/authsession/internal/errors"
	"github.com/alexjbarnes/authsession/internal/models"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// ErrorCodeInvalidGrant is the token endpoint error code for a refresh
// token the server no longer accepts.
const ErrorCodeInvalidGrant = "invalid_grant"

// Flow implements the auth.OAuthFlow contract.
type Flow struct {
	prompter Prompter
	client   *http.Client
	logger   *slog.Logger
}

// FlowOption configures a Flow.
type FlowOption func(*Flow)

// WithHTTPClient sets the client used for token endpoint requests.
func WithHTTPClient(c *http.Client) FlowOption {
	return func(f *Flow) { f.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) FlowOption {
	return func(f *Flow) { f.logger = l }
}

// NewFlow creates a Flow that asks p for the authorization code.
func NewFlow(p Prompter, opts ...FlowOption) *Flow {
	f := &Flow{
		prompter: p,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

func (f *Flow) withClient(ctx context.Context) context.Context {
	if f.client == nil {
		return ctx
	}

	return context.WithValue(ctx, oauth2.HTTPClient, f.client)
}

func endpointConfig(cfg models.OAuthConfig) *oauth2.Config {
	style := oauth2.AuthStyleInHeader
	if cfg.ClientSecret == "" {
		style = oauth2.AuthStyleInParams
	}

	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthorizationEndpoint,
			TokenURL:  cfg.TokenEndpoint,
			AuthStyle: style,
		},
		RedirectURL: cfg.RedirectURI,
		Scopes:      cfg.ScopeSet(),
	}
}

// Execute runs the authorization-code grant: it builds the authorization
// URL, waits for the prompter to return the callback, checks the state
// parameter and exchanges the code for a token.
func (f *Flow) Execute(ctx context.Context, cfg models.OAuthConfig) (*models.AuthToken, error) {
	if err := cfg.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid OAuth configuration")
	}

	if f.prompter == nil {
		return nil, errors.New("no prompter configured for interactive OAuth")
	}

	conf := endpointConfig(cfg)
	state := rand.Text()

	authOpts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("response_type", cfg.EffectiveResponseType()),
	}

	var verifier string
	if cfg.UsePKCE {
		verifier = oauth2.GenerateVerifier()
		authOpts = append(authOpts, oauth2.S256ChallengeOption(verifier))
	}

	authURL := conf.AuthCodeURL(state, authOpts...)
	f.logger.Debug("waiting for OAuth authorization",
		slog.String("authorization_endpoint", cfg.AuthorizationEndpoint),
		slog.Bool("pkce", cfg.UsePKCE),
	)

	cb, err := f.prompter.Prompt(ctx, authURL, cfg.RedirectURI)
	if err != nil {
		return nil, fmt.Errorf("waiting for authorization: %w", err)
	}

	switch {
	case cb.Error != "":
		if cb.ErrorDescription != "" {
			return nil, fmt.Errorf("%w: %s: %s", apperrors.ErrAuthorizationDenied, cb.Error, cb.ErrorDescription)
		}

		return nil, fmt.Errorf("%w: %s", apperrors.ErrAuthorizationDenied, cb.Error)
	case cb.State != state:
		return nil, apperrors.ErrStateMismatch
	case cb.Code == "":
		return nil, apperrors.ErrNoAuthorizationCode
	}

	var exchangeOpts []oauth2.AuthCodeOption
	if verifier != "" {
		exchangeOpts = append(exchangeOpts, oauth2.VerifierOption(verifier))
	}

	tok, err := conf.Exchange(f.withClient(ctx), cb.Code, exchangeOpts...)
	if err != nil {
		return nil, exchangeFailure("exchanging authorization code", err, false)
	}

	return toAuthToken(tok), nil
}

// Refresh runs the refresh grant. A refresh token the server reports as
// invalid_grant yields an error wrapping errors.ErrRefreshRejected.
func (f *Flow) Refresh(ctx context.Context, cfg models.OAuthConfig, refreshToken string) (*models.AuthToken, error) {
	if refreshToken == "" {
		return nil, apperrors.ErrRefreshTokenMissing
	}

	src := endpointConfig(cfg).TokenSource(f.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})

	tok, err := src.Token()
	if err != nil {
		return nil, exchangeFailure("refreshing token", err, true)
	}

	return toAuthToken(tok), nil
}

func toAuthToken(tok *oauth2.Token) *models.AuthToken {
	out := &models.AuthToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		ID:           uuid.NewString(),
	}

	if !tok.Expiry.IsZero() {
		out.ExpiresAt = tok.Expiry.Unix()
	}

	if scope, ok := tok.Extra("scope").(string); ok {
		out.Scope = scope
	}

	return out
}

// ExchangeError is a non-success response from the token endpoint. Body is
// kept verbatim.
type ExchangeError struct {
	StatusCode  int
	ErrorCode   string
	Description string
	Body        string

	cause *oauth2.RetrieveError
}

func (e *ExchangeError) Error() string {
	switch {
	case e.ErrorCode != "" && e.Description != "":
		return fmt.Sprintf("token endpoint returned %d: %s: %s", e.StatusCode, e.ErrorCode, e.Description)
	case e.ErrorCode != "":
		return fmt.Sprintf("token endpoint returned %d: %s", e.StatusCode, e.ErrorCode)
	default:
		return fmt.Sprintf("token endpoint returned %d", e.StatusCode)
	}
}

func (e *ExchangeError) Unwrap() error {
	if e.cause == nil {
		return nil
	}

	return e.cause
}

// ErrorContext exposes the response to the error manager.
func (e *ExchangeError) ErrorContext() map[string]any {
	ctx := map[string]any{
		"status_code": e.StatusCode,
		"body":        e.Body,
	}

	if e.ErrorCode != "" {
		ctx["error_code"] = e.ErrorCode
	}

	return ctx
}

func exchangeFailure(op string, err error, refresh bool) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return fmt.Errorf("%s: %w", op, err)
	}

	xe := &ExchangeError{
		ErrorCode:   re.ErrorCode,
		Description: re.ErrorDescription,
		Body:        string(re.Body),
		cause:       re,
	}

	if re.Response != nil {
		xe.StatusCode = re.Response.StatusCode
	}

	if refresh && re.ErrorCode == ErrorCodeInvalidGrant {
		return fmt.Errorf("%s: %w: %w", op, apperrors.ErrRefreshRejected, xe)
	}

	return fmt.Errorf("%s: %w", op, xe)
}
