package auth

import (
	"context"

	"github.com/alexjbarnes/authsession/internal/models"
)

//go:generate mockgen -source=deps.go -destination=mock_deps_test.go -package=auth

// TokenStore persists one token per key. GetToken returns nil, nil when
// the key has no token.
type TokenStore interface {
	SaveToken(ctx context.Context, key string, tok *models.AuthToken) error
	GetToken(ctx context.Context, key string) (*models.AuthToken, error)
	DeleteToken(ctx context.Context, key string) error
	ClearTokens(ctx context.Context) error
}

// OAuthFlow runs the authorization-code exchange and refresh grant.
// Refresh returns an error wrapping errors.ErrRefreshRejected when the
// server refuses the refresh token itself.
type OAuthFlow interface {
	Execute(ctx context.Context, cfg models.OAuthConfig) (*models.AuthToken, error)
	Refresh(ctx context.Context, cfg models.OAuthConfig, refreshToken string) (*models.AuthToken, error)
}
