package auth

import (
	"context"
	"fmt"
	"unicode"

	apperrors "github.com/alexjbarnes/authsession/internal/errors"
	"github.com/alexjbarnes/authsession/internal/models"
	"github.com/google/uuid"
)

// APIKeyTokenType is the TokenType of tokens issued for an API key.
const APIKeyTokenType = "api_key"

// APIKeyValidator performs an extra check on a well-formed API key, for
// example a call to an endpoint that echoes the caller identity.
type APIKeyValidator func(ctx context.Context, key string) error

func checkAPIKeyFormat(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key is empty", apperrors.ErrInvalidAPIKey)
	}

	for _, r := range key {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: key contains whitespace or control characters", apperrors.ErrInvalidAPIKey)
		}
	}

	return nil
}

func (m *Manager) authenticateAPIKey(ctx context.Context) (*models.AuthToken, error) {
	key := m.cfg.APIKey

	if err := checkAPIKeyFormat(key); err != nil {
		return nil, err
	}

	if m.validateKey != nil {
		if err := m.validateKey(ctx, key); err != nil {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidAPIKey, err)
		}
	}

	return &models.AuthToken{
		AccessToken: key,
		TokenType:   APIKeyTokenType,
		ID:          uuid.NewString(),
	}, nil
}
