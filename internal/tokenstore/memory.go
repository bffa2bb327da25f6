// Package tokenstore provides TokenStore backends other than the bbolt
// database in internal/state, and a factory that picks one from config.
package tokenstore

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/alexjbarnes/authsession/internal/models"
)

// Memory keeps tokens in process memory. Stored and returned tokens are
// copies, so callers cannot alias the stored value.
type Memory struct {
	mu     sync.RWMutex
	tokens map[string]models.AuthToken
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{tokens: make(map[string]models.AuthToken)}
}

func (m *Memory) SaveToken(ctx context.Context, key string, tok *models.AuthToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if tok == nil {
		return errors.New("saving token: nil token")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[key] = *tok

	return nil
}

func (m *Memory) GetToken(ctx context.Context, key string) (*models.AuthToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	tok, ok := m.tokens[key]
	if !ok {
		return nil, nil
	}

	return &tok, nil
}

func (m *Memory) DeleteToken(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, key)

	return nil
}

func (m *Memory) ClearTokens(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.tokens)

	return nil
}

// Keys returns the stored keys in sorted order.
func (m *Memory) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Sorted(maps.Keys(m.tokens)), nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
