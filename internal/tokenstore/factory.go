package tokenstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alexjbarnes/authsession/internal/models"
	"github.com/alexjbarnes/authsession/internal/state"
)

// Backend names accepted by New.
const (
	BackendBolt   = "bolt"
	BackendFile   = "file"
	BackendMemory = "memory"
)

// Store is the full persistence surface of every backend.
type Store interface {
	SaveToken(ctx context.Context, key string, tok *models.AuthToken) error
	GetToken(ctx context.Context, key string) (*models.AuthToken, error)
	DeleteToken(ctx context.Context, key string) error
	ClearTokens(ctx context.Context) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend string
	// Path is the bbolt database file or the token directory. Empty uses
	// a default under ~/.authsession.
	Path          string
	EncryptionKey string
}

// New builds the configured backend. An empty backend selects bolt.
func New(cfg Config, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case "", BackendBolt:
		var (
			db  *state.State
			err error
		)

		if cfg.Path == "" {
			db, err = state.Load()
		} else {
			db, err = state.LoadAt(cfg.Path)
		}

		if err != nil {
			return nil, err
		}

		return db, nil
	case BackendFile:
		dir := cfg.Path
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("determining home directory: %w", err)
			}

			dir = filepath.Join(home, ".authsession", "tokens")
		}

		f, err := NewFile(dir, cfg.EncryptionKey, logger)
		if err != nil {
			return nil, err
		}

		return f, nil
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported token store backend %q", cfg.Backend)
	}
}
