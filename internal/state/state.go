package state

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/alexjbarnes/authsession/internal/models"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.authsession/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the token database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var tokensBucket = []byte("tokens")

// State wraps a bbolt database holding one serialized AuthToken per key.
// Every operation runs in its own transaction, so a reader never sees a
// partially written token.
type State struct {
	db *bolt.DB
}

// Load opens the token database at ~/.authsession/tokens.db, creating it
// if it does not exist.
func Load() (*State, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}

	return LoadAt(path)
}

// LoadAt opens a token database at the given path, creating it if it
// does not exist. Useful for tests that need an isolated database.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(tokensBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// SaveToken stores tok under key, replacing any previous value.
func (s *State) SaveToken(ctx context.Context, key string, tok *models.AuthToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if tok == nil {
		return fmt.Errorf("saving token %q: nil token", key)
	}

	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(tokensBucket).Put([]byte(key), data)
	})
}

// GetToken returns the token stored under key, or nil if there is none.
func (s *State) GetToken(ctx context.Context, key string) (*models.AuthToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var tok *models.AuthToken

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(tokensBucket).Get([]byte(key))
		if v == nil {
			return nil
		}

		tok = &models.AuthToken{}

		return json.Unmarshal(v, tok)
	})
	if err != nil {
		return nil, fmt.Errorf("reading token %q: %w", key, err)
	}

	return tok, nil
}

// DeleteToken removes the token stored under key. Missing keys are a no-op.
func (s *State) DeleteToken(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(tokensBucket).Delete([]byte(key))
	})
}

// ClearTokens removes every stored token.
func (s *State) ClearTokens(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(tokensBucket); err != nil {
			return err
		}

		_, err := tx.CreateBucket(tokensBucket)

		return err
	})
}

// Keys returns the stored keys in sorted order.
func (s *State) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var keys []string

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(tokensBucket).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})

	sort.Strings(keys)

	return keys, err
}

// DefaultPath returns ~/.authsession/tokens.db.
func DefaultPath() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(dir, ".authsession", "tokens.db"), nil
}
