package tokenstore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	apperrors "github.com/alexjbarnes/authsession/internal/errors"
	"github.com/alexjbarnes/authsession/internal/models"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/crypto/hkdf"
)

const (
	fileDirPerm  = fs.FileMode(0o700)
	filePerm     = fs.FileMode(0o600)
	tokenFileExt = ".tok"
	hkdfInfo     = "authsession token store v1"
)

// File stores each token in its own AES-GCM sealed file named after the
// hex-encoded key. Writes go to a temp file that is renamed into place,
// so readers see either the old or the new token. Decoded tokens are
// cached in memory; StartWatch keeps the cache coherent with writes made
// by other processes.
type File struct {
	dir    string
	aead   cipher.AEAD
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]models.AuthToken
}

// NewFile opens a file store rooted at dir. The encryption key is derived
// from passphrase with HKDF-SHA256; an empty passphrase falls back to a
// machine-local secret built from the hostname and user name.
func NewFile(dir, passphrase string, logger *slog.Logger) (*File, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(dir, fileDirPerm); err != nil {
		return nil, fmt.Errorf("creating token directory: %w", err)
	}

	if passphrase == "" {
		logger.Warn("no token encryption key configured, deriving one from this machine")
		passphrase = machineSecret()
	}

	aead, err := newAEAD(passphrase)
	if err != nil {
		return nil, err
	}

	return &File{
		dir:    dir,
		aead:   aead,
		logger: logger,
		cache:  make(map[string]models.AuthToken),
	}, nil
}

func newAEAD(passphrase string) (cipher.AEAD, error) {
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(passphrase), nil, []byte(hkdfInfo))

	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("deriving token key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return aead, nil
}

func machineSecret() string {
	host, _ := os.Hostname()

	name := ""
	if u, err := user.Current(); err == nil {
		name = u.Username
	}

	return host + ":" + name
}

func (f *File) path(key string) string {
	return filepath.Join(f.dir, hex.EncodeToString([]byte(key))+tokenFileExt)
}

func keyFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, tokenFileExt) {
		return "", false
	}

	raw, err := hex.DecodeString(strings.TrimSuffix(base, tokenFileExt))
	if err != nil {
		return "", false
	}

	return string(raw), true
}

func (f *File) SaveToken(ctx context.Context, key string, tok *models.AuthToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if tok == nil {
		return errors.New("saving token: nil token")
	}

	plain, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}

	nonce := make([]byte, f.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}

	sealed := f.aead.Seal(nonce, nonce, plain, []byte(key))

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := writeAtomic(f.dir, f.path(key), sealed); err != nil {
		return fmt.Errorf("%w: writing token %q: %w", apperrors.ErrTokenStore, key, err)
	}

	f.cache[key] = *tok

	return nil
}

func writeAtomic(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".tok-*")
	if err != nil {
		return err
	}

	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

func (f *File) GetToken(ctx context.Context, key string) (*models.AuthToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	tok, ok := f.cache[key]
	f.mu.RUnlock()

	if ok {
		return &tok, nil
	}

	// A miss reads and fills under the write lock so a concurrent
	// SaveToken cannot be overwritten in the cache by an older read.
	f.mu.Lock()
	defer f.mu.Unlock()

	if tok, ok := f.cache[key]; ok {
		return &tok, nil
	}

	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("%w: reading token %q: %w", apperrors.ErrTokenStore, key, err)
	}

	n := f.aead.NonceSize()
	if len(data) < n {
		return nil, fmt.Errorf("%w: token %q is truncated", apperrors.ErrTokenTampered, key)
	}

	plain, err := f.aead.Open(nil, data[:n], data[n:], []byte(key))
	if err != nil {
		return nil, fmt.Errorf("%w: token %q: %w", apperrors.ErrTokenTampered, key, err)
	}

	var decoded models.AuthToken
	if err := json.Unmarshal(plain, &decoded); err != nil {
		return nil, fmt.Errorf("%w: decoding token %q: %w", apperrors.ErrTokenStore, key, err)
	}

	f.cache[key] = decoded

	return &decoded, nil
}

func (f *File) DeleteToken(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.cache, key)

	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: deleting token %q: %w", apperrors.ErrTokenStore, key, err)
	}

	return nil
}

func (f *File) ClearTokens(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	clear(f.cache)

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return fmt.Errorf("%w: listing tokens: %w", apperrors.ErrTokenStore, err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), tokenFileExt) {
			continue
		}

		if err := os.Remove(filepath.Join(f.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: removing %s: %w", apperrors.ErrTokenStore, e.Name(), err)
		}
	}

	return nil
}

// Keys returns the keys that have a token file, in sorted order.
func (f *File) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: listing tokens: %w", apperrors.ErrTokenStore, err)
	}

	var keys []string

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		if key, ok := keyFromPath(e.Name()); ok {
			keys = append(keys, key)
		}
	}

	slices.Sort(keys)

	return keys, nil
}

// Close is a no-op; watchers stop with the context passed to StartWatch.
func (f *File) Close() error { return nil }

func (f *File) invalidate(key string) {
	f.mu.Lock()
	delete(f.cache, key)
	f.mu.Unlock()
}

// StartWatch begins watching the store directory and drops cached tokens
// whose files change on disk. The watcher runs until ctx is done.
func (f *File) StartWatch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	if err := w.Add(f.dir); err != nil {
		w.Close()
		return fmt.Errorf("watching %s: %w", f.dir, err)
	}

	go f.watchLoop(ctx, w)

	return nil
}

func (f *File) watchLoop(ctx context.Context, w *fsnotify.Watcher) {
	defer w.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}

			key, ok := keyFromPath(event.Name)
			if !ok {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				f.logger.Debug("token file changed", slog.String("key", key), slog.String("op", event.Op.String()))
				f.invalidate(key)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}

			f.logger.Warn("token watcher error", slog.String("error", err.Error()))
		}
	}
}
