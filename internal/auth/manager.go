package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	apperrors "github.com/alexjbarnes/authsession/internal/errors"
	"github.com/alexjbarnes/authsession/internal/models"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// ErrorHandler receives every failure the manager absorbs. The central
// errors.Manager satisfies it.
type ErrorHandler interface {
	HandleError(err any, opts ...apperrors.Option)
}

type logErrorHandler struct {
	logger *slog.Logger
}

func (h logErrorHandler) HandleError(err any, opts ...apperrors.Option) {
	rec := apperrors.Format(err, opts...)
	h.logger.Error(rec.Message, slog.String("category", string(rec.Category)))
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithErrorHandler routes absorbed failures to h.
func WithErrorHandler(h ErrorHandler) Option {
	return func(m *Manager) { m.errs = h }
}

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithAPIKeyValidator adds a check run after the API key format check.
func WithAPIKeyValidator(v APIKeyValidator) Option {
	return func(m *Manager) { m.validateKey = v }
}

// Status is a point-in-time view of the session.
type Status struct {
	State     models.AuthState
	Method    models.AuthMethod
	ExpiresAt int64
}

// Manager owns the authentication state machine. It selects a method,
// acquires and persists tokens, and keeps them fresh. None of its
// operations return errors for authentication failures: failures become
// a failed AuthResult or a nil token and are passed to the ErrorHandler.
type Manager struct {
	cfg         models.AuthConfig
	store       TokenStore
	flow        OAuthFlow
	errs        ErrorHandler
	logger      *slog.Logger
	now         func() time.Time
	validateKey APIKeyValidator

	mu      sync.Mutex
	state   models.AuthState
	method  models.AuthMethod
	current *models.AuthToken

	// refreshes holds one in-flight refresh per token identity.
	refreshes singleflight.Group
}

// NewManager creates a Manager in the initial state. cfg is copied and
// never modified afterwards.
func NewManager(cfg models.AuthConfig, store TokenStore, flow OAuthFlow, opts ...Option) *Manager {
	if cfg.OAuth != nil {
		oc := *cfg.OAuth
		cfg.OAuth = &oc
	}

	m := &Manager{
		cfg:    cfg.WithDefaults(),
		store:  store,
		flow:   flow,
		logger: slog.Default(),
		now:    time.Now,
		state:  models.StateInitial,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.errs == nil {
		m.errs = logErrorHandler{logger: m.logger}
	}

	return m
}

// State returns the current state.
func (m *Manager) State() models.AuthState {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Method returns the method of the last successful authentication, or ""
// if there has been none since the manager was created or logged out.
func (m *Manager) Method() models.AuthMethod {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.method
}

// Status returns the state together with the method and expiry of the
// token most recently seen by the manager.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Status{State: m.state, Method: m.method}
	if m.current != nil {
		s.ExpiresAt = m.current.ExpiresAt
	}

	return s
}

func (m *Manager) setState(s models.AuthState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Debug("auth state changed", slog.String("from", string(m.state)), slog.String("to", string(s)))
	m.state = s
}

func (m *Manager) setAuthenticated(method models.AuthMethod, tok *models.AuthToken) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = models.StateAuthenticated
	m.method = method
	m.current = tok.Clone()
}

// selectMethod applies the selection order: explicit hint, configured
// preference, API key when one is configured, otherwise OAuth.
func (m *Manager) selectMethod(hint models.AuthMethod) models.AuthMethod {
	switch {
	case hint != "":
		return hint
	case m.cfg.PreferredMethod != "":
		return m.cfg.PreferredMethod
	case m.cfg.APIKey != "":
		return models.AuthMethodAPIKey
	default:
		return models.AuthMethodOAuth
	}
}

// Authenticate acquires a token with the selected method and stores it
// under the method name.
func (m *Manager) Authenticate(ctx context.Context, hint models.AuthMethod) (res models.AuthResult) {
	method := m.selectMethod(hint)

	defer func() {
		if r := recover(); r != nil {
			res = m.fail(method, &apperrors.PanicError{Value: r, Stack: string(debug.Stack())})
		}
	}()

	m.setState(models.StateAuthenticating)
	m.logger.Info("authenticating", slog.String("method", string(method)))

	var (
		tok *models.AuthToken
		err error
	)

	switch method {
	case models.AuthMethodAPIKey:
		tok, err = m.authenticateAPIKey(ctx)
	case models.AuthMethodOAuth:
		if m.cfg.OAuth == nil {
			return m.fail(method, apperrors.ErrOAuthConfigMissing)
		}

		tok, err = m.flow.Execute(ctx, *m.cfg.OAuth)
		if err == nil && tok == nil {
			err = errors.New("OAuth flow returned no token")
		}
	default:
		err = fmt.Errorf("unsupported auth method %q", method)
	}

	if err != nil {
		return m.fail(method, err)
	}

	if err := m.store.SaveToken(ctx, string(method), tok); err != nil {
		return m.fail(method, fmt.Errorf("saving token: %w", err))
	}

	m.setAuthenticated(method, tok)
	m.logger.Info("authenticated", slog.String("method", string(method)))

	return models.AuthResult{
		Success: true,
		Method:  method,
		Token:   tok.Clone(),
		State:   models.StateAuthenticated,
	}
}

func (m *Manager) fail(method models.AuthMethod, err error) models.AuthResult {
	m.errs.HandleError(err, apperrors.WithField("method", string(method)))
	m.setState(models.StateFailed)

	return models.AuthResult{
		Success: false,
		Method:  method,
		State:   models.StateFailed,
		Error:   err.Error(),
	}
}

// candidateKeys lists the storage keys to try, most relevant first.
func (m *Manager) candidateKeys() []models.AuthMethod {
	keys := make([]models.AuthMethod, 0, 3)
	seen := make(map[models.AuthMethod]bool, 3)

	for _, k := range []models.AuthMethod{m.Method(), m.selectMethod(""), models.AuthMethodAPIKey, models.AuthMethodOAuth} {
		if k == "" || seen[k] {
			continue
		}

		seen[k] = true
		keys = append(keys, k)
	}

	return keys
}

// GetValidToken returns a usable token or nil. A token inside the refresh
// threshold is refreshed first when auto refresh is on and it carries a
// refresh token. Concurrent callers share a single refresh.
func (m *Manager) GetValidToken(ctx context.Context) (tok *models.AuthToken) {
	defer func() {
		if r := recover(); r != nil {
			m.errs.HandleError(&apperrors.PanicError{Value: r, Stack: string(debug.Stack())})
			tok = nil
		}
	}()

	var method models.AuthMethod

	for _, key := range m.candidateKeys() {
		stored, err := m.store.GetToken(ctx, string(key))
		if err != nil {
			m.errs.HandleError(fmt.Errorf("reading %s token: %w", key, err), apperrors.WithCategory(apperrors.CategoryStorage))
			return nil
		}

		if stored != nil {
			tok, method = stored, key
			break
		}
	}

	if tok == nil {
		return nil
	}

	now := m.now()

	if !tok.NeedsRefresh(now, m.cfg.TokenRefreshThreshold) {
		m.track(method, tok)
		return tok
	}

	if tok.HasRefreshToken() && m.cfg.AutoRefreshEnabled() {
		res := m.refresh(ctx, method, tok)
		if !res.Success {
			return nil
		}

		return res.Token
	}

	if tok.Expired(now) {
		m.logger.Info("token expired", slog.String("method", string(method)))
		m.setState(models.StateExpired)

		return nil
	}

	m.track(method, tok)

	return tok
}

// track records a usable token read from storage as the current one. A
// stored token counts as an authenticated session, so a new process picks
// up where the last one left off.
func (m *Manager) track(method models.AuthMethod, tok *models.AuthToken) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = models.StateAuthenticated
	m.current = tok.Clone()
	if m.method == "" {
		m.method = method
	}
}

// Refresh exchanges tok's refresh token for a new token. The stored token
// is replaced on success; tok itself is never modified.
func (m *Manager) Refresh(ctx context.Context, tok *models.AuthToken) models.AuthResult {
	method := m.Method()
	if method == "" {
		method = models.AuthMethodOAuth
	}

	return m.refresh(ctx, method, tok)
}

func refreshKey(method models.AuthMethod, tok *models.AuthToken) string {
	if tok.ID != "" {
		return string(method) + ":" + tok.ID
	}

	h := sha256.Sum256([]byte(tok.RefreshToken))

	return string(method) + ":" + hex.EncodeToString(h[:8])
}

func (m *Manager) refresh(ctx context.Context, method models.AuthMethod, tok *models.AuthToken) models.AuthResult {
	if !tok.HasRefreshToken() {
		err := goerrors.Wrap(apperrors.ErrRefreshTokenMissing, goerrors.CategoryAuth, "cannot refresh token without a refresh token").
			WithTextCode(apperrors.CodeRefreshTokenMissing)

		m.errs.HandleError(err, apperrors.WithField("method", string(method)))
		m.setState(models.StateExpired)

		return models.AuthResult{Method: method, State: models.StateExpired, Error: err.Error()}
	}

	// The refresh runs detached from ctx so that a caller giving up does
	// not cancel the exchange for everyone else sharing it.
	detached := context.WithoutCancel(ctx)
	own := tok.Clone()

	ch := m.refreshes.DoChan(refreshKey(method, tok), func() (any, error) {
		return m.doRefresh(detached, method, own), nil
	})

	select {
	case <-ctx.Done():
		return models.AuthResult{Method: method, State: m.State(), Error: ctx.Err().Error()}
	case r := <-ch:
		res := r.Val.(models.AuthResult)
		res.Token = res.Token.Clone()

		return res
	}
}

func (m *Manager) doRefresh(ctx context.Context, method models.AuthMethod, tok *models.AuthToken) (res models.AuthResult) {
	defer func() {
		if r := recover(); r != nil {
			err := &apperrors.PanicError{Value: r, Stack: string(debug.Stack())}
			m.errs.HandleError(err)
			m.setState(models.StateFailed)
			res = models.AuthResult{Method: method, State: models.StateFailed, Error: err.Error()}
		}
	}()

	m.setState(models.StateRefreshing)

	if m.cfg.OAuth == nil {
		m.errs.HandleError(fmt.Errorf("refreshing token: %w", apperrors.ErrOAuthConfigMissing))
		m.setState(models.StateExpired)

		return models.AuthResult{Method: method, State: models.StateExpired, Error: apperrors.ErrOAuthConfigMissing.Error()}
	}

	// A caller that read the token before an earlier refresh finished
	// arrives here with a refresh token that may already be rotated away.
	if next, replaced := m.successor(ctx, method, tok); replaced && !next.NeedsRefresh(m.now(), m.cfg.TokenRefreshThreshold) {
		m.logger.Debug("token already refreshed", slog.String("method", string(method)))
		return m.adopt(method, next)
	}

	attempts := m.cfg.MaxRetryAttempts

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		next, err := m.flow.Refresh(ctx, *m.cfg.OAuth, tok.RefreshToken)
		if err == nil && next == nil {
			err = errors.New("refresh returned no token")
		}

		if err == nil {
			return m.refreshed(ctx, method, tok, next)
		}

		lastErr = err

		if errors.Is(err, apperrors.ErrRefreshRejected) {
			return m.rejected(ctx, method, tok, err)
		}

		m.logger.Warn("token refresh attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.String("error", err.Error()),
		)

		if attempt < attempts {
			if err := sleep(ctx, time.Duration(attempt)*m.cfg.RetryBackoff); err != nil {
				break
			}
		}
	}

	wrapped := goerrors.Wrap(lastErr, goerrors.CategoryExternal,
		fmt.Sprintf("token refresh failed after %d attempts", attempts)).
		WithTextCode(apperrors.CodeRefreshExhausted)

	m.errs.HandleError(wrapped, apperrors.WithField("method", string(method)))
	m.setState(models.StateFailed)

	return models.AuthResult{
		Method: method,
		State:  models.StateFailed,
		Error:  fmt.Sprintf("token refresh failed after %d attempts: %v", attempts, lastErr),
	}
}

func (m *Manager) refreshed(ctx context.Context, method models.AuthMethod, old, next *models.AuthToken) models.AuthResult {
	tok := next.Clone()

	if tok.RefreshToken == "" {
		tok.RefreshToken = old.RefreshToken
	}

	if tok.ID == "" {
		tok.ID = uuid.NewString()
	}

	if err := m.store.SaveToken(ctx, string(method), tok); err != nil {
		m.errs.HandleError(fmt.Errorf("saving refreshed token: %w", err), apperrors.WithCategory(apperrors.CategoryStorage))
	}

	m.setAuthenticated(method, tok)
	m.logger.Info("token refreshed", slog.String("method", string(method)))

	return models.AuthResult{
		Success: true,
		Method:  method,
		Token:   tok,
		State:   models.StateAuthenticated,
	}
}

// successor returns the token stored for method and whether it differs
// from tok, meaning another refresh or login has replaced it.
func (m *Manager) successor(ctx context.Context, method models.AuthMethod, tok *models.AuthToken) (*models.AuthToken, bool) {
	stored, err := m.store.GetToken(ctx, string(method))
	if err != nil {
		m.logger.Warn("re-reading stored token", slog.String("error", err.Error()))
		return nil, false
	}

	if stored == nil {
		return nil, false
	}

	replaced := stored.ID != tok.ID ||
		stored.RefreshToken != tok.RefreshToken ||
		stored.AccessToken != tok.AccessToken

	return stored, replaced
}

func (m *Manager) adopt(method models.AuthMethod, tok *models.AuthToken) models.AuthResult {
	m.setAuthenticated(method, tok)

	return models.AuthResult{
		Success: true,
		Method:  method,
		Token:   tok.Clone(),
		State:   models.StateAuthenticated,
	}
}

// rejected handles a refresh token the server refused. Retrying cannot
// help, so the stored token is dropped and the session is expired. A
// stored token that has since replaced tok is left alone, and adopted
// when still usable.
func (m *Manager) rejected(ctx context.Context, method models.AuthMethod, tok *models.AuthToken, err error) models.AuthResult {
	next, replaced := m.successor(ctx, method, tok)
	if replaced && !next.NeedsRefresh(m.now(), m.cfg.TokenRefreshThreshold) {
		m.logger.Info("refresh token rejected after it was replaced, using stored token",
			slog.String("method", string(method)))

		return m.adopt(method, next)
	}

	wrapped := goerrors.Wrap(err, goerrors.CategoryAuth, "refresh token rejected").
		WithTextCode(apperrors.CodeRefreshRejected)

	m.errs.HandleError(wrapped, apperrors.WithField("method", string(method)))

	if !replaced {
		if derr := m.store.DeleteToken(ctx, string(method)); derr != nil {
			m.errs.HandleError(fmt.Errorf("deleting rejected token: %w", derr), apperrors.WithCategory(apperrors.CategoryStorage))
		}
	}

	m.setState(models.StateExpired)

	return models.AuthResult{Method: method, State: models.StateExpired, Error: err.Error()}
}

// Logout removes every stored token and moves to unauthenticated. The
// state changes even when clearing storage fails.
func (m *Manager) Logout(ctx context.Context) error {
	err := m.store.ClearTokens(ctx)

	m.mu.Lock()
	m.state = models.StateUnauthenticated
	m.method = ""
	m.current = nil
	m.mu.Unlock()

	if err != nil {
		m.errs.HandleError(fmt.Errorf("clearing tokens: %w", err), apperrors.WithCategory(apperrors.CategoryStorage))
		return fmt.Errorf("clearing tokens: %w", err)
	}

	m.logger.Info("logged out")

	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
