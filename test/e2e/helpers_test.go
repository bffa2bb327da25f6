package e2e_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alexjbarnes/authsession/internal/auth"
	apperrors "github.com/alexjbarnes/authsession/internal/errors"
	"github.com/alexjbarnes/authsession/internal/logging"
	"github.com/alexjbarnes/authsession/internal/models"
	"github.com/alexjbarnes/authsession/internal/oauth"
	"github.com/alexjbarnes/authsession/internal/oauth/oauthtest"
	"github.com/alexjbarnes/authsession/internal/tokenstore"
	"github.com/stretchr/testify/require"
)

const (
	testClientID   = "e2e-test-client"
	testPassphrase = "e2e-test-passphrase"
)

// reportSink records every report the error manager sends.
type reportSink struct {
	mu      sync.Mutex
	records []apperrors.Record
}

func (s *reportSink) Report(_ context.Context, rec apperrors.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, rec)

	return nil
}

func (s *reportSink) textCodes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var codes []string

	for _, r := range s.records {
		if c, ok := r.Context["text_code"].(string); ok {
			codes = append(codes, c)
		}
	}

	return codes
}

// harness holds the full e2e stack: an authorization server, an
// encrypted file token store, the central error manager and a session
// manager driving the real OAuth flow through a loopback prompter.
type harness struct {
	AS       *oauthtest.Server
	TokenDir string
	Store    *tokenstore.File
	Errors   *apperrors.Manager
	Reports  *reportSink
	Session  *auth.Manager

	cfg models.AuthConfig
}

func freeRedirectURI(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	return fmt.Sprintf("http://127.0.0.1:%d/callback", port)
}

// browser stands in for the user agent: it loads the authorization URL
// and follows the redirect back to the loopback listener.
func browser(authURL string) error {
	go func() {
		resp, err := http.Get(authURL)
		if err != nil {
			return
		}

		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	return nil
}

func newHarness(t *testing.T, mutate ...func(*models.AuthConfig)) *harness {
	t.Helper()

	as := oauthtest.NewServer(t, testClientID)

	cfg := models.AuthConfig{
		OAuth: &models.OAuthConfig{
			ClientID:              testClientID,
			AuthorizationEndpoint: as.AuthorizeURL(),
			TokenEndpoint:         as.TokenURL(),
			RedirectURI:           freeRedirectURI(t),
			Scopes:                []string{"read", "write"},
			UsePKCE:               true,
		},
	}

	for _, m := range mutate {
		m(&cfg)
	}

	h := &harness{
		AS:       as,
		TokenDir: t.TempDir(),
		Reports:  &reportSink{},
		cfg:      cfg,
	}

	errs, err := apperrors.NewManager(logging.Discard(), apperrors.WithReporter(h.Reports))
	require.NoError(t, err)

	h.Errors = errs
	h.Store = h.openStore(t)
	h.Session = h.newSession(h.Store)

	return h
}

func (h *harness) openStore(t *testing.T) *tokenstore.File {
	t.Helper()

	store, err := tokenstore.NewFile(h.TokenDir, testPassphrase, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

// newSession builds a session manager over store, as a fresh process
// would.
func (h *harness) newSession(store auth.TokenStore) *auth.Manager {
	prompter := &oauth.LoopbackPrompter{
		Open:    browser,
		Out:     io.Discard,
		Timeout: 10 * time.Second,
		Logger:  logging.Discard(),
	}

	flow := oauth.NewFlow(prompter, oauth.WithLogger(logging.Discard()))

	return auth.NewManager(h.cfg, store, flow,
		auth.WithLogger(logging.Discard()),
		auth.WithErrorHandler(h.Errors),
	)
}

func (h *harness) login(t *testing.T) models.AuthResult {
	t.Helper()

	res := h.Session.Authenticate(t.Context(), models.AuthMethodOAuth)
	require.True(t, res.Success, res.Error)

	return res
}
