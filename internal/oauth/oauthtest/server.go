// Package oauthtest runs an in-process OAuth 2.0 authorization server for
// tests. Consent is granted automatically; the authorization endpoint
// redirects straight back to the client with a code. All state is
// in-memory.
package oauthtest

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

const codeExpiry = 5 * time.Minute

type authCode struct {
	redirectURI   string
	codeChallenge string
	scope         string
	expiresAt     time.Time
}

// Server is an authorization server bound to one client_id.
type Server struct {
	*httptest.Server

	ClientID string

	mu            sync.Mutex
	lifetime      time.Duration
	deny          bool
	rotate        bool
	codes         map[string]*authCode
	refreshTokens map[string]string // refresh token -> scope
	hits          map[string]int    // grant_type -> count
	failNext      int
}

// NewServer starts a Server. It is closed when the test ends.
func NewServer(tb testing.TB, clientID string) *Server {
	tb.Helper()

	s := &Server{
		ClientID:      clientID,
		lifetime:      time.Hour,
		rotate:        true,
		codes:         make(map[string]*authCode),
		refreshTokens: make(map[string]string),
		hits:          make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/authorize", s.handleAuthorize)
	mux.HandleFunc("/token", s.handleToken)

	s.Server = httptest.NewServer(mux)
	tb.Cleanup(s.Close)

	return s
}

// AuthorizeURL is the authorization endpoint.
func (s *Server) AuthorizeURL() string { return s.URL + "/authorize" }

// TokenURL is the token endpoint.
func (s *Server) TokenURL() string { return s.URL + "/token" }

// Hits returns how many token requests used grantType.
func (s *Server) Hits(grantType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.hits[grantType]
}

// SetTokenLifetime sets the expires_in of access tokens issued from now on.
func (s *Server) SetTokenLifetime(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lifetime = d
}

// SetDeny makes the authorization endpoint refuse consent.
func (s *Server) SetDeny(deny bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deny = deny
}

// SetRotateRefreshTokens controls refresh token rotation. With rotation
// every refresh issues a new refresh token and revokes the old one;
// without it the refresh response omits refresh_token.
func (s *Server) SetRotateRefreshTokens(rotate bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rotate = rotate
}

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.refreshTokens)
}

// FailNext makes the next n token requests answer 503.
func (s *Server) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failNext = n
}

func redirectWithError(w http.ResponseWriter, r *http.Request, redirectURI, state, errCode, description string) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	q := u.Query()
	q.Set("error", errCode)
	q.Set("error_description", description)

	if state != "" {
		q.Set("state", state)
	}

	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	redirectURI := q.Get("redirect_uri")
	state := q.Get("state")

	if q.Get("client_id") != s.ClientID || redirectURI == "" {
		http.Error(w, "unknown client or missing redirect_uri", http.StatusBadRequest)
		return
	}

	if q.Get("response_type") != "code" {
		redirectWithError(w, r, redirectURI, state, "unsupported_response_type", "only code is supported")
		return
	}

	challenge := q.Get("code_challenge")
	if challenge != "" && q.Get("code_challenge_method") != "S256" {
		redirectWithError(w, r, redirectURI, state, "invalid_request", "code_challenge_method must be S256")
		return
	}

	s.mu.Lock()
	deny := s.deny
	s.mu.Unlock()

	if deny {
		redirectWithError(w, r, redirectURI, state, "access_denied", "the user denied the request")
		return
	}

	code := randomHex(32)

	s.mu.Lock()
	s.codes[code] = &authCode{
		redirectURI:   redirectURI,
		codeChallenge: challenge,
		scope:         q.Get("scope"),
		expiresAt:     time.Now().Add(codeExpiry),
	}
	s.mu.Unlock()

	u, err := url.Parse(redirectURI)
	if err != nil {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	rq := u.Query()
	rq.Set("code", code)
	rq.Set("state", state)
	u.RawQuery = rq.Encode()

	http.Redirect(w, r, u.String(), http.StatusFound)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid form data")
		return
	}

	grantType := r.PostForm.Get("grant_type")

	s.mu.Lock()
	s.hits[grantType]++
	failing := s.failNext > 0

	if failing {
		s.failNext--
	}
	s.mu.Unlock()

	if failing {
		writeJSONError(w, http.StatusServiceUnavailable, "temporarily_unavailable", "try again later")
		return
	}

	clientID := r.PostForm.Get("client_id")
	if user, _, ok := r.BasicAuth(); ok {
		clientID = user
	}

	if clientID != s.ClientID {
		writeJSONError(w, http.StatusUnauthorized, "invalid_client", "unknown client")
		return
	}

	switch grantType {
	case "authorization_code":
		s.exchangeCode(w, r.PostForm)
	case "refresh_token":
		s.refresh(w, r.PostForm)
	default:
		writeJSONError(w, http.StatusBadRequest, "unsupported_grant_type", "unsupported grant_type")
	}
}

func (s *Server) exchangeCode(w http.ResponseWriter, form url.Values) {
	code := form.Get("code")

	s.mu.Lock()
	ac, ok := s.codes[code]
	delete(s.codes, code)
	s.mu.Unlock()

	if !ok || time.Now().After(ac.expiresAt) {
		writeJSONError(w, http.StatusBadRequest, "invalid_grant", "invalid or expired authorization code")
		return
	}

	if form.Get("redirect_uri") != ac.redirectURI {
		writeJSONError(w, http.StatusBadRequest, "invalid_grant", "redirect_uri mismatch")
		return
	}

	if ac.codeChallenge != "" {
		verifier := form.Get("code_verifier")
		if verifier == "" {
			writeJSONError(w, http.StatusBadRequest, "invalid_grant", "code_verifier is required")
			return
		}

		if !verifyPKCE(verifier, ac.codeChallenge) {
			writeJSONError(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
			return
		}
	}

	s.issue(w, ac.scope, true)
}

func (s *Server) refresh(w http.ResponseWriter, form url.Values) {
	rt := form.Get("refresh_token")

	s.mu.Lock()
	scope, ok := s.refreshTokens[rt]
	rotate := s.rotate

	if ok && rotate {
		delete(s.refreshTokens, rt)
	}
	s.mu.Unlock()

	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid_grant", "refresh token is invalid or revoked")
		return
	}

	s.issue(w, scope, rotate)
}

func (s *Server) issue(w http.ResponseWriter, scope string, withRefresh bool) {
	s.mu.Lock()
	lifetime := s.lifetime
	s.mu.Unlock()

	resp := tokenResponse{
		AccessToken: randomHex(32),
		TokenType:   "Bearer",
		ExpiresIn:   int(lifetime.Seconds()),
		Scope:       strings.TrimSpace(scope),
	}

	if withRefresh {
		resp.RefreshToken = randomHex(32)

		s.mu.Lock()
		s.refreshTokens[resp.RefreshToken] = scope
		s.mu.Unlock()
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(resp)
}

func writeJSONError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// verifyPKCE checks that SHA256(verifier) matches the challenge (S256 method).
func verifyPKCE(verifier, challenge string) bool {
	h := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h[:]) == challenge
}

func randomHex(byteLen int) string {
	b := make([]byte, byteLen)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}

	return hex.EncodeToString(b)
}
