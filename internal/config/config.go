package config

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/alexjbarnes/authsession/internal/models"
	"github.com/alexjbarnes/authsession/internal/tokenstore"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all environment-based configuration for authsession.
type Config struct {
	// API key credential. When set and no method is preferred, the API key
	// path is used.
	APIKey          string `env:"AUTH_API_KEY"`
	PreferredMethod string `env:"AUTH_PREFERRED_METHOD"`

	AutoRefresh           bool          `env:"AUTH_AUTO_REFRESH" envDefault:"true"`
	TokenRefreshThreshold time.Duration `env:"AUTH_TOKEN_REFRESH_THRESHOLD" envDefault:"300s"`
	MaxRetryAttempts      int           `env:"AUTH_MAX_RETRY_ATTEMPTS" envDefault:"3"`
	RetryBackoff          time.Duration `env:"AUTH_RETRY_BACKOFF" envDefault:"1s"`

	// OAuth client registration. Values set here override those read from
	// OAUTH_CONFIG_FILE.
	OAuthClientID              string   `env:"OAUTH_CLIENT_ID"`
	OAuthClientSecret          string   `env:"OAUTH_CLIENT_SECRET"`
	OAuthAuthorizationEndpoint string   `env:"OAUTH_AUTHORIZATION_ENDPOINT"`
	OAuthTokenEndpoint         string   `env:"OAUTH_TOKEN_ENDPOINT"`
	OAuthRedirectURI           string   `env:"OAUTH_REDIRECT_URI"`
	OAuthScopes                []string `env:"OAUTH_SCOPES" envSeparator:","`
	OAuthResponseType          string   `env:"OAUTH_RESPONSE_TYPE"`
	OAuthUsePKCE               bool     `env:"OAUTH_USE_PKCE" envDefault:"true"`
	OAuthConfigFile            string   `env:"OAUTH_CONFIG_FILE"`

	// Token persistence.
	TokenStore         string `env:"TOKEN_STORE" envDefault:"bolt"`
	TokenStorePath     string `env:"TOKEN_STORE_PATH"`
	TokenEncryptionKey string `env:"TOKEN_ENCRYPTION_KEY"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Error manager settings.
	ErrorReportURL       string `env:"ERROR_REPORT_URL"`
	ErrorCounterCapacity int    `env:"ERROR_COUNTER_CAPACITY" envDefault:"1000"`

	preferred models.AuthMethod
	oauth     *models.OAuthConfig
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	oauth, err := cfg.resolveOAuth()
	if err != nil {
		return nil, err
	}

	cfg.oauth = oauth

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// resolveOAuth merges the optional YAML client file with OAUTH_* variables.
// It returns nil when neither supplies any OAuth setting.
func (c *Config) resolveOAuth() (*models.OAuthConfig, error) {
	oc := models.OAuthConfig{UsePKCE: c.OAuthUsePKCE}
	fromFile := false

	if c.OAuthConfigFile != "" {
		data, err := os.ReadFile(c.OAuthConfigFile)
		if err != nil {
			return nil, fmt.Errorf("reading OAUTH_CONFIG_FILE: %w", err)
		}

		if err := yaml.Unmarshal(data, &oc); err != nil {
			return nil, fmt.Errorf("parsing OAUTH_CONFIG_FILE: %w", err)
		}

		fromFile = true

		// An explicit OAUTH_USE_PKCE beats the file.
		if _, ok := os.LookupEnv("OAUTH_USE_PKCE"); ok {
			oc.UsePKCE = c.OAuthUsePKCE
		}
	}

	override(&oc.ClientID, c.OAuthClientID)
	override(&oc.ClientSecret, c.OAuthClientSecret)
	override(&oc.AuthorizationEndpoint, c.OAuthAuthorizationEndpoint)
	override(&oc.TokenEndpoint, c.OAuthTokenEndpoint)
	override(&oc.RedirectURI, c.OAuthRedirectURI)
	override(&oc.ResponseType, c.OAuthResponseType)

	if len(c.OAuthScopes) > 0 {
		oc.Scopes = c.OAuthScopes
	}

	oc.Scopes = oc.ScopeSet()

	if !fromFile && oc.ClientID == "" && oc.AuthorizationEndpoint == "" && oc.TokenEndpoint == "" {
		return nil, nil
	}

	return &oc, nil
}

func override(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func (c *Config) validate() error {
	m, err := models.ParseAuthMethod(c.PreferredMethod)
	if err != nil {
		return fmt.Errorf("AUTH_PREFERRED_METHOD: %w", err)
	}

	c.preferred = m

	if c.MaxRetryAttempts < 1 {
		return fmt.Errorf("AUTH_MAX_RETRY_ATTEMPTS must be at least 1")
	}

	// The session manager treats zero as unset.
	if c.TokenRefreshThreshold <= 0 {
		return fmt.Errorf("AUTH_TOKEN_REFRESH_THRESHOLD must be positive")
	}

	if c.RetryBackoff < 0 {
		return fmt.Errorf("AUTH_RETRY_BACKOFF must not be negative")
	}

	if c.ErrorCounterCapacity < 1 {
		return fmt.Errorf("ERROR_COUNTER_CAPACITY must be at least 1")
	}

	switch c.TokenStore {
	case tokenstore.BackendBolt, tokenstore.BackendFile, tokenstore.BackendMemory:
	default:
		return fmt.Errorf("TOKEN_STORE must be one of bolt, file, memory (got %q)", c.TokenStore)
	}

	if c.oauth != nil {
		if err := c.oauth.Validate(); err != nil {
			return err
		}
	}

	if m == models.AuthMethodAPIKey && c.APIKey == "" {
		return fmt.Errorf("AUTH_API_KEY is required when AUTH_PREFERRED_METHOD is api_key")
	}

	return nil
}

// AuthConfig returns the session manager configuration. OAuth is nil when
// no OAuth client is configured.
func (c *Config) AuthConfig() models.AuthConfig {
	autoRefresh := c.AutoRefresh

	ac := models.AuthConfig{
		APIKey:                c.APIKey,
		PreferredMethod:       c.preferred,
		AutoRefresh:           &autoRefresh,
		TokenRefreshThreshold: c.TokenRefreshThreshold,
		MaxRetryAttempts:      c.MaxRetryAttempts,
		RetryBackoff:          c.RetryBackoff,
	}

	if c.oauth != nil {
		oc := *c.oauth
		ac.OAuth = &oc
	}

	return ac
}

// TokenStoreConfig returns the token store backend settings.
func (c *Config) TokenStoreConfig() tokenstore.Config {
	return tokenstore.Config{
		Backend:       c.TokenStore,
		Path:          c.TokenStorePath,
		EncryptionKey: c.TokenEncryptionKey,
	}
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
