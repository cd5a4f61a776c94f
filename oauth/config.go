package oauth

import (
	"fmt"
	"time"

	"go.fergus.london/keyra/core"
	"go.fergus.london/keyra/token"
)

const (
	// DefaultCodeLifetime is the validity period of an authorization code.
	DefaultCodeLifetime = 10 * time.Minute

	// DefaultRefreshLifetime is the validity period of a refresh token.
	DefaultRefreshLifetime = 30 * 24 * time.Hour
)

// Config holds the configuration shared by the transaction Manager and the
// TokenIssuer. Each constructor validates the subset of fields it requires.
type Config struct {
	// Clients resolves registered OAuth clients. Required.
	Clients core.ClientDirectory

	// Users resolves user accounts from the identity backend.
	// Required by the TokenIssuer.
	Users core.UserDirectory

	// Codes is the shared authorization code registry. Required.
	Codes core.CodeStore

	// Tokens mints and verifies signed access tokens.
	// Required by the TokenIssuer.
	Tokens *token.Manager

	// RefreshTokens is the optional registry for opaque refresh tokens.
	// If nil, refresh tokens are minted but carry no revocation path.
	RefreshTokens core.TokenStore

	// AuditLogger receives security audit events.
	AuditLogger core.AuditLogger

	// CodeLifetime is the authorization code validity period.
	CodeLifetime time.Duration

	// RefreshLifetime is the refresh token validity period.
	RefreshLifetime time.Duration

	// Clock is the time source. Overridable for tests.
	Clock func() time.Time
}

// Option is a functional option for configuring the oauth package.
type Option func(*Config)

// WithClientDirectory sets the client directory.
func WithClientDirectory(clients core.ClientDirectory) Option {
	return func(c *Config) {
		c.Clients = clients
	}
}

// WithUserDirectory sets the identity backend's user directory.
func WithUserDirectory(users core.UserDirectory) Option {
	return func(c *Config) {
		c.Users = users
	}
}

// WithCodeStore sets the authorization code registry.
func WithCodeStore(codes core.CodeStore) Option {
	return func(c *Config) {
		c.Codes = codes
	}
}

// WithTokenManager sets the signed access-token manager.
func WithTokenManager(tokens *token.Manager) Option {
	return func(c *Config) {
		c.Tokens = tokens
	}
}

// WithRefreshTokenStore sets the registry for opaque refresh tokens,
// giving them an expiry and revocation path.
func WithRefreshTokenStore(store core.TokenStore) Option {
	return func(c *Config) {
		c.RefreshTokens = store
	}
}

// WithAuditLogger sets the audit logger for security events.
func WithAuditLogger(logger core.AuditLogger) Option {
	return func(c *Config) {
		c.AuditLogger = logger
	}
}

// WithCodeLifetime overrides the authorization code validity period.
func WithCodeLifetime(lifetime time.Duration) Option {
	return func(c *Config) {
		c.CodeLifetime = lifetime
	}
}

// WithRefreshLifetime overrides the refresh token validity period.
func WithRefreshLifetime(lifetime time.Duration) Option {
	return func(c *Config) {
		c.RefreshLifetime = lifetime
	}
}

// WithClock overrides the time source. Useful for simulating expiry in tests.
func WithClock(clock func() time.Time) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// NewConfig creates a new Config with defaults and applies the given options.
func NewConfig(opts ...Option) (*Config, error) {
	config := &Config{
		CodeLifetime:    DefaultCodeLifetime,
		RefreshLifetime: DefaultRefreshLifetime,
		Clock:           time.Now,
	}

	for _, opt := range opts {
		opt(config)
	}

	if config.CodeLifetime <= 0 {
		return nil, fmt.Errorf("%w: code lifetime must be positive", core.ErrInvalidConfiguration)
	}
	if config.RefreshLifetime <= 0 {
		return nil, fmt.Errorf("%w: refresh lifetime must be positive", core.ErrInvalidConfiguration)
	}

	return config, nil
}
