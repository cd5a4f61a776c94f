package token

import (
	"fmt"
	"time"

	"go.fergus.london/keyra/core"
)

// Config holds the configuration for the token manager.
type Config struct {
	// Signer is the cryptographic signer for access tokens.
	// Required: must be set before use.
	Signer Signer

	// Lifetime is the validity period for issued access tokens.
	// Maximum allowed: MaxLifetime (24 hours).
	Lifetime time.Duration

	// TokenStore is the optional storage backend for revocation support.
	// If nil, access tokens are purely stateless and cannot be revoked
	// before expiry.
	TokenStore core.TokenStore

	// AuditLogger receives security audit events.
	AuditLogger core.AuditLogger
}

// Option is a functional option for configuring the Manager.
type Option func(*Config)

// WithSigner sets the cryptographic signer for access tokens.
//
// This is required and must be set before the Manager can be used.
// For most use cases, use NewHMACSignerSHA256 with a strong random key.
func WithSigner(signer Signer) Option {
	return func(c *Config) {
		c.Signer = signer
	}
}

// WithLifetime sets the access token validity period.
// The maximum allowed lifetime is MaxLifetime (24 hours).
func WithLifetime(lifetime time.Duration) Option {
	return func(c *Config) {
		c.Lifetime = lifetime
	}
}

// WithTokenStore sets the token storage implementation for revocation support.
//
// If not provided, token revocation will not be supported (tokens are purely
// stateless). Provide a TokenStore implementation if you need to revoke
// tokens before they expire.
func WithTokenStore(store core.TokenStore) Option {
	return func(c *Config) {
		c.TokenStore = store
	}
}

// WithAuditLogger sets the audit logger for security events.
//
// If not provided, events are not logged.
func WithAuditLogger(logger core.AuditLogger) Option {
	return func(c *Config) {
		c.AuditLogger = logger
	}
}

// NewConfig creates a new Config with defaults and applies the given options.
func NewConfig(opts ...Option) (*Config, error) {
	config := &Config{
		Lifetime: DefaultLifetime,
	}

	for _, opt := range opts {
		opt(config)
	}

	if config.Signer == nil {
		return nil, fmt.Errorf("%w: signer is required (use WithSigner)", core.ErrInvalidConfiguration)
	}
	if config.Lifetime <= 0 {
		return nil, fmt.Errorf("%w: lifetime must be positive", core.ErrInvalidConfiguration)
	}
	if config.Lifetime > MaxLifetime {
		return nil, fmt.Errorf("%w: lifetime %v exceeds maximum %v", core.ErrInvalidConfiguration, config.Lifetime, MaxLifetime)
	}

	return config, nil
}
