package webauthn

import (
	"fmt"
	"time"

	"go.fergus.london/keyra/core"
)

const (
	// DefaultTimeout is the default ceremony timeout.
	DefaultTimeout = 60 * time.Second

	// MaxTimeout bounds the ceremony timeout.
	MaxTimeout = 10 * time.Minute
)

// Config holds the configuration for the ceremony manager.
type Config struct {
	// RPID is the relying party identifier (domain). Required.
	RPID string

	// RPDisplayName is the human-readable relying party name. Required.
	RPDisplayName string

	// RPOrigins is the set of accepted origins. A ceremony response whose
	// collected client data carries any other origin is rejected. Required.
	RPOrigins []string

	// Credentials is the durable credential store. Required.
	Credentials core.CredentialStore

	// Users resolves user records for ceremony descriptions. Required.
	Users core.UserDirectory

	// AuditLogger receives security audit events.
	AuditLogger core.AuditLogger

	// Timeout is the ceremony timeout conveyed to clients.
	Timeout time.Duration

	// Clock is the time source. Overridable for tests.
	Clock func() time.Time
}

// Option is a functional option for configuring the ceremony manager.
type Option func(*Config)

// WithRPID sets the relying party identifier.
//
// Security Considerations:
//
// @risk Spoofing: The RP ID is bound into every credential; responses
// scoped to a different RP ID are rejected as rp_mismatch.
func WithRPID(id string) Option {
	return func(c *Config) {
		c.RPID = id
	}
}

// WithRPDisplayName sets the relying party display name.
func WithRPDisplayName(name string) Option {
	return func(c *Config) {
		c.RPDisplayName = name
	}
}

// WithRPOrigins sets the accepted origins.
//
// Security Considerations:
//
// @risk Spoofing: Incorrect origin validation allows phishing. Origins are
// matched exactly; never configure wildcards or overly permissive patterns.
func WithRPOrigins(origins ...string) Option {
	return func(c *Config) {
		c.RPOrigins = origins
	}
}

// WithCredentialStore sets the credential storage backend.
func WithCredentialStore(store core.CredentialStore) Option {
	return func(c *Config) {
		c.Credentials = store
	}
}

// WithUserDirectory sets the identity backend's user directory.
func WithUserDirectory(users core.UserDirectory) Option {
	return func(c *Config) {
		c.Users = users
	}
}

// WithAuditLogger sets the audit logger for security events.
func WithAuditLogger(logger core.AuditLogger) Option {
	return func(c *Config) {
		c.AuditLogger = logger
	}
}

// WithTimeout sets the ceremony timeout conveyed to clients.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithClock overrides the time source. Useful for tests.
func WithClock(clock func() time.Time) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// NewConfig creates a new Config with defaults and applies the given options.
//
// Required options: WithRPID, WithRPDisplayName, WithRPOrigins,
// WithCredentialStore, WithUserDirectory.
func NewConfig(opts ...Option) (*Config, error) {
	config := &Config{
		Timeout: DefaultTimeout,
		Clock:   time.Now,
	}

	for _, opt := range opts {
		opt(config)
	}

	if config.RPID == "" {
		return nil, fmt.Errorf("%w: relying party ID is required (use WithRPID)", core.ErrInvalidConfiguration)
	}
	if config.RPDisplayName == "" {
		return nil, fmt.Errorf("%w: relying party display name is required (use WithRPDisplayName)", core.ErrInvalidConfiguration)
	}
	if len(config.RPOrigins) == 0 {
		return nil, fmt.Errorf("%w: at least one origin is required (use WithRPOrigins)", core.ErrInvalidConfiguration)
	}
	if config.Credentials == nil {
		return nil, fmt.Errorf("%w: credential store is required (use WithCredentialStore)", core.ErrInvalidConfiguration)
	}
	if config.Users == nil {
		return nil, fmt.Errorf("%w: user directory is required (use WithUserDirectory)", core.ErrInvalidConfiguration)
	}
	if config.Timeout <= 0 || config.Timeout > MaxTimeout {
		return nil, fmt.Errorf("%w: timeout must be within (0, %v]", core.ErrInvalidConfiguration, MaxTimeout)
	}

	return config, nil
}
