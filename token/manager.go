package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.fergus.london/keyra/core"
)

// Manager handles the generation and verification of signed access tokens.
//
// Manager instances are safe for concurrent use by multiple goroutines.
type Manager struct {
	config *Config
}

// NewManager creates a new token manager with the given options.
//
// The Signer option is required; all other options have sensible defaults.
//
// Example:
//
//	key := make([]byte, 32)
//	rand.Read(key)
//	signer, _ := token.NewHMACSignerSHA256(key)
//	manager, err := token.NewManager(
//	    token.WithSigner(signer),
//	    token.WithLifetime(time.Hour),
//	)
//
// Returns an error if the configuration is invalid (e.g., no signer provided).
func NewManager(opts ...Option) (*Manager, error) {
	config, err := NewConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Manager{
		config: config,
	}, nil
}

// Lifetime returns the configured access token validity period.
func (m *Manager) Lifetime() time.Duration {
	return m.config.Lifetime
}

// Issue creates a new signed access token bound to a user, client, and scope.
//
// Returns the URL-safe encoded token string or an error if issuance fails.
//
// @mitigation Repudiation: Generates audit events for token creation.
func (m *Manager) Issue(ctx context.Context, userID, clientID, scope string) (string, error) {
	accessToken, err := NewAccessToken(userID, clientID, scope, m.config.Lifetime)
	if err != nil {
		m.logEvent(ctx, core.EventTokenIssue, userID, clientID, core.OutcomeError, err.Error())
		return "", fmt.Errorf("failed to create token: %w", err)
	}

	payload, err := accessToken.Encode()
	if err != nil {
		m.logEvent(ctx, core.EventTokenIssue, userID, clientID, core.OutcomeError, "encoding_failed")
		return "", fmt.Errorf("failed to encode token: %w", err)
	}

	signature, err := m.config.Signer.Sign(payload)
	if err != nil {
		m.logEvent(ctx, core.EventTokenIssue, userID, clientID, core.OutcomeError, "signing_failed")
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	signedToken := &SignedToken{
		Token:     *accessToken,
		Signature: signature,
	}

	tokenString, err := signedToken.EncodeToString()
	if err != nil {
		m.logEvent(ctx, core.EventTokenIssue, userID, clientID, core.OutcomeError, "encoding_failed")
		return "", fmt.Errorf("failed to encode signed token: %w", err)
	}

	// Record for revocation support when a TokenStore is configured.
	if m.config.TokenStore != nil {
		if err := m.config.TokenStore.StoreToken(ctx, signedToken.ID(), userID, accessToken.ExpiresAt); err != nil {
			// Log but don't fail: revocation support is optional.
			m.logEvent(ctx, core.EventTokenIssue, userID, clientID, core.OutcomeError, "store_failed")
		}
	}

	// @mitigation Repudiation: Log token issuance for audit trail
	m.logEvent(ctx, core.EventTokenIssue, userID, clientID, core.OutcomeSuccess, "")

	return tokenString, nil
}

// Verify verifies a signed access token string and returns the payload.
//
// This method:
// 1. Decodes the token from the URL-safe string
// 2. Verifies the cryptographic signature
// 3. Checks if the token has expired
// 4. Checks if the token has been revoked (if TokenStore is configured)
//
// Returns the verified payload or an error if verification fails.
//
// @mitigation Tampering: Verifies cryptographic signature before accepting token.
// @mitigation Information Disclosure: Uses constant-time comparison in signature verification.
func (m *Manager) Verify(ctx context.Context, tokenString string) (*AccessToken, error) {
	signedToken, err := DecodeFromString(tokenString)
	if err != nil {
		return nil, core.NewAuthError(core.CodeInvalidGrant, "Invalid token format", err).WithProtocol("oauth")
	}

	userID := signedToken.Token.UserID

	payload, err := signedToken.Token.Encode()
	if err != nil {
		return nil, core.NewAuthError(core.CodeInvalidGrant, "Failed to encode token for verification", err).
			WithProtocol("oauth").WithUserID(userID)
	}

	// @mitigation Tampering: Cryptographic signature verification prevents token modification
	if err := m.config.Signer.Verify(payload, signedToken.Signature); err != nil {
		return nil, core.NewAuthError(core.CodeInvalidGrant, "Token signature verification failed", core.ErrInvalidSignature).
			WithProtocol("oauth").WithUserID(userID)
	}

	if signedToken.Token.IsExpired() {
		return nil, core.NewAuthError(core.CodeInvalidGrant, "Token has expired", core.ErrExpired).
			WithProtocol("oauth").WithUserID(userID)
	}

	if m.config.TokenStore != nil {
		revoked, err := m.config.TokenStore.IsTokenRevoked(ctx, signedToken.ID())
		if err == nil && revoked {
			return nil, core.NewAuthError(core.CodeInvalidGrant, "Token has been revoked", core.ErrRevoked).
				WithProtocol("oauth").WithUserID(userID)
		}
		// A storage error here is a revocation-check failure, not a token
		// failure; verification continues on the signature and expiry alone.
	}

	return &signedToken.Token, nil
}

// Revoke marks a token as revoked, preventing its further use.
//
// This requires a TokenStore to be configured. If no TokenStore is configured,
// this method returns an error.
//
// @mitigation Repudiation: Logs token revocation events for audit trail.
func (m *Manager) Revoke(ctx context.Context, tokenString string) error {
	if m.config.TokenStore == nil {
		return errors.New("token revocation not supported: no TokenStore configured")
	}

	signedToken, err := DecodeFromString(tokenString)
	if err != nil {
		return fmt.Errorf("failed to decode token for revocation: %w", err)
	}

	if err := m.config.TokenStore.RevokeToken(ctx, signedToken.ID()); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	m.logEvent(ctx, core.EventTokenIssue, signedToken.Token.UserID, signedToken.Token.ClientID, core.OutcomeSuccess, "revoked")
	return nil
}

// logEvent is a helper to log audit events.
func (m *Manager) logEvent(ctx context.Context, eventType, userID, clientID, outcome, reason string) {
	if m.config.AuditLogger == nil {
		return
	}

	event := core.NewAuditEvent(eventType, "oauth", userID, outcome).
		WithClientID(clientID).
		WithReason(reason)

	_ = m.config.AuditLogger.Log(ctx, event)
}
