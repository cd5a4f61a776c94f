package oauth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"go.fergus.london/keyra/core"
)

// TokenIssuer implements the token exchange: it authenticates the client,
// validates and atomically consumes the authorization code, and mints the
// token pair.
//
// TokenIssuer instances are safe for concurrent use by multiple goroutines.
type TokenIssuer struct {
	config *Config
}

// NewTokenIssuer creates a new token issuer.
//
// Required options: WithClientDirectory, WithUserDirectory, WithCodeStore,
// WithTokenManager.
func NewTokenIssuer(opts ...Option) (*TokenIssuer, error) {
	config, err := NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	if config.Clients == nil {
		return nil, fmt.Errorf("%w: client directory is required (use WithClientDirectory)", core.ErrInvalidConfiguration)
	}
	if config.Users == nil {
		return nil, fmt.Errorf("%w: user directory is required (use WithUserDirectory)", core.ErrInvalidConfiguration)
	}
	if config.Codes == nil {
		return nil, fmt.Errorf("%w: code store is required (use WithCodeStore)", core.ErrInvalidConfiguration)
	}
	if config.Tokens == nil {
		return nil, fmt.Errorf("%w: token manager is required (use WithTokenManager)", core.ErrInvalidConfiguration)
	}

	return &TokenIssuer{config: config}, nil
}

// Exchange redeems an authorization code for a token pair.
//
// Validation proceeds in a fixed order: grant type, client authentication,
// code existence, prior use, expiry, client binding, redirect binding. Only
// when every check passes is the code atomically consumed and the token
// pair minted. The code is consumed through the store's compare-and-swap,
// so concurrent redemptions of the same code yield exactly one token pair.
//
// Security Considerations:
//
// @mitigation Spoofing: Client secrets are compared in constant time.
//
// @mitigation Elevation of Privilege: A code redeemed by a client other
// than the one it was issued to, or accompanied by a different redirect_uri
// than the authorize step used, is rejected as invalid_grant.
//
// @mitigation Information Disclosure: All code-related failures surface the
// same invalid_grant code; the caller cannot distinguish an unknown code
// from a used or expired one.
func (t *TokenIssuer) Exchange(ctx context.Context, req TokenRequest) (*core.TokenPair, error) {
	if req.GrantType != GrantTypeAuthorizationCode {
		t.logEvent(ctx, core.EventCodeRedeem, "", req.ClientID, core.OutcomeFailure, core.CodeUnsupportedGrantType)
		return nil, core.NewAuthError(core.CodeUnsupportedGrantType, "Only authorization_code is supported", nil).
			WithProtocol("oauth").WithClientID(req.ClientID)
	}
	if req.Code == "" || req.ClientID == "" {
		t.logEvent(ctx, core.EventCodeRedeem, "", req.ClientID, core.OutcomeFailure, core.CodeInvalidRequest)
		return nil, core.NewAuthError(core.CodeInvalidRequest, "Missing code or client_id", nil).
			WithProtocol("oauth").WithClientID(req.ClientID)
	}

	client, err := t.config.Clients.GetClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			t.logEvent(ctx, core.EventCodeRedeem, "", req.ClientID, core.OutcomeFailure, core.CodeInvalidClient)
			return nil, core.NewAuthError(core.CodeInvalidClient, "Client authentication failed", err).
				WithProtocol("oauth").WithClientID(req.ClientID)
		}
		t.logEvent(ctx, core.EventCodeRedeem, "", req.ClientID, core.OutcomeError, core.CodeServerError)
		return nil, core.NewAuthError(core.CodeServerError, "Client lookup failed", err).
			WithProtocol("oauth").WithClientID(req.ClientID).WithInternal()
	}

	// @mitigation Information Disclosure: constant-time secret comparison
	if subtle.ConstantTimeCompare([]byte(client.ClientSecret), []byte(req.ClientSecret)) != 1 {
		t.logEvent(ctx, core.EventCodeRedeem, "", req.ClientID, core.OutcomeFailure, core.CodeInvalidClient)
		return nil, core.NewAuthError(core.CodeInvalidClient, "Client authentication failed", nil).
			WithProtocol("oauth").WithClientID(req.ClientID)
	}

	code, err := t.config.Codes.Get(ctx, req.Code)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			t.logEvent(ctx, core.EventCodeRedeem, "", req.ClientID, core.OutcomeFailure, core.CodeInvalidGrant)
			return nil, core.NewAuthError(core.CodeInvalidGrant, "Invalid authorization code", err).
				WithProtocol("oauth").WithClientID(req.ClientID)
		}
		t.logEvent(ctx, core.EventCodeRedeem, "", req.ClientID, core.OutcomeError, core.CodeServerError)
		return nil, core.NewAuthError(core.CodeServerError, "Code lookup failed", err).
			WithProtocol("oauth").WithClientID(req.ClientID).WithInternal()
	}

	if code.Used {
		t.logEvent(ctx, core.EventCodeRedeem, code.UserID, req.ClientID, core.OutcomeFailure, core.CodeInvalidGrant)
		return nil, core.NewAuthError(core.CodeInvalidGrant, "Authorization code already used", core.ErrCodeUsed).
			WithProtocol("oauth").WithClientID(req.ClientID).WithUserID(code.UserID)
	}

	if code.Expired(t.config.Clock()) {
		// Expiry is detected lazily; invalidate the record on observation.
		_ = t.config.Codes.Delete(ctx, req.Code)
		t.logEvent(ctx, core.EventCodeRedeem, code.UserID, req.ClientID, core.OutcomeFailure, core.CodeInvalidGrant)
		return nil, core.NewAuthError(core.CodeInvalidGrant, "Authorization code expired", core.ErrExpired).
			WithProtocol("oauth").WithClientID(req.ClientID).WithUserID(code.UserID)
	}

	if code.ClientID != client.ClientID {
		t.logEvent(ctx, core.EventCodeRedeem, code.UserID, req.ClientID, core.OutcomeFailure, core.CodeInvalidGrant)
		return nil, core.NewAuthError(core.CodeInvalidGrant, "Authorization code was issued to a different client", nil).
			WithProtocol("oauth").WithClientID(req.ClientID).WithUserID(code.UserID)
	}

	// The authorize step always records a redirect URI, so the token step
	// must present the same one; an absent parameter is a mismatch too.
	if req.RedirectURI != code.RedirectURI {
		t.logEvent(ctx, core.EventCodeRedeem, code.UserID, req.ClientID, core.OutcomeFailure, core.CodeInvalidGrant)
		return nil, core.NewAuthError(core.CodeInvalidGrant, "redirect_uri does not match authorization request", nil).
			WithProtocol("oauth").WithClientID(req.ClientID).WithUserID(code.UserID)
	}

	// The compare-and-swap is the single point of serialization: of any
	// number of concurrent redemptions, exactly one passes this line.
	if err := t.config.Codes.MarkUsed(ctx, req.Code); err != nil {
		t.logEvent(ctx, core.EventCodeRedeem, code.UserID, req.ClientID, core.OutcomeFailure, core.CodeInvalidGrant)
		return nil, core.NewAuthError(core.CodeInvalidGrant, "Invalid authorization code", err).
			WithProtocol("oauth").WithClientID(req.ClientID).WithUserID(code.UserID)
	}

	t.logEvent(ctx, core.EventCodeRedeem, code.UserID, req.ClientID, core.OutcomeSuccess, "")

	return t.Issue(ctx, code.UserID, code.ClientID, code.Scope)
}

// Issue mints a token pair for a user, client, and scope: a signed access
// token plus an opaque refresh token. The refresh token's hash is recorded
// in the refresh token store when one is configured, bounding its lifetime
// and giving it a revocation path.
func (t *TokenIssuer) Issue(ctx context.Context, userID, clientID, scope string) (*core.TokenPair, error) {
	user, err := t.config.Users.GetUser(ctx, userID)
	if err != nil {
		t.logEvent(ctx, core.EventTokenIssue, userID, clientID, core.OutcomeError, core.CodeServerError)
		return nil, core.NewAuthError(core.CodeServerError, "Failed to resolve user", err).
			WithProtocol("oauth").WithClientID(clientID).WithUserID(userID).WithInternal()
	}

	accessToken, err := t.config.Tokens.Issue(ctx, user.ID, clientID, scope)
	if err != nil {
		return nil, core.NewAuthError(core.CodeServerError, "Failed to issue access token", err).
			WithProtocol("oauth").WithClientID(clientID).WithUserID(user.ID).WithInternal()
	}

	refreshToken, err := t.issueRefreshToken(ctx, user.ID)
	if err != nil {
		return nil, core.NewAuthError(core.CodeServerError, "Failed to issue refresh token", err).
			WithProtocol("oauth").WithClientID(clientID).WithUserID(user.ID).WithInternal()
	}

	return &core.TokenPair{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(t.config.Tokens.Lifetime().Seconds()),
		RefreshToken: refreshToken,
		Scope:        scope,
	}, nil
}

// issueRefreshToken mints an opaque refresh token. Only a hash of the token
// is persisted; the raw value exists solely in the response to the client.
func (t *TokenIssuer) issueRefreshToken(ctx context.Context, userID string) (string, error) {
	refreshToken, err := randomToken(32)
	if err != nil {
		return "", fmt.Errorf("failed to generate refresh token: %w", err)
	}

	if t.config.RefreshTokens != nil {
		expiresAt := t.config.Clock().Add(t.config.RefreshLifetime)
		if err := t.config.RefreshTokens.StoreToken(ctx, RefreshTokenID(refreshToken), userID, expiresAt); err != nil {
			return "", fmt.Errorf("failed to store refresh token: %w", err)
		}
	}

	return refreshToken, nil
}

// RefreshTokenID derives the storage identifier for an opaque refresh token.
// The raw token value is never written to the store.
func RefreshTokenID(refreshToken string) string {
	sum := sha256.Sum256([]byte(refreshToken))
	return hex.EncodeToString(sum[:])
}

// logEvent is a helper to log audit events.
func (t *TokenIssuer) logEvent(ctx context.Context, eventType, userID, clientID, outcome, reason string) {
	if t.config.AuditLogger == nil {
		return
	}

	event := core.NewAuditEvent(eventType, "oauth", userID, outcome).
		WithClientID(clientID).
		WithReason(reason)

	_ = t.config.AuditLogger.Log(ctx, event)
}
