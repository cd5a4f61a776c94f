package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"

	"go.fergus.london/keyra/core"
)

// Manager drives the authorization transaction state machine: it validates
// authorize requests, opens a consent transaction in the session, and turns
// the user's decision into a redirect carrying either an authorization code
// or an access_denied error.
//
// Manager is safe for concurrent use by multiple goroutines. Per-session
// serialization is provided by the core.Session passed into each call.
type Manager struct {
	config *Config
}

// NewManager creates a new authorization transaction manager.
//
// Required options: WithClientDirectory, WithCodeStore.
func NewManager(opts ...Option) (*Manager, error) {
	config, err := NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	if config.Clients == nil {
		return nil, fmt.Errorf("%w: client directory is required (use WithClientDirectory)", core.ErrInvalidConfiguration)
	}
	if config.Codes == nil {
		return nil, fmt.Errorf("%w: code store is required (use WithCodeStore)", core.ErrInvalidConfiguration)
	}

	return &Manager{config: config}, nil
}

// BeginAuthorization validates an authorize request and opens a consent
// transaction in the session, overwriting any prior unfinished one. At most
// one authorize flow is live per session.
//
// Security Considerations:
//
// @risk Spoofing: The redirect URI is validated against the directory's
// registered value by exact match before any transaction is opened, so an
// attacker cannot park a consent flow pointing at their own endpoint.
//
// Failure modes: invalid_request (missing parameters or unsupported
// response type), invalid_client (unknown client), redirect_uri_mismatch,
// server_error (directory failure).
func (m *Manager) BeginAuthorization(ctx context.Context, req AuthorizeRequest, sess *core.Session) (*Consent, error) {
	if req.ClientID == "" || req.RedirectURI == "" {
		m.logEvent(ctx, core.EventAuthorizeBegin, sess.UserID(), req.ClientID, core.OutcomeFailure, core.CodeInvalidRequest)
		return nil, core.NewAuthError(core.CodeInvalidRequest, "Missing client_id or redirect_uri", nil).WithProtocol("oauth")
	}
	if req.ResponseType != "" && req.ResponseType != ResponseTypeCode {
		m.logEvent(ctx, core.EventAuthorizeBegin, sess.UserID(), req.ClientID, core.OutcomeFailure, core.CodeInvalidRequest)
		return nil, core.NewAuthError(core.CodeInvalidRequest, "Unsupported response_type", nil).
			WithProtocol("oauth").WithClientID(req.ClientID)
	}

	client, err := m.config.Clients.GetClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			m.logEvent(ctx, core.EventAuthorizeBegin, sess.UserID(), req.ClientID, core.OutcomeFailure, core.CodeInvalidClient)
			return nil, core.NewAuthError(core.CodeInvalidClient, "Unknown client", err).
				WithProtocol("oauth").WithClientID(req.ClientID)
		}
		m.logEvent(ctx, core.EventAuthorizeBegin, sess.UserID(), req.ClientID, core.OutcomeError, core.CodeServerError)
		return nil, core.NewAuthError(core.CodeServerError, "Client lookup failed", err).
			WithProtocol("oauth").WithClientID(req.ClientID).WithInternal()
	}

	if client.RedirectURI != req.RedirectURI {
		m.logEvent(ctx, core.EventAuthorizeBegin, sess.UserID(), req.ClientID, core.OutcomeFailure, core.CodeRedirectURIMismatch)
		return nil, core.NewAuthError(core.CodeRedirectURIMismatch, "redirect_uri does not match registered value", nil).
			WithProtocol("oauth").WithClientID(req.ClientID)
	}

	transactionID, err := randomToken(32)
	if err != nil {
		return nil, core.NewAuthError(core.CodeServerError, "Failed to generate transaction id", err).
			WithProtocol("oauth").WithInternal()
	}

	scope := req.Scope
	if scope == "" {
		scope = DefaultScope
	}

	sess.SetTransaction(&core.AuthorizationTransaction{
		TransactionID:     transactionID,
		ClientID:          client.ClientID,
		ClientDisplayName: client.DisplayName,
		RedirectURI:       client.RedirectURI,
		Scope:             scope,
		State:             req.State,
		Nonce:             req.Nonce,
		ResponseType:      ResponseTypeCode,
		CreatedAt:         m.config.Clock(),
	})

	m.logEvent(ctx, core.EventAuthorizeBegin, sess.UserID(), client.ClientID, core.OutcomeSuccess, "")

	return &Consent{
		TransactionID: transactionID,
		ClientID:      client.ClientID,
		ClientName:    client.DisplayName,
		Scope:         scope,
		RedirectURI:   client.RedirectURI,
		State:         req.State,
	}, nil
}

// Decide consumes the pending transaction and turns the user's decision
// into a redirect. The stored transaction is deleted unconditionally once
// read, whether the decision succeeds or fails, so a transaction ID is
// consumable exactly once.
//
// On deny the redirect carries error=access_denied plus the original state.
// On allow an authorization code bound to the session's user, the client,
// the redirect URI, and the approved scope is minted and carried with the
// state.
//
// Failure modes: invalid_transaction (no pending transaction, or the
// presented ID does not match, which is the anti-CSRF check for the consent step),
// invalid_request (unrecognized decision value).
func (m *Manager) Decide(ctx context.Context, req DecisionRequest, sess *core.Session) (*Redirect, error) {
	txn := sess.TakeTransaction(req.TransactionID)
	if txn == nil {
		m.logEvent(ctx, core.EventConsentDecision, sess.UserID(), "", core.OutcomeFailure, core.CodeInvalidTransaction)
		return nil, core.NewAuthError(core.CodeInvalidTransaction, "Invalid transaction. Please try again.", nil).
			WithProtocol("oauth")
	}

	switch req.Decision {
	case DecisionDeny:
		m.logEvent(ctx, core.EventConsentDecision, sess.UserID(), txn.ClientID, core.OutcomeSuccess, core.CodeAccessDenied)

		params := url.Values{}
		params.Set("error", core.CodeAccessDenied)
		if txn.State != "" {
			params.Set("state", txn.State)
		}
		return &Redirect{URI: txn.RedirectURI, Params: params}, nil

	case DecisionAllow:
		code, err := m.issueCode(ctx, sess.UserID(), txn)
		if err != nil {
			m.logEvent(ctx, core.EventConsentDecision, sess.UserID(), txn.ClientID, core.OutcomeError, core.CodeServerError)
			return nil, core.NewAuthError(core.CodeServerError, "Failed to issue authorization code", err).
				WithProtocol("oauth").WithClientID(txn.ClientID).WithInternal()
		}

		m.logEvent(ctx, core.EventConsentDecision, sess.UserID(), txn.ClientID, core.OutcomeSuccess, "")

		params := url.Values{}
		params.Set("code", code)
		if txn.State != "" {
			params.Set("state", txn.State)
		}
		return &Redirect{URI: txn.RedirectURI, Params: params}, nil

	default:
		m.logEvent(ctx, core.EventConsentDecision, sess.UserID(), txn.ClientID, core.OutcomeFailure, core.CodeInvalidRequest)
		return nil, core.NewAuthError(core.CodeInvalidRequest, "Decision must be allow or deny", nil).
			WithProtocol("oauth").WithClientID(txn.ClientID)
	}
}

// issueCode mints an unguessable authorization code bound to the approved
// transaction and records it in the shared code store.
func (m *Manager) issueCode(ctx context.Context, userID string, txn *core.AuthorizationTransaction) (string, error) {
	code, err := randomToken(32)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}

	now := m.config.Clock()
	record := &core.AuthorizationCode{
		Code:        code,
		UserID:      userID,
		ClientID:    txn.ClientID,
		RedirectURI: txn.RedirectURI,
		Scope:       txn.Scope,
		IssuedAt:    now,
		ExpiresAt:   now.Add(m.config.CodeLifetime),
	}

	if err := m.config.Codes.Put(ctx, record); err != nil {
		return "", fmt.Errorf("failed to store code: %w", err)
	}

	m.logEvent(ctx, core.EventCodeIssue, userID, txn.ClientID, core.OutcomeSuccess, "")
	return code, nil
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

// randomToken generates an unguessable URL-safe token with n bytes of entropy.
func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
