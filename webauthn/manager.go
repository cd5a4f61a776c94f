package webauthn

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/go-webauthn/webauthn/webauthn"

	"go.fergus.london/keyra/core"
)

// registrationParameters is the COSE algorithm allow-list offered to
// authenticators at BeginRegistration. The verification session must carry
// the identical list: the library rejects any attestation whose credential
// algorithm is absent from it.
var registrationParameters = []protocol.CredentialParameter{
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES256},
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES384},
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES512},
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgRS256},
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgRS384},
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgRS512},
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgPS256},
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgPS384},
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgPS512},
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgEdDSA},
}

// Manager drives the WebAuthn ceremony state machine. Per session the
// machine is Idle -> ChallengeIssued -> {Verified, Failed}: a Begin call
// stores a fresh challenge in the session (overwriting any prior unconsumed
// one), and a Verify call consumes it exactly once regardless of outcome.
//
// Manager is safe for concurrent use by multiple goroutines.
type Manager struct {
	config *Config
	web    *webauthn.WebAuthn
}

// NewManager creates a new ceremony manager.
func NewManager(opts ...Option) (*Manager, error) {
	config, err := NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	web, err := webauthn.New(&webauthn.Config{
		RPDisplayName: config.RPDisplayName,
		RPID:          config.RPID,
		RPOrigins:     config.RPOrigins,
		Timeouts: webauthn.TimeoutsConfig{
			Login: webauthn.TimeoutConfig{
				Enforce:    true,
				Timeout:    config.Timeout,
				TimeoutUVD: config.Timeout,
			},
			Registration: webauthn.TimeoutConfig{
				Enforce:    true,
				Timeout:    config.Timeout,
				TimeoutUVD: config.Timeout,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create webauthn instance: %w", err)
	}

	return &Manager{
		config: config,
		web:    web,
	}, nil
}

// IssueChallenge generates a fresh random challenge, stores it in the
// session (overwriting any prior unconsumed one), and returns it alongside
// the session's user for rendering to the client.
//
// This is the raw challenge step for clients that construct their own
// ceremony options; BeginRegistration and BeginAuthentication produce full
// option sets and store their challenge the same way.
func (m *Manager) IssueChallenge(ctx context.Context, sess *core.Session) (*ChallengeResponse, error) {
	challenge := make([]byte, 32)
	if _, err := rand.Read(challenge); err != nil {
		return nil, core.NewAuthError(core.CodeServerError, "Failed to generate challenge", err).
			WithProtocol("webauthn").WithInternal()
	}

	response := &ChallengeResponse{
		Challenge: base64.RawURLEncoding.EncodeToString(challenge),
	}

	if userID := sess.UserID(); userID != "" {
		user, err := m.config.Users.GetUser(ctx, userID)
		if err != nil {
			m.logEvent(ctx, core.EventChallengeIssue, userID, "", core.OutcomeError, core.CodeServerError)
			return nil, core.NewAuthError(core.CodeServerError, "Failed to resolve user", err).
				WithProtocol("webauthn").WithUserID(userID).WithInternal()
		}
		response.User = &UserInfo{
			ID:          user.ID,
			Email:       user.Email,
			DisplayName: user.DisplayName,
		}
	}

	sess.SetChallenge(challenge)
	m.logEvent(ctx, core.EventChallengeIssue, sess.UserID(), "", core.OutcomeSuccess, "")

	return response, nil
}

// BeginRegistration opens a registration ceremony for the session's user:
// it builds the credential creation options (excluding already-registered
// credentials) and stores the challenge in the session.
func (m *Manager) BeginRegistration(ctx context.Context, sess *core.Session) (*protocol.CredentialCreation, error) {
	userID := sess.UserID()
	if userID == "" {
		return nil, core.NewAuthError(core.CodeInvalidRequest, "Registration requires an authenticated session", nil).
			WithProtocol("webauthn")
	}

	user, err := m.config.Users.GetUser(ctx, userID)
	if err != nil {
		m.logEvent(ctx, core.EventChallengeIssue, userID, "", core.OutcomeError, core.CodeServerError)
		return nil, core.NewAuthError(core.CodeServerError, "Failed to resolve user", err).
			WithProtocol("webauthn").WithUserID(userID).WithInternal()
	}

	records, err := m.config.Credentials.ListForUser(ctx, userID)
	if err != nil {
		m.logEvent(ctx, core.EventChallengeIssue, userID, "", core.OutcomeError, core.CodeServerError)
		return nil, core.NewAuthError(core.CodeServerError, "Failed to list credentials", err).
			WithProtocol("webauthn").WithUserID(userID).WithInternal()
	}

	exclusions := make([]protocol.CredentialDescriptor, 0, len(records))
	for _, record := range records {
		id, err := base64.RawURLEncoding.DecodeString(record.CredentialID)
		if err != nil {
			continue
		}
		exclusions = append(exclusions, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: protocol.URLEncodedBase64(id),
			Transport:    protocolTransports(record.Transports),
		})
	}

	creation, session, err := m.web.BeginRegistration(
		&ceremonyUser{user: user, credentials: records},
		webauthn.WithExclusions(exclusions),
		webauthn.WithCredentialParameters(registrationParameters),
	)
	if err != nil {
		m.logEvent(ctx, core.EventChallengeIssue, userID, "", core.OutcomeError, core.CodeServerError)
		return nil, core.NewAuthError(core.CodeServerError, "Failed to begin registration", err).
			WithProtocol("webauthn").WithUserID(userID).WithInternal()
	}

	challenge, err := base64.RawURLEncoding.DecodeString(session.Challenge)
	if err != nil {
		return nil, core.NewAuthError(core.CodeServerError, "Failed to decode challenge", err).
			WithProtocol("webauthn").WithUserID(userID).WithInternal()
	}

	sess.SetChallenge(challenge)
	m.logEvent(ctx, core.EventChallengeIssue, userID, "", core.OutcomeSuccess, "")

	return creation, nil
}

// VerifyRegistration completes a registration ceremony. The session's
// pending challenge is consumed unconditionally before any validation, so a
// response can never be replayed. Origin and relying-party checks run
// before the attestation is handed to the library; extraction or signature
// failure surfaces as attestation_invalid.
//
// On success the authenticator record (credential ID, COSE public key,
// initial signature counter, transports) is persisted to the credential
// store and returned.
//
// Security Considerations:
//
// @mitigation Spoofing: Responses minted for another origin or relying
// party are rejected before signature verification.
//
// @mitigation Elevation of Privilege: The challenge is single-use; the
// library verifies the response's client data echoes it exactly.
func (m *Manager) VerifyRegistration(ctx context.Context, sess *core.Session, response *protocol.ParsedCredentialCreationData) (*core.Authenticator, error) {
	userID := sess.UserID()

	challenge := sess.TakeChallenge()
	if challenge == nil {
		m.logEvent(ctx, core.EventRegistrationVerify, userID, "", core.OutcomeFailure, core.CodeNoPendingChallenge)
		return nil, core.NewAuthError(core.CodeNoPendingChallenge, "No challenge is pending for this session", nil).
			WithProtocol("webauthn").WithUserID(userID)
	}
	if response == nil {
		return nil, core.NewAuthError(core.CodeInvalidRequest, "Missing registration response", nil).
			WithProtocol("webauthn").WithUserID(userID)
	}
	if userID == "" {
		return nil, core.NewAuthError(core.CodeInvalidRequest, "Registration requires an authenticated session", nil).
			WithProtocol("webauthn")
	}

	if !m.acceptedOrigin(response.Response.CollectedClientData.Origin) {
		m.logEvent(ctx, core.EventRegistrationVerify, userID, "", core.OutcomeFailure, core.CodeOriginMismatch)
		return nil, core.NewAuthError(core.CodeOriginMismatch, "Response origin is not accepted", nil).
			WithProtocol("webauthn").WithUserID(userID)
	}
	if !m.matchesRPID(response.Response.AttestationObject.AuthData.RPIDHash) {
		m.logEvent(ctx, core.EventRegistrationVerify, userID, "", core.OutcomeFailure, core.CodeRPMismatch)
		return nil, core.NewAuthError(core.CodeRPMismatch, "Response is bound to a different relying party", nil).
			WithProtocol("webauthn").WithUserID(userID)
	}

	user, err := m.config.Users.GetUser(ctx, userID)
	if err != nil {
		return nil, core.NewAuthError(core.CodeServerError, "Failed to resolve user", err).
			WithProtocol("webauthn").WithUserID(userID).WithInternal()
	}

	// CredParams must repeat the allow-list issued at BeginRegistration;
	// the library rejects the attestation against an empty list.
	webSession := webauthn.SessionData{
		Challenge:  base64.RawURLEncoding.EncodeToString(challenge),
		UserID:     []byte(userID),
		CredParams: registrationParameters,
	}

	credential, err := m.web.CreateCredential(&ceremonyUser{user: user}, webSession, response)
	if err != nil {
		m.logEvent(ctx, core.EventRegistrationVerify, userID, "", core.OutcomeFailure, core.CodeAttestationInvalid)
		return nil, core.NewAuthError(core.CodeAttestationInvalid, "Attestation verification failed", err).
			WithProtocol("webauthn").WithUserID(userID)
	}

	record := &core.Authenticator{
		CredentialID: CredentialID(credential.ID),
		UserID:       userID,
		PublicKey:    credential.PublicKey,
		SignCount:    credential.Authenticator.SignCount,
		Transports:   transportStrings(credential.Transport),
		CreatedAt:    m.config.Clock(),
	}

	if err := m.config.Credentials.Store(ctx, record); err != nil {
		if errors.Is(err, core.ErrAlreadyExists) {
			m.logEvent(ctx, core.EventRegistrationVerify, userID, record.CredentialID, core.OutcomeFailure, core.CodeInvalidRequest)
			return nil, core.NewAuthError(core.CodeInvalidRequest, "Credential is already registered", err).
				WithProtocol("webauthn").WithUserID(userID).WithCredentialID(record.CredentialID)
		}
		m.logEvent(ctx, core.EventRegistrationVerify, userID, record.CredentialID, core.OutcomeError, core.CodeServerError)
		return nil, core.NewAuthError(core.CodeServerError, "Failed to store credential", err).
			WithProtocol("webauthn").WithUserID(userID).WithCredentialID(record.CredentialID).WithInternal()
	}

	m.logEvent(ctx, core.EventRegistrationVerify, userID, record.CredentialID, core.OutcomeSuccess, "")

	return record, nil
}

// BeginAuthentication opens an authentication ceremony and stores the
// challenge in the session. When the session is bound to a user the options
// carry that user's credentials as the allow list; anonymous sessions get a
// discoverable-credential ceremony and the user is identified from the
// assertion.
func (m *Manager) BeginAuthentication(ctx context.Context, sess *core.Session) (*protocol.CredentialAssertion, error) {
	userID := sess.UserID()

	var (
		assertion *protocol.CredentialAssertion
		session   *webauthn.SessionData
		err       error
	)

	if userID != "" {
		user, lookupErr := m.config.Users.GetUser(ctx, userID)
		if lookupErr != nil {
			return nil, core.NewAuthError(core.CodeServerError, "Failed to resolve user", lookupErr).
				WithProtocol("webauthn").WithUserID(userID).WithInternal()
		}

		records, lookupErr := m.config.Credentials.ListForUser(ctx, userID)
		if lookupErr != nil {
			return nil, core.NewAuthError(core.CodeServerError, "Failed to list credentials", lookupErr).
				WithProtocol("webauthn").WithUserID(userID).WithInternal()
		}
		if len(records) == 0 {
			m.logEvent(ctx, core.EventChallengeIssue, userID, "", core.OutcomeFailure, core.CodeUnknownCredential)
			return nil, core.NewAuthError(core.CodeUnknownCredential, "User has no registered credentials", nil).
				WithProtocol("webauthn").WithUserID(userID)
		}

		assertion, session, err = m.web.BeginLogin(&ceremonyUser{user: user, credentials: records})
	} else {
		assertion, session, err = m.web.BeginDiscoverableLogin()
	}
	if err != nil {
		m.logEvent(ctx, core.EventChallengeIssue, userID, "", core.OutcomeError, core.CodeServerError)
		return nil, core.NewAuthError(core.CodeServerError, "Failed to begin authentication", err).
			WithProtocol("webauthn").WithUserID(userID).WithInternal()
	}

	challenge, err := base64.RawURLEncoding.DecodeString(session.Challenge)
	if err != nil {
		return nil, core.NewAuthError(core.CodeServerError, "Failed to decode challenge", err).
			WithProtocol("webauthn").WithUserID(userID).WithInternal()
	}

	sess.SetChallenge(challenge)
	m.logEvent(ctx, core.EventChallengeIssue, userID, "", core.OutcomeSuccess, "")

	return assertion, nil
}

// VerifyAuthentication completes an authentication ceremony and returns the
// bound user ID. The pending challenge is consumed unconditionally; the
// credential is resolved by the assertion's credential ID; the assertion
// signature is verified against the stored public key.
//
// Security Considerations:
//
// @mitigation Elevation of Privilege: An assertion counter less than or
// equal to the stored counter signals a cloned authenticator. The ceremony
// hard-fails with possible_clone_detected and the stored counter is left
// unchanged, so the legitimate owner's next attempt also fails loudly and
// forces re-registration.
func (m *Manager) VerifyAuthentication(ctx context.Context, sess *core.Session, response *protocol.ParsedCredentialAssertionData) (string, error) {
	challenge := sess.TakeChallenge()
	if challenge == nil {
		m.logEvent(ctx, core.EventAssertionVerify, sess.UserID(), "", core.OutcomeFailure, core.CodeNoPendingChallenge)
		return "", core.NewAuthError(core.CodeNoPendingChallenge, "No challenge is pending for this session", nil).
			WithProtocol("webauthn")
	}
	if response == nil {
		return "", core.NewAuthError(core.CodeInvalidRequest, "Missing authentication response", nil).
			WithProtocol("webauthn")
	}

	if !m.acceptedOrigin(response.Response.CollectedClientData.Origin) {
		m.logEvent(ctx, core.EventAssertionVerify, sess.UserID(), "", core.OutcomeFailure, core.CodeOriginMismatch)
		return "", core.NewAuthError(core.CodeOriginMismatch, "Response origin is not accepted", nil).
			WithProtocol("webauthn")
	}
	if !m.matchesRPID(response.Response.AuthenticatorData.RPIDHash) {
		m.logEvent(ctx, core.EventAssertionVerify, sess.UserID(), "", core.OutcomeFailure, core.CodeRPMismatch)
		return "", core.NewAuthError(core.CodeRPMismatch, "Response is bound to a different relying party", nil).
			WithProtocol("webauthn")
	}

	credentialID := CredentialID(response.RawID)

	record, err := m.config.Credentials.GetByCredentialID(ctx, credentialID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			m.logEvent(ctx, core.EventAssertionVerify, sess.UserID(), credentialID, core.OutcomeFailure, core.CodeUnknownCredential)
			return "", core.NewAuthError(core.CodeUnknownCredential, "Credential is not registered", err).
				WithProtocol("webauthn").WithCredentialID(credentialID)
		}
		return "", core.NewAuthError(core.CodeServerError, "Credential lookup failed", err).
			WithProtocol("webauthn").WithCredentialID(credentialID).WithInternal()
	}

	user, err := m.config.Users.GetUser(ctx, record.UserID)
	if err != nil {
		return "", core.NewAuthError(core.CodeServerError, "Failed to resolve user", err).
			WithProtocol("webauthn").WithUserID(record.UserID).WithCredentialID(credentialID).WithInternal()
	}

	webSession := webauthn.SessionData{
		Challenge: base64.RawURLEncoding.EncodeToString(challenge),
		UserID:    []byte(record.UserID),
	}

	_, err = m.web.ValidateLogin(&ceremonyUser{user: user, credentials: []*core.Authenticator{record}}, webSession, response)
	if err != nil {
		m.logEvent(ctx, core.EventAssertionVerify, record.UserID, credentialID, core.OutcomeFailure, core.CodeAttestationInvalid)
		return "", core.NewAuthError(core.CodeAttestationInvalid, "Assertion verification failed", err).
			WithProtocol("webauthn").WithUserID(record.UserID).WithCredentialID(credentialID)
	}

	// A non-increasing counter means two physical devices hold the same key.
	newCount := response.Response.AuthenticatorData.Counter
	if newCount <= record.SignCount {
		m.logEvent(ctx, core.EventAssertionVerify, record.UserID, credentialID, core.OutcomeFailure, core.CodePossibleCloneDetected)
		return "", core.NewAuthError(core.CodePossibleCloneDetected, "Signature counter did not increase; possible cloned authenticator", nil).
			WithProtocol("webauthn").WithUserID(record.UserID).WithCredentialID(credentialID)
	}

	if err := m.config.Credentials.UpdateCounter(ctx, credentialID, newCount, m.config.Clock()); err != nil {
		// The assertion itself verified; a counter write failure is logged
		// but does not fail the ceremony.
		m.logEvent(ctx, core.EventAssertionVerify, record.UserID, credentialID, core.OutcomeError, core.CodeServerError)
	}

	sess.SetUserID(record.UserID)
	m.logEvent(ctx, core.EventAssertionVerify, record.UserID, credentialID, core.OutcomeSuccess, "")

	return record.UserID, nil
}

// acceptedOrigin reports whether the collected client data origin is in the
// configured set.
func (m *Manager) acceptedOrigin(origin string) bool {
	for _, accepted := range m.config.RPOrigins {
		if origin == accepted {
			return true
		}
	}
	return false
}

// matchesRPID reports whether the authenticator data's RP ID hash matches
// the configured relying party.
func (m *Manager) matchesRPID(rpIDHash []byte) bool {
	expected := sha256.Sum256([]byte(m.config.RPID))
	return bytes.Equal(rpIDHash, expected[:])
}

// logEvent is a helper to log audit events.
func (m *Manager) logEvent(ctx context.Context, eventType, userID, credentialID, outcome, reason string) {
	if m.config.AuditLogger == nil {
		return
	}

	event := core.NewAuditEvent(eventType, "webauthn", userID, outcome).
		WithCredentialID(credentialID).
		WithReason(reason)

	_ = m.config.AuditLogger.Log(ctx, event)
}
