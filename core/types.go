// Package core provides the shared data model, error taxonomy, and storage
// interfaces for the Keyra authorization core. It defines the objects that
// flow between the authorization transaction manager, the code store, the
// token issuer, and the WebAuthn ceremony manager, while remaining
// unopinionated about transport and persistence.
package core

import (
	"time"
)

// Client is a registered OAuth2 client application as recorded in the
// client directory. The core reads clients but never mutates them.
type Client struct {
	// ClientID is the opaque, unique public identifier for this client.
	ClientID string

	// ClientSecret is the confidential secret used to authenticate the
	// client at the token step. Comparisons MUST be constant-time.
	ClientSecret string

	// RedirectURI is the exact-match redirect URI registered for this client.
	// The URI presented at the authorize step must equal it byte-for-byte.
	RedirectURI string

	// DisplayName is the human-readable application name shown on the
	// consent view.
	DisplayName string

	// OwnerID identifies the developer account that registered this client.
	OwnerID string

	// Website is the application's informational URL, if provided.
	Website string

	// CreatedAt records when the client was registered.
	CreatedAt time.Time
}

// AuthorizationTransaction correlates an authorize request with its later
// consent decision. At most one live transaction exists per session; a new
// authorize request overwrites any unfinished one.
type AuthorizationTransaction struct {
	// TransactionID is a random, unguessable, single-use identifier embedded
	// in the consent view and echoed back by the decision step.
	TransactionID string

	// ClientID is the client that initiated the authorize request.
	ClientID string

	// ClientDisplayName is the client's name as shown on the consent view.
	ClientDisplayName string

	// RedirectURI is the validated redirect URI for this flow.
	RedirectURI string

	// Scope is the requested scope.
	Scope string

	// State is the opaque client-supplied value, echoed back verbatim on
	// both success and error redirects.
	State string

	// Nonce is the client-supplied nonce, carried for completeness.
	Nonce string

	// ResponseType is the requested response type ("code").
	ResponseType string

	// CreatedAt records when the transaction was opened.
	CreatedAt time.Time
}

// AuthorizationCode is a short-lived, single-use secret exchanged for a
// token pair. Codes are keyed by their own value in the code store.
type AuthorizationCode struct {
	// Code is the random, unguessable code value.
	Code string

	// UserID is the resource owner who approved the authorization.
	UserID string

	// ClientID is the client the code was issued to. Redemption by any
	// other client fails.
	ClientID string

	// RedirectURI is the redirect URI used at authorize time. The token
	// step re-verifies it against the presented redirect_uri.
	RedirectURI string

	// Scope is the approved scope.
	Scope string

	// IssuedAt records when the code was minted.
	IssuedAt time.Time

	// ExpiresAt is IssuedAt plus the code lifetime (10 minutes by default).
	ExpiresAt time.Time

	// Used transitions false -> true exactly once, atomically, at redemption.
	Used bool
}

// Expired reports whether the code is past its expiry at the given instant.
func (c *AuthorizationCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// TokenPair is the result of a successful token exchange.
type TokenPair struct {
	// AccessToken is a signed, self-contained bearer token.
	AccessToken string `json:"access_token"`

	// TokenType is always "Bearer".
	TokenType string `json:"token_type"`

	// ExpiresIn is the access token lifetime in seconds (3600 by default).
	ExpiresIn int `json:"expires_in"`

	// RefreshToken is an opaque token recorded in the token store so that
	// it has a validity and revocation path.
	RefreshToken string `json:"refresh_token"`

	// Scope is the scope bound to the tokens.
	Scope string `json:"scope"`
}

// User is the identity backend's account record as visible to this core.
// The identity backend remains authoritative; the core only resolves users
// by ID when issuing tokens and when describing WebAuthn ceremonies.
type User struct {
	// ID is the stable user identifier.
	ID string

	// Email is the user's email address.
	Email string

	// DisplayName is the human-readable name presented to authenticators.
	DisplayName string
}

// Authenticator is a registered WebAuthn credential record as held in the
// credential store.
type Authenticator struct {
	// CredentialID is the stable, unique identifier of the registered
	// device, base64url-encoded.
	CredentialID string

	// UserID is the owning user.
	UserID string

	// PublicKey is the credential public key in COSE format.
	PublicKey []byte

	// SignCount is the authenticator's signature counter. It is
	// monotonically non-decreasing per credential; a non-increasing value
	// presented at authentication signals a cloned authenticator.
	SignCount uint32

	// Transports indicates how the authenticator communicates
	// (usb, nfc, ble, internal).
	Transports []string

	// CreatedAt records when the credential was registered.
	CreatedAt time.Time

	// LastUsedAt records the most recent successful authentication.
	LastUsedAt time.Time
}

// AuditEvent represents a security-relevant event for logging purposes.
//
// Security Note: This struct is designed to exclude sensitive information.
// Do not add fields that might contain secrets, codes, tokens, or key material.
type AuditEvent struct {
	// EventID is a unique identifier for this event (e.g., UUID).
	EventID string

	// Timestamp records when the event occurred.
	Timestamp time.Time

	// EventType categorizes the event (e.g., "oauth.authorize.begin",
	// "webauthn.assertion.failure").
	EventType string

	// Protocol indicates the flow involved ("oauth", "webauthn").
	Protocol string

	// UserID identifies the user associated with this event.
	// May be empty for steps that occur before user identification.
	UserID string

	// ClientID identifies the OAuth client involved, if applicable.
	ClientID string

	// CredentialID identifies the WebAuthn credential involved, if applicable.
	CredentialID string

	// Outcome indicates the result of the operation (e.g., "success", "failure").
	Outcome string

	// Reason provides additional context for the outcome. This is a
	// machine-readable code (usually from the error taxonomy), not a
	// user-facing message.
	Reason string

	// Metadata contains additional event-specific context.
	// MUST NOT contain sensitive information.
	Metadata map[string]interface{}
}

// EventType constants for common audit events.
const (
	EventAuthorizeBegin  = "oauth.authorize.begin"
	EventConsentDecision = "oauth.consent.decision"
	EventCodeIssue       = "oauth.code.issue"
	EventCodeRedeem      = "oauth.code.redeem"
	EventTokenIssue      = "oauth.token.issue"

	EventChallengeIssue     = "webauthn.challenge.issue"
	EventRegistrationVerify = "webauthn.attestation.verify"
	EventAssertionVerify    = "webauthn.assertion.verify"
)

// Outcome constants for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
)
