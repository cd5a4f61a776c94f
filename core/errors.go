package core

import (
	"errors"
	"fmt"
)

// Common errors returned by the Keyra authorization core.
//
// These errors are designed to provide meaningful context without leaking
// sensitive information. Error messages should be safe to display to users
// or include in logs.
var (
	// ErrNotFound indicates that a requested client, code, credential, or
	// other resource was not found.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that a resource with the same identifier already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrCodeUsed indicates that an authorization code has already been redeemed.
	// The compare-and-swap in CodeStore.MarkUsed returns this for every attempt
	// after the first.
	ErrCodeUsed = errors.New("authorization code already used")

	// ErrExpired indicates that a code, token, or challenge has expired.
	ErrExpired = errors.New("expired")

	// ErrRevoked indicates that a token has been explicitly revoked.
	ErrRevoked = errors.New("revoked")

	// ErrInvalidCredential indicates that a stored credential is malformed or invalid.
	// This does NOT mean authentication failed; it means the credential data itself is invalid.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrInvalidSignature indicates that a cryptographic signature verification failed.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrInvalidConfiguration indicates that the library configuration is invalid.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// AuthError wraps an error with protocol-level context. It carries the
// machine-readable OAuth2/WebAuthn error code that callers surface to
// clients, while keeping the underlying cause available for logging.
type AuthError struct {
	// Code is the machine-readable error code from the protocol taxonomy
	// (e.g. "invalid_grant", "possible_clone_detected").
	Code string

	// Message is a human-readable error message. This should be safe to display
	// to end users and should not contain sensitive information.
	Message string

	// Err is the underlying error that caused this AuthError.
	Err error

	// Protocol indicates which flow generated this error ("oauth", "webauthn").
	Protocol string

	// UserID is the user associated with the error, if known.
	UserID string

	// ClientID is the OAuth client associated with the error, if applicable.
	ClientID string

	// CredentialID is the WebAuthn credential associated with the error, if applicable.
	CredentialID string

	// Internal indicates whether this error should be logged but not exposed
	// to the end user. Internal errors may contain debugging information.
	Internal bool
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for errors.Is.
func (e *AuthError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewAuthError creates a new AuthError with the specified parameters.
func NewAuthError(code, message string, err error) *AuthError {
	return &AuthError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithProtocol adds protocol context to an AuthError.
func (e *AuthError) WithProtocol(protocol string) *AuthError {
	e.Protocol = protocol
	return e
}

// WithUserID adds user context to an AuthError.
func (e *AuthError) WithUserID(userID string) *AuthError {
	e.UserID = userID
	return e
}

// WithClientID adds client context to an AuthError.
func (e *AuthError) WithClientID(clientID string) *AuthError {
	e.ClientID = clientID
	return e
}

// WithCredentialID adds credential context to an AuthError.
func (e *AuthError) WithCredentialID(credentialID string) *AuthError {
	e.CredentialID = credentialID
	return e
}

// WithInternal marks an error as internal (not to be exposed to users).
// Backend failures from the client directory or credential store are marked
// internal so their detail never reaches the client.
func (e *AuthError) WithInternal() *AuthError {
	e.Internal = true
	return e
}

// UserMessage returns a safe message suitable for display to end users.
// For internal errors, this returns a generic message.
func (e *AuthError) UserMessage() string {
	if e.Internal {
		return "An internal error occurred"
	}
	return e.Message
}

// ErrorCode extracts the protocol error code from err. It returns the Code of
// the outermost AuthError in the chain, or CodeServerError if err carries no
// AuthError (unexpected failures are never surfaced with internal detail).
func ErrorCode(err error) string {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Code
	}
	return CodeServerError
}

// Error code constants. These are the exact strings surfaced to clients in
// redirect error parameters and JSON error bodies.
const (
	// OAuth2 authorization and token step codes.
	CodeInvalidRequest       = "invalid_request"
	CodeInvalidClient        = "invalid_client"
	CodeRedirectURIMismatch  = "redirect_uri_mismatch"
	CodeInvalidTransaction   = "invalid_transaction"
	CodeAccessDenied         = "access_denied"
	CodeInvalidGrant         = "invalid_grant"
	CodeUnsupportedGrantType = "unsupported_grant_type"

	// WebAuthn registration ceremony codes.
	CodeNoPendingChallenge = "no_pending_challenge"
	CodeOriginMismatch     = "origin_mismatch"
	CodeRPMismatch         = "rp_mismatch"
	CodeAttestationInvalid = "attestation_invalid"

	// WebAuthn authentication ceremony codes.
	CodeUnknownCredential     = "unknown_credential"
	CodePossibleCloneDetected = "possible_clone_detected"

	// Unexpected backend failure.
	CodeServerError = "server_error"
)
