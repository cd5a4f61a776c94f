package core

import (
	"context"
	"time"
)

// ClientDirectory resolves registered OAuth2 clients by their public
// identifier. The directory is owned by the surrounding system; this core
// only reads from it.
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// Security Considerations:
//
// @risk Information Disclosure: Lookup failures from the backing store must
// be mapped to server_error by callers; directory internals never reach the
// client.
type ClientDirectory interface {
	// GetClient retrieves a client by its client_id.
	//
	// Returns ErrNotFound if no client is registered under that identifier.
	GetClient(ctx context.Context, clientID string) (*Client, error)
}

// UserDirectory resolves user accounts from the identity backend. The
// backend owns accounts and credential validation; the core only resolves
// user records when minting tokens and describing WebAuthn ceremonies.
type UserDirectory interface {
	// GetUser retrieves a user by ID.
	//
	// Returns ErrNotFound if the user does not exist.
	GetUser(ctx context.Context, userID string) (*User, error)
}

// CodeStore is the shared registry of issued authorization codes. It is the
// single point of serialization for concurrent redemption attempts: the
// read-check-mutate of a redemption must go through MarkUsed, never through
// a Get followed by a Put.
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// Security Considerations:
//
// @risk Elevation of Privilege: Two near-simultaneous redemptions of the
// same code must be linearized so exactly one succeeds. MarkUsed is the
// atomic critical section that guarantees this.
//
// @risk Denial of Service: The store is unbounded between issuance and
// lazy cleanup. Implementations should purge used codes after a bounded
// grace window and drop expired codes when they are observed.
type CodeStore interface {
	// Put records a freshly issued code.
	//
	// Returns ErrAlreadyExists if the code value is already present.
	Put(ctx context.Context, code *AuthorizationCode) error

	// Get retrieves a code by its value. The returned record is a copy;
	// mutating it does not affect the store.
	//
	// Returns ErrNotFound if the code does not exist.
	Get(ctx context.Context, code string) (*AuthorizationCode, error)

	// MarkUsed atomically flips the code's Used flag from false to true.
	// This is a compare-and-swap: for any code value it succeeds at most
	// once across all concurrent callers.
	//
	// Returns ErrNotFound if the code does not exist, ErrCodeUsed if the
	// flag was already set.
	MarkUsed(ctx context.Context, code string) error

	// Delete removes a code unconditionally. Used for invalidation on
	// expiry detection and for purging after the post-redemption grace
	// window.
	//
	// Returns ErrNotFound if the code does not exist.
	Delete(ctx context.Context, code string) error
}

// TokenStore provides storage for issued opaque tokens, primarily to give
// refresh tokens a validity and revocation path.
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// Security Considerations:
//
// @risk Denial of Service: Token storage can grow unbounded without proper
// cleanup. Implementations should implement TTL-based cleanup or size limits.
//
// @risk Information Disclosure: Store token identifiers (e.g. a hash of the
// token), never the raw token value, where the backing store is shared.
type TokenStore interface {
	// StoreToken saves a token with an associated expiration time. The tokenID
	// should be unique and derived from the token itself (e.g., hash of the token).
	//
	// Returns ErrAlreadyExists if a token with the same ID already exists.
	StoreToken(ctx context.Context, tokenID string, userID string, expiresAt time.Time) error

	// IsTokenRevoked checks if a token has been explicitly revoked.
	//
	// Returns false if the token is not found (not revoked), true if explicitly
	// revoked. This method should not return errors for non-existent tokens.
	IsTokenRevoked(ctx context.Context, tokenID string) (bool, error)

	// RevokeToken marks a token as revoked, preventing its further use.
	//
	// This operation should be idempotent; revoking an already-revoked token
	// is not an error.
	RevokeToken(ctx context.Context, tokenID string) error

	// CleanupExpired removes expired tokens from storage. Implementations
	// should call this periodically to prevent unbounded growth.
	//
	// Returns the number of tokens cleaned up and any error encountered.
	CleanupExpired(ctx context.Context) (int, error)
}

// CredentialStore is the durable mapping from WebAuthn credential ID to
// public key, signature counter, and owning user. The ceremony manager
// consumes and updates it.
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// Security Considerations:
//
// @risk Elevation of Privilege: This interface is designed to prevent
// credential enumeration. ListForUser requires explicit user context and
// there is no global enumeration operation.
//
// @risk Tampering: UpdateCounter must reject regressions; the signature
// counter is monotonically non-decreasing per credential.
type CredentialStore interface {
	// Store saves a newly registered authenticator record keyed by its
	// credential ID.
	//
	// Returns ErrAlreadyExists if the credential ID is already registered.
	Store(ctx context.Context, authenticator *Authenticator) error

	// GetByCredentialID retrieves an authenticator record by credential ID.
	//
	// Returns ErrNotFound if the credential is not registered.
	GetByCredentialID(ctx context.Context, credentialID string) (*Authenticator, error)

	// ListForUser returns all authenticator records registered to a user.
	// The returned slice may be empty; implementations should not return an
	// error for unknown users.
	ListForUser(ctx context.Context, userID string) ([]*Authenticator, error)

	// UpdateCounter records a new signature counter and last-used time for
	// a credential. The new counter must be strictly greater than the
	// stored one.
	//
	// Returns ErrNotFound if the credential is not registered.
	UpdateCounter(ctx context.Context, credentialID string, counter uint32, usedAt time.Time) error

	// Delete removes a credential from storage.
	//
	// Returns ErrNotFound if the credential does not exist.
	Delete(ctx context.Context, credentialID string) error
}

// AuditLogger defines the interface for structured security event logging.
// All authorization and ceremony operations generate audit events that are
// passed to this interface.
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// Security Considerations:
//
// @risk Information Disclosure: Implementations MUST NOT log sensitive data
// such as client secrets, authorization codes, tokens, or key material. The
// AuditEvent struct is designed to exclude such data; custom implementations
// should maintain this contract.
//
// @risk Repudiation: Comprehensive audit logging is essential for security
// investigations. Ensure events are logged reliably.
type AuditLogger interface {
	// Log records a security audit event. This method should not block for
	// extended periods; consider buffering or async logging for I/O.
	//
	// Implementations should not return errors for logging failures unless
	// absolutely necessary; logging must not disrupt authorization flows.
	Log(ctx context.Context, event AuditEvent) error
}
