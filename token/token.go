// Package token implements the signed bearer tokens minted at the end of a
// successful authorization-code exchange. Access tokens are self-contained:
// the payload carries the user, client, and scope bindings together with
// issue and expiry timestamps, and the whole payload is signed so it can be
// verified without a storage lookup.
package token

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultLifetime is the default access token validity period.
	DefaultLifetime = time.Hour

	// MaxLifetime is the maximum allowed token validity period.
	// Tokens cannot be created with expiration times beyond this limit.
	//
	// @mitigation Information Disclosure: Limit token lifetime to reduce exposure window.
	MaxLifetime = 24 * time.Hour
)

var (
	// ErrInvalidTokenFormat indicates that a token string cannot be parsed.
	ErrInvalidTokenFormat = errors.New("invalid token format")

	// ErrLifetimeTooLong indicates that the requested token lifetime exceeds MaxLifetime.
	ErrLifetimeTooLong = errors.New("token lifetime exceeds maximum allowed")
)

// AccessToken is the payload of a signed bearer token. It embeds all state
// needed to validate a request: the user the authorization was granted for,
// the client it was granted to, and the approved scope.
//
// Security Considerations:
//
// @risk Information Disclosure: User and client identifiers are embedded in
// tokens and visible to anyone holding the token. Keep identifiers opaque.
type AccessToken struct {
	// UserID is the resource owner this token acts for.
	UserID string `json:"uid"`

	// ClientID is the client the token was issued to.
	ClientID string `json:"cid"`

	// Scope is the approved scope.
	Scope string `json:"scope"`

	// IssuedAt is the timestamp when this token was created.
	IssuedAt time.Time `json:"iat"`

	// ExpiresAt is the timestamp when this token becomes invalid.
	ExpiresAt time.Time `json:"exp"`
}

// SignedToken represents an access token with its cryptographic signature.
type SignedToken struct {
	// Token is the token payload.
	Token AccessToken `json:"token"`

	// Signature is the cryptographic signature over the token payload.
	Signature []byte `json:"sig"`
}

// NewAccessToken creates a new access token payload.
//
// Returns ErrLifetimeTooLong if lifetime exceeds MaxLifetime.
func NewAccessToken(userID, clientID, scope string, lifetime time.Duration) (*AccessToken, error) {
	// @mitigation Denial of Service: Enforce maximum token lifetime
	if lifetime > MaxLifetime {
		return nil, fmt.Errorf("%w: requested %v, maximum %v", ErrLifetimeTooLong, lifetime, MaxLifetime)
	}

	now := time.Now().UTC()
	return &AccessToken{
		UserID:    userID,
		ClientID:  clientID,
		Scope:     scope,
		IssuedAt:  now,
		ExpiresAt: now.Add(lifetime),
	}, nil
}

// IsExpired checks if the token has passed its expiration time.
func (t *AccessToken) IsExpired() bool {
	return time.Now().UTC().After(t.ExpiresAt)
}

// Encode serializes the token payload to JSON bytes for signing.
func (t *AccessToken) Encode() ([]byte, error) {
	return json.Marshal(t)
}

// EncodeToString serializes a signed token to a URL-safe base64 string.
//
// Format: base64url(json(SignedToken))
//
// @mitigation Tampering: The signature is included in the serialized form,
// preventing modification without detection.
func (st *SignedToken) EncodeToString() (string, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("failed to serialize signed token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeFromString deserializes a signed token from a URL-safe base64 string.
//
// This reverses EncodeToString and validates the format but does NOT verify
// the signature. Use Manager.Verify() to check signature validity.
func DecodeFromString(encoded string) (*SignedToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: base64 decode failed: %v", ErrInvalidTokenFormat, err)
	}

	var st SignedToken
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: json decode failed: %v", ErrInvalidTokenFormat, err)
	}

	return &st, nil
}

// ID returns a unique identifier for this signed token based on its content.
// This is used for revocation support via the token store.
//
// The ID is a SHA-256 hash of the complete signed token, preventing token
// content disclosure through the token ID.
//
// @mitigation Information Disclosure: Use hash of token rather than the raw
// value, preventing leakage of token content through storage queries.
func (st *SignedToken) ID() string {
	data, err := json.Marshal(st)
	if err != nil {
		// This should never happen for a valid SignedToken
		return fmt.Sprintf("%x", sha256.Sum256([]byte("")))
	}

	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash)
}
