// Package webauthn implements the WebAuthn ceremony manager: single-use
// challenge issuance bound to a session, registration (attestation) and
// authentication (assertion) verification, and signature-counter clone
// detection. It wraps the go-webauthn library, which performs the binary
// attestation/assertion parsing and signature checks; this package owns
// the challenge discipline, the credential store, and the error taxonomy.
package webauthn

import (
	"encoding/base64"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"go.fergus.london/keyra/core"
)

// ChallengeResponse is the payload of the challenge step: the URL-safe
// encoded challenge plus the user it was issued for, when the session is
// authenticated.
type ChallengeResponse struct {
	// Challenge is the base64url-encoded random challenge.
	Challenge string `json:"challenge"`

	// User describes the session's user, if one is bound.
	User *UserInfo `json:"user,omitempty"`
}

// UserInfo is the user descriptor carried alongside a challenge.
type UserInfo struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// ceremonyUser adapts a user record and their stored authenticators to the
// webauthn.User interface consumed by the go-webauthn library.
type ceremonyUser struct {
	user        *core.User
	credentials []*core.Authenticator
}

// WebAuthnID returns the user handle presented to authenticators.
func (u *ceremonyUser) WebAuthnID() []byte {
	return []byte(u.user.ID)
}

// WebAuthnName returns the account name presented to authenticators.
func (u *ceremonyUser) WebAuthnName() string {
	return u.user.Email
}

// WebAuthnDisplayName returns the human-readable name presented to
// authenticators.
func (u *ceremonyUser) WebAuthnDisplayName() string {
	return u.user.DisplayName
}

// WebAuthnIcon is deprecated in the WebAuthn spec and always empty.
func (u *ceremonyUser) WebAuthnIcon() string {
	return ""
}

// WebAuthnCredentials returns the user's registered credentials in the
// library's format.
func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	credentials := make([]webauthn.Credential, 0, len(u.credentials))
	for _, record := range u.credentials {
		cred, err := libraryCredential(record)
		if err != nil {
			continue
		}
		credentials = append(credentials, cred)
	}
	return credentials
}

// libraryCredential converts a stored authenticator record to the library's
// credential type.
func libraryCredential(record *core.Authenticator) (webauthn.Credential, error) {
	id, err := base64.RawURLEncoding.DecodeString(record.CredentialID)
	if err != nil {
		return webauthn.Credential{}, err
	}

	return webauthn.Credential{
		ID:        id,
		PublicKey: record.PublicKey,
		Transport: protocolTransports(record.Transports),
		Authenticator: webauthn.Authenticator{
			SignCount: record.SignCount,
		},
	}, nil
}

// CredentialID encodes a raw credential identifier the way the credential
// store keys it.
func CredentialID(rawID []byte) string {
	return base64.RawURLEncoding.EncodeToString(rawID)
}

// transportStrings converts protocol transport types to strings for storage.
func transportStrings(transports []protocol.AuthenticatorTransport) []string {
	if len(transports) == 0 {
		return nil
	}
	result := make([]string, len(transports))
	for i, t := range transports {
		result[i] = string(t)
	}
	return result
}

// protocolTransports converts stored transport strings to protocol types.
func protocolTransports(transports []string) []protocol.AuthenticatorTransport {
	if len(transports) == 0 {
		return nil
	}
	result := make([]protocol.AuthenticatorTransport, len(transports))
	for i, t := range transports {
		result[i] = protocol.AuthenticatorTransport(t)
	}
	return result
}
