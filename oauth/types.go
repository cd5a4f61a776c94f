// Package oauth implements the authorization-code grant core: the
// authorization transaction state machine (authorize, consent decision,
// code issuance) and the token exchange. The HTTP layer that renders
// consent pages and carries cookies sits outside this package; handlers
// map the request parameters onto these types and the results back onto
// redirects and JSON bodies.
package oauth

import (
	"net/url"
)

// Decision values accepted at the consent step.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// GrantTypeAuthorizationCode is the only grant type the token step supports.
const GrantTypeAuthorizationCode = "authorization_code"

// ResponseTypeCode is the only response type the authorize step supports.
const ResponseTypeCode = "code"

// DefaultScope is applied when the authorize request omits a scope.
const DefaultScope = "email profile"

// AuthorizeRequest carries the query parameters of the authorize step.
type AuthorizeRequest struct {
	ClientID     string
	RedirectURI  string
	ResponseType string
	Scope        string
	State        string
	Nonce        string
}

// Consent is the data the consent view needs to render, returned by a
// successful BeginAuthorization.
type Consent struct {
	// TransactionID must be embedded in the consent form and echoed back
	// by the decision step.
	TransactionID string

	// ClientID and ClientName identify the requesting application.
	ClientID   string
	ClientName string

	// Scope is the (defaulted) scope the user is being asked to approve.
	Scope string

	// RedirectURI is the destination of the eventual redirect.
	RedirectURI string

	// State is the client-supplied state, rendered for transparency.
	State string
}

// DecisionRequest carries the form parameters of the decision step.
type DecisionRequest struct {
	Decision      string
	TransactionID string
}

// Redirect is the outcome of a consent decision: a destination URI plus the
// query parameters to append (either code+state or error+state).
type Redirect struct {
	URI    string
	Params url.Values
}

// Location renders the full redirect URL with parameters appended.
func (r *Redirect) Location() (string, error) {
	u, err := url.Parse(r.URI)
	if err != nil {
		return "", err
	}

	query := u.Query()
	for key, values := range r.Params {
		for _, value := range values {
			query.Add(key, value)
		}
	}
	u.RawQuery = query.Encode()

	return u.String(), nil
}

// TokenRequest carries the form parameters of the token step.
type TokenRequest struct {
	GrantType    string
	Code         string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}
