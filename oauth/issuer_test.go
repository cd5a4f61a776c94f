package oauth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.fergus.london/keyra/core"
)

func (f *fixture) tokenRequest(code string) TokenRequest {
	return TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		Code:         code,
		ClientID:     f.client.ClientID,
		ClientSecret: f.client.ClientSecret,
		RedirectURI:  f.client.RedirectURI,
	}
}

func TestTokenIssuer_Exchange(t *testing.T) {
	f := newFixture(t)
	sess := core.NewSession(f.user.ID)
	ctx := context.Background()

	code := f.issueCode(t, sess)

	pair, err := f.issuer.Exchange(ctx, f.tokenRequest(code))
	require.NoError(t, err)

	assert.NotEmpty(t, pair.AccessToken)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, 3600, pair.ExpiresIn)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "email", pair.Scope)

	// The refresh token's hash is on record; the raw value is not.
	revoked, err := f.refresh.IsTokenRevoked(ctx, RefreshTokenID(pair.RefreshToken))
	require.NoError(t, err)
	assert.False(t, revoked)
	assert.Equal(t, 1, f.refresh.Size())
}

func TestTokenIssuer_Exchange_DoubleRedemption(t *testing.T) {
	f := newFixture(t)
	sess := core.NewSession(f.user.ID)
	ctx := context.Background()

	code := f.issueCode(t, sess)

	_, err := f.issuer.Exchange(ctx, f.tokenRequest(code))
	require.NoError(t, err)

	_, err = f.issuer.Exchange(ctx, f.tokenRequest(code))
	require.Error(t, err)
	assert.Equal(t, core.CodeInvalidGrant, core.ErrorCode(err))
	assert.ErrorIs(t, err, core.ErrCodeUsed)
}

func TestTokenIssuer_Exchange_Concurrent(t *testing.T) {
	f := newFixture(t)
	sess := core.NewSession(f.user.ID)
	ctx := context.Background()

	code := f.issueCode(t, sess)

	const attempts = 8
	results := make(chan error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.issuer.Exchange(ctx, f.tokenRequest(code))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		assert.Equal(t, core.CodeInvalidGrant, core.ErrorCode(err))
	}

	// Exactly one redemption wins; no double-issuance of tokens.
	assert.Equal(t, 1, successes)
}

func TestTokenIssuer_Exchange_UnsupportedGrantType(t *testing.T) {
	f := newFixture(t)

	req := f.tokenRequest("whatever")
	req.GrantType = "client_credentials"

	_, err := f.issuer.Exchange(context.Background(), req)
	assert.Equal(t, core.CodeUnsupportedGrantType, core.ErrorCode(err))
}

func TestTokenIssuer_Exchange_UnknownClient(t *testing.T) {
	f := newFixture(t)

	req := f.tokenRequest("whatever")
	req.ClientID = "kp_zzz"

	_, err := f.issuer.Exchange(context.Background(), req)
	assert.Equal(t, core.CodeInvalidClient, core.ErrorCode(err))
}

func TestTokenIssuer_Exchange_WrongSecret(t *testing.T) {
	f := newFixture(t)
	sess := core.NewSession(f.user.ID)

	code := f.issueCode(t, sess)

	req := f.tokenRequest(code)
	req.ClientSecret = "ksec_wrong"

	_, err := f.issuer.Exchange(context.Background(), req)
	assert.Equal(t, core.CodeInvalidClient, core.ErrorCode(err))

	// Client authentication fails before the code is touched.
	record, getErr := f.codes.Get(context.Background(), code)
	require.NoError(t, getErr)
	assert.False(t, record.Used)
}

func TestTokenIssuer_Exchange_UnknownCode(t *testing.T) {
	f := newFixture(t)

	_, err := f.issuer.Exchange(context.Background(), f.tokenRequest("no-such-code"))
	assert.Equal(t, core.CodeInvalidGrant, core.ErrorCode(err))
}

func TestTokenIssuer_Exchange_ExpiredCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued := time.Now().Add(-15 * time.Minute)
	require.NoError(t, f.codes.Put(ctx, &core.AuthorizationCode{
		Code:        "stale-code",
		UserID:      f.user.ID,
		ClientID:    f.client.ClientID,
		RedirectURI: f.client.RedirectURI,
		Scope:       "email",
		IssuedAt:    issued,
		ExpiresAt:   issued.Add(DefaultCodeLifetime),
	}))

	_, err := f.issuer.Exchange(ctx, f.tokenRequest("stale-code"))
	require.Error(t, err)
	assert.Equal(t, core.CodeInvalidGrant, core.ErrorCode(err))
	assert.ErrorIs(t, err, core.ErrExpired)

	// Expiry is enforced lazily and invalidates the record on observation.
	_, err = f.codes.Get(ctx, "stale-code")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestTokenIssuer_Exchange_ClientBinding(t *testing.T) {
	f := newFixture(t)
	sess := core.NewSession(f.user.ID)
	ctx := context.Background()

	code := f.issueCode(t, sess)

	// A second registered client cannot redeem the first client's code.
	other, err := f.clients.Register(ctx, "owner2", "Other App", "", "https://other.example.com/callback")
	require.NoError(t, err)

	req := TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		Code:         code,
		ClientID:     other.ClientID,
		ClientSecret: other.ClientSecret,
		RedirectURI:  f.client.RedirectURI,
	}

	_, err = f.issuer.Exchange(ctx, req)
	assert.Equal(t, core.CodeInvalidGrant, core.ErrorCode(err))
}

func TestTokenIssuer_Exchange_RedirectBinding(t *testing.T) {
	f := newFixture(t)
	sess := core.NewSession(f.user.ID)

	code := f.issueCode(t, sess)

	req := f.tokenRequest(code)
	req.RedirectURI = "https://app.example.com/other"

	_, err := f.issuer.Exchange(context.Background(), req)
	assert.Equal(t, core.CodeInvalidGrant, core.ErrorCode(err))
}

func TestTokenIssuer_Exchange_MissingRedirectURI(t *testing.T) {
	f := newFixture(t)
	sess := core.NewSession(f.user.ID)

	code := f.issueCode(t, sess)

	// The code records the authorize step's redirect URI, so omitting the
	// parameter is rejected the same as presenting a different one.
	req := f.tokenRequest(code)
	req.RedirectURI = ""

	_, err := f.issuer.Exchange(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, core.CodeInvalidGrant, core.ErrorCode(err))
}

func TestTokenIssuer_Issue_UnknownUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.issuer.Issue(context.Background(), "no-such-user", f.client.ClientID, "email")
	require.Error(t, err)
	assert.Equal(t, core.CodeServerError, core.ErrorCode(err))
}

// Full happy-path scenario: authorize -> consent -> decision -> exchange,
// then a replay of the same code.
func TestTokenIssuer_EndToEnd(t *testing.T) {
	f := newFixture(t)
	sess := core.NewSession(f.user.ID)
	ctx := context.Background()

	consent, err := f.manager.BeginAuthorization(ctx, f.authorizeRequest(), sess)
	require.NoError(t, err)

	redirect, err := f.manager.Decide(ctx, DecisionRequest{
		Decision:      DecisionAllow,
		TransactionID: consent.TransactionID,
	}, sess)
	require.NoError(t, err)

	code := redirect.Params.Get("code")
	require.NotEmpty(t, code)
	assert.Equal(t, "xyzzy", redirect.Params.Get("state"))

	pair, err := f.issuer.Exchange(ctx, f.tokenRequest(code))
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.Equal(t, 3600, pair.ExpiresIn)

	_, err = f.issuer.Exchange(ctx, f.tokenRequest(code))
	assert.Equal(t, core.CodeInvalidGrant, core.ErrorCode(err))
}
