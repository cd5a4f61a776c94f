package webauthn

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/descope/virtualwebauthn"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.fergus.london/keyra/core"
	"go.fergus.london/keyra/core/memory"
)

const (
	testRPID   = "example.com"
	testRPName = "Example Corp"
	testOrigin = "https://example.com"
)

type ceremonyFixture struct {
	users   *memory.UserDirectory
	creds   *memory.CredentialStore
	audit   *memory.RecordingLogger
	user    *core.User
	manager *Manager
	rp      virtualwebauthn.RelyingParty
}

func newCeremonyFixture(t *testing.T) *ceremonyFixture {
	t.Helper()

	users := memory.NewUserDirectory()
	user, err := users.Add(context.Background(), "alice@example.com", "Alice")
	require.NoError(t, err)

	creds := memory.NewCredentialStore()
	audit := memory.NewRecordingLogger()

	manager, err := NewManager(
		WithRPID(testRPID),
		WithRPDisplayName(testRPName),
		WithRPOrigins(testOrigin),
		WithCredentialStore(creds),
		WithUserDirectory(users),
		WithAuditLogger(audit),
	)
	require.NoError(t, err)

	return &ceremonyFixture{
		users:   users,
		creds:   creds,
		audit:   audit,
		user:    user,
		manager: manager,
		rp: virtualwebauthn.RelyingParty{
			Name:   testRPName,
			ID:     testRPID,
			Origin: testOrigin,
		},
	}
}

// parseAttestationResponse parses a virtual authenticator attestation
// response into the format expected by go-webauthn.
func parseAttestationResponse(t *testing.T, attestation string) *protocol.ParsedCredentialCreationData {
	t.Helper()
	var ccr protocol.CredentialCreationResponse
	require.NoError(t, json.Unmarshal([]byte(attestation), &ccr))
	parsed, err := ccr.Parse()
	require.NoError(t, err)
	return parsed
}

// parseAssertionResponse parses a virtual authenticator assertion response
// into the format expected by go-webauthn.
func parseAssertionResponse(t *testing.T, assertion string) *protocol.ParsedCredentialAssertionData {
	t.Helper()
	var car protocol.CredentialAssertionResponse
	require.NoError(t, json.Unmarshal([]byte(assertion), &car))
	parsed, err := car.Parse()
	require.NoError(t, err)
	return parsed
}

// register drives a full registration ceremony with the given relying party
// identity and returns the attestation verification outcome.
func (f *ceremonyFixture) register(t *testing.T, sess *core.Session, rp virtualwebauthn.RelyingParty, auth virtualwebauthn.Authenticator, cred virtualwebauthn.Credential) (*core.Authenticator, error) {
	t.Helper()
	ctx := context.Background()

	creation, err := f.manager.BeginRegistration(ctx, sess)
	require.NoError(t, err)

	optionsJSON, err := json.Marshal(creation.Response)
	require.NoError(t, err)
	options, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	require.NoError(t, err)

	attestation := virtualwebauthn.CreateAttestationResponse(rp, auth, cred, *options)
	return f.manager.VerifyRegistration(ctx, sess, parseAttestationResponse(t, attestation))
}

// authenticate drives a full authentication ceremony.
func (f *ceremonyFixture) authenticate(t *testing.T, sess *core.Session, rp virtualwebauthn.RelyingParty, auth virtualwebauthn.Authenticator, cred virtualwebauthn.Credential) (string, error) {
	t.Helper()
	ctx := context.Background()

	assertion, err := f.manager.BeginAuthentication(ctx, sess)
	require.NoError(t, err)

	optionsJSON, err := json.Marshal(assertion.Response)
	require.NoError(t, err)
	options, err := virtualwebauthn.ParseAssertionOptions(string(optionsJSON))
	require.NoError(t, err)

	response := virtualwebauthn.CreateAssertionResponse(rp, auth, cred, *options)
	return f.manager.VerifyAuthentication(ctx, sess, parseAssertionResponse(t, response))
}

func TestManager_RegistrationCeremony(t *testing.T) {
	f := newCeremonyFixture(t)
	sess := core.NewSession(f.user.ID)

	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	record, err := f.register(t, sess, f.rp, auth, cred)
	require.NoError(t, err)

	assert.Equal(t, f.user.ID, record.UserID)
	assert.NotEmpty(t, record.CredentialID)
	assert.NotEmpty(t, record.PublicKey)
	assert.Equal(t, 1, f.creds.Size())

	stored, err := f.creds.GetByCredentialID(context.Background(), record.CredentialID)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, stored.UserID)
}

func TestManager_RegistrationCeremony_RSACredential(t *testing.T) {
	f := newCeremonyFixture(t)
	sess := core.NewSession(f.user.ID)

	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeRSA)

	record, err := f.register(t, sess, f.rp, auth, cred)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, record.UserID)
	assert.Equal(t, 1, f.creds.Size())
}

// The algorithm allow-list offered to the authenticator must be the one the
// verification session enforces; a response using any offered algorithm has
// to verify.
func TestManager_BeginRegistration_OffersVerifiableAlgorithms(t *testing.T) {
	f := newCeremonyFixture(t)
	sess := core.NewSession(f.user.ID)

	creation, err := f.manager.BeginRegistration(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, registrationParameters, creation.Response.Parameters)
}

func TestManager_VerifyRegistration_NoPendingChallenge(t *testing.T) {
	f := newCeremonyFixture(t)
	sess := core.NewSession(f.user.ID)

	_, err := f.manager.VerifyRegistration(context.Background(), sess, nil)
	require.Error(t, err)
	assert.Equal(t, core.CodeNoPendingChallenge, core.ErrorCode(err))
}

func TestManager_VerifyRegistration_ChallengeSingleUse(t *testing.T) {
	f := newCeremonyFixture(t)
	sess := core.NewSession(f.user.ID)
	ctx := context.Background()

	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	creation, err := f.manager.BeginRegistration(ctx, sess)
	require.NoError(t, err)

	optionsJSON, err := json.Marshal(creation.Response)
	require.NoError(t, err)
	options, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	require.NoError(t, err)

	attestation := virtualwebauthn.CreateAttestationResponse(f.rp, auth, cred, *options)
	parsed := parseAttestationResponse(t, attestation)

	_, err = f.manager.VerifyRegistration(ctx, sess, parsed)
	require.NoError(t, err)

	// Replaying the identical response fails: the challenge was consumed.
	_, err = f.manager.VerifyRegistration(ctx, sess, parsed)
	require.Error(t, err)
	assert.Equal(t, core.CodeNoPendingChallenge, core.ErrorCode(err))
}

func TestManager_VerifyRegistration_OriginMismatch(t *testing.T) {
	f := newCeremonyFixture(t)
	sess := core.NewSession(f.user.ID)

	phishingRP := virtualwebauthn.RelyingParty{
		Name:   testRPName,
		ID:     testRPID,
		Origin: "https://evil.example.com",
	}

	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	_, err := f.register(t, sess, phishingRP, auth, cred)
	require.Error(t, err)
	assert.Equal(t, core.CodeOriginMismatch, core.ErrorCode(err))
	assert.Equal(t, 0, f.creds.Size())
}

func TestManager_VerifyRegistration_RPMismatch(t *testing.T) {
	f := newCeremonyFixture(t)
	sess := core.NewSession(f.user.ID)

	otherRP := virtualwebauthn.RelyingParty{
		Name:   testRPName,
		ID:     "other.example.com",
		Origin: testOrigin,
	}

	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	_, err := f.register(t, sess, otherRP, auth, cred)
	require.Error(t, err)
	assert.Equal(t, core.CodeRPMismatch, core.ErrorCode(err))
	assert.Equal(t, 0, f.creds.Size())
}

func TestManager_AuthenticationCeremony(t *testing.T) {
	f := newCeremonyFixture(t)
	sess := core.NewSession(f.user.ID)

	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	record, err := f.register(t, sess, f.rp, auth, cred)
	require.NoError(t, err)
	auth.AddCredential(cred)

	cred.Counter++
	userID, err := f.authenticate(t, sess, f.rp, auth, cred)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, userID)

	// The stored counter advanced past the registration value.
	stored, err := f.creds.GetByCredentialID(context.Background(), record.CredentialID)
	require.NoError(t, err)
	assert.Greater(t, stored.SignCount, record.SignCount)
	assert.False(t, stored.LastUsedAt.IsZero())
}

func TestManager_VerifyAuthentication_NoPendingChallenge(t *testing.T) {
	f := newCeremonyFixture(t)
	sess := core.NewSession(f.user.ID)

	_, err := f.manager.VerifyAuthentication(context.Background(), sess, nil)
	require.Error(t, err)
	assert.Equal(t, core.CodeNoPendingChallenge, core.ErrorCode(err))
}

func TestManager_VerifyAuthentication_UnknownCredential(t *testing.T) {
	f := newCeremonyFixture(t)

	// Anonymous session: a discoverable ceremony with a credential that was
	// never registered with this server.
	sess := core.NewSession("")

	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	auth.AddCredential(cred)

	_, err := f.authenticate(t, sess, f.rp, auth, cred)
	require.Error(t, err)
	assert.Equal(t, core.CodeUnknownCredential, core.ErrorCode(err))
}

func TestManager_VerifyAuthentication_CloneDetection(t *testing.T) {
	f := newCeremonyFixture(t)
	sess := core.NewSession(f.user.ID)
	ctx := context.Background()

	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	record, err := f.register(t, sess, f.rp, auth, cred)
	require.NoError(t, err)
	auth.AddCredential(cred)

	// Legitimate use advances the counter well past the stored value.
	cred.Counter += 5
	_, err = f.authenticate(t, sess, f.rp, auth, cred)
	require.NoError(t, err)

	stored, err := f.creds.GetByCredentialID(ctx, record.CredentialID)
	require.NoError(t, err)
	before := stored.SignCount

	// A cloned device presents a counter that never advanced.
	cred.Counter = 0
	_, err = f.authenticate(t, sess, f.rp, auth, cred)
	require.Error(t, err)
	assert.Equal(t, core.CodePossibleCloneDetected, core.ErrorCode(err))

	// The stored counter is left unchanged by the failed attempt.
	after, err := f.creds.GetByCredentialID(ctx, record.CredentialID)
	require.NoError(t, err)
	assert.Equal(t, before, after.SignCount)
}

func TestManager_BeginAuthentication_NoCredentials(t *testing.T) {
	f := newCeremonyFixture(t)
	sess := core.NewSession(f.user.ID)

	_, err := f.manager.BeginAuthentication(context.Background(), sess)
	require.Error(t, err)
	assert.Equal(t, core.CodeUnknownCredential, core.ErrorCode(err))
}

func TestManager_IssueChallenge(t *testing.T) {
	f := newCeremonyFixture(t)
	sess := core.NewSession(f.user.ID)

	response, err := f.manager.IssueChallenge(context.Background(), sess)
	require.NoError(t, err)

	assert.NotEmpty(t, response.Challenge)
	require.NotNil(t, response.User)
	assert.Equal(t, f.user.ID, response.User.ID)
	assert.Equal(t, "alice@example.com", response.User.Email)

	// The challenge is pending in the session until consumed.
	assert.NotNil(t, sess.TakeChallenge())
	assert.Nil(t, sess.TakeChallenge())
}

func TestManager_IssueChallenge_Anonymous(t *testing.T) {
	f := newCeremonyFixture(t)
	sess := core.NewSession("")

	response, err := f.manager.IssueChallenge(context.Background(), sess)
	require.NoError(t, err)
	assert.NotEmpty(t, response.Challenge)
	assert.Nil(t, response.User)
}

func TestManager_IssueChallenge_OverwritesPrior(t *testing.T) {
	f := newCeremonyFixture(t)
	sess := core.NewSession("")
	ctx := context.Background()

	first, err := f.manager.IssueChallenge(ctx, sess)
	require.NoError(t, err)
	second, err := f.manager.IssueChallenge(ctx, sess)
	require.NoError(t, err)

	assert.NotEqual(t, first.Challenge, second.Challenge)

	// Only the most recent challenge remains pending.
	assert.NotNil(t, sess.TakeChallenge())
	assert.Nil(t, sess.TakeChallenge())
}

func TestNewManager_RequiredOptions(t *testing.T) {
	creds := memory.NewCredentialStore()
	users := memory.NewUserDirectory()

	_, err := NewManager()
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)

	_, err = NewManager(
		WithRPID(testRPID),
		WithRPDisplayName(testRPName),
		WithRPOrigins(testOrigin),
		WithCredentialStore(creds),
	)
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)

	_, err = NewManager(
		WithRPID(testRPID),
		WithRPDisplayName(testRPName),
		WithRPOrigins(testOrigin),
		WithCredentialStore(creds),
		WithUserDirectory(users),
	)
	assert.NoError(t, err)
}
