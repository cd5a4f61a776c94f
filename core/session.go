package core

import (
	"crypto/subtle"
	"sync"
)

// Session is the explicit, typed per-session state consumed by the
// authorization transaction manager and the WebAuthn ceremony manager. It
// replaces ambient session-bag access with a value passed by reference: the
// surrounding system owns cookie transport and session lookup, the core
// owns the slots.
//
// A Session holds at most one pending authorization transaction and at most
// one pending WebAuthn challenge. Both slots are single-use: they are
// consumed by Take operations that delete unconditionally, and overwritten
// by the next Set. Abandoning a flow needs no explicit cancellation.
//
// Session is safe for concurrent use by requests sharing the same session.
type Session struct {
	mu sync.Mutex

	userID      string
	transaction *AuthorizationTransaction
	challenge   []byte
}

// NewSession creates a session for the given authenticated user. An empty
// userID denotes an anonymous session (permitted for the WebAuthn login
// ceremony, which identifies the user from the credential).
func NewSession(userID string) *Session {
	return &Session{userID: userID}
}

// UserID returns the authenticated user bound to this session, or an empty
// string for anonymous sessions.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// SetUserID binds an authenticated user to the session. The WebAuthn login
// ceremony calls this after a successful assertion.
func (s *Session) SetUserID(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
}

// SetTransaction stores the pending authorization transaction, overwriting
// any prior unfinished one. At most one authorize flow is live per session.
func (s *Session) SetTransaction(txn *AuthorizationTransaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transaction = txn
}

// TakeTransaction consumes the pending transaction if its ID matches the
// presented one. The slot is cleared unconditionally once read, whether or
// not the ID matches, so a transaction ID is usable exactly once and a
// forged or stale ID also burns the stored transaction.
//
// Returns nil if no transaction is stored or the ID does not match.
func (s *Session) TakeTransaction(transactionID string) *AuthorizationTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn := s.transaction
	s.transaction = nil

	if txn == nil || transactionID == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(txn.TransactionID), []byte(transactionID)) != 1 {
		return nil
	}
	return txn
}

// SetChallenge stores a pending WebAuthn challenge, overwriting any prior
// unconsumed one.
func (s *Session) SetChallenge(challenge []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenge = append([]byte(nil), challenge...)
}

// TakeChallenge consumes the pending challenge. The slot is cleared on
// first read regardless of the subsequent verification outcome, so a
// challenge can never be replayed.
//
// Returns nil if no challenge is pending.
func (s *Session) TakeChallenge() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge := s.challenge
	s.challenge = nil
	return challenge
}
