package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.fergus.london/keyra/core"
)

// CredentialStore is an in-memory implementation of core.CredentialStore.
// Records are keyed by credential ID so the authentication ceremony can
// resolve the owning user directly from the assertion.
//
// This implementation is safe for concurrent use by multiple goroutines.
//
// @mitigation Tampering: Uses sync.RWMutex to protect against concurrent
// access. UpdateCounter rejects non-increasing counter values, preserving
// the monotonicity the clone check depends on.
type CredentialStore struct {
	mu          sync.RWMutex
	credentials map[string]*core.Authenticator // key: credentialID
}

// NewCredentialStore creates a new in-memory credential store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{
		credentials: make(map[string]*core.Authenticator),
	}
}

// Store implements core.CredentialStore.
func (m *CredentialStore) Store(ctx context.Context, authenticator *core.Authenticator) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.credentials[authenticator.CredentialID]; exists {
		return core.ErrAlreadyExists
	}

	m.credentials[authenticator.CredentialID] = copyAuthenticator(authenticator)
	return nil
}

// GetByCredentialID implements core.CredentialStore.
func (m *CredentialStore) GetByCredentialID(ctx context.Context, credentialID string) (*core.Authenticator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	authenticator, exists := m.credentials[credentialID]
	if !exists {
		return nil, core.ErrNotFound
	}

	return copyAuthenticator(authenticator), nil
}

// ListForUser implements core.CredentialStore.
func (m *CredentialStore) ListForUser(ctx context.Context, userID string) ([]*core.Authenticator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	authenticators := make([]*core.Authenticator, 0)
	for _, authenticator := range m.credentials {
		if authenticator.UserID == userID {
			authenticators = append(authenticators, copyAuthenticator(authenticator))
		}
	}

	return authenticators, nil
}

// UpdateCounter implements core.CredentialStore.
func (m *CredentialStore) UpdateCounter(ctx context.Context, credentialID string, counter uint32, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	authenticator, exists := m.credentials[credentialID]
	if !exists {
		return core.ErrNotFound
	}

	if counter <= authenticator.SignCount {
		return fmt.Errorf("%w: counter %d does not advance stored counter %d",
			core.ErrInvalidCredential, counter, authenticator.SignCount)
	}

	authenticator.SignCount = counter
	authenticator.LastUsedAt = usedAt
	return nil
}

// Delete implements core.CredentialStore.
func (m *CredentialStore) Delete(ctx context.Context, credentialID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.credentials[credentialID]; !exists {
		return core.ErrNotFound
	}

	delete(m.credentials, credentialID)
	return nil
}

// Size returns the number of credentials stored. Useful for testing and metrics.
func (m *CredentialStore) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.credentials)
}

// Clear removes all credentials. Useful for testing.
func (m *CredentialStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials = make(map[string]*core.Authenticator)
}

// copyAuthenticator deep-copies a record so callers cannot mutate stored state.
func copyAuthenticator(a *core.Authenticator) *core.Authenticator {
	copied := *a
	copied.PublicKey = append([]byte(nil), a.PublicKey...)
	copied.Transports = append([]string(nil), a.Transports...)
	return &copied
}
