package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"go.fergus.london/keyra/core"
)

// UserDirectory is an in-memory implementation of core.UserDirectory. It
// stands in for the identity backend in tests, demos, and development; the
// real backend owns accounts and password validation.
//
// This implementation is safe for concurrent use by multiple goroutines.
type UserDirectory struct {
	mu    sync.RWMutex
	users map[string]*core.User // key: userID
}

// NewUserDirectory creates a new in-memory user directory.
func NewUserDirectory() *UserDirectory {
	return &UserDirectory{
		users: make(map[string]*core.User),
	}
}

// GetUser implements core.UserDirectory.
func (d *UserDirectory) GetUser(ctx context.Context, userID string) (*core.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	user, exists := d.users[userID]
	if !exists {
		return nil, core.ErrNotFound
	}

	copied := *user
	return &copied, nil
}

// Add creates a user account with a generated identifier and returns it.
func (d *UserDirectory) Add(ctx context.Context, email, displayName string) (*core.User, error) {
	user := &core.User{
		ID:          uuid.New().String(),
		Email:       email,
		DisplayName: displayName,
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	stored := *user
	d.users[user.ID] = &stored
	return user, nil
}

// Size returns the number of users stored. Useful for testing.
func (d *UserDirectory) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}
