package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.fergus.london/keyra/core"
)

// ClientDirectory is an in-memory implementation of core.ClientDirectory
// with registration operations for the developer portal that owns the
// client registry.
//
// This implementation is safe for concurrent use by multiple goroutines.
//
// @mitigation Tampering: Uses sync.RWMutex to protect against concurrent
// access. Returned client records are copies; mutating them does not affect
// the directory.
type ClientDirectory struct {
	mu      sync.RWMutex
	clients map[string]*core.Client // key: clientID
}

// NewClientDirectory creates a new in-memory client directory.
func NewClientDirectory() *ClientDirectory {
	return &ClientDirectory{
		clients: make(map[string]*core.Client),
	}
}

// GetClient implements core.ClientDirectory.
func (d *ClientDirectory) GetClient(ctx context.Context, clientID string) (*core.Client, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	client, exists := d.clients[clientID]
	if !exists {
		return nil, core.ErrNotFound
	}

	copied := *client
	return &copied, nil
}

// Register records a new client application and generates its credentials.
// The name and redirect URI come from the developer; the client ID and
// secret are minted here and returned exactly once.
func (d *ClientDirectory) Register(ctx context.Context, ownerID, name, website, redirectURI string) (*core.Client, error) {
	if name == "" || redirectURI == "" {
		return nil, fmt.Errorf("%w: client name and redirect URI are required", core.ErrInvalidConfiguration)
	}

	clientID, err := randomIdentifier("kp_", 16)
	if err != nil {
		return nil, fmt.Errorf("failed to generate client id: %w", err)
	}
	clientSecret, err := randomIdentifier("ksec_", 24)
	if err != nil {
		return nil, fmt.Errorf("failed to generate client secret: %w", err)
	}

	client := &core.Client{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURI:  redirectURI,
		DisplayName:  name,
		OwnerID:      ownerID,
		Website:      website,
		CreatedAt:    time.Now().UTC(),
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.clients[clientID]; exists {
		return nil, core.ErrAlreadyExists
	}

	stored := *client
	d.clients[clientID] = &stored
	return client, nil
}

// Remove deletes a client registration. Only the registering owner may
// remove a client.
//
// Returns ErrNotFound if the client does not exist or belongs to another owner.
func (d *ClientDirectory) Remove(ctx context.Context, ownerID, clientID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	client, exists := d.clients[clientID]
	if !exists || client.OwnerID != ownerID {
		return core.ErrNotFound
	}

	delete(d.clients, clientID)
	return nil
}

// ListForOwner returns all clients registered by the given owner. The
// returned slice may be empty.
func (d *ClientDirectory) ListForOwner(ctx context.Context, ownerID string) ([]*core.Client, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	clients := make([]*core.Client, 0)
	for _, client := range d.clients {
		if client.OwnerID == ownerID {
			copied := *client
			clients = append(clients, &copied)
		}
	}

	return clients, nil
}

// Size returns the number of registered clients. Useful for testing.
func (d *ClientDirectory) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.clients)
}

// randomIdentifier generates a prefixed, hex-encoded random identifier of
// the given entropy in bytes.
func randomIdentifier(prefix string, entropy int) (string, error) {
	buf := make([]byte, entropy)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return prefix + hex.EncodeToString(buf), nil
}
