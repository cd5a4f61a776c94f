// Package memory provides in-memory reference implementations of the core
// interfaces. These implementations are suitable for testing, development,
// and single-process deployments.
//
// WARNING: These implementations are NOT suitable for durable production use
// as they:
// - Store data only in memory (no persistence across restarts)
// - Rely on lazy cleanup rather than background eviction
// - May consume unbounded memory without proper management
//
// Production implementations should back the same interfaces onto a
// distributed cache or database with appropriate replication and cleanup.
package memory

import (
	"context"
	"sync"
	"time"

	"go.fergus.london/keyra/core"
)

// DefaultGraceWindow is how long a redeemed code is retained so that a second
// redemption attempt observes "already used" rather than "not found".
const DefaultGraceWindow = time.Minute

// codeEntry wraps a stored authorization code with its redemption time.
type codeEntry struct {
	code   core.AuthorizationCode
	usedAt time.Time
}

// CodeStore is an in-memory implementation of core.CodeStore.
//
// This implementation is safe for concurrent use by multiple goroutines.
//
// @mitigation Elevation of Privilege: MarkUsed performs the check-and-flip
// of the Used flag inside a single critical section, linearizing concurrent
// redemption attempts for the same code.
//
// Expired codes are never scanned by a background sweep; they are dropped
// when observed. Used codes are dropped once their grace window lapses.
type CodeStore struct {
	mu    sync.Mutex
	codes map[string]*codeEntry
	grace time.Duration
	now   func() time.Time
}

// NewCodeStore creates a new in-memory authorization code store with the
// default post-redemption grace window.
func NewCodeStore() *CodeStore {
	return &CodeStore{
		codes: make(map[string]*codeEntry),
		grace: DefaultGraceWindow,
		now:   time.Now,
	}
}

// SetGraceWindow overrides the retention period for redeemed codes.
func (s *CodeStore) SetGraceWindow(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grace = d
}

// SetClock overrides the store's time source. Useful for simulating code
// expiry in tests.
func (s *CodeStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Put implements core.CodeStore.
func (s *CodeStore) Put(ctx context.Context, code *core.AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codes[code.Code]; exists {
		return core.ErrAlreadyExists
	}

	s.codes[code.Code] = &codeEntry{code: *code}
	return nil
}

// Get implements core.CodeStore. The returned record is a copy.
func (s *CodeStore) Get(ctx context.Context, code string) (*core.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.codes[code]
	if !exists {
		return nil, core.ErrNotFound
	}

	if s.lapsed(entry) {
		delete(s.codes, code)
		return nil, core.ErrNotFound
	}

	copied := entry.code
	return &copied, nil
}

// MarkUsed implements core.CodeStore. The flip of the Used flag is the sole
// authority preventing a code from being redeemed twice: of any number of
// concurrent callers, exactly one observes success.
func (s *CodeStore) MarkUsed(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.codes[code]
	if !exists {
		return core.ErrNotFound
	}

	if s.lapsed(entry) {
		delete(s.codes, code)
		return core.ErrNotFound
	}

	if entry.code.Used {
		return core.ErrCodeUsed
	}

	entry.code.Used = true
	entry.usedAt = s.now()
	return nil
}

// Delete implements core.CodeStore.
func (s *CodeStore) Delete(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codes[code]; !exists {
		return core.ErrNotFound
	}

	delete(s.codes, code)
	return nil
}

// lapsed reports whether a used entry has outlived its grace window.
// Callers must hold the mutex.
func (s *CodeStore) lapsed(entry *codeEntry) bool {
	return entry.code.Used && s.now().Sub(entry.usedAt) > s.grace
}

// Size returns the number of codes stored. Useful for testing and metrics.
func (s *CodeStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.codes)
}

// Clear removes all codes. Useful for testing.
func (s *CodeStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes = make(map[string]*codeEntry)
}
