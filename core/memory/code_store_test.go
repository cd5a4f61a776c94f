package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.fergus.london/keyra/core"
)

func newTestCode(value string) *core.AuthorizationCode {
	now := time.Now()
	return &core.AuthorizationCode{
		Code:        value,
		UserID:      "user123",
		ClientID:    "kp_client",
		RedirectURI: "https://app.example.com/callback",
		Scope:       "email profile",
		IssuedAt:    now,
		ExpiresAt:   now.Add(10 * time.Minute),
	}
}

func TestCodeStore_PutGet(t *testing.T) {
	store := NewCodeStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newTestCode("code-1")))

	got, err := store.Get(ctx, "code-1")
	require.NoError(t, err)
	assert.Equal(t, "user123", got.UserID)
	assert.False(t, got.Used)
}

func TestCodeStore_Put_AlreadyExists(t *testing.T) {
	store := NewCodeStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newTestCode("code-1")))
	assert.ErrorIs(t, store.Put(ctx, newTestCode("code-1")), core.ErrAlreadyExists)
}

func TestCodeStore_Get_NotFound(t *testing.T) {
	store := NewCodeStore()

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestCodeStore_Get_ReturnsCopy(t *testing.T) {
	store := NewCodeStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newTestCode("code-1")))

	got, err := store.Get(ctx, "code-1")
	require.NoError(t, err)
	got.Used = true

	fresh, err := store.Get(ctx, "code-1")
	require.NoError(t, err)
	assert.False(t, fresh.Used)
}

func TestCodeStore_MarkUsed(t *testing.T) {
	store := NewCodeStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newTestCode("code-1")))
	require.NoError(t, store.MarkUsed(ctx, "code-1"))

	got, err := store.Get(ctx, "code-1")
	require.NoError(t, err)
	assert.True(t, got.Used)

	// The flip happens at most once per code.
	assert.ErrorIs(t, store.MarkUsed(ctx, "code-1"), core.ErrCodeUsed)
}

func TestCodeStore_MarkUsed_NotFound(t *testing.T) {
	store := NewCodeStore()

	assert.ErrorIs(t, store.MarkUsed(context.Background(), "missing"), core.ErrNotFound)
}

func TestCodeStore_MarkUsed_Concurrent(t *testing.T) {
	store := NewCodeStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newTestCode("code-1")))

	const attempts = 16
	results := make(chan error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.MarkUsed(ctx, "code-1")
		}()
	}
	wg.Wait()
	close(results)

	successes, used := 0, 0
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		assert.ErrorIs(t, err, core.ErrCodeUsed)
		used++
	}

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, used)
}

func TestCodeStore_GraceWindow(t *testing.T) {
	store := NewCodeStore()
	ctx := context.Background()

	now := time.Now()
	store.SetClock(func() time.Time { return now })
	store.SetGraceWindow(time.Minute)

	require.NoError(t, store.Put(ctx, newTestCode("code-1")))
	require.NoError(t, store.MarkUsed(ctx, "code-1"))

	// Within the grace window the used record is still observable.
	assert.ErrorIs(t, store.MarkUsed(ctx, "code-1"), core.ErrCodeUsed)

	// Past the window the record is purged.
	now = now.Add(2 * time.Minute)
	assert.ErrorIs(t, store.MarkUsed(ctx, "code-1"), core.ErrNotFound)

	_, err := store.Get(ctx, "code-1")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, 0, store.Size())
}

func TestCodeStore_Delete(t *testing.T) {
	store := NewCodeStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newTestCode("code-1")))
	require.NoError(t, store.Delete(ctx, "code-1"))
	assert.ErrorIs(t, store.Delete(ctx, "code-1"), core.ErrNotFound)
}

func TestCodeStore_SizeClear(t *testing.T) {
	store := NewCodeStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newTestCode("code-1")))
	require.NoError(t, store.Put(ctx, newTestCode("code-2")))
	assert.Equal(t, 2, store.Size())

	store.Clear()
	assert.Equal(t, 0, store.Size())
}
