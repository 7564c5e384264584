package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*miniredis.Miniredis, Locker) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisSlotLocker(client, 5*time.Second)
}

func TestWithLock_RunsCriticalSection(t *testing.T) {
	_, locker := newTestLocker(t)

	ran := false
	err := locker.WithLock(context.Background(), "prov:2026-09-07:540", func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestWithLock_ReleasesAfterRun(t *testing.T) {
	mr, locker := newTestLocker(t)

	err := locker.WithLock(context.Background(), "k", func(ctx context.Context) error { return nil })
	require.NoError(t, err)

	assert.False(t, mr.Exists("lock:slot:k"))

	// A second acquisition must succeed once the first released.
	err = locker.WithLock(context.Background(), "k", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestWithLock_HeldLockNotAcquired(t *testing.T) {
	mr, locker := newTestLocker(t)

	require.NoError(t, mr.Set("lock:slot:k", "someone-else"))

	err := locker.WithLock(context.Background(), "k", func(ctx context.Context) error {
		t.Fatal("critical section must not run")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)
}

func TestWithLock_DoesNotReleaseForeignToken(t *testing.T) {
	mr, locker := newTestLocker(t)

	errBoom := errors.New("boom")
	err := locker.WithLock(context.Background(), "k", func(ctx context.Context) error {
		// Simulate lock expiry plus takeover by another caller mid-section.
		mr.Del("lock:slot:k")
		require.NoError(t, mr.Set("lock:slot:k", "other-token"))
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)

	// The other caller's lock survives our release attempt.
	got, err2 := mr.Get("lock:slot:k")
	require.NoError(t, err2)
	assert.Equal(t, "other-token", got)
}

func TestWithLock_PropagatesSectionError(t *testing.T) {
	_, locker := newTestLocker(t)

	errBoom := errors.New("boom")
	err := locker.WithLock(context.Background(), "k", func(ctx context.Context) error { return errBoom })
	assert.ErrorIs(t, err, errBoom)
}

func TestWithLock_DifferentKeysIndependent(t *testing.T) {
	mr, locker := newTestLocker(t)

	require.NoError(t, mr.Set("lock:slot:a", "held"))

	err := locker.WithLock(context.Background(), "b", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}
