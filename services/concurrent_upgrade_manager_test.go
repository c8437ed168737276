package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLockManager(t *testing.T) (*ConcurrentUpgradeManager, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return &ConcurrentUpgradeManager{
		redis:   client,
		lockTTL: DefaultLockTTL,
	}, mr
}

func TestAcquireUserUpgradeLock(t *testing.T) {
	m, _ := newTestLockManager(t)
	ctx := context.Background()

	lock, err := m.AcquireUserUpgradeLock(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, lock)
	require.Equal(t, "upgrade_lock:user-1", lock.Key)
	require.NotEmpty(t, lock.Value)

	// Second acquisition for the same user fails without error
	second, err := m.AcquireUserUpgradeLock(ctx, "user-1")
	require.NoError(t, err)
	require.Nil(t, second)

	// A different user is unaffected
	other, err := m.AcquireUserUpgradeLock(ctx, "user-2")
	require.NoError(t, err)
	require.NotNil(t, other)
}

func TestReleaseUserUpgradeLockCompareAndDelete(t *testing.T) {
	m, mr := newTestLockManager(t)
	ctx := context.Background()

	lock, err := m.AcquireUserUpgradeLock(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, lock)

	// Simulate expiry followed by another holder taking the lock
	mr.FastForward(DefaultLockTTL + time.Second)
	newHolder, err := m.AcquireUserUpgradeLock(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, newHolder)

	// The stale holder's release must not steal the new holder's lock
	released, err := m.ReleaseUserUpgradeLock(ctx, "user-1", lock)
	require.NoError(t, err)
	require.False(t, released)
	require.True(t, mr.Exists("upgrade_lock:user-1"))

	// The rightful holder can release
	released, err = m.ReleaseUserUpgradeLock(ctx, "user-1", newHolder)
	require.NoError(t, err)
	require.True(t, released)
	require.False(t, mr.Exists("upgrade_lock:user-1"))
}

func TestLockExpiresOnItsOwn(t *testing.T) {
	m, mr := newTestLockManager(t)
	ctx := context.Background()

	lock, err := m.AcquireUserUpgradeLock(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, lock)

	// A crashed worker never releases; the TTL frees the user anyway
	mr.FastForward(DefaultLockTTL + time.Second)

	again, err := m.AcquireUserUpgradeLock(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, again)
}

func TestUserLockStoreRoundTrip(t *testing.T) {
	m, mr := newTestLockManager(t)
	ctx := context.Background()

	ok, err := m.AcquireUserLock(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.AcquireUserLock(ctx, "user-1")
	require.NoError(t, err)
	require.False(t, ok)

	// ReleaseUserLock looks the proof value up itself
	require.NoError(t, m.ReleaseUserLock(ctx, "user-1"))
	require.False(t, mr.Exists("upgrade_lock:user-1"))

	// Releasing an absent lock is a no-op
	require.NoError(t, m.ReleaseUserLock(ctx, "user-1"))
}

func TestLockTTLRemaining(t *testing.T) {
	m, _ := newTestLockManager(t)
	ctx := context.Background()

	_, err := m.AcquireUserUpgradeLock(ctx, "user-1")
	require.NoError(t, err)

	ttl, err := m.LockTTLRemaining(ctx, "user-1")
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))
	require.LessOrEqual(t, ttl, DefaultLockTTL)
}

func TestCleanupStaleLocks(t *testing.T) {
	m, mr := newTestLockManager(t)
	ctx := context.Background()

	// A healthy lock with a TTL
	_, err := m.AcquireUserUpgradeLock(ctx, "user-1")
	require.NoError(t, err)

	// Damage: a lock key written without an expiry
	require.NoError(t, mr.Set("upgrade_lock:user-2", "orphaned"))

	m.CleanupStaleLocks(ctx)

	require.True(t, mr.Exists("upgrade_lock:user-1"))
	require.False(t, mr.Exists("upgrade_lock:user-2"))
}

func TestQueueForLevel(t *testing.T) {
	require.Equal(t, QueueDefault, queueForLevel(2))
	require.Equal(t, QueueDefault, queueForLevel(4))
	require.Equal(t, QueueCritical, queueForLevel(5))
}
