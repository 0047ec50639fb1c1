package lockmgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Capacity:        4,
		DeadlockTimeout: 50 * time.Millisecond,
		RecheckInterval: 5 * time.Millisecond,
	}
}

func TestLockAndUnlockRoundTrip(t *testing.T) {
	m := New(testConfig(), nil)
	defer m.Close()

	caller := NewCallerId()
	ctx := context.Background()

	txn, err := m.Lock(ctx, 1, caller)
	require.NoError(t, err)
	assert.Equal(t, 1, txn.RecordNumber())

	owner, locked := m.Has(1)
	assert.True(t, locked)
	assert.Equal(t, caller, owner)

	_, err = m.Unlock(1, caller)
	require.NoError(t, err)

	_, locked = m.Has(1)
	assert.False(t, locked)
}

func TestLockIsReentrantForSameOwner(t *testing.T) {
	m := New(testConfig(), nil)
	defer m.Close()

	caller := NewCallerId()
	ctx := context.Background()

	txn1, err := m.Lock(ctx, 1, caller)
	require.NoError(t, err)
	txn1.StageUpdate([]string{"staged"})

	txn2, err := m.Lock(ctx, 1, caller)
	require.NoError(t, err)

	assert.Same(t, txn1, txn2, "re-locking an already-held record must return the same context")
}

func TestUnlockRejectsWrongOwner(t *testing.T) {
	m := New(testConfig(), nil)
	defer m.Close()

	owner := NewCallerId()
	other := NewCallerId()
	ctx := context.Background()

	_, err := m.Lock(ctx, 1, owner)
	require.NoError(t, err)

	_, err = m.Unlock(1, other)
	assert.Error(t, err)
}

func TestLockBlocksUntilReleasedByOtherOwner(t *testing.T) {
	m := New(testConfig(), nil)
	defer m.Close()

	first := NewCallerId()
	second := NewCallerId()
	ctx := context.Background()

	_, err := m.Lock(ctx, 1, first)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		_, err := m.Lock(context.Background(), 1, second)
		assert.NoError(t, err)
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second caller must not acquire the lock while the first holds it")
	case <-time.After(20 * time.Millisecond):
	}

	_, err = m.Unlock(1, first)
	require.NoError(t, err)

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second caller should acquire the lock once the first releases it")
	}
}

func TestLockRespectsContextCancellation(t *testing.T) {
	m := New(testConfig(), nil)
	defer m.Close()

	first := NewCallerId()
	second := NewCallerId()

	_, err := m.Lock(context.Background(), 1, first)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = m.Lock(ctx, 1, second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolExhaustedWhenNoCellEvictable(t *testing.T) {
	cfg := testConfig()
	cfg.Capacity = 2
	m := New(cfg, nil)
	defer m.Close()

	ctx := context.Background()
	_, err := m.Lock(ctx, 1, NewCallerId())
	require.NoError(t, err)
	_, err = m.Lock(ctx, 2, NewCallerId())
	require.NoError(t, err)

	_, err = m.Lock(ctx, 3, NewCallerId())
	require.Error(t, err)
	var exhausted *PoolExhaustedError
	assert.ErrorAs(t, err, &exhausted)
}

func TestWatchdogForceReleasesExpiredLock(t *testing.T) {
	m := New(testConfig(), nil)
	defer m.Close()

	caller := NewCallerId()
	_, err := m.Lock(context.Background(), 1, caller)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, locked := m.Has(1)
		return !locked
	}, time.Second, 5*time.Millisecond, "watchdog must force-release a lock held past the deadlock timeout")
}

func TestReleaseAllOwnedBy(t *testing.T) {
	m := New(testConfig(), nil)
	defer m.Close()

	caller := NewCallerId()
	ctx := context.Background()
	_, err := m.Lock(ctx, 1, caller)
	require.NoError(t, err)
	_, err = m.Lock(ctx, 2, caller)
	require.NoError(t, err)
	_, err = m.Lock(ctx, 3, NewCallerId())
	require.NoError(t, err)

	released := m.ReleaseAllOwnedBy(caller)
	assert.ElementsMatch(t, []int{1, 2}, released)

	_, locked := m.Has(1)
	assert.False(t, locked)
	_, locked = m.Has(3)
	assert.True(t, locked, "locks owned by other callers must survive")
}

func TestForceReleaseIsNoopWhenAbsent(t *testing.T) {
	m := New(testConfig(), nil)
	defer m.Close()

	m.ForceRelease(42) // must not panic
	_, locked := m.Has(42)
	assert.False(t, locked)
}

func TestForceReleaseDropsAnyOwner(t *testing.T) {
	m := New(testConfig(), nil)
	defer m.Close()

	caller := NewCallerId()
	_, err := m.Lock(context.Background(), 1, caller)
	require.NoError(t, err)

	m.ForceRelease(1)

	_, locked := m.Has(1)
	assert.False(t, locked)
}

func TestSnapshotReflectsPendingState(t *testing.T) {
	m := New(testConfig(), nil)
	defer m.Close()

	caller := NewCallerId()
	txn, err := m.Lock(context.Background(), 5, caller)
	require.NoError(t, err)
	txn.StageUpdate([]string{"a"})

	_, err = m.Lock(context.Background(), 2, caller)
	require.NoError(t, err)

	infos := m.Snapshot()
	require.Len(t, infos, 2)
	// Snapshot is sorted by record number.
	assert.Equal(t, 2, infos[0].RecordNumber)
	assert.Equal(t, 5, infos[1].RecordNumber)
	assert.True(t, infos[1].HasPendingData)
	assert.False(t, infos[1].PendingDelete)
}
