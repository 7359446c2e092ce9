package build

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockTable_Exclusive(t *testing.T) {
	locks := NewLockTable()
	release, err := locks.Acquire(context.Background(), "abc", 0)
	require.NoError(t, err)

	_, ok := locks.TryAcquire("abc")
	assert.False(t, ok)
	other, ok := locks.TryAcquire("def")
	require.True(t, ok, "different hashes lock independently")
	other()

	release()
	release() // second release is a no-op
	again, ok := locks.TryAcquire("abc")
	require.True(t, ok)
	again()
}

func TestLockTable_Timeout(t *testing.T) {
	locks := NewLockTable()
	release, ok := locks.TryAcquire("abc")
	require.True(t, ok)
	defer release()

	_, err := locks.Acquire(context.Background(), "abc", 10*time.Millisecond)
	assert.ErrorIs(t, err, errLockTimeout)
}

func TestLockTable_ContextCancelled(t *testing.T) {
	locks := NewLockTable()
	release, ok := locks.TryAcquire("abc")
	require.True(t, ok)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := locks.Acquire(ctx, "abc", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLockTable_WaitsForRelease(t *testing.T) {
	locks := NewLockTable()
	release, ok := locks.TryAcquire("abc")
	require.True(t, ok)

	go func() {
		time.Sleep(10 * time.Millisecond)
		release()
	}()
	got, err := locks.Acquire(context.Background(), "abc", 5*time.Second)
	require.NoError(t, err)
	got()
}

func TestNodeState(t *testing.T) {
	assert.Equal(t, "skipped", StateSkipped.String())
	assert.Equal(t, "unknown", NodeState(42).String())
	assert.False(t, StateBuilding.Terminal())
	assert.True(t, StateCancelled.Terminal())
	assert.True(t, StateSkipped.Satisfied())
	assert.False(t, StateFailed.Satisfied())
}
