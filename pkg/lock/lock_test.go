package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalServiceExcludesSecondHolder(t *testing.T) {
	svc := NewLocalService()
	ctx := context.Background()

	release, ok, err := svc.Acquire(ctx, "sweep:materialize", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = svc.Acquire(ctx, "sweep:materialize", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// A different key is independent.
	otherRelease, ok, err := svc.Acquire(ctx, "sweep:cleanup", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	otherRelease(ctx)

	release(ctx)
	release2, ok, err := svc.Acquire(ctx, "sweep:materialize", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	release2(ctx)
}

func TestLocalServiceExpiredLockIsReacquirable(t *testing.T) {
	svc := NewLocalService()
	ctx := context.Background()

	_, ok, err := svc.Acquire(ctx, "sweep:unreported", time.Nanosecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(time.Millisecond)

	release, ok, err := svc.Acquire(ctx, "sweep:unreported", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	release(ctx)
}
