package runlock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bundlesync/pkg/platform/sentinel"
)

func TestLocal(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	release, err := l.Acquire(ctx, "sync")
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "sync")
	assert.ErrorIs(t, err, sentinel.ErrConflict)

	// other jobs are independent
	releaseSweep, err := l.Acquire(ctx, "sweep")
	require.NoError(t, err)
	require.NoError(t, releaseSweep(ctx))

	require.NoError(t, release(ctx))
	require.NoError(t, release(ctx))

	release, err = l.Acquire(ctx, "sync")
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}
