package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestAcquireIsExclusive(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	first := New(client, "campaign-dispatch:camp-1", time.Minute)
	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	second := New(client, "campaign-dispatch:camp-1", time.Minute)
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "held lock must not be re-acquired")
}

func TestReleaseFreesTheLock(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	first := New(client, "campaign-dispatch:camp-1", time.Minute)
	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, first.Release(ctx))

	second := New(client, "campaign-dispatch:camp-1", time.Minute)
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseOnlyByOwner(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	owner := New(client, "campaign-dispatch:camp-1", time.Minute)
	ok, err := owner.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// A different token must not delete the owner's key.
	intruder := New(client, "campaign-dispatch:camp-1", time.Minute)
	require.NoError(t, intruder.Release(ctx))

	stillHeld, err := intruder.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, stillHeld)
}

func TestDistinctKeysDoNotContend(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	a := New(client, "campaign-dispatch:camp-1", time.Minute)
	b := New(client, "campaign-dispatch:camp-2", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}
