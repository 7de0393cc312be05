package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layertools/layerpull/internal/ratelimit"
)

func TestWaitUnlimitedByDefault(t *testing.T) {
	t.Parallel()

	l := ratelimit.New(ratelimit.Config{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(ctx, "registry.example.com"))
	}
}

func TestWaitThrottles(t *testing.T) {
	t.Parallel()

	l := ratelimit.New(ratelimit.Config{RequestsPerSecond: 20, Burst: 1})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Wait(ctx, "registry.example.com"))
	}
	// Burst of 1 means the second and third waits each cost ~50ms.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestWaitPerHostIndependence(t *testing.T) {
	t.Parallel()

	l := ratelimit.New(ratelimit.Config{RequestsPerSecond: 1, Burst: 1})
	ctx := context.Background()

	// Each host gets its own bucket, so the first call per host is free.
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "a.example.com"))
	require.NoError(t, l.Wait(ctx, "b.example.com"))
	require.NoError(t, l.Wait(ctx, "c.example.com"))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestWaitHonorsContextCancel(t *testing.T) {
	t.Parallel()

	l := ratelimit.New(ratelimit.Config{RequestsPerSecond: 0.1, Burst: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, l.Wait(ctx, "slow.example.com"))
	err := l.Wait(ctx, "slow.example.com")
	assert.Error(t, err)
}
