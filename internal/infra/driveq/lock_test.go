package driveq

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"driveq/internal/domain"
)

func TestTryAcquire_FreshMarker(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	ok, err := c.TryAcquire(ctx, "t1", "w1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	m, err := c.readMarker(c.Paths.Lock("t1"))
	require.NoError(t, err)
	require.Equal(t, "w1", m.Owner)
	require.False(t, m.AcquiredAt.IsZero())

	// Held and fresh: clean false, not an error.
	ok, err = c.TryAcquire(ctx, "t1", "w2", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTryAcquire_StaleTakeover(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	base := time.Now()
	c.now = func() time.Time { return base }
	ok, err := c.TryAcquire(ctx, "t1", "w1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// Within the lease the marker holds.
	c.now = func() time.Time { return base.Add(30 * time.Second) }
	ok, err = c.TryAcquire(ctx, "t1", "w2", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	// Past the lease the claim expires and w2 takes over.
	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	ok, err = c.TryAcquire(ctx, "t1", "w2", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	m, err := c.readMarker(c.Paths.Lock("t1"))
	require.NoError(t, err)
	require.Equal(t, "w2", m.Owner)
}

func TestTryAcquire_ConcurrentExactlyOne(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	const workers = 8
	start := make(chan struct{})
	results := make([]bool, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = c.TryAcquire(ctx, "contested", string(rune('a'+i)), time.Minute)
		}(i)
	}
	close(start)
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "claimant %d", i)
	}
	wins := 0
	for _, ok := range results {
		if ok {
			wins++
		}
	}
	require.Equal(t, 1, wins, "exactly one claimant must win a fresh marker")
}

func TestRelease(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	ok, err := c.TryAcquire(ctx, "t1", "w1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// A mismatched owner is silently ignored and the marker survives.
	require.NoError(t, c.Release("t1", "w2"))
	require.True(t, c.FS.Exists(c.Paths.Lock("t1")))

	require.NoError(t, c.Release("t1", "w1"))
	require.False(t, c.FS.Exists(c.Paths.Lock("t1")))

	// Double release is a no-op.
	require.NoError(t, c.Release("t1", "w1"))
}

func TestRefreshMarker(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	base := time.Now()
	c.now = func() time.Time { return base }
	ok, err := c.TryAcquire(ctx, "t1", "w1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	c.now = func() time.Time { return base.Add(10 * time.Second) }
	require.NoError(t, c.RefreshMarker("t1", "w1"))

	m, err := c.readMarker(c.Paths.Lock("t1"))
	require.NoError(t, err)
	require.True(t, m.HeartbeatAt.After(base))
	require.True(t, m.AcquiredAt.Equal(base) || m.AcquiredAt.Before(m.HeartbeatAt))
}

func TestRefreshMarker_OwnershipLost(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	base := time.Now()
	c.now = func() time.Time { return base }
	ok, err := c.TryAcquire(ctx, "t1", "w1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// Expired and force-acquired by w2.
	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	ok, err = c.TryAcquire(ctx, "t1", "w2", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	err = c.RefreshMarker("t1", "w1")
	require.ErrorIs(t, err, domain.ErrRaceLost)

	// Marker removed entirely.
	require.NoError(t, c.Release("t1", "w2"))
	err = c.RefreshMarker("t1", "w2")
	require.ErrorIs(t, err, domain.ErrRaceLost)
}
