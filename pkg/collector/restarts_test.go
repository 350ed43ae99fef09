package collector

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestartTrackerWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := NewRestartTracker(10*time.Minute, 100)
	tr.now = func() time.Time { return now }

	// First sight of an old, quiet container: nothing attributable
	assert.Equal(t, int32(0), tr.Observe("shop/api-1/api", 40, 0))

	now = now.Add(3 * time.Minute)
	assert.Equal(t, int32(2), tr.Observe("shop/api-1/api", 42, 0))

	now = now.Add(3 * time.Minute)
	assert.Equal(t, int32(5), tr.Observe("shop/api-1/api", 45, 0))

	// The baseline is the last observation at or before the window start
	now = now.Add(6 * time.Minute)
	assert.Equal(t, int32(6), tr.Observe("shop/api-1/api", 46, 0))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, int32(4), tr.Observe("shop/api-1/api", 46, 0))
	assert.Equal(t, 1, tr.Len())
}

func TestRestartTrackerFirstSight(t *testing.T) {
	tr := NewRestartTracker(10*time.Minute, 100)

	assert.Equal(t, int32(7), tr.Observe("shop/web-1/web", 7, 7))
	assert.Equal(t, int32(3), tr.Observe("shop/web-2/web", 7, 3))
}

func TestRestartTrackerReset(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := NewRestartTracker(10*time.Minute, 100)
	tr.now = func() time.Time { return now }

	tr.Observe("k", 10, 0)
	now = now.Add(time.Minute)
	// Counter went backwards: treat as a new container
	assert.Equal(t, int32(1), tr.Observe("k", 1, 1))
}

func TestRestartTrackerConcurrentObserve(t *testing.T) {
	const key = "shop/backend-1/app"
	tr := NewRestartTracker(10*time.Minute, 100)
	tr.Observe(key, 0, 0)

	results := make(chan int32, 16)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- tr.Observe(key, 5, 0)
		}()
	}
	wg.Wait()
	close(results)

	for n := range results {
		assert.Equal(t, int32(5), n)
	}

	history, ok := tr.cache.Get(key)
	require.True(t, ok)
	assert.Len(t, history, 17, "no observation may be lost")
	assert.Equal(t, int32(0), history[0].count)
}
