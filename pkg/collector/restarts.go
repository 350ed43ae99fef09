package collector

import (
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type observation struct {
	at    time.Time
	count int32
}

// RestartTracker derives restarts inside a sliding window from successive
// restart count observations. Containers not observed for two windows are
// forgotten.
type RestartTracker struct {
	mu     sync.Mutex
	window time.Duration
	cache  *expirable.LRU[string, []observation]
	now    func() time.Time
}

// NewRestartTracker creates a tracker holding up to size containers
func NewRestartTracker(window time.Duration, size int) *RestartTracker {
	return &RestartTracker{
		window: window,
		cache:  expirable.NewLRU[string, []observation](size, nil, 2*window),
		now:    time.Now,
	}
}

// Observe records the current restart count for a container and returns how
// many restarts happened within the window. On first sight the tracker has
// no history; unattributed is the number of restarts the caller can place
// inside the window from other evidence.
func (t *RestartTracker) Observe(key string, count, unattributed int32) int32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	cutoff := now.Add(-t.window)

	history, ok := t.cache.Get(key)
	if !ok || len(history) == 0 || count < history[len(history)-1].count {
		// New container or counter reset
		base := max(count-unattributed, 0)
		history = []observation{{at: now, count: base}}
	}

	// Keep the newest observation at or before the cutoff as the baseline
	start := 0
	for i, o := range history {
		if !o.at.After(cutoff) {
			start = i
		}
	}
	history = append(slices.Clone(history[start:]), observation{at: now, count: count})
	t.cache.Add(key, history)

	return count - history[0].count
}

// Len returns the number of tracked containers
func (t *RestartTracker) Len() int {
	return t.cache.Len()
}
