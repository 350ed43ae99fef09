package api

import (
	"testing"
	"time"

	"github.com/cuemby/triage/pkg/events"
	"github.com/cuemby/triage/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportCacheKeepsLatest(t *testing.T) {
	cache := NewReportCache(nil)
	now := time.Now()

	cache.Put(&types.Report{Namespace: "shop", CycleID: "new", Timestamp: now})
	cache.Put(&types.Report{Namespace: "shop", CycleID: "old", Timestamp: now.Add(-time.Minute)})

	r, ok := cache.Get("shop")
	require.True(t, ok)
	assert.Equal(t, "new", r.CycleID)

	_, ok = cache.Get("payments")
	assert.False(t, ok)
}

func TestReportCacheFollowsBroker(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	cache := NewReportCache(broker)
	cache.Start()

	broker.Publish(&events.Event{Type: events.EventApprovalPending, Namespace: "shop",
		Report: &types.Report{Namespace: "shop", CycleID: "ignored", Timestamp: time.Now()}})
	broker.Publish(&events.Event{Type: events.EventCycleCompleted, Namespace: "shop",
		Report: &types.Report{Namespace: "shop", CycleID: "c1", Timestamp: time.Now()}})

	assert.Eventually(t, func() bool {
		r, ok := cache.Get("shop")
		return ok && r.CycleID == "c1"
	}, 2*time.Second, 10*time.Millisecond)

	cache.Stop()
	assert.Equal(t, 0, broker.SubscriberCount())
}

func TestReportCacheWithoutBroker(t *testing.T) {
	cache := NewReportCache(nil)
	cache.Start()
	cache.Stop()
	assert.Empty(t, cache.List())
}
