package api

import (
	"sort"
	"sync"

	"github.com/cuemby/triage/pkg/events"
	"github.com/cuemby/triage/pkg/log"
	"github.com/cuemby/triage/pkg/types"
	"github.com/rs/zerolog"
)

// ReportCache keeps the latest cycle report per namespace
type ReportCache struct {
	mu      sync.RWMutex
	reports map[string]*types.Report

	broker *events.Broker
	sub    events.Subscriber
	done   chan struct{}
	logger zerolog.Logger
}

// NewReportCache creates an empty cache. With a broker, Start keeps it
// current from cycle events.
func NewReportCache(broker *events.Broker) *ReportCache {
	return &ReportCache{
		reports: make(map[string]*types.Report),
		broker:  broker,
		done:    make(chan struct{}),
		logger:  log.WithComponent("report-cache"),
	}
}

// Start subscribes to cycle events
func (c *ReportCache) Start() {
	if c.broker == nil {
		return
	}
	c.sub = c.broker.Subscribe(events.EventCycleCompleted, events.EventCycleFailed)
	go c.run()
}

// Stop unsubscribes and waits for the consumer to exit
func (c *ReportCache) Stop() {
	if c.sub == nil {
		return
	}
	c.broker.Unsubscribe(c.sub)
	<-c.done
}

func (c *ReportCache) run() {
	defer close(c.done)
	for ev := range c.sub {
		if ev.Report == nil {
			continue
		}
		c.Put(ev.Report)
		c.logger.Debug().
			Str("namespace", ev.Namespace).
			Str("event", string(ev.Type)).
			Msg("Report cached")
	}
}

// Put stores a report, replacing older reports of the same namespace
func (c *ReportCache) Put(r *types.Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.reports[r.Namespace]; ok && prev.Timestamp.After(r.Timestamp) {
		return
	}
	c.reports[r.Namespace] = r
}

// Get returns the latest report for a namespace
func (c *ReportCache) Get(namespace string) (*types.Report, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.reports[namespace]
	return r, ok
}

// List returns the latest report of every namespace, sorted by namespace
func (c *ReportCache) List() []*types.Report {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*types.Report, 0, len(c.reports))
	for _, r := range c.reports {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Namespace < out[j].Namespace })
	return out
}
