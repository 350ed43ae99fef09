package metrics

import (
	"time"
)

// LedgerSource exposes the ledger sizes sampled by the Collector
type LedgerSource interface {
	Counts() (attempts, escalations int)
}

// Collector periodically samples gauges that are not updated inline
type Collector struct {
	ledger   LedgerSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(ledger LedgerSource) *Collector {
	return &Collector{
		ledger:   ledger,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	attempts, escalations := c.ledger.Counts()
	LedgerAttempts.Set(float64(attempts))
	EscalationsActive.Set(float64(escalations))
}
