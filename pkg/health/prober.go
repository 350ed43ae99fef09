package health

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/triage/pkg/types"
	"golang.org/x/sync/errgroup"
)

// Probe is a cross-call check that originates at a workload
type Probe struct {
	// From is the workload the call is made on behalf of
	From string

	// Target is the URL or address being called
	Target string

	Checker Checker
}

// NewProbe builds an HTTP probe when url is set and a TCP probe otherwise
func NewProbe(from, url, address string, timeout time.Duration) Probe {
	if url != "" {
		return Probe{From: from, Target: url, Checker: NewHTTPChecker(url).WithTimeout(timeout)}
	}
	return Probe{From: from, Target: address, Checker: NewTCPChecker(address).WithTimeout(timeout)}
}

func (p Probe) key() string {
	return p.From + "->" + p.Target
}

// Prober runs probes and debounces their results across cycles
type Prober struct {
	config Config

	mu       sync.Mutex
	statuses map[string]*Status
}

// NewProber creates a prober
func NewProber(config Config) *Prober {
	if config.Retries < 1 {
		config.Retries = 1
	}
	if config.Parallelism < 1 {
		config.Parallelism = 1
	}
	return &Prober{
		config:   config,
		statuses: make(map[string]*Status),
	}
}

// Run executes every probe and returns results keyed by the originating
// workload name. Probe failures are results, not errors.
func (p *Prober) Run(ctx context.Context, probes []Probe) map[string][]types.ProbeResult {
	results := make([]Result, len(probes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Parallelism)
	for i, probe := range probes {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, p.config.Timeout)
			defer cancel()
			results[i] = probe.Checker.Check(cctx)
			return nil
		})
	}
	_ = g.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string][]types.ProbeResult)
	for i, probe := range probes {
		status, ok := p.statuses[probe.key()]
		if !ok {
			status = NewStatus()
			p.statuses[probe.key()] = status
		}
		status.Update(results[i], p.config)

		out[probe.From] = append(out[probe.From], types.ProbeResult{
			Target:  probe.Target,
			Healthy: status.Healthy,
			Message: results[i].Message,
		})
	}
	return out
}
