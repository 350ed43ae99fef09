/*
Package health runs cross-call probes on behalf of workloads.

A probe is declared in configuration as a call made from a workload to a URL
(HTTP GET, 2xx/3xx is healthy) or a TCP address (connect succeeds). The
collector runs every probe for a namespace once per cycle through a Prober
and attaches the results to the originating workload's snapshot entry, where
the classifier uses them to detect NetworkPolicyBlocking.

The Prober keeps a Status per (from, target) pair across cycles and reports a
probe unhealthy only after Config.Retries consecutive failures.

	prober := health.NewProber(health.DefaultConfig())
	results := prober.Run(ctx, []health.Probe{
		health.NewProbe("frontend", "http://backend.shop.svc:8080/healthz", "", 5*time.Second),
		health.NewProbe("backend", "", "redis.shop.svc:6379", 5*time.Second),
	})
*/
package health
