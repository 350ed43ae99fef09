/*
Package metrics provides Prometheus metrics and component health tracking for
the triage engine.

All collectors are package-level variables registered with the default
Prometheus registry at init time and exposed through Handler() on /metrics.

# Metrics Catalog

Cycle metrics:

	triage_cycles_total{namespace,result}        counter   result: healthy|issues|failed|aborted
	triage_cycle_duration_seconds{namespace}     histogram
	triage_cycles_skipped_total{namespace}       counter   previous cycle still in flight
	triage_collection_duration_seconds{namespace} histogram

Diagnosis metrics:

	triage_issues_total{category,cause}          counter
	triage_classification_ambiguous_total        counter

Remediation metrics:

	triage_attempts_total{action,outcome}        counter
	triage_action_duration_seconds{action}       histogram
	triage_pending_approvals{namespace}          gauge

Ledger metrics (sampled by Collector every 15s):

	triage_ledger_attempts                       gauge
	triage_escalations_active                    gauge

# Timer Helper

	timer := metrics.NewTimer()
	snapshot, err := collector.Collect(ctx, ns)
	timer.ObserveDurationVec(metrics.CollectionDuration, ns)

# Health

The health registry backs /health, /ready and /live. Components register
themselves by name; "collector", "ledger" and "engine" are critical for
readiness. Each namespace's latest cycle result is tracked with
UpdateNamespace and only degrades overall health.

	metrics.RegisterComponent("ledger", true, "")
	metrics.UpdateNamespace("shop", false, "CollectionFailure")
*/
package metrics
