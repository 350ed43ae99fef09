/*
Package engine runs the triage pipeline for every configured namespace.

Each cycle collects a snapshot, classifies it into issues, refines crash
loops into causes, builds one remediation plan per issue and executes the
plans that are allowed to run:

	┌───────────────────────────────────────────────────────┐
	│                Cycle (every cycle interval)           │
	└──────────────────────────┬────────────────────────────┘
	                           │ per namespace
	                           ▼
	                   ┌───────────────┐  failure   ┌────────────────┐
	                   │    Collect    ├───────────►│ cycle.failed   │
	                   └───────┬───────┘            └────────────────┘
	                           ▼
	                   ┌───────────────┐
	                   │   Classify    │ one issue per workload
	                   └───────┬───────┘
	                           ▼
	                   ┌───────────────┐
	                   │    Refine     │ CrashLoopBackOff causes
	                   └───────┬───────┘
	                           ▼
	                   ┌───────────────┐
	                   │     Plan      │ history from the ledger
	                   └───────┬───────┘
	                           ▼
	                   ┌───────────────┐
	                   │    Execute    │ bounded worker pool
	                   └───────┬───────┘
	                           ▼
	                   ┌───────────────┐
	                   │    Report     │ cycle.completed
	                   └───────────────┘

# Cycles

Cycles for different namespaces run concurrently. At most one cycle per
namespace is in flight; a tick that finds the previous cycle still running is
skipped and counted in triage_cycles_skipped_total, and RunOnce returns
ErrCycleInFlight.

Every cycle runs under the cycle deadline. When it expires, actions already
started finish or time out on their own per-call timeout and no further
action is started. The report is marked aborted.

A collection failure ends the cycle with FailureCollection: no issues, no
plans and nothing written to the ledger. The next cycle starts normally.

# Execution

Plans of one cycle are executed in parallel, limited by worker_pool_size.
Actions inside a plan always run in order. Attempts in the report keep plan
order regardless of completion order.

Dry runs (RunOnce with dryRun) stop after planning.

# Reports and events

Every cycle produces a types.Report. When a broker is configured the engine
publishes:

	cycle.completed     every finished cycle, with the report
	cycle.failed        collection failures, with the partial report
	approval.pending    cycles that left actions awaiting approval
	escalation.raised   a (workload, category) pair crossed the failure threshold

# Ledger compaction

Attempts older than ledger_retention_hours are compacted hourly. Escalation
latches are never compacted; they are cleared by an operator.

# Usage

	l, _ := ledger.New(ledger.Config{EscalationThreshold: 3, EscalationWindow: time.Hour}, store)
	e := engine.New(cfg, collector.NewKubernetes(cs, mc, cfg), orchestrator.NewKubernetes(cs, ""), l, broker)
	e.Start(ctx)
	defer e.Stop()
*/
package engine
