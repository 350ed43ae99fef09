/*
Package types defines the data model shared by every stage of the triage
diagnostic cycle.

A cycle moves values, never shared mutable state, through the pipeline:

	Collector ──► Snapshot ──► Classifier ──► Issue ──► Refiner ──► Issue(+Cause)
	                                                                    │
	Ledger ◄── Attempt ◄── Executor ◄── Plan ◄── Planner ◄──────────────┘

# Snapshot

A Snapshot is a point-in-time view of one namespace: every workload unit with
its replicas, container statuses, recent events and a bounded log excerpt,
plus cluster facts (metrics-server availability, network policies, ingress
controller readiness) and the registry-auth secrets present in the namespace.
Snapshots are created by a collector and never modified afterwards.

# Issue, Cause and Severity

An Issue is the single top-level Category a workload was classified into for
this cycle. CrashLoopBackOff issues additionally carry a Cause chosen by the
refiner. Issues are values; WithCause and WithSeverity return copies.

# Action, Condition and Plan

Actions are drawn from a closed catalog (ActionKind). Each action carries a
RiskTier, a declared precondition (Condition) and a Postcondition. Conditions
are plain data evaluated with Condition.Holds so that two plans built from the
same inputs compare equal.

# Attempt and Report

Attempts are the only records that outlive a cycle; they are appended to the
ledger. A Report summarizes one namespace cycle for operators.
*/
package types
