/*
Package classifier maps a namespace snapshot to at most one issue per
workload.

Rules are evaluated in a fixed priority order and the first match wins:

	ImagePullFailure
	CrashLoopBackOff
	PendingScheduling
	ReadOnlyFilesystemViolation
	IngressUnreachable
	AutoscalerMetricsUnavailable
	NetworkPolicyBlocking

A workload whose signals partially match a rule but satisfy none is treated
as healthy. Such workloads are reported through ClassifyDetailed, logged at
debug level and counted in triage_classification_ambiguous_total.

Classification is a pure function of the snapshot: every time comparison
uses Snapshot.TakenAt, never the wall clock.
*/
package classifier
