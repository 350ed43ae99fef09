/*
Package orchestrator holds the orchestration API verbs the executor acts
through, and their Kubernetes implementation.

Writes are strategic merge patches against the Deployment or StatefulSet pod
template, so repeating a call converges on the same object. Rollout restarts
carry the action's idempotency token in the kubectl.kubernetes.io/restartedAt
annotation; a workload already carrying the token is not patched again.

IsRetryable separates transient failures (timeouts, throttling, conflicts,
transport errors) from permanent ones (not found, forbidden, invalid, and
ErrCheckFailed from verification calls).
*/
package orchestrator
