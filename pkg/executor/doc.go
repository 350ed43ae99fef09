/*
Package executor is the single choke point for writes to the cluster.

For each action of a plan, in order:

 1. The precondition is evaluated against the newest snapshot. A false
    precondition records skipped-by-precondition and moves on.
 2. Write actions that need approval, or that run under approval_mode
    manual, record pending-approval and stop the plan. So does a write
    already applied to the same target within the flapping window.
 3. The action is applied with exponential backoff. Non-retryable errors
    record failed-fatal; exhausted retries record failed-exhausted. Both
    stop the plan.
 4. The postcondition is polled. If it does not hold in time the attempt is
    applied-unverified and the next cycle re-diagnoses.

Every attempt reaches the ledger before the next action starts. Read-only
checks run regardless of approval mode.
*/
package executor
