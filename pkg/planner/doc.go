/*
Package planner turns a classified issue into an ordered remediation plan.

Plans come from a fixed table keyed by category and cause. Every action
carries a declared precondition, evaluated by the executor against the
latest snapshot, and an optional postcondition polled after it applies.

Before a plan is returned the planner consults the ledger:

  - a pair latched by the escalation rule is raised to critical severity and
    every write action requires approval
  - a write action already applied to the same target within the flapping
    window makes the whole plan approval-required

Plans with no actions are approval-required and carry
FailurePlanningImpossible so they surface in the operator report.
*/
package planner
