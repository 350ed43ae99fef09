/*
Package ledger records every remediation attempt and answers the two
questions the planner and executor ask of history: has an equal-or-stronger
action already been applied to this target recently (flapping), and has this
(workload, category) pair failed often enough to stop automatic remediation
(escalation).

An escalation latches when escalation_threshold distinct cycles record a
failed-fatal or failed-exhausted attempt for the same pair within
escalation_window. It stays latched until ClearEscalation is called from the
API or the CLI.

The ledger is held in memory and optionally written through a storage.Store.
*/
package ledger
