package types

import "time"

// Report is the operator-facing record emitted once per namespace cycle
type Report struct {
	Timestamp        time.Time         `json:"timestamp"`
	Namespace        string            `json:"namespace"`
	CycleID          string            `json:"cycle_id"`
	Duration         time.Duration     `json:"duration"`
	Issues           []Issue           `json:"issues"`
	Plans            []Plan            `json:"plans"`
	Attempts         []Attempt         `json:"attempts"`
	PendingApprovals []PendingApproval `json:"pending_approvals"`
	Failure          FailureKind       `json:"failure,omitempty"`
	Error            string            `json:"error,omitempty"`
	Aborted          bool              `json:"aborted,omitempty"`
}

// PendingApproval is an action the engine proposes but will not run unsupervised
type PendingApproval struct {
	PlanID      string      `json:"plan_id"`
	Workload    WorkloadRef `json:"workload"`
	Category    Category    `json:"category"`
	ActionIndex int         `json:"action_index"`
	Action      ActionKind  `json:"action,omitempty"`
	Reason      string      `json:"reason"`
}

// Healthy reports whether the cycle completed without issues or failures
func (r *Report) Healthy() bool {
	return r.Failure == FailureNone && len(r.Issues) == 0
}
