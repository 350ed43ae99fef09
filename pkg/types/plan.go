package types

import (
	"time"
)

// ActionKind enumerates the remediation catalog
type ActionKind string

const (
	ActionVerifyRegistrySecret    ActionKind = "verify-registry-auth-secret-present"
	ActionVerifyDependencyReady   ActionKind = "verify-dependency-ready"
	ActionVerifyIngressController ActionKind = "verify-ingress-controller-installed"
	ActionRolloutRestart          ActionKind = "rollout-restart"
	ActionReduceResourceRequests  ActionKind = "reduce-resource-requests"
	ActionScaleDown               ActionKind = "scale-replicas-down"
	ActionPatchReadOnlyRootFS     ActionKind = "patch-readonly-root-filesystem"
	ActionPatchMetricsServerTLS   ActionKind = "patch-metrics-server-insecure-tls"
	ActionSuspendNetworkPolicies  ActionKind = "suspend-network-policies"
)

// Mutating reports whether the action writes to the orchestration API
func (k ActionKind) Mutating() bool {
	switch k {
	case ActionVerifyRegistrySecret, ActionVerifyDependencyReady, ActionVerifyIngressController:
		return false
	}
	return true
}

// RiskTier decides whether an action may run unsupervised
type RiskTier string

const (
	RiskSafeAuto         RiskTier = "safe-auto"
	RiskApprovalRequired RiskTier = "approval-required"
)

// Action is a single idempotent remediation step
type Action struct {
	Kind          ActionKind       `json:"kind"`
	Target        WorkloadRef      `json:"target"`
	Risk          RiskTier         `json:"risk"`
	Precondition  Condition        `json:"precondition"`
	Postcondition Postcondition    `json:"postcondition"`
	Dependency    string           `json:"dependency,omitempty"`
	Replicas      int32            `json:"replicas,omitempty"`
	Resources     ResourceRequests `json:"resources,omitempty"`
	Container     string           `json:"container,omitempty"`
	Arg           string           `json:"arg,omitempty"`
	// Strength orders actions of the same kind; a larger value is a stronger fix.
	Strength      int32            `json:"strength"`
	Token         string           `json:"token,omitempty"`
	Description   string           `json:"description"`
}

// EscalationReason explains why a plan was forced to approval-required
type EscalationReason string

const (
	EscalationNone            EscalationReason = ""
	EscalationFlapping        EscalationReason = "flapping"
	EscalationRepeatedFailure EscalationReason = "repeated-failure"
	EscalationNoSafeAction    EscalationReason = "no-safe-action"
)

// Plan is an ordered list of actions for one issue. Immutable once built.
type Plan struct {
	ID         string           `json:"id"`
	Issue      Issue            `json:"issue"`
	Actions    []Action         `json:"actions"`
	Risk       RiskTier         `json:"risk"`
	Escalation EscalationReason `json:"escalation,omitempty"`
	Failure    FailureKind      `json:"failure,omitempty"`
	Notes      []string         `json:"notes,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// RequiresApproval reports whether the plan as a whole needs sign-off
func (p Plan) RequiresApproval() bool {
	return p.Risk == RiskApprovalRequired
}

// Outcome is the recorded result of one action attempt
type Outcome string

const (
	OutcomeSucceeded         Outcome = "succeeded"
	OutcomeSkipped           Outcome = "skipped-by-precondition"
	OutcomePendingApproval   Outcome = "pending-approval"
	OutcomeFailedFatal       Outcome = "failed-fatal"
	OutcomeFailedExhausted   Outcome = "failed-exhausted"
	OutcomeAppliedUnverified Outcome = "applied-unverified"
)

// Failed reports whether the outcome counts as a failed remediation
func (o Outcome) Failed() bool {
	return o == OutcomeFailedFatal || o == OutcomeFailedExhausted
}

// FailureKind is the engine error taxonomy
type FailureKind string

const (
	FailureNone                    FailureKind = ""
	FailureCollection              FailureKind = "CollectionFailure"
	FailureClassificationAmbiguous FailureKind = "ClassificationAmbiguous"
	FailurePlanningImpossible      FailureKind = "PlanningImpossible"
	FailureActionRetryable         FailureKind = "ActionFailedRetryable"
	FailureActionFatal             FailureKind = "ActionFailedFatal"
	FailurePostconditionTimeout    FailureKind = "PostconditionTimeout"
)

// Attempt is the ledger record of executing (or not executing) one action
type Attempt struct {
	ID          string      `json:"id"`
	CycleID     string      `json:"cycle_id"`
	PlanID      string      `json:"plan_id"`
	ActionIndex int         `json:"action_index"`
	Action      ActionKind  `json:"action"`
	Workload    WorkloadRef `json:"workload"`
	Target      WorkloadRef `json:"target"`
	Category    Category    `json:"category"`
	Strength    int32       `json:"strength"`
	Outcome     Outcome     `json:"outcome"`
	Failure     FailureKind `json:"failure,omitempty"`
	Retries     int         `json:"retries"`
	Error       string      `json:"error,omitempty"`
	Note        string      `json:"note,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// CheckFailed reports whether a read-only check answered no. Such attempts
// are recorded as skipped with the check's error, end the plan and never
// count toward escalation.
func (a Attempt) CheckFailed() bool {
	return a.Outcome == OutcomeSkipped && a.Error != ""
}

// Escalation latches a (workload, category) pair out of safe-auto remediation
// until an operator clears it.
type Escalation struct {
	Workload     WorkloadRef `json:"workload"`
	Category     Category    `json:"category"`
	FailedCycles int         `json:"failed_cycles"`
	RaisedAt     time.Time   `json:"raised_at"`
}

// Key identifies the escalated pair
func (e Escalation) Key() string {
	return EscalationKey(e.Workload, e.Category)
}

// EscalationKey builds the key for a (workload, category) pair
func EscalationKey(w WorkloadRef, c Category) string {
	return w.String() + "|" + string(c)
}
