package types

import (
	"fmt"
	"slices"
)

// ConditionKind enumerates the declared precondition predicates
type ConditionKind string

const (
	ConditionAlways                   ConditionKind = "always"
	ConditionWorkloadNotReady         ConditionKind = "workload-not-ready"
	ConditionDependencyReady          ConditionKind = "dependency-ready"
	ConditionRegistrySecretPresent    ConditionKind = "registry-secret-present"
	ConditionReplicasAbove            ConditionKind = "replicas-above"
	ConditionRequestsAbove            ConditionKind = "requests-above"
	ConditionReadOnlyRootFS           ConditionKind = "read-only-root-fs"
	ConditionNetworkPoliciesPresent   ConditionKind = "network-policies-present"
	ConditionMetricsServerUnavailable ConditionKind = "metrics-server-unavailable"
)

// Condition is a predicate over a snapshot. It is plain data so plans stay
// comparable and serializable.
type Condition struct {
	Kind     ConditionKind `json:"kind"`
	Workload string        `json:"workload,omitempty"`
	Value    int64         `json:"value,omitempty"`
}

// Always is the trivially true condition
func Always() Condition {
	return Condition{Kind: ConditionAlways}
}

// String renders the condition for reports
func (c Condition) String() string {
	switch {
	case c.Workload != "" && c.Value != 0:
		return fmt.Sprintf("%s(%s,%d)", c.Kind, c.Workload, c.Value)
	case c.Workload != "":
		return fmt.Sprintf("%s(%s)", c.Kind, c.Workload)
	}
	return string(c.Kind)
}

// Holds evaluates the condition against a snapshot. A condition about a
// workload that is absent from the snapshot does not hold.
func (c Condition) Holds(s *Snapshot) bool {
	if s == nil {
		return c.Kind == ConditionAlways || c.Kind == ""
	}

	switch c.Kind {
	case ConditionAlways, "":
		return true
	case ConditionNetworkPoliciesPresent:
		return len(s.Cluster.NetworkPolicies) > 0
	case ConditionMetricsServerUnavailable:
		return !s.Cluster.MetricsServerAvailable
	}

	w, ok := s.Workload(c.Workload)
	if !ok {
		return false
	}

	switch c.Kind {
	case ConditionWorkloadNotReady:
		return !w.Ready()
	case ConditionDependencyReady:
		return w.Ready()
	case ConditionRegistrySecretPresent:
		return hasRegistrySecret(s, w)
	case ConditionReplicasAbove:
		return int64(w.DesiredReplicas) > c.Value
	case ConditionRequestsAbove:
		return w.Resources.CPUMillis > c.Value
	case ConditionReadOnlyRootFS:
		return w.ReadOnlyRootFS
	}
	return false
}

// hasRegistrySecret reports whether a registry auth secret usable by the
// workload exists. Workloads without explicit pull secrets accept any
// registry secret in the namespace.
func hasRegistrySecret(s *Snapshot, w Workload) bool {
	if len(w.PullSecrets) == 0 {
		return len(s.RegistrySecrets) > 0
	}
	for _, name := range w.PullSecrets {
		if slices.Contains(s.RegistrySecrets, name) {
			return true
		}
	}
	return false
}

// RegistrySecretPresent is the exported form used by the planner
func RegistrySecretPresent(s *Snapshot, w Workload) bool {
	return hasRegistrySecret(s, w)
}

// PostconditionKind enumerates the verifiable end states of an action
type PostconditionKind string

const (
	PostconditionNone          PostconditionKind = ""
	PostconditionWorkloadReady PostconditionKind = "workload-ready"
	PostconditionReplicas      PostconditionKind = "replicas"
)

// Postcondition is the observable state expected after an action applies
type Postcondition struct {
	Kind     PostconditionKind `json:"kind,omitempty"`
	Target   WorkloadRef       `json:"target,omitempty"`
	Replicas int32             `json:"replicas,omitempty"`
}
