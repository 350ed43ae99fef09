package types

import (
	"fmt"
	"time"
)

// WorkloadRef identifies a workload unit
type WorkloadRef struct {
	Namespace string `json:"namespace" yaml:"namespace"`
	Name      string `json:"name" yaml:"name"`
	Kind      string `json:"kind,omitempty" yaml:"kind,omitempty"` // Deployment (default) or StatefulSet
}

// String returns namespace/name
func (r WorkloadRef) String() string {
	return r.Namespace + "/" + r.Name
}

// KindOrDefault returns the workload kind, defaulting to Deployment
func (r WorkloadRef) KindOrDefault() string {
	if r.Kind == "" {
		return KindDeployment
	}
	return r.Kind
}

const (
	KindDeployment  = "Deployment"
	KindStatefulSet = "StatefulSet"
)

// Snapshot is a point-in-time view of one namespace.
// It is produced fresh every cycle and never mutated afterwards.
type Snapshot struct {
	Namespace       string       `json:"namespace" yaml:"namespace"`
	TakenAt         time.Time    `json:"taken_at" yaml:"taken_at"`
	Workloads       []Workload   `json:"workloads" yaml:"workloads"`
	Cluster         ClusterFacts `json:"cluster" yaml:"cluster"`
	RegistrySecrets []string     `json:"registry_secrets,omitempty" yaml:"registry_secrets,omitempty"`
}

// Workload returns the workload with the given name
func (s *Snapshot) Workload(name string) (Workload, bool) {
	for _, w := range s.Workloads {
		if w.Ref.Name == name {
			return w, true
		}
	}
	return Workload{}, false
}

// ClusterFacts are cluster-level signals shared by every workload
type ClusterFacts struct {
	MetricsServerAvailable bool      `json:"metrics_server_available" yaml:"metrics_server_available"`
	MetricsLastScrape      time.Time `json:"metrics_last_scrape,omitempty" yaml:"metrics_last_scrape,omitempty"`
	NetworkPolicies        []string  `json:"network_policies,omitempty" yaml:"network_policies,omitempty"`
	IngressControllerReady bool      `json:"ingress_controller_ready" yaml:"ingress_controller_ready"`
}

// Workload is the collected state of a single workload unit
type Workload struct {
	Ref             WorkloadRef       `json:"ref" yaml:"ref"`
	DesiredReplicas int32             `json:"desired_replicas" yaml:"desired_replicas"`
	ReadyReplicas   int32             `json:"ready_replicas" yaml:"ready_replicas"`
	Replicas        []Replica         `json:"replicas,omitempty" yaml:"replicas,omitempty"`
	Events          []EventRecord     `json:"events,omitempty" yaml:"events,omitempty"`
	LogExcerpt      string            `json:"log_excerpt,omitempty" yaml:"log_excerpt,omitempty"`
	Resources       ResourceRequests  `json:"resources" yaml:"resources"`
	ReadOnlyRootFS  bool              `json:"read_only_root_fs" yaml:"read_only_root_fs"`
	PullSecrets     []string          `json:"pull_secrets,omitempty" yaml:"pull_secrets,omitempty"`
	Autoscaler      *AutoscalerStatus `json:"autoscaler,omitempty" yaml:"autoscaler,omitempty"`
	Ingress         *IngressExposure  `json:"ingress,omitempty" yaml:"ingress,omitempty"`
	Probes          []ProbeResult     `json:"probes,omitempty" yaml:"probes,omitempty"`
}

// Ready reports whether every desired replica is ready
func (w Workload) Ready() bool {
	return w.DesiredReplicas > 0 && w.ReadyReplicas >= w.DesiredReplicas
}

// ResourceRequests is the per-container request of the workload's first container
type ResourceRequests struct {
	CPUMillis   int64 `json:"cpu_millis" yaml:"cpu_millis"`
	MemoryBytes int64 `json:"memory_bytes" yaml:"memory_bytes"`
}

// Replica is one pod of a workload
type Replica struct {
	Name         string            `json:"name" yaml:"name"`
	Phase        PodPhase          `json:"phase" yaml:"phase"`
	PendingSince time.Time         `json:"pending_since,omitempty" yaml:"pending_since,omitempty"`
	Ready        bool              `json:"ready" yaml:"ready"`
	Containers   []ContainerStatus `json:"containers,omitempty" yaml:"containers,omitempty"`
}

// PodPhase mirrors the orchestrator pod phase
type PodPhase string

const (
	PodPending   PodPhase = "Pending"
	PodRunning   PodPhase = "Running"
	PodSucceeded PodPhase = "Succeeded"
	PodFailed    PodPhase = "Failed"
	PodUnknown   PodPhase = "Unknown"
)

// ContainerState is the coarse container state
type ContainerState string

const (
	ContainerWaiting    ContainerState = "waiting"
	ContainerRunning    ContainerState = "running"
	ContainerTerminated ContainerState = "terminated"
)

// ContainerStatus is the observed status of one container
type ContainerStatus struct {
	Name             string         `json:"name" yaml:"name"`
	State            ContainerState `json:"state" yaml:"state"`
	Reason           string         `json:"reason,omitempty" yaml:"reason,omitempty"`
	RestartCount     int32          `json:"restart_count" yaml:"restart_count"`
	RestartsInWindow int32          `json:"restarts_in_window" yaml:"restarts_in_window"`
	LastTermination  *Termination   `json:"last_termination,omitempty" yaml:"last_termination,omitempty"`
}

// Termination describes how a container last exited
type Termination struct {
	Reason     string    `json:"reason,omitempty" yaml:"reason,omitempty"`
	ExitCode   int32     `json:"exit_code" yaml:"exit_code"`
	Signal     int32     `json:"signal,omitempty" yaml:"signal,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// Abnormal reports a non-zero exit or a signal
func (t *Termination) Abnormal() bool {
	return t != nil && (t.ExitCode != 0 || t.Signal != 0)
}

// EventRecord is a recent orchestrator event about the workload or its pods
type EventRecord struct {
	Reason   string    `json:"reason" yaml:"reason"`
	Message  string    `json:"message" yaml:"message"`
	LastSeen time.Time `json:"last_seen" yaml:"last_seen"`
	Count    int32     `json:"count" yaml:"count"`
}

// AutoscalerStatus is the horizontal autoscaler targeting the workload
type AutoscalerStatus struct {
	Name           string `json:"name" yaml:"name"`
	MetricsUnknown bool   `json:"metrics_unknown" yaml:"metrics_unknown"`
}

// IngressExposure describes the ingress routing traffic to the workload
type IngressExposure struct {
	Name           string `json:"name" yaml:"name"`
	BackendMissing bool   `json:"backend_missing" yaml:"backend_missing"`
}

// ProbeResult is the outcome of a cross-call probe originating at the workload
type ProbeResult struct {
	Target  string `json:"target" yaml:"target"`
	Healthy bool   `json:"healthy" yaml:"healthy"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// Category is the closed issue taxonomy, in classification priority order
type Category string

const (
	CategoryImagePullFailure             Category = "ImagePullFailure"
	CategoryCrashLoopBackOff             Category = "CrashLoopBackOff"
	CategoryPendingScheduling            Category = "PendingScheduling"
	CategoryReadOnlyFilesystemViolation  Category = "ReadOnlyFilesystemViolation"
	CategoryIngressUnreachable           Category = "IngressUnreachable"
	CategoryAutoscalerMetricsUnavailable Category = "AutoscalerMetricsUnavailable"
	CategoryNetworkPolicyBlocking        Category = "NetworkPolicyBlocking"
	CategoryHealthy                      Category = "Healthy"
)

// CauseKind refines a category into a specific root cause
type CauseKind string

const (
	CauseDependencyUnreachable CauseKind = "DependencyUnreachable"
	CauseMissingDependency     CauseKind = "MissingDependency"
	CausePortConflict          CauseKind = "PortConflict"
	CauseUnknownCrash          CauseKind = "UnknownCrashCause"
)

// Cause is the refined root cause of an issue
type Cause struct {
	Kind          CauseKind `json:"kind"`
	Dependency    string    `json:"dependency,omitempty"`
	LowLikelihood bool      `json:"low_likelihood,omitempty"`
	Evidence      string    `json:"evidence,omitempty"`
}

// String renders the cause as Kind or Kind(dep)
func (c *Cause) String() string {
	if c == nil {
		return ""
	}
	if c.Dependency != "" {
		return fmt.Sprintf("%s(%s)", c.Kind, c.Dependency)
	}
	return string(c.Kind)
}

// Severity of an issue
type Severity string

const (
	SeverityInformational Severity = "informational"
	SeverityDegraded      Severity = "degraded"
	SeverityCritical      Severity = "critical"
)

// Issue is a classification result for one workload
type Issue struct {
	Workload WorkloadRef `json:"workload"`
	Category Category    `json:"category"`
	Cause    *Cause      `json:"cause,omitempty"`
	Severity Severity    `json:"severity"`
	Signal   string      `json:"signal,omitempty"`
	Snapshot *Snapshot   `json:"-"`
}

// WithCause returns a copy of the issue carrying the given cause
func (i Issue) WithCause(c Cause) Issue {
	i.Cause = &c
	return i
}

// WithSeverity returns a copy of the issue with the given severity
func (i Issue) WithSeverity(s Severity) Issue {
	i.Severity = s
	return i
}
