package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cuemby/triage/pkg/config"
	"github.com/cuemby/triage/pkg/log"
	"github.com/cuemby/triage/pkg/types"
	"github.com/rs/zerolog"
)

const mib = 1 << 20

// History is the slice of the ledger the planner consults
type History interface {
	SucceededWithin(target types.WorkloadRef, kind types.ActionKind, strength int32, window time.Duration) bool
	Escalated(workload types.WorkloadRef, category types.Category) bool
}

// Config holds the planning bounds
type Config struct {
	FlappingWindow      time.Duration
	MinReplicaFloor     int32
	ResourceStepPercent int
	MinCPUMillis        int64
	MinMemoryBytes      int64

	// MetricsServer is the deployment patched for insecure kubelet TLS
	MetricsServer          types.WorkloadRef
	MetricsServerContainer string
}

// ConfigFrom extracts the planner settings
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		FlappingWindow:      cfg.FlappingWindow(),
		MinReplicaFloor:     cfg.MinReplicaFloor,
		ResourceStepPercent: cfg.ResourceStepPercent,
		MinCPUMillis:        cfg.MinCPUMillis,
		MinMemoryBytes:      cfg.MinMemoryMiB * mib,
		MetricsServer: types.WorkloadRef{
			Namespace: cfg.MetricsServer.Namespace,
			Name:      cfg.MetricsServer.Name,
			Kind:      types.KindDeployment,
		},
		MetricsServerContainer: cfg.MetricsServer.Container,
	}
}

// InsecureTLSArg is the metrics-server flag that skips kubelet certificate
// verification
const InsecureTLSArg = "--kubelet-insecure-tls"

// Planner maps an issue to a remediation plan. The result depends only on
// the issue, its snapshot and the ledger state.
type Planner struct {
	cfg     Config
	history History
	logger  zerolog.Logger
}

// New creates a planner. A nil history disables flapping and escalation
// checks.
func New(cfg Config, history History) *Planner {
	if cfg.MinReplicaFloor < 1 {
		cfg.MinReplicaFloor = 1
	}
	return &Planner{
		cfg:     cfg,
		history: history,
		logger:  log.WithComponent("planner"),
	}
}

// Plan builds the plan for an issue
func (p *Planner) Plan(issue types.Issue) types.Plan {
	plan := types.Plan{
		ID:    PlanID(issue),
		Issue: issue,
		Risk:  types.RiskSafeAuto,
	}
	if issue.Snapshot != nil {
		plan.CreatedAt = issue.Snapshot.TakenAt
	}

	w, _ := workload(issue)
	b := &builder{plan: &plan}

	switch issue.Category {
	case types.CategoryImagePullFailure:
		p.imagePull(b, issue, w)
	case types.CategoryCrashLoopBackOff:
		p.crashLoop(b, issue)
	case types.CategoryPendingScheduling:
		p.pending(b, issue, w)
	case types.CategoryReadOnlyFilesystemViolation:
		p.readOnly(b, issue, w)
	case types.CategoryIngressUnreachable:
		b.add(types.Action{
			Kind:         types.ActionVerifyIngressController,
			Target:       issue.Workload,
			Risk:         types.RiskSafeAuto,
			Precondition: types.Always(),
			Description:  "verify an ingress controller is installed and ready",
		})
		b.note("the engine never installs an ingress controller")
	case types.CategoryAutoscalerMetricsUnavailable:
		p.autoscaler(b)
	case types.CategoryNetworkPolicyBlocking:
		b.add(types.Action{
			Kind:         types.ActionSuspendNetworkPolicies,
			Target:       issue.Workload,
			Risk:         types.RiskApprovalRequired,
			Precondition: types.Condition{Kind: types.ConditionNetworkPoliciesPresent},
			Strength:     1,
			Description:  fmt.Sprintf("suspend network policies in %s; deleted policies are recorded for restore", issue.Workload.Namespace),
		})
	}

	p.finish(&plan)
	return plan
}

func (p *Planner) imagePull(b *builder, issue types.Issue, w types.Workload) {
	verify := types.Action{
		Kind:         types.ActionVerifyRegistrySecret,
		Target:       issue.Workload,
		Risk:         types.RiskSafeAuto,
		Precondition: types.Always(),
		Description:  "verify a registry auth secret is present",
	}

	if issue.Snapshot == nil || !types.RegistrySecretPresent(issue.Snapshot, w) {
		b.add(verify)
		b.approval("no registry auth secret; creating one needs a credential")
		return
	}

	b.add(verify)
	b.add(types.Action{
		Kind:          types.ActionRolloutRestart,
		Target:        issue.Workload,
		Risk:          types.RiskSafeAuto,
		Precondition:  notReady(issue.Workload),
		Postcondition: ready(issue.Workload),
		Strength:      1,
		Description:   fmt.Sprintf("rollout restart %s to retry the image pull", issue.Workload),
	})
}

func (p *Planner) crashLoop(b *builder, issue types.Issue) {
	cause := issue.Cause
	if cause == nil {
		cause = &types.Cause{Kind: types.CauseUnknownCrash}
	}

	switch cause.Kind {
	case types.CauseDependencyUnreachable:
		dep := dependencyRef(issue, cause.Dependency)
		b.add(types.Action{
			Kind:         types.ActionVerifyDependencyReady,
			Target:       dep,
			Risk:         types.RiskSafeAuto,
			Precondition: types.Always(),
			Dependency:   cause.Dependency,
			Description:  fmt.Sprintf("verify dependency %s is ready", cause.Dependency),
		})
		b.add(types.Action{
			Kind:          types.ActionRolloutRestart,
			Target:        issue.Workload,
			Risk:          types.RiskSafeAuto,
			Precondition:  notReady(issue.Workload),
			Postcondition: ready(issue.Workload),
			Dependency:    cause.Dependency,
			Strength:      1,
			Description:   fmt.Sprintf("rollout restart %s to reconnect to %s", issue.Workload, cause.Dependency),
		})
	case types.CausePortConflict:
		b.add(types.Action{
			Kind:          types.ActionRolloutRestart,
			Target:        issue.Workload,
			Risk:          types.RiskApprovalRequired,
			Precondition:  notReady(issue.Workload),
			Postcondition: ready(issue.Workload),
			Strength:      1,
			Description:   fmt.Sprintf("rollout restart %s to release the bound port", issue.Workload),
		})
		b.approval("port conflicts are unlikely inside a pod; check for a second listener in the image")
	case types.CauseMissingDependency:
		b.note("the image is missing a module or class; rebuild it")
	default:
		b.note("crash cause not recognized from logs")
	}
}

// pending frees capacity: first by shrinking requests one step, then by
// removing one replica down to the floor
func (p *Planner) pending(b *builder, issue types.Issue, w types.Workload) {
	if w.Resources.CPUMillis > p.cfg.MinCPUMillis {
		reduced := p.reduce(w.Resources)
		b.add(types.Action{
			Kind:   types.ActionReduceResourceRequests,
			Target: issue.Workload,
			Risk:   types.RiskSafeAuto,
			Precondition: types.Condition{
				Kind:     types.ConditionRequestsAbove,
				Workload: issue.Workload.Name,
				Value:    p.cfg.MinCPUMillis,
			},
			Postcondition: ready(issue.Workload),
			Resources:     reduced,
			Strength:      int32(p.cfg.ResourceStepPercent),
			Description: fmt.Sprintf("reduce requests of %s to %dm cpu, %dMi memory",
				issue.Workload, reduced.CPUMillis, reduced.MemoryBytes/mib),
		})
		return
	}

	if w.DesiredReplicas > p.cfg.MinReplicaFloor {
		replicas := w.DesiredReplicas - 1
		b.add(types.Action{
			Kind:   types.ActionScaleDown,
			Target: issue.Workload,
			Risk:   types.RiskSafeAuto,
			Precondition: types.Condition{
				Kind:     types.ConditionReplicasAbove,
				Workload: issue.Workload.Name,
				Value:    int64(p.cfg.MinReplicaFloor),
			},
			Postcondition: types.Postcondition{
				Kind:     types.PostconditionReplicas,
				Target:   issue.Workload,
				Replicas: replicas,
			},
			Replicas:    replicas,
			Strength:    1,
			Description: fmt.Sprintf("scale %s down to %d replicas", issue.Workload, replicas),
		})
		return
	}

	b.note(fmt.Sprintf("requests at floor (%dm cpu) and replicas at floor (%d); add cluster capacity",
		p.cfg.MinCPUMillis, p.cfg.MinReplicaFloor))
}

// reduce shrinks requests by one step, never below the configured minimums
func (p *Planner) reduce(r types.ResourceRequests) types.ResourceRequests {
	keep := int64(100 - p.cfg.ResourceStepPercent)

	out := types.ResourceRequests{
		CPUMillis: max(r.CPUMillis*keep/100, p.cfg.MinCPUMillis),
	}
	if r.MemoryBytes > p.cfg.MinMemoryBytes {
		out.MemoryBytes = max(r.MemoryBytes*keep/100, p.cfg.MinMemoryBytes)
	}
	return out
}

func (p *Planner) readOnly(b *builder, issue types.Issue, w types.Workload) {
	b.add(types.Action{
		Kind:   types.ActionPatchReadOnlyRootFS,
		Target: issue.Workload,
		Risk:   types.RiskApprovalRequired,
		Precondition: types.Condition{
			Kind:     types.ConditionReadOnlyRootFS,
			Workload: issue.Workload.Name,
		},
		Container:   firstContainer(w),
		Strength:    1,
		Description: fmt.Sprintf("set readOnlyRootFilesystem=false on %s", issue.Workload),
	})
	b.add(types.Action{
		Kind:          types.ActionRolloutRestart,
		Target:        issue.Workload,
		Risk:          types.RiskApprovalRequired,
		Precondition:  types.Always(),
		Postcondition: ready(issue.Workload),
		Strength:      1,
		Description:   fmt.Sprintf("rollout restart %s", issue.Workload),
	})
	b.approval("relaxing the root filesystem is security relevant; prefer an emptyDir for the written path")
}

func (p *Planner) autoscaler(b *builder) {
	ms := p.cfg.MetricsServer
	unavailable := types.Condition{Kind: types.ConditionMetricsServerUnavailable}

	b.add(types.Action{
		Kind:         types.ActionPatchMetricsServerTLS,
		Target:       ms,
		Risk:         types.RiskApprovalRequired,
		Precondition: unavailable,
		Container:    p.cfg.MetricsServerContainer,
		Arg:          InsecureTLSArg,
		Strength:     1,
		Description:  fmt.Sprintf("add %s to %s", InsecureTLSArg, ms),
	})
	b.add(types.Action{
		Kind:          types.ActionRolloutRestart,
		Target:        ms,
		Risk:          types.RiskApprovalRequired,
		Precondition:  unavailable,
		Postcondition: ready(ms),
		Strength:      1,
		Description:   fmt.Sprintf("rollout restart %s", ms),
	})
	b.approval("metrics-server is cluster-wide")
}

// finish applies ledger consultation and the zero-action rule, then stamps
// restart tokens
func (p *Planner) finish(plan *types.Plan) {
	issue := plan.Issue

	switch {
	case len(plan.Actions) == 0:
		plan.Risk = types.RiskApprovalRequired
		plan.Failure = types.FailurePlanningImpossible
		plan.Escalation = types.EscalationNoSafeAction
	case p.history != nil && p.history.Escalated(issue.Workload, issue.Category):
		plan.Issue = issue.WithSeverity(types.SeverityCritical)
		p.escalate(plan, types.EscalationRepeatedFailure,
			"repeated failures latched this workload and category; clear the escalation to resume")
	case p.flapping(plan):
		p.escalate(plan, types.EscalationFlapping,
			"the same fix was applied recently and the issue recurred")
	}

	for i := range plan.Actions {
		plan.Actions[i].Token = fmt.Sprintf("%s/%d", plan.ID, i)
	}

	if plan.Escalation != types.EscalationNone {
		p.logger.Info().
			Str("workload", issue.Workload.String()).
			Str("category", string(issue.Category)).
			Str("escalation", string(plan.Escalation)).
			Msg("Plan requires approval")
	}
}

func (p *Planner) flapping(plan *types.Plan) bool {
	if p.history == nil {
		return false
	}
	for _, a := range plan.Actions {
		if a.Kind.Mutating() && p.history.SucceededWithin(a.Target, a.Kind, a.Strength, p.cfg.FlappingWindow) {
			return true
		}
	}
	return false
}

// escalate forces every write action of the plan to approval-required
func (p *Planner) escalate(plan *types.Plan, reason types.EscalationReason, note string) {
	plan.Risk = types.RiskApprovalRequired
	plan.Escalation = reason
	plan.Notes = append(plan.Notes, note)
	for i := range plan.Actions {
		if plan.Actions[i].Kind.Mutating() {
			plan.Actions[i].Risk = types.RiskApprovalRequired
		}
	}
}

// PlanID derives a stable identifier from the issue and snapshot time
func PlanID(issue types.Issue) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s", issue.Workload, issue.Category, issue.Cause.String())
	if issue.Snapshot != nil {
		fmt.Fprintf(h, "|%d", issue.Snapshot.TakenAt.UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

type builder struct {
	plan *types.Plan
}

func (b *builder) add(a types.Action) {
	b.plan.Actions = append(b.plan.Actions, a)
	if a.Risk == types.RiskApprovalRequired {
		b.plan.Risk = types.RiskApprovalRequired
	}
}

func (b *builder) approval(note string) {
	b.plan.Risk = types.RiskApprovalRequired
	b.note(note)
}

func (b *builder) note(note string) {
	b.plan.Notes = append(b.plan.Notes, note)
}

func workload(issue types.Issue) (types.Workload, bool) {
	if issue.Snapshot == nil {
		return types.Workload{Ref: issue.Workload}, false
	}
	return issue.Snapshot.Workload(issue.Workload.Name)
}

// dependencyRef resolves a dependency name to a workload in the same
// namespace, keeping the kind when the snapshot knows it
func dependencyRef(issue types.Issue, name string) types.WorkloadRef {
	ref := types.WorkloadRef{Namespace: issue.Workload.Namespace, Name: name}
	if issue.Snapshot != nil {
		if w, ok := issue.Snapshot.Workload(name); ok {
			ref.Kind = w.Ref.Kind
		}
	}
	return ref
}

func firstContainer(w types.Workload) string {
	for _, r := range w.Replicas {
		if len(r.Containers) > 0 {
			return r.Containers[0].Name
		}
	}
	return ""
}

func notReady(ref types.WorkloadRef) types.Condition {
	return types.Condition{Kind: types.ConditionWorkloadNotReady, Workload: ref.Name}
}

func ready(ref types.WorkloadRef) types.Postcondition {
	return types.Postcondition{Kind: types.PostconditionWorkloadReady, Target: ref}
}
