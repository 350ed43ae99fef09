package planner

import (
	"testing"
	"time"

	"github.com/cuemby/triage/pkg/config"
	"github.com/cuemby/triage/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type applied struct {
	target   types.WorkloadRef
	kind     types.ActionKind
	strength int32
	at       time.Time
}

// fakeHistory answers ledger queries from a fixed list relative to now
type fakeHistory struct {
	now       time.Time
	applied   []applied
	escalated map[string]bool
}

func (h *fakeHistory) SucceededWithin(target types.WorkloadRef, kind types.ActionKind, strength int32, window time.Duration) bool {
	for _, a := range h.applied {
		if a.target == target && a.kind == kind && a.strength >= strength && !a.at.Before(h.now.Add(-window)) {
			return true
		}
	}
	return false
}

func (h *fakeHistory) Escalated(workload types.WorkloadRef, category types.Category) bool {
	return h.escalated[types.EscalationKey(workload, category)]
}

var (
	takenAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	backend = types.WorkloadRef{Namespace: "shop", Name: "backend"}
)

func testConfig() Config {
	cfg := config.Default()
	return ConfigFrom(&cfg)
}

func snapshotWith(w types.Workload, secrets ...string) *types.Snapshot {
	return &types.Snapshot{
		Namespace:       "shop",
		TakenAt:         takenAt,
		Workloads:       []types.Workload{w},
		RegistrySecrets: secrets,
	}
}

func crashIssue() types.Issue {
	w := types.Workload{Ref: backend, DesiredReplicas: 2, LogExcerpt: "connection refused: redis:6379"}
	return types.Issue{
		Workload: backend,
		Category: types.CategoryCrashLoopBackOff,
		Severity: types.SeverityCritical,
		Snapshot: snapshotWith(w),
	}.WithCause(types.Cause{Kind: types.CauseDependencyUnreachable, Dependency: "redis"})
}

func kinds(p types.Plan) []types.ActionKind {
	out := make([]types.ActionKind, 0, len(p.Actions))
	for _, a := range p.Actions {
		out = append(out, a.Kind)
	}
	return out
}

func TestPlanImagePullWithoutSecret(t *testing.T) {
	w := types.Workload{Ref: backend, DesiredReplicas: 1}
	issue := types.Issue{Workload: backend, Category: types.CategoryImagePullFailure, Snapshot: snapshotWith(w)}

	plan := New(testConfig(), &fakeHistory{now: takenAt}).Plan(issue)

	assert.Equal(t, []types.ActionKind{types.ActionVerifyRegistrySecret}, kinds(plan))
	assert.Equal(t, types.RiskApprovalRequired, plan.Risk)
	assert.True(t, plan.RequiresApproval())
	assert.NotEmpty(t, plan.Notes)
}

func TestPlanImagePullWithSecret(t *testing.T) {
	w := types.Workload{Ref: backend, DesiredReplicas: 1, PullSecrets: []string{"regcred"}}
	issue := types.Issue{Workload: backend, Category: types.CategoryImagePullFailure, Snapshot: snapshotWith(w, "regcred")}

	plan := New(testConfig(), nil).Plan(issue)

	assert.Equal(t, []types.ActionKind{types.ActionVerifyRegistrySecret, types.ActionRolloutRestart}, kinds(plan))
	assert.Equal(t, types.RiskSafeAuto, plan.Risk)
	assert.Equal(t, types.ConditionWorkloadNotReady, plan.Actions[1].Precondition.Kind)
	assert.Equal(t, types.PostconditionWorkloadReady, plan.Actions[1].Postcondition.Kind)
}

func TestPlanDependencyUnreachable(t *testing.T) {
	plan := New(testConfig(), &fakeHistory{now: takenAt}).Plan(crashIssue())

	require.Equal(t, []types.ActionKind{types.ActionVerifyDependencyReady, types.ActionRolloutRestart}, kinds(plan))
	assert.Equal(t, types.RiskSafeAuto, plan.Risk)
	assert.Equal(t, types.EscalationNone, plan.Escalation)

	verify := plan.Actions[0]
	assert.Equal(t, "redis", verify.Dependency)
	assert.Equal(t, types.WorkloadRef{Namespace: "shop", Name: "redis"}, verify.Target)

	restart := plan.Actions[1]
	assert.Equal(t, backend, restart.Target)
	assert.Equal(t, types.RiskSafeAuto, restart.Risk)
	assert.Equal(t, plan.ID+"/1", restart.Token)
}

func TestPlanDeterministic(t *testing.T) {
	p := New(testConfig(), &fakeHistory{now: takenAt})
	first := p.Plan(crashIssue())
	second := p.Plan(crashIssue())

	first.Issue.Snapshot, second.Issue.Snapshot = nil, nil
	assert.Equal(t, first, second)
	assert.Equal(t, takenAt, first.CreatedAt)
}

func TestPlanFlapping(t *testing.T) {
	tests := []struct {
		name      string
		ago       time.Duration
		strength  int32
		escalated bool
	}{
		{name: "restart eight minutes ago", ago: 8 * time.Minute, strength: 1, escalated: true},
		{name: "restart five minutes ago", ago: 5 * time.Minute, strength: 1, escalated: true},
		{name: "restart outside window", ago: 11 * time.Minute, strength: 1, escalated: false},
		{name: "weaker fix does not count", ago: 5 * time.Minute, strength: 0, escalated: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &fakeHistory{
				now: takenAt,
				applied: []applied{{
					target:   backend,
					kind:     types.ActionRolloutRestart,
					strength: tt.strength,
					at:       takenAt.Add(-tt.ago),
				}},
			}

			plan := New(testConfig(), h).Plan(crashIssue())
			if !tt.escalated {
				assert.Equal(t, types.RiskSafeAuto, plan.Risk)
				return
			}
			assert.Equal(t, types.RiskApprovalRequired, plan.Risk)
			assert.Equal(t, types.EscalationFlapping, plan.Escalation)
			assert.Equal(t, types.RiskSafeAuto, plan.Actions[0].Risk, "read-only checks stay safe")
			assert.Equal(t, types.RiskApprovalRequired, plan.Actions[1].Risk)
		})
	}
}

func TestPlanEscalationLatch(t *testing.T) {
	h := &fakeHistory{
		now: takenAt,
		escalated: map[string]bool{
			types.EscalationKey(backend, types.CategoryCrashLoopBackOff): true,
		},
	}

	issue := crashIssue()
	issue.Severity = types.SeverityDegraded
	plan := New(testConfig(), h).Plan(issue)

	assert.Equal(t, types.RiskApprovalRequired, plan.Risk)
	assert.Equal(t, types.EscalationRepeatedFailure, plan.Escalation)
	assert.Equal(t, types.SeverityCritical, plan.Issue.Severity)
}

func TestPlanZeroAction(t *testing.T) {
	for _, kind := range []types.CauseKind{types.CauseUnknownCrash, types.CauseMissingDependency} {
		t.Run(string(kind), func(t *testing.T) {
			issue := crashIssue()
			issue.Cause = &types.Cause{Kind: kind}

			plan := New(testConfig(), nil).Plan(issue)
			assert.Empty(t, plan.Actions)
			assert.Equal(t, types.RiskApprovalRequired, plan.Risk)
			assert.Equal(t, types.FailurePlanningImpossible, plan.Failure)
			assert.Equal(t, types.EscalationNoSafeAction, plan.Escalation)
		})
	}
}

func TestPlanPortConflict(t *testing.T) {
	issue := crashIssue()
	issue.Cause = &types.Cause{Kind: types.CausePortConflict, LowLikelihood: true}

	plan := New(testConfig(), nil).Plan(issue)
	assert.Equal(t, []types.ActionKind{types.ActionRolloutRestart}, kinds(plan))
	assert.Equal(t, types.RiskApprovalRequired, plan.Risk)
}

func TestPlanPendingScheduling(t *testing.T) {
	pending := func(cpu int64, replicas int32) types.Issue {
		w := types.Workload{
			Ref:             backend,
			DesiredReplicas: replicas,
			Resources:       types.ResourceRequests{CPUMillis: cpu, MemoryBytes: 512 * mib},
		}
		return types.Issue{Workload: backend, Category: types.CategoryPendingScheduling, Snapshot: snapshotWith(w)}
	}
	p := New(testConfig(), nil)

	t.Run("reduce requests one step", func(t *testing.T) {
		plan := p.Plan(pending(500, 3))
		require.Equal(t, []types.ActionKind{types.ActionReduceResourceRequests}, kinds(plan))
		assert.Equal(t, types.RiskSafeAuto, plan.Risk)
		assert.Equal(t, types.ResourceRequests{CPUMillis: 375, MemoryBytes: 384 * mib}, plan.Actions[0].Resources)
	})

	t.Run("reduction clamps at the minimum", func(t *testing.T) {
		plan := p.Plan(pending(60, 3))
		require.Len(t, plan.Actions, 1)
		assert.Equal(t, int64(50), plan.Actions[0].Resources.CPUMillis)
	})

	t.Run("scale down once requests are at the floor", func(t *testing.T) {
		plan := p.Plan(pending(50, 3))
		require.Equal(t, []types.ActionKind{types.ActionScaleDown}, kinds(plan))
		assert.Equal(t, int32(2), plan.Actions[0].Replicas)
		assert.Equal(t, types.PostconditionReplicas, plan.Actions[0].Postcondition.Kind)
		assert.Equal(t, types.RiskSafeAuto, plan.Risk)
	})

	t.Run("nothing left at one replica", func(t *testing.T) {
		plan := p.Plan(pending(50, 1))
		assert.Empty(t, plan.Actions)
		assert.Equal(t, types.FailurePlanningImpossible, plan.Failure)
	})

	t.Run("floor below one is raised to one", func(t *testing.T) {
		cfg := testConfig()
		cfg.MinReplicaFloor = 0
		plan := New(cfg, nil).Plan(pending(50, 1))
		assert.Empty(t, plan.Actions)
	})
}

func TestPlanOtherCategories(t *testing.T) {
	w := types.Workload{
		Ref:             backend,
		DesiredReplicas: 1,
		ReadyReplicas:   1,
		Replicas: []types.Replica{{
			Name:       "backend-0",
			Containers: []types.ContainerStatus{{Name: "app"}},
		}},
	}

	tests := []struct {
		category types.Category
		kinds    []types.ActionKind
		risk     types.RiskTier
	}{
		{types.CategoryReadOnlyFilesystemViolation, []types.ActionKind{types.ActionPatchReadOnlyRootFS, types.ActionRolloutRestart}, types.RiskApprovalRequired},
		{types.CategoryIngressUnreachable, []types.ActionKind{types.ActionVerifyIngressController}, types.RiskSafeAuto},
		{types.CategoryAutoscalerMetricsUnavailable, []types.ActionKind{types.ActionPatchMetricsServerTLS, types.ActionRolloutRestart}, types.RiskApprovalRequired},
		{types.CategoryNetworkPolicyBlocking, []types.ActionKind{types.ActionSuspendNetworkPolicies}, types.RiskApprovalRequired},
	}

	p := New(testConfig(), nil)
	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			plan := p.Plan(types.Issue{Workload: backend, Category: tt.category, Snapshot: snapshotWith(w)})
			assert.Equal(t, tt.kinds, kinds(plan))
			assert.Equal(t, tt.risk, plan.Risk)
		})
	}

	t.Run("metrics-server target", func(t *testing.T) {
		plan := p.Plan(types.Issue{Workload: backend, Category: types.CategoryAutoscalerMetricsUnavailable, Snapshot: snapshotWith(w)})
		ms := types.WorkloadRef{Namespace: "kube-system", Name: "metrics-server", Kind: types.KindDeployment}
		assert.Equal(t, ms, plan.Actions[0].Target)
		assert.Equal(t, InsecureTLSArg, plan.Actions[0].Arg)
		assert.Equal(t, ms, plan.Actions[1].Target)
	})

	t.Run("read-only patch names the container", func(t *testing.T) {
		plan := p.Plan(types.Issue{Workload: backend, Category: types.CategoryReadOnlyFilesystemViolation, Snapshot: snapshotWith(w)})
		assert.Equal(t, "app", plan.Actions[0].Container)
	})
}
