package classifier

import (
	"testing"
	"time"

	"github.com/cuemby/triage/pkg/config"
	"github.com/cuemby/triage/pkg/metrics"
	"github.com/cuemby/triage/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var takenAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testThresholds() Thresholds {
	return Thresholds{
		CrashLoopRestarts: 5,
		PendingGrace:      2 * time.Minute,
		MetricsStale:      5 * time.Minute,
	}
}

func healthy(name string) types.Workload {
	return types.Workload{
		Ref:             types.WorkloadRef{Namespace: "shop", Name: name},
		DesiredReplicas: 1,
		ReadyReplicas:   1,
		Replicas: []types.Replica{{
			Name:  name + "-0",
			Phase: types.PodRunning,
			Ready: true,
			Containers: []types.ContainerStatus{{
				Name:  name,
				State: types.ContainerRunning,
			}},
		}},
	}
}

func snapshot(workloads ...types.Workload) *types.Snapshot {
	return &types.Snapshot{
		Namespace: "shop",
		TakenAt:   takenAt,
		Workloads: workloads,
		Cluster: types.ClusterFacts{
			MetricsServerAvailable: true,
			MetricsLastScrape:      takenAt.Add(-30 * time.Second),
			IngressControllerReady: true,
		},
	}
}

func imagePulling(name string) types.Workload {
	w := healthy(name)
	w.ReadyReplicas = 0
	w.Replicas[0].Ready = false
	w.Replicas[0].Containers[0].State = types.ContainerWaiting
	w.Replicas[0].Containers[0].Reason = "ImagePullBackOff"
	return w
}

func crashLooping(name string, restarts int32) types.Workload {
	w := healthy(name)
	w.ReadyReplicas = 0
	w.Replicas[0].Ready = false
	w.Replicas[0].Containers[0] = types.ContainerStatus{
		Name:             name,
		State:            types.ContainerWaiting,
		Reason:           "CrashLoopBackOff",
		RestartCount:     restarts,
		RestartsInWindow: restarts,
		LastTermination:  &types.Termination{Reason: "Error", ExitCode: 1},
	}
	w.LogExcerpt = "Error: connection refused: redis:6379"
	return w
}

func TestClassifyHealthy(t *testing.T) {
	c := New(testThresholds())
	assert.Empty(t, c.Classify(snapshot(healthy("api"), healthy("web"))))
	assert.Empty(t, c.Classify(nil))
}

func TestClassifyCategories(t *testing.T) {
	tests := []struct {
		name     string
		workload func() types.Workload
		cluster  func(*types.ClusterFacts)
		category types.Category
		severity types.Severity
	}{
		{
			name:     "image pull",
			workload: func() types.Workload { return imagePulling("api") },
			category: types.CategoryImagePullFailure,
			severity: types.SeverityCritical,
		},
		{
			name:     "crash loop",
			workload: func() types.Workload { return crashLooping("api", 6) },
			category: types.CategoryCrashLoopBackOff,
			severity: types.SeverityCritical,
		},
		{
			name: "pending scheduling",
			workload: func() types.Workload {
				w := healthy("api")
				w.ReadyReplicas = 0
				w.Replicas[0] = types.Replica{
					Name:         "api-0",
					Phase:        types.PodPending,
					PendingSince: takenAt.Add(-10 * time.Minute),
				}
				w.Events = []types.EventRecord{{
					Reason:  "FailedScheduling",
					Message: "0/3 nodes are available: 3 Insufficient cpu.",
				}}
				return w
			},
			category: types.CategoryPendingScheduling,
			severity: types.SeverityDegraded,
		},
		{
			name: "read-only filesystem from logs",
			workload: func() types.Workload {
				w := healthy("api")
				w.LogExcerpt = "open /var/cache/app.db: read-only file system"
				return w
			},
			category: types.CategoryReadOnlyFilesystemViolation,
			severity: types.SeverityCritical,
		},
		{
			name: "ingress without controller",
			workload: func() types.Workload {
				w := healthy("api")
				w.Ingress = &types.IngressExposure{Name: "api"}
				return w
			},
			cluster:  func(c *types.ClusterFacts) { c.IngressControllerReady = false },
			category: types.CategoryIngressUnreachable,
			severity: types.SeverityInformational,
		},
		{
			name: "ingress backend missing",
			workload: func() types.Workload {
				w := healthy("api")
				w.Ingress = &types.IngressExposure{Name: "api", BackendMissing: true}
				return w
			},
			category: types.CategoryIngressUnreachable,
			severity: types.SeverityInformational,
		},
		{
			name: "autoscaler metrics unavailable",
			workload: func() types.Workload {
				w := healthy("api")
				w.Autoscaler = &types.AutoscalerStatus{Name: "api", MetricsUnknown: true}
				return w
			},
			cluster:  func(c *types.ClusterFacts) { c.MetricsServerAvailable = false },
			category: types.CategoryAutoscalerMetricsUnavailable,
			severity: types.SeverityDegraded,
		},
		{
			name: "autoscaler metrics stale",
			workload: func() types.Workload {
				w := healthy("api")
				w.Autoscaler = &types.AutoscalerStatus{Name: "api", MetricsUnknown: true}
				return w
			},
			cluster:  func(c *types.ClusterFacts) { c.MetricsLastScrape = takenAt.Add(-time.Hour) },
			category: types.CategoryAutoscalerMetricsUnavailable,
			severity: types.SeverityDegraded,
		},
		{
			name: "network policy blocking",
			workload: func() types.Workload {
				w := healthy("api")
				w.Probes = []types.ProbeResult{{Target: "http://db:5432", Message: "i/o timeout"}}
				return w
			},
			cluster:  func(c *types.ClusterFacts) { c.NetworkPolicies = []string{"default-deny"} },
			category: types.CategoryNetworkPolicyBlocking,
			severity: types.SeverityDegraded,
		},
	}

	c := New(testThresholds())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := snapshot(tt.workload())
			if tt.cluster != nil {
				tt.cluster(&s.Cluster)
			}

			issues := c.Classify(s)
			require.Len(t, issues, 1)
			assert.Equal(t, tt.category, issues[0].Category)
			assert.Equal(t, tt.severity, issues[0].Severity)
			assert.Equal(t, "api", issues[0].Workload.Name)
			assert.NotEmpty(t, issues[0].Signal)
			assert.Same(t, s, issues[0].Snapshot)
		})
	}
}

func TestClassifyPriority(t *testing.T) {
	// Matches image pull, crash loop and read-only at once
	w := crashLooping("api", 9)
	w.Replicas[0].Containers = append(w.Replicas[0].Containers, types.ContainerStatus{
		Name:   "sidecar",
		State:  types.ContainerWaiting,
		Reason: "ErrImagePull",
	})
	w.LogExcerpt = "mkdir /data: read-only file system"

	issues := New(testThresholds()).Classify(snapshot(w))
	require.Len(t, issues, 1)
	assert.Equal(t, types.CategoryImagePullFailure, issues[0].Category)
}

func TestClassifyOrderAndUniqueness(t *testing.T) {
	s := snapshot(crashLooping("worker", 8), healthy("cache"), imagePulling("api"), crashLooping("billing", 7))

	issues := New(testThresholds()).Classify(s)
	require.Len(t, issues, 3)

	names := make([]string, 0, len(issues))
	for _, i := range issues {
		names = append(names, i.Workload.Name)
	}
	assert.Equal(t, []string{"api", "billing", "worker"}, names)
}

func TestClassifyThresholds(t *testing.T) {
	c := New(testThresholds())

	t.Run("restarts at threshold", func(t *testing.T) {
		assert.Empty(t, c.Classify(snapshot(crashLooping("api", 5))))
	})

	t.Run("clean exits", func(t *testing.T) {
		w := crashLooping("api", 9)
		w.Replicas[0].Containers[0].LastTermination = &types.Termination{Reason: "Completed"}
		assert.Empty(t, c.Classify(snapshot(w)))
	})

	t.Run("pending inside grace", func(t *testing.T) {
		w := healthy("api")
		w.ReadyReplicas = 0
		w.Replicas[0] = types.Replica{Name: "api-0", Phase: types.PodPending, PendingSince: takenAt.Add(-time.Minute)}
		w.Events = []types.EventRecord{{Reason: "FailedScheduling", Message: "0/3 nodes are available"}}
		assert.Empty(t, c.Classify(snapshot(w)))
	})

	t.Run("ingress on unready workload", func(t *testing.T) {
		w := healthy("api")
		w.ReadyReplicas = 0
		w.Ingress = &types.IngressExposure{Name: "api", BackendMissing: true}
		assert.Empty(t, c.Classify(snapshot(w)))
	})
}

func TestClassifyAmbiguous(t *testing.T) {
	c := New(testThresholds())
	before := testutil.ToFloat64(metrics.ClassificationAmbiguous)

	// Probe failure without any network policy to blame
	w := healthy("api")
	w.Probes = []types.ProbeResult{{Target: "tcp://db:5432", Message: "refused"}}

	// Autoscaler blind while metrics-server is healthy
	hpa := healthy("web")
	hpa.Autoscaler = &types.AutoscalerStatus{Name: "web", MetricsUnknown: true}

	res := c.ClassifyDetailed(snapshot(w, hpa))
	assert.Empty(t, res.Issues)
	require.Len(t, res.Ambiguous, 2)
	assert.Equal(t, "api", res.Ambiguous[0].Workload.Name)
	assert.Contains(t, res.Ambiguous[0].Signal, "without network policies")
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.ClassificationAmbiguous))
}

func TestThresholdsFromConfig(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, testThresholds(), ThresholdsFromConfig(&cfg))
}
