package refiner

import (
	"testing"

	"github.com/cuemby/triage/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		excerpt string
		kind    types.CauseKind
		dep     string
		low     bool
	}{
		{
			name:    "connection refused to named service",
			excerpt: "2026-03-01T12:00:00Z ERROR cache: connection refused: redis:6379",
			kind:    types.CauseDependencyUnreachable,
			dep:     "redis",
		},
		{
			name:    "go dialer with cluster dns name",
			excerpt: "dial tcp postgres.shop.svc.cluster.local:5432: connect: connection refused",
			kind:    types.CauseDependencyUnreachable,
			dep:     "postgres",
		},
		{
			name:    "node style refusal",
			excerpt: "Error: connect ECONNREFUSED rabbitmq:5672",
			kind:    types.CauseDependencyUnreachable,
			dep:     "rabbitmq",
		},
		{
			name:    "redis client names the host first",
			excerpt: "Error 111 connecting to redis:6379. Connection refused.",
			kind:    types.CauseDependencyUnreachable,
			dep:     "redis",
		},
		{
			name:    "host after at, refusal at end of line",
			excerpt: "Could not connect to Redis at redis.shop.svc:6379: Connection refused",
			kind:    types.CauseDependencyUnreachable,
			dep:     "redis",
		},
		{
			name:    "host first from bare ip has no dependency",
			excerpt: "Error 111 connecting to 10.0.0.12:6379. Connection refused.",
			kind:    types.CauseUnknownCrash,
		},
		{
			name:    "refusal from bare ip has no dependency",
			excerpt: "dial tcp 10.0.0.12:6379: connect: connection refused",
			kind:    types.CauseUnknownCrash,
		},
		{
			name:    "python import",
			excerpt: "ModuleNotFoundError: No module named 'flask'",
			kind:    types.CauseMissingDependency,
		},
		{
			name:    "node require",
			excerpt: "Error: Cannot find module 'express'",
			kind:    types.CauseMissingDependency,
		},
		{
			name:    "java classpath",
			excerpt: "Exception in thread \"main\" java.lang.NoClassDefFoundError: org/slf4j/Logger",
			kind:    types.CauseMissingDependency,
		},
		{
			name:    "port in use",
			excerpt: "listen tcp :8080: bind: address already in use",
			kind:    types.CausePortConflict,
			low:     true,
		},
		{
			name:    "nothing recognizable",
			excerpt: "panic: runtime error: index out of range [3] with length 3",
			kind:    types.CauseUnknownCrash,
		},
		{
			name: "empty excerpt",
			kind: types.CauseUnknownCrash,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Match(tt.excerpt)
			assert.Equal(t, tt.kind, c.Kind)
			assert.Equal(t, tt.dep, c.Dependency)
			assert.Equal(t, tt.low, c.LowLikelihood)
			if tt.kind != types.CauseUnknownCrash {
				assert.NotEmpty(t, c.Evidence)
			}
		})
	}
}

func TestMatchOrder(t *testing.T) {
	// Both a refused connection and a port conflict; the earlier pattern wins
	c := Match("bind: address already in use\nconnection refused: redis:6379")
	assert.Equal(t, types.CauseDependencyUnreachable, c.Kind)
	assert.Equal(t, "redis", c.Dependency)
}

func TestRefine(t *testing.T) {
	s := &types.Snapshot{
		Namespace: "shop",
		Workloads: []types.Workload{{
			Ref:        types.WorkloadRef{Namespace: "shop", Name: "backend"},
			LogExcerpt: "connection refused: redis:6379",
		}},
	}

	issue := types.Issue{
		Workload: types.WorkloadRef{Namespace: "shop", Name: "backend"},
		Category: types.CategoryCrashLoopBackOff,
		Severity: types.SeverityCritical,
		Snapshot: s,
	}

	refined := Refine(issue)
	require.NotNil(t, refined.Cause)
	assert.Equal(t, "DependencyUnreachable(redis)", refined.Cause.String())
	assert.Nil(t, issue.Cause, "input must not be mutated")

	t.Run("other categories untouched", func(t *testing.T) {
		other := issue
		other.Category = types.CategoryImagePullFailure
		assert.Nil(t, Refine(other).Cause)
	})

	t.Run("workload missing from snapshot", func(t *testing.T) {
		missing := issue
		missing.Workload.Name = "ghost"
		refined := Refine(missing)
		require.NotNil(t, refined.Cause)
		assert.Equal(t, types.CauseUnknownCrash, refined.Cause.Kind)
	})
}
