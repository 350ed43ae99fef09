package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cuemby/triage/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
	"k8s.io/utils/ptr"
)

var backendRef = types.WorkloadRef{Namespace: "shop", Name: "backend"}

func deployment(name string, replicas, ready int32) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "shop", Generation: 2},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(replicas),
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:  name,
						Image: "registry.example.com/" + name + ":1.0",
						Args:  []string{"--port=8080"},
						Resources: corev1.ResourceRequirements{
							Requests: corev1.ResourceList{
								corev1.ResourceCPU:    resource.MustParse("500m"),
								corev1.ResourceMemory: resource.MustParse("256Mi"),
							},
						},
						SecurityContext: &corev1.SecurityContext{ReadOnlyRootFilesystem: ptr.To(true)},
					}},
				},
			},
		},
		Status: appsv1.DeploymentStatus{
			ReadyReplicas:      ready,
			UpdatedReplicas:    replicas,
			ObservedGeneration: 2,
		},
	}
}

func newTestClient(objects ...runtime.Object) (*Kubernetes, *fake.Clientset) {
	cs := fake.NewSimpleClientset(objects...)
	return NewKubernetes(cs, "app.kubernetes.io/name=ingress-nginx"), cs
}

func getDeployment(t *testing.T, cs *fake.Clientset, name string) *appsv1.Deployment {
	t.Helper()
	d, err := cs.AppsV1().Deployments("shop").Get(context.Background(), name, metav1.GetOptions{})
	require.NoError(t, err)
	return d
}

func countPatches(cs *fake.Clientset) int {
	n := 0
	for _, a := range cs.Actions() {
		if a.GetVerb() == "patch" {
			n++
		}
	}
	return n
}

func TestGetWorkload(t *testing.T) {
	k, _ := newTestClient(deployment("backend", 3, 1))

	state, err := k.GetWorkload(context.Background(), backendRef)
	require.NoError(t, err)
	assert.Equal(t, int32(3), state.DesiredReplicas)
	assert.Equal(t, int32(1), state.ReadyReplicas)
	assert.False(t, state.Ready())

	_, err = k.GetWorkload(context.Background(), types.WorkloadRef{Namespace: "shop", Name: "missing"})
	assert.True(t, apierrors.IsNotFound(err))

	_, err = k.GetWorkload(context.Background(), types.WorkloadRef{Namespace: "shop", Name: "x", Kind: "DaemonSet"})
	assert.True(t, errors.Is(err, ErrUnsupportedKind))
}

func TestRolloutRestartIdempotent(t *testing.T) {
	k, cs := newTestClient(deployment("backend", 2, 0))
	ctx := context.Background()

	require.NoError(t, k.RolloutRestart(ctx, backendRef, "plan-1/1"))
	d := getDeployment(t, cs, "backend")
	assert.Equal(t, "plan-1/1", d.Spec.Template.Annotations[RestartAnnotation])
	assert.Equal(t, 1, countPatches(cs))

	// Same token: no second patch
	require.NoError(t, k.RolloutRestart(ctx, backendRef, "plan-1/1"))
	assert.Equal(t, 1, countPatches(cs))

	// New token restarts again
	require.NoError(t, k.RolloutRestart(ctx, backendRef, "plan-2/1"))
	assert.Equal(t, 2, countPatches(cs))
}

func TestScale(t *testing.T) {
	k, cs := newTestClient(deployment("backend", 3, 3))

	require.NoError(t, k.Scale(context.Background(), backendRef, 2))
	assert.Equal(t, int32(2), *getDeployment(t, cs, "backend").Spec.Replicas)
}

func TestSetResourceRequests(t *testing.T) {
	k, cs := newTestClient(deployment("backend", 1, 0))

	err := k.SetResourceRequests(context.Background(), backendRef, "", types.ResourceRequests{
		CPUMillis:   375,
		MemoryBytes: 192 * 1024 * 1024,
	})
	require.NoError(t, err)

	c := getDeployment(t, cs, "backend").Spec.Template.Spec.Containers[0]
	assert.Equal(t, int64(375), c.Resources.Requests.Cpu().MilliValue())
	assert.Equal(t, int64(192*1024*1024), c.Resources.Requests.Memory().Value())
	assert.Equal(t, "registry.example.com/backend:1.0", c.Image, "merge keeps other fields")

	err = k.SetResourceRequests(context.Background(), backendRef, "sidecar", types.ResourceRequests{CPUMillis: 100})
	assert.True(t, errors.Is(err, ErrContainerNotFound))
}

func TestSetReadOnlyRootFilesystem(t *testing.T) {
	k, cs := newTestClient(deployment("backend", 1, 0))

	require.NoError(t, k.SetReadOnlyRootFilesystem(context.Background(), backendRef, "backend", false))
	c := getDeployment(t, cs, "backend").Spec.Template.Spec.Containers[0]
	require.NotNil(t, c.SecurityContext)
	assert.False(t, *c.SecurityContext.ReadOnlyRootFilesystem)
}

func TestEnsureContainerArg(t *testing.T) {
	k, cs := newTestClient(deployment("metrics-server", 1, 0))
	ref := types.WorkloadRef{Namespace: "shop", Name: "metrics-server"}
	ctx := context.Background()

	require.NoError(t, k.EnsureContainerArg(ctx, ref, "metrics-server", "--kubelet-insecure-tls"))
	require.NoError(t, k.EnsureContainerArg(ctx, ref, "metrics-server", "--kubelet-insecure-tls"))

	c := getDeployment(t, cs, "metrics-server").Spec.Template.Spec.Containers[0]
	assert.Equal(t, []string{"--port=8080", "--kubelet-insecure-tls"}, c.Args)
	assert.Equal(t, 1, countPatches(cs))
}

func TestNetworkPolicies(t *testing.T) {
	deny := &networkingv1.NetworkPolicy{
		ObjectMeta: metav1.ObjectMeta{Name: "deny-all", Namespace: "shop"},
		Spec: networkingv1.NetworkPolicySpec{
			PolicyTypes: []networkingv1.PolicyType{networkingv1.PolicyTypeEgress},
		},
	}
	allow := &networkingv1.NetworkPolicy{ObjectMeta: metav1.ObjectMeta{Name: "allow-dns", Namespace: "shop"}}
	k, _ := newTestClient(deny, allow)
	ctx := context.Background()

	names, err := k.ListNetworkPolicies(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, []string{"allow-dns", "deny-all"}, names)

	saved, err := k.DeleteNetworkPolicy(ctx, "shop", "deny-all")
	require.NoError(t, err)
	assert.Contains(t, saved, `"name":"deny-all"`)
	assert.Contains(t, saved, "Egress")

	// Already gone
	saved, err = k.DeleteNetworkPolicy(ctx, "shop", "deny-all")
	require.NoError(t, err)
	assert.Empty(t, saved)

	names, err = k.ListNetworkPolicies(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, []string{"allow-dns"}, names)
}

func TestRegistrySecretPresent(t *testing.T) {
	pull := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "regcred", Namespace: "shop"},
		Type:       corev1.SecretTypeDockerConfigJson,
	}
	opaque := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "db-password", Namespace: "shop"},
		Type:       corev1.SecretTypeOpaque,
	}
	k, _ := newTestClient(pull, opaque)
	ctx := context.Background()

	ok, err := k.RegistrySecretPresent(ctx, "shop", nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = k.RegistrySecretPresent(ctx, "shop", []string{"other"})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = k.RegistrySecretPresent(ctx, "payments", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIngressControllerReady(t *testing.T) {
	controller := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "ingress-nginx-controller-abc",
			Namespace: "ingress-nginx",
			Labels:    map[string]string{"app.kubernetes.io/name": "ingress-nginx"},
		},
		Status: corev1.PodStatus{
			Conditions: []corev1.PodCondition{{Type: corev1.PodReady, Status: corev1.ConditionTrue}},
		},
	}

	k, _ := newTestClient()
	ready, err := k.IngressControllerReady(context.Background())
	require.NoError(t, err)
	assert.False(t, ready)

	k, _ = newTestClient(controller)
	ready, err = k.IngressControllerReady(context.Background())
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestAPIErrorsSurface(t *testing.T) {
	k, cs := newTestClient(deployment("backend", 1, 0))
	cs.PrependReactor("patch", "deployments", func(action k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, apierrors.NewServiceUnavailable("apiserver overloaded")
	})

	err := k.Scale(context.Background(), backendRef, 1)
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestIsRetryable(t *testing.T) {
	gr := schema.GroupResource{Group: "apps", Resource: "deployments"}
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"check failed", fmt.Errorf("secret missing: %w", ErrCheckFailed), false},
		{"unsupported kind", ErrUnsupportedKind, false},
		{"canceled", context.Canceled, false},
		{"per-call timeout", fmt.Errorf("patch: %w", context.DeadlineExceeded), true},
		{"not found", apierrors.NewNotFound(gr, "backend"), false},
		{"forbidden", apierrors.NewForbidden(gr, "backend", errors.New("rbac")), false},
		{"invalid", apierrors.NewBadRequest("bad patch"), false},
		{"conflict", apierrors.NewConflict(gr, "backend", errors.New("modified")), true},
		{"too many requests", apierrors.NewTooManyRequests("slow down", 1), true},
		{"server timeout", apierrors.NewServerTimeout(gr, "patch", 1), true},
		{"internal", apierrors.NewInternalError(errors.New("etcd")), true},
		{"local error", errors.New("failed to build patch"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
