package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"

	"github.com/cuemby/triage/pkg/log"
	"github.com/cuemby/triage/pkg/types"
	"github.com/rs/zerolog"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8stypes "k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/ptr"
)

// Kubernetes implements Client against a Kubernetes API server
type Kubernetes struct {
	client          kubernetes.Interface
	ingressSelector string
	logger          zerolog.Logger
}

// NewKubernetes creates a Client backed by the given clientset.
// ingressSelector is a label selector matching ingress controller pods in any
// namespace.
func NewKubernetes(client kubernetes.Interface, ingressSelector string) *Kubernetes {
	return &Kubernetes{
		client:          client,
		ingressSelector: ingressSelector,
		logger:          log.WithComponent("orchestrator"),
	}
}

// GetWorkload reads the rollout status of a Deployment or StatefulSet
func (k *Kubernetes) GetWorkload(ctx context.Context, ref types.WorkloadRef) (WorkloadState, error) {
	state := WorkloadState{Ref: ref}

	switch ref.KindOrDefault() {
	case types.KindDeployment:
		d, err := k.client.AppsV1().Deployments(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
		if err != nil {
			return state, fmt.Errorf("failed to get deployment %s: %w", ref, err)
		}
		state.DesiredReplicas = ptr.Deref(d.Spec.Replicas, 1)
		state.ReadyReplicas = d.Status.ReadyReplicas
		state.UpdatedReplicas = d.Status.UpdatedReplicas
		state.Generation = d.Generation
		state.ObservedGeneration = d.Status.ObservedGeneration
		state.RestartToken = d.Spec.Template.Annotations[RestartAnnotation]

	case types.KindStatefulSet:
		s, err := k.client.AppsV1().StatefulSets(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
		if err != nil {
			return state, fmt.Errorf("failed to get statefulset %s: %w", ref, err)
		}
		state.DesiredReplicas = ptr.Deref(s.Spec.Replicas, 1)
		state.ReadyReplicas = s.Status.ReadyReplicas
		state.UpdatedReplicas = s.Status.UpdatedReplicas
		state.Generation = s.Generation
		state.ObservedGeneration = s.Status.ObservedGeneration
		state.RestartToken = s.Spec.Template.Annotations[RestartAnnotation]

	default:
		return state, fmt.Errorf("%s: %w", ref.Kind, ErrUnsupportedKind)
	}

	return state, nil
}

// RegistrySecretPresent reports whether a registry auth secret exists in the
// namespace. When names is non-empty only those secrets count.
func (k *Kubernetes) RegistrySecretPresent(ctx context.Context, namespace string, names []string) (bool, error) {
	secrets, err := k.client.CoreV1().Secrets(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return false, fmt.Errorf("failed to list secrets in %s: %w", namespace, err)
	}
	for _, s := range secrets.Items {
		if !IsRegistrySecret(&s) {
			continue
		}
		if len(names) == 0 || slices.Contains(names, s.Name) {
			return true, nil
		}
	}
	return false, nil
}

// IsRegistrySecret reports whether the secret holds registry credentials
func IsRegistrySecret(s *corev1.Secret) bool {
	return s.Type == corev1.SecretTypeDockerConfigJson || s.Type == corev1.SecretTypeDockercfg
}

// IngressControllerReady reports whether any pod matching the ingress
// controller selector is ready
func (k *Kubernetes) IngressControllerReady(ctx context.Context) (bool, error) {
	pods, err := k.client.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{
		LabelSelector: k.ingressSelector,
	})
	if err != nil {
		return false, fmt.Errorf("failed to list ingress controller pods: %w", err)
	}
	for i := range pods.Items {
		if PodReady(&pods.Items[i]) {
			return true, nil
		}
	}
	return false, nil
}

// PodReady reports the pod's Ready condition
func PodReady(pod *corev1.Pod) bool {
	for _, c := range pod.Status.Conditions {
		if c.Type == corev1.PodReady {
			return c.Status == corev1.ConditionTrue
		}
	}
	return false
}

// ListNetworkPolicies returns the sorted names of the namespace's policies
func (k *Kubernetes) ListNetworkPolicies(ctx context.Context, namespace string) ([]string, error) {
	list, err := k.client.NetworkingV1().NetworkPolicies(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list network policies in %s: %w", namespace, err)
	}
	names := make([]string, 0, len(list.Items))
	for _, p := range list.Items {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names, nil
}

// RolloutRestart bumps the restart annotation on the pod template to token.
// A workload already carrying the token is left untouched.
func (k *Kubernetes) RolloutRestart(ctx context.Context, ref types.WorkloadRef, token string) error {
	state, err := k.GetWorkload(ctx, ref)
	if err != nil {
		return err
	}
	if state.RestartToken == token {
		k.logger.Debug().Str("workload", ref.String()).Str("token", token).Msg("Restart token already applied")
		return nil
	}

	return k.patchTemplate(ctx, ref, map[string]any{
		"metadata": map[string]any{
			"annotations": map[string]string{RestartAnnotation: token},
		},
	})
}

// Scale sets the desired replica count
func (k *Kubernetes) Scale(ctx context.Context, ref types.WorkloadRef, replicas int32) error {
	return k.patch(ctx, ref, map[string]any{
		"spec": map[string]any{"replicas": replicas},
	})
}

// SetResourceRequests sets CPU and memory requests on a container. Zero
// values leave that resource unchanged.
func (k *Kubernetes) SetResourceRequests(ctx context.Context, ref types.WorkloadRef, container string, requests types.ResourceRequests) error {
	name, err := k.containerName(ctx, ref, container)
	if err != nil {
		return err
	}

	req := map[string]string{}
	if requests.CPUMillis > 0 {
		req["cpu"] = resource.NewMilliQuantity(requests.CPUMillis, resource.DecimalSI).String()
	}
	if requests.MemoryBytes > 0 {
		req["memory"] = resource.NewQuantity(requests.MemoryBytes, resource.BinarySI).String()
	}
	if len(req) == 0 {
		return nil
	}

	return k.patchTemplate(ctx, ref, map[string]any{
		"spec": map[string]any{
			"containers": []map[string]any{{
				"name":      name,
				"resources": map[string]any{"requests": req},
			}},
		},
	})
}

// SetReadOnlyRootFilesystem sets the container's readOnlyRootFilesystem flag
func (k *Kubernetes) SetReadOnlyRootFilesystem(ctx context.Context, ref types.WorkloadRef, container string, readOnly bool) error {
	name, err := k.containerName(ctx, ref, container)
	if err != nil {
		return err
	}

	return k.patchTemplate(ctx, ref, map[string]any{
		"spec": map[string]any{
			"containers": []map[string]any{{
				"name":            name,
				"securityContext": map[string]any{"readOnlyRootFilesystem": readOnly},
			}},
		},
	})
}

// EnsureContainerArg appends arg to the container's args unless present
func (k *Kubernetes) EnsureContainerArg(ctx context.Context, ref types.WorkloadRef, container, arg string) error {
	template, err := k.podTemplate(ctx, ref)
	if err != nil {
		return err
	}
	c, err := findContainer(template, container)
	if err != nil {
		return fmt.Errorf("%s: %w", ref, err)
	}
	if slices.Contains(c.Args, arg) {
		return nil
	}

	// args is an atomic list, so the full list is sent
	args := append(slices.Clone(c.Args), arg)
	return k.patchTemplate(ctx, ref, map[string]any{
		"spec": map[string]any{
			"containers": []map[string]any{{
				"name": c.Name,
				"args": args,
			}},
		},
	})
}

// DeleteNetworkPolicy removes a policy and returns its JSON form. Deleting
// an absent policy is not an error and returns an empty string.
func (k *Kubernetes) DeleteNetworkPolicy(ctx context.Context, namespace, name string) (string, error) {
	policies := k.client.NetworkingV1().NetworkPolicies(namespace)

	policy, err := policies.Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get network policy %s/%s: %w", namespace, name, err)
	}

	saved, err := json.Marshal(struct {
		Name   string `json:"name"`
		Labels any    `json:"labels,omitempty"`
		Spec   any    `json:"spec"`
	}{policy.Name, policy.Labels, policy.Spec})
	if err != nil {
		return "", fmt.Errorf("failed to serialize network policy %s/%s: %w", namespace, name, err)
	}

	if err := policies.Delete(ctx, name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return "", fmt.Errorf("failed to delete network policy %s/%s: %w", namespace, name, err)
	}

	k.logger.Warn().
		Str("namespace", namespace).
		Str("policy", name).
		Msg("Network policy suspended")

	return string(saved), nil
}

func (k *Kubernetes) podTemplate(ctx context.Context, ref types.WorkloadRef) (*corev1.PodTemplateSpec, error) {
	switch ref.KindOrDefault() {
	case types.KindDeployment:
		d, err := k.client.AppsV1().Deployments(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to get deployment %s: %w", ref, err)
		}
		return &d.Spec.Template, nil
	case types.KindStatefulSet:
		s, err := k.client.AppsV1().StatefulSets(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to get statefulset %s: %w", ref, err)
		}
		return &s.Spec.Template, nil
	}
	return nil, fmt.Errorf("%s: %w", ref.Kind, ErrUnsupportedKind)
}

// containerName resolves an empty container name to the first container
func (k *Kubernetes) containerName(ctx context.Context, ref types.WorkloadRef, container string) (string, error) {
	template, err := k.podTemplate(ctx, ref)
	if err != nil {
		return "", err
	}
	c, err := findContainer(template, container)
	if err != nil {
		return "", fmt.Errorf("%s: %w", ref, err)
	}
	return c.Name, nil
}

func findContainer(template *corev1.PodTemplateSpec, name string) (*corev1.Container, error) {
	containers := template.Spec.Containers
	if len(containers) == 0 {
		return nil, ErrContainerNotFound
	}
	if name == "" {
		return &containers[0], nil
	}
	for i := range containers {
		if containers[i].Name == name {
			return &containers[i], nil
		}
	}
	return nil, fmt.Errorf("%q: %w", name, ErrContainerNotFound)
}

func (k *Kubernetes) patchTemplate(ctx context.Context, ref types.WorkloadRef, template map[string]any) error {
	return k.patch(ctx, ref, map[string]any{
		"spec": map[string]any{"template": template},
	})
}

func (k *Kubernetes) patch(ctx context.Context, ref types.WorkloadRef, body map[string]any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to build patch for %s: %w", ref, err)
	}

	switch ref.KindOrDefault() {
	case types.KindDeployment:
		_, err = k.client.AppsV1().Deployments(ref.Namespace).Patch(ctx, ref.Name, k8stypes.StrategicMergePatchType, data, metav1.PatchOptions{})
	case types.KindStatefulSet:
		_, err = k.client.AppsV1().StatefulSets(ref.Namespace).Patch(ctx, ref.Name, k8stypes.StrategicMergePatchType, data, metav1.PatchOptions{})
	default:
		return fmt.Errorf("%s: %w", ref.Kind, ErrUnsupportedKind)
	}
	if err != nil {
		return fmt.Errorf("failed to patch %s: %w", ref, err)
	}

	k.logger.Debug().
		Str("workload", ref.String()).
		RawJSON("patch", data).
		Msg("Workload patched")
	return nil
}
