package collector

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/cuemby/triage/pkg/config"
	"github.com/cuemby/triage/pkg/health"
	"github.com/cuemby/triage/pkg/log"
	"github.com/cuemby/triage/pkg/metrics"
	"github.com/cuemby/triage/pkg/orchestrator"
	"github.com/cuemby/triage/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	appsv1 "k8s.io/api/apps/v1"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
	metricsclient "k8s.io/metrics/pkg/client/clientset/versioned"
	"k8s.io/utils/ptr"
)

// Kubernetes collects snapshots from a live cluster
type Kubernetes struct {
	client  kubernetes.Interface
	metrics metricsclient.Interface // nil disables metrics-server checks
	cfg     *config.Config

	restarts *RestartTracker
	prober   *health.Prober
	logger   zerolog.Logger
}

// NewKubernetes creates a live collector
func NewKubernetes(client kubernetes.Interface, metricsClient metricsclient.Interface, cfg *config.Config) *Kubernetes {
	probeCfg := health.DefaultConfig()
	probeCfg.Timeout = cfg.PerCallTimeout()

	return &Kubernetes{
		client:   client,
		metrics:  metricsClient,
		cfg:      cfg,
		restarts: NewRestartTracker(cfg.CrashLoopWindow(), 10000),
		prober:   health.NewProber(probeCfg),
		logger:   log.WithComponent("collector"),
	}
}

// raw holds the API objects read for one namespace
type raw struct {
	deployments  []appsv1.Deployment
	statefulSets []appsv1.StatefulSet
	pods         []corev1.Pod
	events       []corev1.Event
	hpas         []autoscalingv2.HorizontalPodAutoscaler
	policies     []networkingv1.NetworkPolicy
	ingresses    []networkingv1.Ingress
	services     []corev1.Service
	secrets      []corev1.Secret
	controllers  []corev1.Pod

	metricsAvailable bool
	lastScrape       time.Time
}

// Collect reads every object the classifier needs in parallel and assembles
// the snapshot. Any failed required read fails the whole collection.
func (k *Kubernetes) Collect(ctx context.Context, namespace string) (*types.Snapshot, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.CollectionDuration, namespace)

	ctx, cancel := context.WithTimeout(ctx, k.cfg.CollectionTimeout())
	defer cancel()

	r, err := k.read(ctx, namespace)
	if err != nil {
		cerr := newCollectionError(ctx, namespace, err)
		k.logger.Warn().Err(err).Str("namespace", namespace).Msg("Collection failed")
		return nil, cerr
	}

	snapshot := &types.Snapshot{
		Namespace: namespace,
		TakenAt:   time.Now().UTC(),
		Cluster: types.ClusterFacts{
			MetricsServerAvailable: r.metricsAvailable,
			MetricsLastScrape:      r.lastScrape,
			IngressControllerReady: anyPodReady(r.controllers),
		},
	}
	for _, p := range r.policies {
		snapshot.Cluster.NetworkPolicies = append(snapshot.Cluster.NetworkPolicies, p.Name)
	}
	sort.Strings(snapshot.Cluster.NetworkPolicies)
	for i := range r.secrets {
		if orchestrator.IsRegistrySecret(&r.secrets[i]) {
			snapshot.RegistrySecrets = append(snapshot.RegistrySecrets, r.secrets[i].Name)
		}
	}
	sort.Strings(snapshot.RegistrySecrets)

	for i := range r.deployments {
		d := &r.deployments[i]
		ref := types.WorkloadRef{Namespace: namespace, Name: d.Name, Kind: types.KindDeployment}
		w := k.workload(ctx, r, ref, d.Spec.Selector, &d.Spec.Template, ptr.Deref(d.Spec.Replicas, 1), d.Status.ReadyReplicas)
		snapshot.Workloads = append(snapshot.Workloads, w)
	}
	for i := range r.statefulSets {
		s := &r.statefulSets[i]
		ref := types.WorkloadRef{Namespace: namespace, Name: s.Name, Kind: types.KindStatefulSet}
		w := k.workload(ctx, r, ref, s.Spec.Selector, &s.Spec.Template, ptr.Deref(s.Spec.Replicas, 1), s.Status.ReadyReplicas)
		snapshot.Workloads = append(snapshot.Workloads, w)
	}

	if probes := k.cfg.ProbesFor(namespace); len(probes) > 0 {
		checks := make([]health.Probe, 0, len(probes))
		for _, p := range probes {
			checks = append(checks, health.NewProbe(p.From, p.URL, p.Address, k.cfg.PerCallTimeout()))
		}
		results := k.prober.Run(ctx, checks)
		for i := range snapshot.Workloads {
			snapshot.Workloads[i].Probes = results[snapshot.Workloads[i].Ref.Name]
		}
	}

	sort.Slice(snapshot.Workloads, func(i, j int) bool {
		return snapshot.Workloads[i].Ref.Name < snapshot.Workloads[j].Ref.Name
	})

	if err := ctx.Err(); err != nil {
		return nil, newCollectionError(ctx, namespace, err)
	}

	k.logger.Debug().
		Str("namespace", namespace).
		Int("workloads", len(snapshot.Workloads)).
		Dur("duration", timer.Duration()).
		Msg("Snapshot collected")

	return snapshot, nil
}

func (k *Kubernetes) read(ctx context.Context, namespace string) (*raw, error) {
	r := &raw{}
	opts := metav1.ListOptions{}
	apps := k.client.AppsV1()
	core := k.client.CoreV1()
	net := k.client.NetworkingV1()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(k.cfg.WorkerPoolSize)

	g.Go(func() error {
		list, err := apps.Deployments(namespace).List(gctx, opts)
		if err != nil {
			return fmt.Errorf("list deployments: %w", err)
		}
		r.deployments = list.Items
		return nil
	})
	g.Go(func() error {
		list, err := apps.StatefulSets(namespace).List(gctx, opts)
		if err != nil {
			return fmt.Errorf("list statefulsets: %w", err)
		}
		r.statefulSets = list.Items
		return nil
	})
	g.Go(func() error {
		list, err := core.Pods(namespace).List(gctx, opts)
		if err != nil {
			return fmt.Errorf("list pods: %w", err)
		}
		r.pods = list.Items
		return nil
	})
	g.Go(func() error {
		list, err := core.Events(namespace).List(gctx, opts)
		if err != nil {
			return fmt.Errorf("list events: %w", err)
		}
		r.events = list.Items
		return nil
	})
	g.Go(func() error {
		list, err := k.client.AutoscalingV2().HorizontalPodAutoscalers(namespace).List(gctx, opts)
		if err != nil {
			return fmt.Errorf("list horizontalpodautoscalers: %w", err)
		}
		r.hpas = list.Items
		return nil
	})
	g.Go(func() error {
		list, err := net.NetworkPolicies(namespace).List(gctx, opts)
		if err != nil {
			return fmt.Errorf("list networkpolicies: %w", err)
		}
		r.policies = list.Items
		return nil
	})
	g.Go(func() error {
		list, err := net.Ingresses(namespace).List(gctx, opts)
		if err != nil {
			return fmt.Errorf("list ingresses: %w", err)
		}
		r.ingresses = list.Items
		return nil
	})
	g.Go(func() error {
		list, err := core.Services(namespace).List(gctx, opts)
		if err != nil {
			return fmt.Errorf("list services: %w", err)
		}
		r.services = list.Items
		return nil
	})
	g.Go(func() error {
		list, err := core.Secrets(namespace).List(gctx, opts)
		if err != nil {
			return fmt.Errorf("list secrets: %w", err)
		}
		r.secrets = list.Items
		return nil
	})
	g.Go(func() error {
		list, err := core.Pods(metav1.NamespaceAll).List(gctx, metav1.ListOptions{
			LabelSelector: k.cfg.IngressControllerSelector,
		})
		if err != nil {
			return fmt.Errorf("list ingress controller pods: %w", err)
		}
		r.controllers = list.Items
		return nil
	})
	g.Go(func() error {
		// An unreachable metrics API is a signal, not a collection failure
		r.metricsAvailable, r.lastScrape = k.metricsServer(gctx, namespace)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return r, nil
}

func (k *Kubernetes) metricsServer(ctx context.Context, namespace string) (bool, time.Time) {
	if k.metrics == nil {
		return false, time.Time{}
	}
	list, err := k.metrics.MetricsV1beta1().PodMetricses(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		k.logger.Debug().Err(err).Str("namespace", namespace).Msg("Metrics API unavailable")
		return false, time.Time{}
	}
	var newest time.Time
	for _, pm := range list.Items {
		if pm.Timestamp.After(newest) {
			newest = pm.Timestamp.Time
		}
	}
	return true, newest
}

func (k *Kubernetes) workload(
	ctx context.Context,
	r *raw,
	ref types.WorkloadRef,
	selector *metav1.LabelSelector,
	template *corev1.PodTemplateSpec,
	desired, ready int32,
) types.Workload {
	w := types.Workload{
		Ref:             ref,
		DesiredReplicas: desired,
		ReadyReplicas:   ready,
	}

	if len(template.Spec.Containers) > 0 {
		c := template.Spec.Containers[0]
		w.Resources = types.ResourceRequests{
			CPUMillis:   c.Resources.Requests.Cpu().MilliValue(),
			MemoryBytes: c.Resources.Requests.Memory().Value(),
		}
		if c.SecurityContext != nil {
			w.ReadOnlyRootFS = ptr.Deref(c.SecurityContext.ReadOnlyRootFilesystem, false)
		}
	}
	for _, s := range template.Spec.ImagePullSecrets {
		w.PullSecrets = append(w.PullSecrets, s.Name)
	}

	sel, err := metav1.LabelSelectorAsSelector(selector)
	if err != nil {
		k.logger.Warn().Err(err).Str("workload", ref.String()).Msg("Invalid selector")
		sel = labels.Nothing()
	}

	podNames := map[string]bool{}
	var logPod *corev1.Pod
	var logContainer string
	for i := range r.pods {
		pod := &r.pods[i]
		if !sel.Matches(labels.Set(pod.Labels)) {
			continue
		}
		podNames[pod.Name] = true
		replica, crashed := k.replica(pod)
		w.Replicas = append(w.Replicas, replica)
		if crashed != "" && logPod == nil {
			logPod, logContainer = pod, crashed
		}
	}
	sort.Slice(w.Replicas, func(i, j int) bool { return w.Replicas[i].Name < w.Replicas[j].Name })

	w.Events = workloadEvents(r.events, ref.Name, podNames)
	if logPod != nil {
		w.LogExcerpt = k.previousLogs(ctx, logPod, logContainer)
	}
	w.Autoscaler = autoscalerFor(r.hpas, ref)
	w.Ingress = ingressFor(r.ingresses, r.services, ref.Name, template.Labels)

	return w
}

// replica converts a pod and returns the name of a container that has
// restarted, if any
func (k *Kubernetes) replica(pod *corev1.Pod) (types.Replica, string) {
	rep := types.Replica{
		Name:  pod.Name,
		Phase: types.PodPhase(pod.Status.Phase),
		Ready: orchestrator.PodReady(pod),
	}
	if pod.Status.Phase == corev1.PodPending {
		rep.PendingSince = pod.CreationTimestamp.Time
		for _, c := range pod.Status.Conditions {
			if c.Type == corev1.PodScheduled && c.Status == corev1.ConditionFalse && !c.LastTransitionTime.IsZero() {
				rep.PendingSince = c.LastTransitionTime.Time
			}
		}
	}

	window := k.cfg.CrashLoopWindow()
	started := pod.CreationTimestamp.Time
	crashed := ""
	for _, cs := range pod.Status.ContainerStatuses {
		status := types.ContainerStatus{
			Name:         cs.Name,
			RestartCount: cs.RestartCount,
		}
		switch {
		case cs.State.Waiting != nil:
			status.State = types.ContainerWaiting
			status.Reason = cs.State.Waiting.Reason
		case cs.State.Terminated != nil:
			status.State = types.ContainerTerminated
			status.Reason = cs.State.Terminated.Reason
		default:
			status.State = types.ContainerRunning
		}

		term := cs.LastTerminationState.Terminated
		if term == nil {
			term = cs.State.Terminated
		}
		if term != nil {
			status.LastTermination = &types.Termination{
				Reason:     term.Reason,
				ExitCode:   term.ExitCode,
				Signal:     term.Signal,
				FinishedAt: term.FinishedAt.Time,
			}
		}

		// Without history, restarts count as in-window when the pod itself
		// is younger than the window or the container is still failing
		var unattributed int32
		recent := status.LastTermination != nil && time.Since(status.LastTermination.FinishedAt) < window
		if time.Since(started) < window || recent {
			unattributed = cs.RestartCount
		}
		key := pod.Namespace + "/" + pod.Name + "/" + cs.Name
		status.RestartsInWindow = k.restarts.Observe(key, cs.RestartCount, unattributed)

		if cs.RestartCount > 0 && crashed == "" {
			crashed = cs.Name
		}
		rep.Containers = append(rep.Containers, status)
	}
	return rep, crashed
}

// previousLogs returns the tail of the previous container instance's log,
// bounded by log_excerpt_bytes. Logs are best effort.
func (k *Kubernetes) previousLogs(ctx context.Context, pod *corev1.Pod, container string) string {
	req := k.client.CoreV1().Pods(pod.Namespace).GetLogs(pod.Name, &corev1.PodLogOptions{
		Container:  container,
		Previous:   true,
		LimitBytes: ptr.To(k.cfg.LogExcerptBytes),
	})
	stream, err := req.Stream(ctx)
	if err != nil {
		k.logger.Debug().Err(err).Str("pod", pod.Name).Msg("Previous logs unavailable")
		return ""
	}
	defer stream.Close()

	data, err := io.ReadAll(io.LimitReader(stream, k.cfg.LogExcerptBytes))
	if err != nil {
		return ""
	}
	return string(data)
}

func workloadEvents(events []corev1.Event, workload string, pods map[string]bool) []types.EventRecord {
	var out []types.EventRecord
	for _, e := range events {
		name := e.InvolvedObject.Name
		if name != workload && !pods[name] && !strings.HasPrefix(name, workload+"-") {
			continue
		}
		last := e.LastTimestamp.Time
		if last.IsZero() {
			last = e.EventTime.Time
		}
		out = append(out, types.EventRecord{
			Reason:   e.Reason,
			Message:  e.Message,
			LastSeen: last,
			Count:    e.Count,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out
}

func autoscalerFor(hpas []autoscalingv2.HorizontalPodAutoscaler, ref types.WorkloadRef) *types.AutoscalerStatus {
	for _, h := range hpas {
		target := h.Spec.ScaleTargetRef
		if target.Name != ref.Name || target.Kind != ref.KindOrDefault() {
			continue
		}
		status := &types.AutoscalerStatus{Name: h.Name}
		if len(h.Spec.Metrics) > 0 && len(h.Status.CurrentMetrics) == 0 {
			status.MetricsUnknown = true
		}
		for _, c := range h.Status.Conditions {
			if c.Type == autoscalingv2.ScalingActive && c.Status == corev1.ConditionFalse && strings.HasPrefix(c.Reason, "FailedGet") {
				status.MetricsUnknown = true
			}
		}
		return status
	}
	return nil
}

// ingressFor finds an ingress routing to a service that selects the
// workload's pods. A backend naming the workload with no such service is
// reported as missing.
func ingressFor(ingresses []networkingv1.Ingress, services []corev1.Service, workload string, podLabels map[string]string) *types.IngressExposure {
	selecting := map[string]*corev1.Service{}
	existing := map[string]bool{}
	for i := range services {
		svc := &services[i]
		existing[svc.Name] = true
		if len(svc.Spec.Selector) > 0 && labels.SelectorFromSet(svc.Spec.Selector).Matches(labels.Set(podLabels)) {
			selecting[svc.Name] = svc
		}
	}

	for _, ing := range ingresses {
		for _, backend := range ingressBackends(&ing) {
			if backend.Service == nil {
				continue
			}
			name := backend.Service.Name
			if svc, ok := selecting[name]; ok {
				return &types.IngressExposure{Name: ing.Name, BackendMissing: !servicePortMatches(svc, backend.Service.Port)}
			}
			if name == workload && !existing[name] {
				return &types.IngressExposure{Name: ing.Name, BackendMissing: true}
			}
		}
	}
	return nil
}

func ingressBackends(ing *networkingv1.Ingress) []networkingv1.IngressBackend {
	var out []networkingv1.IngressBackend
	if ing.Spec.DefaultBackend != nil {
		out = append(out, *ing.Spec.DefaultBackend)
	}
	for _, rule := range ing.Spec.Rules {
		if rule.HTTP == nil {
			continue
		}
		for _, p := range rule.HTTP.Paths {
			out = append(out, p.Backend)
		}
	}
	return out
}

func servicePortMatches(svc *corev1.Service, port networkingv1.ServiceBackendPort) bool {
	if port.Name == "" && port.Number == 0 {
		return true
	}
	for _, p := range svc.Spec.Ports {
		if (port.Name != "" && p.Name == port.Name) || (port.Number != 0 && p.Port == port.Number) {
			return true
		}
	}
	return false
}

func anyPodReady(pods []corev1.Pod) bool {
	for i := range pods {
		if orchestrator.PodReady(&pods[i]) {
			return true
		}
	}
	return false
}
