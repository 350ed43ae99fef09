package orchestrator

import (
	"fmt"
	"strings"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	metricsclient "k8s.io/metrics/pkg/client/clientset/versioned"
)

// RESTConfig resolves API server credentials. An explicit kubeconfig wins,
// then in-cluster service account credentials, then the default kubeconfig
// loading rules. The returned string names the context in use.
func RESTConfig(kubeconfigPath, kubeContext string) (*rest.Config, string, error) {
	kubeconfigPath = strings.TrimSpace(kubeconfigPath)
	kubeContext = strings.TrimSpace(kubeContext)

	if kubeconfigPath != "" {
		loadingRules := &clientcmd.ClientConfigLoadingRules{ExplicitPath: kubeconfigPath}
		return fromClientConfig(loadingRules, kubeContext)
	}

	restCfg, err := rest.InClusterConfig()
	if err == nil {
		return restCfg, "in-cluster", nil
	}

	cfg, name, kerr := fromClientConfig(clientcmd.NewDefaultClientConfigLoadingRules(), kubeContext)
	if kerr != nil {
		return nil, "", fmt.Errorf("kubernetes config not available (in-cluster: %v): %w", err, kerr)
	}
	return cfg, name, nil
}

func fromClientConfig(rules *clientcmd.ClientConfigLoadingRules, kubeContext string) (*rest.Config, string, error) {
	overrides := &clientcmd.ConfigOverrides{}
	if kubeContext != "" {
		overrides.CurrentContext = kubeContext
	}

	cc := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides)
	rawCfg, err := cc.RawConfig()
	if err != nil {
		return nil, "", fmt.Errorf("load kubeconfig: %w", err)
	}

	contextName := rawCfg.CurrentContext
	if kubeContext != "" {
		contextName = kubeContext
	}

	restCfg, err := cc.ClientConfig()
	if err != nil {
		return nil, "", fmt.Errorf("build kubeconfig rest config: %w", err)
	}
	return restCfg, contextName, nil
}

// NewClientset builds a typed clientset from a rest config
func NewClientset(cfg *rest.Config) (kubernetes.Interface, error) {
	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("create kubernetes clientset: %w", err)
	}
	return cs, nil
}

// NewMetricsClientset builds a metrics.k8s.io clientset from a rest config
func NewMetricsClientset(cfg *rest.Config) (metricsclient.Interface, error) {
	mc, err := metricsclient.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("create metrics clientset: %w", err)
	}
	return mc, nil
}
