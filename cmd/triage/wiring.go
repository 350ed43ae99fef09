package main

import (
	"fmt"

	"github.com/cuemby/triage/pkg/config"
	"github.com/cuemby/triage/pkg/ledger"
	"github.com/cuemby/triage/pkg/log"
	"github.com/cuemby/triage/pkg/metrics"
	"github.com/cuemby/triage/pkg/orchestrator"
	"github.com/cuemby/triage/pkg/storage"
	"k8s.io/client-go/kubernetes"
	metricsclient "k8s.io/metrics/pkg/client/clientset/versioned"
)

// openLedger opens the ledger, backed by bbolt when ledger_path is set. The
// returned store is nil for an in-memory ledger.
func openLedger(cfg *config.Config) (*ledger.Ledger, *storage.BoltStore, error) {
	lcfg := ledger.Config{
		EscalationThreshold: cfg.EscalationThreshold,
		EscalationWindow:    cfg.EscalationWindow(),
	}

	if cfg.LedgerPath == "" {
		l, err := ledger.New(lcfg, nil)
		if err != nil {
			return nil, nil, err
		}
		metrics.RegisterComponent("ledger", true, "memory")
		return l, nil, nil
	}

	store, err := storage.NewBoltStore(cfg.LedgerPath)
	if err != nil {
		metrics.RegisterComponent("ledger", false, err.Error())
		return nil, nil, fmt.Errorf("failed to open ledger at %s: %w", cfg.LedgerPath, err)
	}

	l, err := ledger.New(lcfg, store)
	if err != nil {
		_ = store.Close()
		metrics.RegisterComponent("ledger", false, err.Error())
		return nil, nil, err
	}
	metrics.RegisterComponent("ledger", true, cfg.LedgerPath)
	return l, store, nil
}

// kubeClients connects to the cluster. A failing metrics.k8s.io client only
// disables the metrics-server checks.
func kubeClients(cfg *config.Config) (kubernetes.Interface, metricsclient.Interface, error) {
	restCfg, contextName, err := orchestrator.RESTConfig(cfg.Kubeconfig, cfg.KubeContext)
	if err != nil {
		return nil, nil, err
	}

	cs, err := orchestrator.NewClientset(restCfg)
	if err != nil {
		return nil, nil, err
	}

	logger := log.WithComponent("kube")
	mc, err := orchestrator.NewMetricsClientset(restCfg)
	if err != nil {
		logger.Warn().Err(err).Msg("Metrics API client unavailable, metrics-server checks disabled")
	}

	logger.Info().Str("context", contextName).Str("host", restCfg.Host).Msg("Connected to cluster")
	return cs, mc, nil
}
