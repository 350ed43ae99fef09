package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/triage/pkg/api"
	"github.com/cuemby/triage/pkg/collector"
	"github.com/cuemby/triage/pkg/engine"
	"github.com/cuemby/triage/pkg/events"
	"github.com/cuemby/triage/pkg/log"
	"github.com/cuemby/triage/pkg/metrics"
	"github.com/cuemby/triage/pkg/orchestrator"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the diagnosis loop",
	Long: `Run one diagnosis cycle per namespace every cycle interval until
interrupted, serving reports, ledger queries, health and metrics over HTTP.

Examples:
  # Watch two namespaces, approving nothing automatically
  triage run -n shop -n payments

  # Use a configuration file with auto-approve-safe-only
  triage run -c /etc/triage/config.yaml`,
	RunE: runEngine,
}

func init() {
	runCmd.Flags().String("api-addr", "", "HTTP API address (overrides api_addr)")
	runCmd.Flags().String("grpc-addr", "", "gRPC health address (overrides grpc_addr)")
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("api-addr"); addr != "" {
		cfg.APIAddr = addr
	}
	if addr, _ := cmd.Flags().GetString("grpc-addr"); addr != "" {
		cfg.GRPCAddr = addr
	}

	logger := log.WithComponent("main")

	cs, mc, err := kubeClients(cfg)
	if err != nil {
		return err
	}

	l, store, err := openLedger(cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	coll := collector.NewKubernetes(cs, mc, cfg)
	client := orchestrator.NewKubernetes(cs, cfg.IngressControllerSelector)
	eng := engine.New(cfg, coll, client, l, broker)

	metricsCollector := metrics.NewCollector(l)
	metricsCollector.Start()
	defer metricsCollector.Stop()

	reports := api.NewReportCache(broker)
	reports.Start()
	defer reports.Stop()

	errCh := make(chan error, 2)

	httpServer := api.NewServer(l, reports)
	go func() {
		if err := httpServer.Start(cfg.APIAddr); err != nil {
			errCh <- err
		}
	}()

	var grpcServer *api.HealthServer
	if cfg.GRPCAddr != "" {
		grpcServer = api.NewHealthServer(broker, cfg.Namespaces)
		go func() {
			if err := grpcServer.Listen(cfg.GRPCAddr); err != nil {
				errCh <- err
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("Server failed, shutting down")
	}

	eng.Stop()
	if grpcServer != nil {
		grpcServer.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP API did not shut down cleanly")
	}

	logger.Info().Msg("Shutdown complete")
	if runErr != nil {
		return fmt.Errorf("triage run: %w", runErr)
	}
	return nil
}
