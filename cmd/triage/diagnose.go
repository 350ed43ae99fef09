package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cuemby/triage/pkg/collector"
	"github.com/cuemby/triage/pkg/engine"
	"github.com/cuemby/triage/pkg/orchestrator"
	"github.com/cuemby/triage/pkg/types"
	"github.com/spf13/cobra"
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Run a single diagnosis cycle and print the report",
	Long: `Run one cycle for every configured namespace and print the reports.

With --snapshot the cycle reads a recorded YAML snapshot instead of the
cluster. Combined with --dry-run nothing touches the cluster at all.

Examples:
  # Diagnose a namespace without changing anything
  triage diagnose -n shop --dry-run

  # Replay a recorded snapshot as YAML
  triage diagnose --snapshot shop.yaml --dry-run -o yaml`,
	RunE: runDiagnose,
}

func init() {
	diagnoseCmd.Flags().String("snapshot", "", "Read the snapshot from a YAML file instead of the cluster")
	diagnoseCmd.Flags().Bool("dry-run", false, "Plan remediations without executing them")
	diagnoseCmd.Flags().StringP("output", "o", outputText, "Output format (text, json, yaml)")
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	snapshotPath, _ := cmd.Flags().GetString("snapshot")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	format, _ := cmd.Flags().GetString("output")
	if err := validOutput(format); err != nil {
		return err
	}

	var (
		coll   collector.Collector
		client orchestrator.Client
	)
	if snapshotPath != "" {
		snapshot, err := collector.LoadSnapshot(snapshotPath)
		if err != nil {
			return err
		}
		if snapshot.Namespace != "" {
			cfg.Namespaces = []string{snapshot.Namespace}
		}
		coll = collector.NewFile(snapshotPath)
	}

	if snapshotPath == "" || !dryRun {
		cs, mc, err := kubeClients(cfg)
		if err != nil {
			return err
		}
		if coll == nil {
			coll = collector.NewKubernetes(cs, mc, cfg)
		}
		client = orchestrator.NewKubernetes(cs, cfg.IngressControllerSelector)
	}

	l, store, err := openLedger(cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	eng := engine.New(cfg, coll, client, l, nil)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var reports []*types.Report
	var failed []string
	for _, ns := range cfg.Namespaces {
		report, err := eng.RunOnce(ctx, ns, dryRun)
		if err != nil {
			return err
		}
		reports = append(reports, report)
		if report.Failure != types.FailureNone {
			failed = append(failed, ns)
		}
	}

	out := cmd.OutOrStdout()
	switch {
	case format != outputText && len(reports) == 1:
		err = encode(out, format, reports[0])
	case format != outputText:
		err = encode(out, format, reports)
	default:
		for i, r := range reports {
			if i > 0 {
				fmt.Fprintln(out)
			}
			if err = printReport(out, format, r); err != nil {
				break
			}
		}
	}
	if err != nil {
		return err
	}

	if len(failed) > 0 {
		return fmt.Errorf("collection failed for %s", strings.Join(failed, ", "))
	}
	return nil
}
