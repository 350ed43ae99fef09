package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/triage/pkg/api"
	"github.com/cuemby/triage/pkg/config"
	"github.com/cuemby/triage/pkg/ledger"
	"github.com/cuemby/triage/pkg/storage"
	"github.com/cuemby/triage/pkg/types"
	"github.com/spf13/cobra"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and maintain the remediation ledger",
	Long: `Inspect and maintain the persistent remediation ledger (ledger_path).

The ledger file is locked while "triage run" is active; use the HTTP API
(/api/v1/attempts, /api/v1/escalations) against a running engine instead.`,
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded attempts, newest first",
	RunE:  runLedgerList,
}

var ledgerEscalationsCmd = &cobra.Command{
	Use:   "escalations",
	Short: "List latched escalations",
	RunE:  runLedgerEscalations,
}

var ledgerClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear an escalation so safe-auto remediation resumes",
	Long: `Clear the escalation latch of a (workload, category) pair.

Examples:
  triage ledger clear --workload shop/backend --category CrashLoopBackOff`,
	RunE: runLedgerClear,
}

var ledgerCompactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Drop attempts older than the retention period",
	Long: `Drop attempts older than ledger_retention_hours. Escalations are kept.

A consistent backup of the ledger file is written first unless --dry-run is
given (default: <ledger_path>.backup).`,
	RunE: runLedgerCompact,
}

func init() {
	ledgerListCmd.Flags().String("workload", "", "Only attempts for this workload name")
	ledgerListCmd.Flags().String("outcome", "", "Only attempts with this outcome")
	ledgerListCmd.Flags().Duration("since", 0, "Only attempts newer than this (e.g. 1h)")
	ledgerListCmd.Flags().Int("limit", 50, "Maximum attempts to list (0 for all)")
	ledgerListCmd.Flags().StringP("output", "o", outputText, "Output format (text, json, yaml)")

	ledgerEscalationsCmd.Flags().StringP("output", "o", outputText, "Output format (text, json, yaml)")

	ledgerClearCmd.Flags().String("workload", "", "Workload as namespace/name (required)")
	ledgerClearCmd.Flags().String("category", "", "Issue category (required)")
	_ = ledgerClearCmd.MarkFlagRequired("workload")
	_ = ledgerClearCmd.MarkFlagRequired("category")

	ledgerCompactCmd.Flags().Bool("dry-run", false, "Show what would be removed without changing anything")
	ledgerCompactCmd.Flags().String("backup", "", "Backup path (default: <ledger_path>.backup)")

	ledgerCmd.AddCommand(ledgerListCmd)
	ledgerCmd.AddCommand(ledgerEscalationsCmd)
	ledgerCmd.AddCommand(ledgerClearCmd)
	ledgerCmd.AddCommand(ledgerCompactCmd)
}

// openPersistentLedger opens the configured ledger file. An in-memory ledger
// has nothing to inspect from outside the running engine.
func openPersistentLedger(cmd *cobra.Command) (*config.Config, *ledger.Ledger, *storage.BoltStore, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.LedgerPath == "" {
		return nil, nil, nil, errors.New("ledger_path is not configured; the in-memory ledger is only reachable through the API of a running engine")
	}
	l, store, err := openLedger(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, l, store, nil
}

func runLedgerList(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("output")
	if err := validOutput(format); err != nil {
		return err
	}

	_, l, store, err := openPersistentLedger(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	f := ledger.Filter{}
	f.Workload, _ = cmd.Flags().GetString("workload")
	outcome, _ := cmd.Flags().GetString("outcome")
	f.Outcome = types.Outcome(outcome)
	f.Limit, _ = cmd.Flags().GetInt("limit")
	if since, _ := cmd.Flags().GetDuration("since"); since > 0 {
		f.Since = time.Now().Add(-since)
	}
	if cmd.Flags().Changed("namespace") {
		namespaces, _ := cmd.Flags().GetStringSlice("namespace")
		if len(namespaces) != 1 {
			return errors.New("ledger list filters on a single namespace")
		}
		f.Namespace = namespaces[0]
	}

	attempts := l.Attempts(f)
	if attempts == nil {
		attempts = []types.Attempt{}
	}
	if format != outputText {
		return encode(cmd.OutOrStdout(), format, attempts)
	}
	if len(attempts) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No attempts recorded.")
		return nil
	}
	printAttempts(cmd.OutOrStdout(), attempts)
	return nil
}

func runLedgerEscalations(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("output")
	if err := validOutput(format); err != nil {
		return err
	}

	_, l, store, err := openPersistentLedger(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	escalations := l.Escalations()
	if format != outputText {
		return encode(cmd.OutOrStdout(), format, escalations)
	}
	if len(escalations) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No escalations.")
		return nil
	}

	rows := make([][]string, 0, len(escalations))
	for _, e := range escalations {
		rows = append(rows, []string{
			e.Workload.String(),
			string(e.Category),
			fmt.Sprintf("%d", e.FailedCycles),
			e.RaisedAt.Format(time.RFC3339),
		})
	}
	table(cmd.OutOrStdout(), []string{"WORKLOAD", "CATEGORY", "FAILED CYCLES", "RAISED"}, rows)
	return nil
}

func runLedgerClear(cmd *cobra.Command, args []string) error {
	workload, _ := cmd.Flags().GetString("workload")
	category, _ := cmd.Flags().GetString("category")
	ref, err := api.ParseWorkload(workload)
	if err != nil {
		return err
	}

	_, l, store, err := openPersistentLedger(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := l.ClearEscalation(ref, types.Category(category)); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Cleared escalation for %s %s\n", ref, category)
	return nil
}

func runLedgerCompact(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	backupPath, _ := cmd.Flags().GetString("backup")

	cfg, l, store, err := openPersistentLedger(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	cutoff := time.Now().Add(-cfg.LedgerRetention())
	out := cmd.OutOrStdout()

	if dryRun {
		total := len(l.Attempts(ledger.Filter{}))
		kept := len(l.Attempts(ledger.Filter{Since: cutoff}))
		fmt.Fprintf(out, "[DRY RUN] Would remove %d of %d attempts recorded before %s\n",
			total-kept, total, cutoff.Format(time.RFC3339))
		return nil
	}

	if backupPath == "" {
		backupPath = cfg.LedgerPath + ".backup"
	}
	if err := store.Backup(backupPath); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Backup written to %s\n", backupPath)

	removed, err := l.Compact(cutoff)
	if err != nil {
		return fmt.Errorf("compaction failed: %w", err)
	}
	fmt.Fprintf(out, "✓ Removed %d attempts recorded before %s\n", removed, cutoff.Format(time.RFC3339))
	return nil
}
