package main

import (
	"fmt"
	"os"

	"github.com/cuemby/triage/pkg/config"
	"github.com/cuemby/triage/pkg/log"
	"github.com/cuemby/triage/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "triage",
	Short: "Triage - Kubernetes workload diagnosis and remediation",
	Long: `Triage watches Kubernetes namespaces, classifies unhealthy workloads
into a fixed set of failure categories and applies conservative, verified
remediations. Anything it is not sure about is left for an operator to
approve.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Triage version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit JSON logs")
	rootCmd.PersistentFlags().StringSliceP("namespace", "n", nil, "Namespaces to watch (overrides the configuration)")
	rootCmd.PersistentFlags().String("kubeconfig", "", "Path to a kubeconfig file")
	rootCmd.PersistentFlags().String("context", "", "Kubeconfig context to use")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(diagnoseCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Triage version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

// loadConfig reads the configuration file, applies flag overrides and
// initializes the global logger
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if jsonLogs, _ := cmd.Flags().GetBool("log-json"); jsonLogs {
		cfg.Log.JSON = true
	}
	if namespaces, _ := cmd.Flags().GetStringSlice("namespace"); len(namespaces) > 0 {
		cfg.Namespaces = namespaces
	}
	if kubeconfig, _ := cmd.Flags().GetString("kubeconfig"); kubeconfig != "" {
		cfg.Kubeconfig = kubeconfig
	}
	if kubeContext, _ := cmd.Flags().GetString("context"); kubeContext != "" {
		cfg.KubeContext = kubeContext
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
		Output:     os.Stderr,
	})
	metrics.SetVersion(Version)

	return cfg, nil
}
