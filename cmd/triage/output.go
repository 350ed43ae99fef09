package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cuemby/triage/pkg/types"
	"gopkg.in/yaml.v3"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

func validOutput(format string) error {
	switch format {
	case outputText, outputJSON, outputYAML:
		return nil
	}
	return fmt.Errorf("unknown output format %q (text, json, yaml)", format)
}

// encode writes v as JSON or YAML. YAML goes through JSON first so both
// formats use the same field names.
func encode(w io.Writer, format string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	if format == outputJSON {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return fmt.Errorf("failed to convert output to yaml: %w", err)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return enc.Close()
}

func table(w io.Writer, headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	_ = tw.Flush()
}

func printReport(w io.Writer, format string, r *types.Report) error {
	if format != outputText {
		return encode(w, format, r)
	}

	fmt.Fprintf(w, "Namespace: %s\n", r.Namespace)
	fmt.Fprintf(w, "Cycle:     %s (%s)\n", r.CycleID, r.Duration.Round(time.Millisecond))
	if r.Failure != types.FailureNone {
		fmt.Fprintf(w, "Failure:   %s: %s\n", r.Failure, r.Error)
		return nil
	}
	if r.Aborted {
		fmt.Fprintln(w, "Aborted:   cycle deadline reached")
	}
	fmt.Fprintln(w)

	if len(r.Issues) == 0 {
		fmt.Fprintln(w, "No issues found.")
		return nil
	}

	rows := make([][]string, 0, len(r.Issues))
	for i, issue := range r.Issues {
		risk := ""
		if i < len(r.Plans) {
			risk = string(r.Plans[i].Risk)
		}
		rows = append(rows, []string{issue.Workload.Name, string(issue.Category), issue.Cause.String(), string(issue.Severity), risk})
	}
	table(w, []string{"WORKLOAD", "CATEGORY", "CAUSE", "SEVERITY", "PLAN"}, rows)

	if len(r.Attempts) > 0 {
		fmt.Fprintln(w)
		printAttempts(w, r.Attempts)
	}

	if len(r.PendingApprovals) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Awaiting approval:")
		for _, pa := range r.PendingApprovals {
			action := string(pa.Action)
			if pa.ActionIndex < 0 {
				action = "plan"
			}
			fmt.Fprintf(w, "  %s %s %s: %s\n", pa.Workload, pa.Category, action, pa.Reason)
		}
	}
	return nil
}

func printAttempts(w io.Writer, attempts []types.Attempt) {
	rows := make([][]string, 0, len(attempts))
	for _, a := range attempts {
		detail := a.Note
		if a.Error != "" {
			detail = a.Error
		}
		rows = append(rows, []string{
			a.Timestamp.Format(time.RFC3339),
			a.Workload.String(),
			string(a.Action),
			string(a.Outcome),
			fmt.Sprintf("%d", a.Retries),
			detail,
		})
	}
	table(w, []string{"TIME", "WORKLOAD", "ACTION", "OUTCOME", "RETRIES", "DETAIL"}, rows)
}
