package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"ventpipe/internal/api"
	"ventpipe/internal/config"
	"ventpipe/internal/preflight"
	"ventpipe/internal/queue"
)

// statusReport is the JSON form of `ventpipe status`.
type statusReport struct {
	Checks      []checkLine       `json:"checks"`
	Daemon      *api.DaemonStatus `json:"daemon,omitempty"`
	DaemonError string            `json:"daemonError,omitempty"`
	QueueStats  map[string]int    `json:"queueStats"`
}

type checkLine struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show system checks, daemon state and queue counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			report, err := buildStatusReport(cmd.Context(), cfg, ctx.client())
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, report)
			}
			renderStatusReport(cmd.OutOrStdout(), report, shouldColorize(cmd.OutOrStdout()))
			return nil
		},
	}
}

func buildStatusReport(ctx context.Context, cfg *config.Config, client *api.Client) (statusReport, error) {
	report := statusReport{}
	for _, result := range preflight.RunAll(ctx, cfg) {
		report.Checks = append(report.Checks, checkLine{Name: result.Name, Passed: result.Passed, Detail: result.Detail})
	}

	status, err := client.Status(ctx)
	switch {
	case err == nil:
		report.Daemon = &status
		report.QueueStats = status.Workflow.QueueStats
		return report, nil
	case errors.Is(err, api.ErrDaemonUnavailable):
		report.DaemonError = "not running"
	default:
		report.DaemonError = err.Error()
	}

	// The daemon is unreachable; read counts straight from the queue database.
	store, err := queue.Open(cfg)
	if err != nil {
		return report, fmt.Errorf("open queue store: %w", err)
	}
	defer store.Close()
	stats, err := store.Stats(ctx)
	if err != nil {
		return report, err
	}
	report.QueueStats = api.MergeQueueStats(stats)
	return report, nil
}

func renderStatusReport(out io.Writer, report statusReport, colorize bool) {
	for _, line := range renderSectionHeader("System Status", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, check := range report.Checks {
		kind := statusOK
		if !check.Passed {
			kind = statusError
		}
		fmt.Fprintln(out, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	if report.Daemon == nil {
		fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, report.DaemonError, colorize))
	} else {
		d := report.Daemon
		fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, fmt.Sprintf("running (pid %d)", d.PID), colorize))
		fmt.Fprintln(out, renderStatusLine("Workers", statusInfo, strconv.Itoa(d.Workflow.Workers), colorize))
		for _, st := range d.Workflow.StageHealth {
			kind := statusOK
			detail := "Ready"
			switch {
			case !st.Ready:
				kind = statusWarn
				detail = st.Detail
			case st.Status == "degraded":
				kind = statusWarn
				detail = "Degraded: " + st.Detail
			}
			fmt.Fprintln(out, renderStatusLine(st.Name, kind, detail, colorize))
		}
		if d.Workflow.LastError != "" {
			fmt.Fprintln(out, renderStatusLine("Last error", statusWarn, d.Workflow.LastError, colorize))
		}
	}
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Queue Status", colorize) {
		fmt.Fprintln(out, line)
	}
	rows := queueStatRows(report.QueueStats)
	if len(rows) == 0 {
		fmt.Fprintln(out, "Queue is empty")
		return
	}
	fmt.Fprintln(out, renderTable([]string{"Stage", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
}

// queueStatRows lists non-zero stages in pipeline order.
func queueStatRows(stats map[string]int) [][]string {
	order := make(map[string]int)
	for i, st := range queue.AllStages() {
		order[string(st)] = i
	}
	names := make([]string, 0, len(stats))
	for name, count := range stats {
		if count > 0 {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool { return order[names[i]] < order[names[j]] })
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, []string{name, strconv.Itoa(stats[name])})
	}
	return rows
}
