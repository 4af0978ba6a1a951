package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ventpipe/internal/api"
	"ventpipe/internal/queue"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and maintain pipeline jobs",
	}
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsStatsCommand(ctx))
	jobsCmd.AddCommand(newJobsHealthCommand(ctx))
	jobsCmd.AddCommand(newJobsPurgeCommand(ctx))
	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var stages []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ctx.client()
			jobs, err := client.Jobs(cmd.Context(), stages...)
			if err != nil {
				return wrapClientError(err, client)
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, jobs)
			}
			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs")
				return nil
			}
			layout := tableLayout{
				Headers: []string{"Job", "Submission", "Run", "Kind", "Stage", "Attempts", "Created", "Error"},
				Aligns:  []columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				Footer:  jobsFooter(jobs),
			}
			fmt.Fprintln(out, layout.render(jobRows(jobs)))
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&stages, "stage", "s", nil, "Filter by stage (repeatable or comma separated)")
	return cmd
}

// jobsFooter counts the listed jobs and how many a worker holds right now.
func jobsFooter(jobs []api.Job) string {
	leased := 0
	for _, job := range jobs {
		if job.Leased {
			leased++
		}
	}
	noun := "jobs"
	if len(jobs) == 1 {
		noun = "job"
	}
	return fmt.Sprintf("%d %s, %d leased", len(jobs), noun, leased)
}

func jobRows(jobs []api.Job) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			shortJobID(job.ID),
			job.SubmissionID,
			strconv.Itoa(job.Run),
			job.Kind,
			job.Stage,
			strconv.Itoa(job.Attempts),
			job.CreatedAt,
			truncate(job.LastErrorKind, 24),
		})
	}
	return rows
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job with its per-stage attempts and history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ctx.client()
			detail, err := client.Job(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return wrapClientError(err, client)
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, detail)
			}
			printJobDetail(cmd.OutOrStdout(), detail)
			return nil
		},
	}
}

func printJobDetail(out io.Writer, detail api.JobDetail) {
	job := detail.Job
	fmt.Fprintf(out, "Job: %s\n", job.ID)
	fmt.Fprintf(out, "Submission: %s (run %d, %s)\n", job.SubmissionID, job.Run, job.Kind)
	fmt.Fprintf(out, "Stage: %s\n", job.Stage)
	fmt.Fprintf(out, "Preset: %s\n", job.PresetID)
	if job.FailedStage != "" {
		fmt.Fprintf(out, "Failed stage: %s\n", job.FailedStage)
	}
	if job.LastError != "" {
		fmt.Fprintf(out, "Last error: %s: %s\n", job.LastErrorKind, job.LastError)
	}
	switch {
	case job.Leased:
		fmt.Fprintf(out, "Lease: %s until %s\n", job.LeaseOwner, job.LeaseExpiresAt)
	case job.LeaseOwner != "":
		fmt.Fprintf(out, "Lease: %s expired at %s\n", job.LeaseOwner, job.LeaseExpiresAt)
	}
	if len(detail.Attempts) > 0 {
		rows := make([][]string, 0, len(detail.Attempts))
		for _, a := range detail.Attempts {
			rows = append(rows, []string{a.Stage, strconv.Itoa(a.Attempts), strconv.Itoa(a.Failures), a.LastErrorKind})
		}
		fmt.Fprintln(out, renderTable([]string{"Stage", "Attempts", "Failures", "Last error"}, rows,
			[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft}))
	}
	if len(detail.Events) > 0 {
		rows := make([][]string, 0, len(detail.Events))
		for _, e := range detail.Events {
			transition := e.FromStage
			if e.ToStage != "" {
				transition += " -> " + e.ToStage
			}
			rows = append(rows, []string{e.CreatedAt, e.Type, transition, truncate(e.Detail, 48)})
		}
		fmt.Fprintln(out, renderTable([]string{"Time", "Event", "Transition", "Detail"}, rows, nil))
	}
}

func newJobsStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job counts per stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ctx.client()
			counts, err := client.JobStats(cmd.Context())
			if err != nil {
				return wrapClientError(err, client)
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, counts)
			}
			rows := queueStatRows(counts)
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Stage", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
}

func newJobsHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check queue database health (schema, integrity, leases)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := queue.Open(cfg)
			if err != nil {
				return fmt.Errorf("open queue store: %w", err)
			}
			defer store.Close()

			dbHealth, dbErr := store.CheckHealth(cmd.Context())
			summary, err := store.Health(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, map[string]any{
					"database": dbHealth,
					"jobs":     api.FromHealthSummary(summary),
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Database path: %s\n", dbHealth.DBPath)
			fmt.Fprintf(out, "Database exists: %s\n", yesNo(dbHealth.DatabaseExists))
			fmt.Fprintf(out, "Readable: %s\n", yesNo(dbHealth.DatabaseReadable))
			fmt.Fprintf(out, "Schema version: %d\n", dbHealth.SchemaVersion)
			fmt.Fprintf(out, "jobs table present: %s\n", yesNo(dbHealth.TableExists))
			fmt.Fprintf(out, "Integrity check: %s\n", yesNo(dbHealth.IntegrityCheck))
			fmt.Fprintf(out, "Total jobs: %d\n", summary.Total)
			fmt.Fprintf(out, "Active: %d (leased %d, waiting %d)\n", summary.Active, summary.Leased, summary.Waiting)
			fmt.Fprintf(out, "Finished: done %d, dead %d, cancelled %d\n", summary.Done, summary.Dead, summary.Cancelled)
			if dbHealth.Error != "" {
				fmt.Fprintf(out, "Error: %s\n", dbHealth.Error)
			}
			return dbErr
		},
	}
}

func newJobsPurgeCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete done and cancelled jobs that finished long ago",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := queue.Open(cfg)
			if err != nil {
				return fmt.Errorf("open queue store: %w", err)
			}
			defer store.Close()

			removed, err := store.PurgeFinished(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, map[string]int64{"removed": removed})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d finished jobs\n", removed)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "Only remove jobs finished before this age")
	return cmd
}

func shortJobID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	if limit <= 0 || len([]rune(value)) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit-1]) + "…"
}
