package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ventpipe/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines      int
		follow     bool
		jobID      string
		submission string
		grep       []string
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Display daemon logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := filepath.Join(cfg.Paths.LogDir, "ventpipe.log")
			filter := logs.Filter{Terms: logFilterTerms(jobID, submission, grep)}

			result, err := logs.Tail(path, lines, filter)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			for _, line := range result.Lines {
				fmt.Fprintln(stdout, line)
			}
			if !follow {
				return nil
			}
			return logs.Follow(cmd.Context(), path, result.Offset, filter, 500*time.Millisecond, func(line string) {
				fmt.Fprintln(stdout, line)
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output")
	cmd.Flags().StringVar(&jobID, "job", "", "Only show lines mentioning this job id")
	cmd.Flags().StringVar(&submission, "submission", "", "Only show lines mentioning this submission id")
	cmd.Flags().StringArrayVar(&grep, "grep", nil, "Only show lines containing this text (repeatable)")
	return cmd
}

func logFilterTerms(jobID, submission string, grep []string) []string {
	var terms []string
	for _, term := range append([]string{jobID, submission}, grep...) {
		if term = strings.TrimSpace(term); term != "" {
			terms = append(terms, term)
		}
	}
	return terms
}
