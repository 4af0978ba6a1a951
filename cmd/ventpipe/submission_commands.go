package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ventpipe/internal/api"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var req api.SubmitRequest
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "submit <submission-id>",
		Short: "Submit uploaded audio for processing",
		Long: "Submit a post or comment whose raw audio is already in the upload directory.\n" +
			"--audio is the key relative to paths.upload_dir.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.SubmissionID = strings.TrimSpace(args[0])
			client := ctx.client()
			ack, err := client.Submit(cmd.Context(), req)
			if err != nil {
				return wrapClientError(err, client)
			}
			if wait <= 0 {
				if ctx.JSONMode() {
					return writeJSON(cmd, ack)
				}
				out := cmd.OutOrStdout()
				if ack.AlreadyReady {
					fmt.Fprintf(out, "Submission %s is already ready\n", ack.SubmissionID)
					return nil
				}
				fmt.Fprintf(out, "Submission %s accepted (job %s, run %d)\n", ack.SubmissionID, ack.JobID, ack.Run)
				return nil
			}

			sub, err := waitForSubmission(cmd.Context(), client, ack.SubmissionID, wait)
			if err != nil {
				return wrapClientError(err, client)
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, sub)
			}
			printSubmission(cmd.OutOrStdout(), sub)
			return nil
		},
	}
	cmd.Flags().StringVarP(&req.Kind, "kind", "k", "post", "Submission kind: post or comment")
	cmd.Flags().StringVarP(&req.RawAudioKey, "audio", "a", "", "Raw audio key relative to the upload directory")
	cmd.Flags().StringVar(&req.Owner, "owner", "", "Owner identifier stored with the submission")
	cmd.Flags().StringVar(&req.ParentID, "parent", "", "Parent post id (required for comments)")
	cmd.Flags().StringVarP(&req.PresetID, "preset", "p", "", "Voice preset name or number (defaults to pipeline.default_preset)")
	cmd.Flags().DurationVar(&wait, "wait", 0, "Wait up to this long for the submission to finish")
	_ = cmd.MarkFlagRequired("audio")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <submission-id>",
		Short: "Show a submission's status and annotations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ctx.client()
			sub, err := client.Submission(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return wrapClientError(err, client)
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, sub)
			}
			printSubmission(cmd.OutOrStdout(), sub)
			return nil
		},
	}
}

func newWithdrawCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "withdraw <submission-id>",
		Aliases: []string{"cancel"},
		Short:   "Cancel a submission's active run",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ctx.client()
			job, err := client.Withdraw(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return wrapClientError(err, client)
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, job)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Withdrew run %d of %s (job %s)\n", job.Run, job.SubmissionID, job.ID)
			return nil
		},
	}
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <submission-id>",
		Short: "Start a new run for a dead or withdrawn submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ctx.client()
			job, err := client.Retry(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return wrapClientError(err, client)
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, job)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued run %d of %s (job %s)\n", job.Run, job.SubmissionID, job.ID)
			return nil
		},
	}
}

// waitForSubmission polls until the submission is ready or failed, or its
// latest run stops without publishing.
func waitForSubmission(ctx context.Context, client *api.Client, id string, timeout time.Duration) (api.Submission, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		sub, err := client.Submission(ctx, id)
		if err != nil {
			return sub, err
		}
		if submissionSettled(sub) {
			return sub, nil
		}
		select {
		case <-ctx.Done():
			return sub, fmt.Errorf("submission %s still %s after %s", id, sub.Status, timeout)
		case <-ticker.C:
		}
	}
}

func submissionSettled(sub api.Submission) bool {
	switch sub.Status {
	case "ready", "failed":
		return true
	}
	return sub.Job != nil && (sub.Job.Stage == "dead" || sub.Job.Stage == "cancelled")
}

func printSubmission(out io.Writer, sub api.Submission) {
	fmt.Fprintf(out, "Submission: %s (%s)\n", sub.ID, sub.Kind)
	fmt.Fprintf(out, "Status: %s\n", sub.Status)
	if sub.ParentID != "" {
		fmt.Fprintf(out, "Parent: %s\n", sub.ParentID)
	}
	fmt.Fprintf(out, "Preset: %s\n", sub.PresetID)
	if sub.FailureKind != "" {
		fmt.Fprintf(out, "Failure: %s: %s\n", sub.FailureKind, sub.FailureMessage)
	}
	if job := sub.Job; job != nil {
		fmt.Fprintf(out, "Run: %d (job %s, stage %s, attempts %d)\n", job.Run, job.ID, job.Stage, job.Attempts)
		if job.LastError != "" {
			fmt.Fprintf(out, "Last error: %s: %s\n", job.LastErrorKind, job.LastError)
		}
	}
	ann := sub.Annotations
	if ann == nil {
		return
	}
	if ann.TLDR != "" {
		fmt.Fprintf(out, "TL;DR: %s\n", ann.TLDR)
	}
	if ann.Summary != "" {
		fmt.Fprintf(out, "Summary: %s\n", ann.Summary)
	}
	if ann.Sentiment != "" {
		fmt.Fprintf(out, "Sentiment: %s\n", ann.Sentiment)
	}
	if ann.Language != "" {
		fmt.Fprintf(out, "Language: %s\n", ann.Language)
	}
	fmt.Fprintf(out, "Duration: %.1fs\n", ann.AudioDurationSec)
	if ann.AnonAudioKey != "" {
		fmt.Fprintf(out, "Audio: %s\n", ann.AnonAudioKey)
	}
	if sub.AudioExpiresAt != "" {
		fmt.Fprintf(out, "Audio expires: %s\n", sub.AudioExpiresAt)
	}
	fmt.Fprintf(out, "Transcript: %s\n", ann.Transcript)
}
