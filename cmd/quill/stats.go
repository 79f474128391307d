package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/quill/internal/config"
	"github.com/MikeSquared-Agency/quill/internal/feedback"
)

func newFeedbackCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Inspect the recorded reply preferences",
	}
	cmd.AddCommand(newFeedbackStatsCommand(), newFeedbackStyleCommand())
	return cmd
}

func newFeedbackStatsCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the preference log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				path = cfg.FeedbackPath
			}
			path = feedback.NewFileSink(path).Path()

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open feedback log: %w", err)
			}
			defer f.Close()

			sum, err := feedback.Summarize(f)
			if err != nil {
				return err
			}

			return writeIndented(cmd, sum)
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "preference log (defaults to the configured feedback path)")
	return cmd
}

func newFeedbackStyleCommand() *cobra.Command {
	var path, out string
	cmd := &cobra.Command{
		Use:   "style",
		Short: "Rebuild the learned style profile from the preference log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" || out == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				if path == "" {
					path = cfg.FeedbackPath
				}
				if out == "" {
					out = cfg.StyleProfilePath
				}
			}

			learner := feedback.NewStyleLearner(path, out, slog.Default())
			if err := learner.Refresh(); err != nil {
				return err
			}
			profile := learner.Profile()
			if profile == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "not enough choices yet (need %d)\n", feedback.MinStyleSamples)
				return nil
			}
			return writeIndented(cmd, profile)
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "preference log (defaults to the configured feedback path)")
	cmd.Flags().StringVar(&out, "out", "", "profile file (defaults to the configured style profile path)")
	return cmd
}

func writeIndented(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
