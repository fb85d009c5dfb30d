package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"repage/internal/browser"
	"repage/internal/llm"
	"repage/internal/services"
)

var learnOutPath string

var learnCmd = &cobra.Command{
	Use:   "learn <url> [url] [url]",
	Short: "Learn a style profile from up to three reference pages",
	Args:  cobra.RangeArgs(1, 3),
	RunE:  runLearn,
}

func init() {
	learnCmd.Flags().StringVarP(&learnOutPath, "out", "o", "", "write the profile JSON to this file instead of stdout")
}

func runLearn(cmd *cobra.Command, args []string) error {
	cfg, logger, creds, err := environment()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()

	fetcher := browser.New(logger, browser.WithChromePath(cfg.ChromePath))
	learner := services.NewLearningService(nil, fetcher, llm.NewClient, logger)
	profile, err := learner.LearnURLs(ctx, args, creds)
	if err != nil {
		return fmt.Errorf("learn style: %w", err)
	}
	raw, err := profile.JSON()
	if err != nil {
		return err
	}

	if learnOutPath == "" {
		fmt.Fprintln(cmd.OutOrStdout(), raw)
		return nil
	}
	if err := os.WriteFile(learnOutPath, []byte(raw+"\n"), 0o644); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	logger.Info().Str("path", learnOutPath).Str("site", profile.SiteName).Msg("profile written")
	return nil
}
