package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"repage/internal/config"
	"repage/internal/llm"
	"repage/internal/logging"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "repage",
	Short: "Convert PDF documents into HTML styled after a reference website",
	Long: `repage extracts text, tables and images from PDF files and rewrites them as
HTML that follows a style profile learned from up to three reference pages.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(convertCmd, learnCmd, convertersCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// environment loads configuration and builds the logger and the
// environment-supplied credentials the commands share.
func environment() (config.Config, zerolog.Logger, llm.Credentials, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, zerolog.Nop(), llm.Credentials{}, err
	}
	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	logger := logging.New(level, cfg.LogFormat, "repage-cli")
	creds := llm.Credentials{
		OpenAIKey:      cfg.OpenAIKey,
		AnthropicKey:   cfg.AnthropicKey,
		OpenAIModel:    cfg.OpenAIModel,
		AnthropicModel: cfg.AnthropicModel,
	}
	return cfg, logger, creds, nil
}
