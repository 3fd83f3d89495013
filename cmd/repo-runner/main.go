// Package main provides the repo-runner CLI for ingesting repositories and
// asking questions from the terminal.
package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:     "repo-runner",
	Short:   "Ask questions about any Git repository",
	Long:    "CLI for ingesting repositories into the Qdrant index and asking questions about them",
	Version: version,
	// keep usage out of runtime failures
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("REPO_RUNNER_CONFIG"), "path to a YAML config file")
	rootCmd.AddCommand(ingestCmd, chatCmd, statusCmd, checkEnvCmd, resetCmd, mcpCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
