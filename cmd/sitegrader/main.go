// Package main implements the sitegrader CLI: AI-driven website analysis
// and grading for lead qualification.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sitegrader/internal/config"
	"sitegrader/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Loaded in PersistentPreRunE, visible to every command.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "sitegrader",
	Short: "sitegrader - AI website analysis and grading",
	Long: `sitegrader crawls a business website, runs six AI analyzers over its
pages and screenshots, validates visual findings against the evidence,
and produces a graded report with the top issues worth fixing.

Results are written to a local backup tier before any database upload,
so a store outage never loses a run.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		if err := logging.Initialize(level); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "sitegrader.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(benchmarkCmd)
	rootCmd.AddCommand(backupsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
