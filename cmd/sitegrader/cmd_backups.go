package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"sitegrader/internal/analyze"
	"sitegrader/internal/backup"
	"sitegrader/internal/store"
)

var flagArchiveDays int

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "Inspect and maintain the local backup tier",
}

var backupsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show backup counts and storage usage",
	RunE:  backupsStats,
}

var backupsRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-upload quarantined records to the database",
	RunE:  backupsRetry,
}

var backupsArchiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Delete uploaded records older than the retention window",
	RunE:  backupsArchive,
}

func init() {
	backupsArchiveCmd.Flags().IntVar(&flagArchiveDays, "days", 30, "delete uploaded records older than this many days")

	backupsCmd.AddCommand(backupsStatsCmd)
	backupsCmd.AddCommand(backupsRetryCmd)
	backupsCmd.AddCommand(backupsArchiveCmd)
}

func openBackups() (*backup.Store, error) {
	return backup.NewStore(cfg.Backup.RootDir, "sitegrader")
}

func backupsStats(cmd *cobra.Command, args []string) error {
	backups, err := openBackups()
	if err != nil {
		return err
	}
	stats, err := backups.Stats()
	if err != nil {
		return err
	}

	fmt.Printf("Total records:  %d\n", stats.Total)
	fmt.Printf("Uploaded:       %d\n", stats.Uploaded)
	fmt.Printf("Pending:        %d\n", stats.Pending)
	fmt.Printf("Failed:         %d\n", stats.Failed)
	fmt.Printf("Success rate:   %.0f%%\n", stats.SuccessRate*100)
	fmt.Printf("Storage:        %.1f KB\n", float64(stats.StorageBytes)/1024)
	if stats.OldestFailed != nil {
		fmt.Printf("Oldest failure: %s\n", stats.OldestFailed.Format("2006-01-02 15:04"))
	}
	return nil
}

func backupsRetry(cmd *cobra.Command, args []string) error {
	backups, err := openBackups()
	if err != nil {
		return err
	}
	dataStore, err := store.Open(cfg.Store.DatabasePath)
	if err != nil {
		return err
	}
	defer dataStore.Close()

	// Retry needs only the durability pair, not the analysis stack.
	orch := analyze.NewOrchestrator(analyze.Deps{Backups: backups, Store: dataStore})
	report, err := orch.RetryPending(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("Attempted %d, succeeded %d, failed %d", report.Attempted, report.Succeeded, report.Failed)
	if report.Corrupt > 0 {
		fmt.Printf(", quarantined %d corrupt", report.Corrupt)
	}
	fmt.Println()
	return nil
}

func backupsArchive(cmd *cobra.Command, args []string) error {
	backups, err := openBackups()
	if err != nil {
		return err
	}
	removed, err := backups.ArchiveOldBackups(flagArchiveDays)
	if err != nil {
		return err
	}
	fmt.Printf("Archived %d uploaded records older than %d days\n", removed, flagArchiveDays)
	return nil
}
