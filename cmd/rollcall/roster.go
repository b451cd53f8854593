package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"smart-roll-call/internal/attendance"
)

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Manage the class roster",
}

var rosterImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Upsert batches, students and schedules from a YAML roster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := attendance.NewStore(cfg.Attendance.DatabasePath)
		if err != nil {
			return err
		}
		defer store.Close()
		return importRoster(cmd.Context(), store, args[0])
	},
}

func importRoster(ctx context.Context, store *attendance.Store, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	roster, err := attendance.LoadRoster(path)
	if err != nil {
		return err
	}
	stats, err := store.ImportRoster(ctx, roster)
	if err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}
	slog.Info("roster imported",
		"file", path,
		"batches", stats.Batches,
		"students", stats.Students,
		"schedules", stats.Schedules,
	)
	return nil
}

func init() {
	rosterCmd.AddCommand(rosterImportCmd)
	rootCmd.AddCommand(rosterCmd)
}
