package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-portal/internal/app"
	"github.com/odyssey-erp/odyssey-portal/internal/platform/db"
	"github.com/odyssey-erp/odyssey-portal/migrations"
)

var migrator *db.Migrator

var rootCmd = &cobra.Command{
	Use:               "migrate",
	Short:             "Database migration tool for the portal",
	SilenceUsage:      true,
	PersistentPreRunE: openMigrator,
	PersistentPostRun: func(*cobra.Command, []string) {
		if migrator != nil {
			_ = migrator.Close()
		}
	},
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := migrator.Up(cmd.Context()); err != nil {
			return err
		}
		return printVersion(cmd)
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := migrator.Down(cmd.Context()); err != nil {
			return err
		}
		return printVersion(cmd)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show current migration version",
	RunE:  func(cmd *cobra.Command, _ []string) error { return printVersion(cmd) },
}

func init() {
	rootCmd.AddCommand(upCmd, downCmd, versionCmd)
}

func openMigrator(*cobra.Command, []string) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	migrator, err = db.NewMigrator(cfg.PGDSN, migrations.FS)
	return err
}

func printVersion(cmd *cobra.Command) error {
	v, err := migrator.Version(cmd.Context())
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
	return nil
}

func main() {
	if app.SkipStartup("migrate") {
		return
	}
	if err := rootCmd.Execute(); err != nil {
		slog.Default().Error("migrate", slog.Any("error", err))
		os.Exit(1)
	}
}
