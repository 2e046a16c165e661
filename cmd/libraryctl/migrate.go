package main

import (
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/qltv/library_service/internal/app/runtime"
	"github.com/qltv/library_service/internal/platform/migrations"
)

var migrateSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the PostgreSQL schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return migrateWith(cmd, func(db *sql.DB) error { return migrations.Up(db) })
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return migrateWith(cmd, func(db *sql.DB) error { return migrations.Down(db, migrateSteps) })
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return migrateWith(cmd, nil)
	},
}

func init() {
	migrateDownCmd.Flags().IntVar(&migrateSteps, "steps", 1, "Number of migrations to roll back")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
}

func migrateWith(cmd *cobra.Command, fn func(*sql.DB) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := runtime.OpenDatabase(cmd.Context(), cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if fn != nil {
		if err := fn(db); err != nil {
			return err
		}
	}
	version, dirty, err := migrations.Version(db)
	if err != nil {
		return err
	}
	if dirty {
		out.Warning("schema version %d is dirty", version)
		return nil
	}
	out.Success("schema at version %d", version)
	return nil
}
