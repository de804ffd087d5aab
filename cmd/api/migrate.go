package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/daloamarket/backend/internal/config"
	"github.com/daloamarket/backend/internal/db"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema and River migrations, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			url, err := config.LoadDatabaseURL()
			if err != nil {
				return err
			}
			if err := db.RunMigrations(url); err != nil {
				return err
			}
			slog.Info("schema migrations applied")

			pool, err := db.Connect(cmd.Context(), url)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer pool.Close()
			if err := db.RunRiverMigrations(cmd.Context(), pool); err != nil {
				return err
			}
			slog.Info("River migrations applied")
			return nil
		},
	}
}
