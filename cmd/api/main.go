package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	serve := serveCmd()
	rootCmd := &cobra.Command{
		Use:     "daloamarket-api",
		Short:   "DaloaMarket payments and listing publication API",
		Version: Version,
		// Running without a subcommand serves, as the container entrypoint expects.
		RunE: serve.RunE,
	}
	rootCmd.AddCommand(serve)
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
