// Package server holds the cobra command tree for the forecasting engine
// binary: "serve" runs the HTTP API, "migrate" applies pending SQLite
// schema migrations and exits.
package server

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	dbPath   string
	httpAddr string
	logLevel string
)

// version is overridden via -ldflags for release builds.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "forecaster",
	Short: "Probabilistic software delivery forecasting engine",
}

// Execute runs the command tree, exiting the process on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to the SQLite database (default: $DB_URL or flowcast.db)")
	rootCmd.PersistentFlags().StringVar(&httpAddr, "addr", "", "HTTP listen address (default: $HTTP_ADDR or 127.0.0.1:8080)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}
