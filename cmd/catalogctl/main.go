// Package main provides catalogctl, a command-line client for the machine
// catalog HTTP API.
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"machine-catalog-backend/internal/client"
	"machine-catalog-backend/internal/grid"
	"machine-catalog-backend/internal/querycache"
)

var (
	version = "dev"

	// Global flags
	serverURL  string
	tokenFlag  string
	outputFlag string
	gridCols   int
	gridRows   int
	verbose    bool

	session *client.Session
	cache   *querycache.Cache
	layout  grid.Grid
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "catalogctl",
		Short: "CLI for the machine parts catalog",
		Long: `catalogctl browses and edits the machine parts catalog: machines, the
parts placed on their schematics and the shared part list.

Locations accept a flat index ("125") or a row/column label ("R5C6").`,
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger := zap.NewNop()
			if verbose {
				var err error
				if logger, err = zap.NewDevelopment(); err != nil {
					return err
				}
			}

			if tokenFlag == "" {
				tokenFlag = os.Getenv("CATALOG_TOKEN")
			}
			layout = grid.Grid{Columns: gridCols, Rows: gridRows}
			cache = querycache.New(context.Background())
			session = client.NewSession(
				client.New(serverURL, client.WithToken(tokenFlag)),
				cache,
				client.WithLogger(logger.Sugar()),
			)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if cache != nil {
				cache.Close()
			}
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Catalog server URL")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "Bearer token (defaults to $CATALOG_TOKEN)")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().IntVar(&gridCols, "grid-columns", grid.Default.Columns, "Columns of the schematic grid")
	rootCmd.PersistentFlags().IntVar(&gridRows, "grid-rows", grid.Default.Rows, "Rows of the schematic grid")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log cache activity to stderr")

	rootCmd.AddCommand(newMachinesCmd())
	rootCmd.AddCommand(newPartsCmd())
	rootCmd.AddCommand(newUploadCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
