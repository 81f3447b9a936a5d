package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/dsc-hexbins/server/internal/dataservice"
)

var importCmd = &cobra.Command{
	Use:   "import <csv>",
	Short: "Load observations from a CSV file into the configured database",
	Long: `Reads a CSV export with a header row and appends its observations.
Recognised columns: h3, depth (or DepthInMeters), phylum, scientific_name,
catalog_number. Only h3 is required. A running server keeps serving cached
results until DELETE /api/cache is called.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open %s: %w", args[0], err)
	}
	defer f.Close()

	store, err := dataservice.Open(cfg.Data.Driver, cfg.Data.DSN)
	if err != nil {
		return fmt.Errorf("failed to open data service: %w", err)
	}
	defer store.Close()

	n, err := store.ImportCSV(cmd.Context(), f)
	if err != nil {
		return fmt.Errorf("import stopped after %d rows: %w", n, err)
	}
	total, err := store.Count(cmd.Context())
	if err != nil {
		return err
	}
	log.Printf("Imported %d observations from %s (%d total)", n, args[0], total)
	return nil
}
