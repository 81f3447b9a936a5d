// Package main is the entry point for the hexbin inspection server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dsc-hexbins/server/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "hexbind",
	Short: "Hexbin inspection server for deep sea coral and sponge observations",
	Long: `hexbind serves H3 hexbins of deep sea coral and sponge observations,
answers hexbin clicks with depth, phylum and species summaries, and keeps the
displayed hexbins in sync with the shared data filter.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config/server.yaml", "Path to configuration file")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
