package cmd

import (
	"fmt"
	"os"

	"github.com/scienceol/barista/internal/config"
	"github.com/spf13/cobra"
)

var (
	flagConfig string
	flagListen string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default: ~/.barista/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagListen, "listen", "", "Control endpoint address (default: "+config.DefaultListen+")")
}

var rootCmd = &cobra.Command{
	Use:   "barista",
	Short: "Barista — keep your Mac awake with caffeinate",
	Long: `Barista supervises a single caffeinate process that prevents the system
from sleeping. "barista run" hosts the supervisor; the other commands talk to
it over its local control endpoint, the same way a menu-bar front end does.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves configuration using only the flags the user set.
func loadConfig(cmd *cobra.Command, ov config.Overrides) (*config.Config, error) {
	ov.File = flagConfig
	if cmd.Flags().Changed("listen") {
		ov.Listen = &flagListen
	}
	cfg, err := config.Load(ov)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// changedBool returns &v if the named flag was set on the command line.
func changedBool(cmd *cobra.Command, name string, v *bool) *bool {
	if cmd.Flags().Changed(name) {
		return v
	}
	return nil
}
