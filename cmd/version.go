package cmd

import (
	"fmt"

	"github.com/scienceol/barista/internal/ui"
	"github.com/scienceol/barista/internal/updater"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

var flagCheck bool

func init() {
	versionCmd.Flags().BoolVar(&flagCheck, "check", false, "Check GitHub for a newer release")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of barista",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("barista v%s\n", version)
		if !flagCheck {
			return
		}
		if info := updater.CheckForUpdate(cmd.Context(), version); info != nil {
			ui.UpdateNotice(version, info.Latest, info.ReleaseURL)
		} else {
			ui.Success("Up to date")
		}
	},
}
