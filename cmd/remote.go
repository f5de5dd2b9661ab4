package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scienceol/barista/internal/client"
	"github.com/scienceol/barista/internal/config"
	"github.com/scienceol/barista/internal/protocol"
	"github.com/scienceol/barista/internal/ui"
	"github.com/spf13/cobra"
)

const requestTimeout = 5 * time.Second

var (
	flagWatch   bool
	optionsOpts config.Preferences
)

func init() {
	optionsCmd.Flags().BoolVarP(&optionsOpts.Display, "display", "d", false, "Prevent the display from sleeping")
	optionsCmd.Flags().BoolVarP(&optionsOpts.Idle, "idle", "i", false, "Prevent the system from idle sleeping")
	optionsCmd.Flags().BoolVarP(&optionsOpts.Disk, "disk", "m", false, "Prevent disks from idle sleeping")
	optionsCmd.Flags().BoolVarP(&optionsOpts.AC, "ac", "s", false, "Keep the system awake while on AC power")
	statusCmd.Flags().BoolVarP(&flagWatch, "watch", "w", false, "Follow status changes")

	rootCmd.AddCommand(onCmd, offCmd, optionsCmd, statusCmd)
}

var onCmd = &cobra.Command{
	Use:   "on",
	Short: "Start caffeinate",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) (protocol.StatusPayload, error) {
			return c.SetEnabled(ctx, true)
		})
	},
}

var offCmd = &cobra.Command{
	Use:   "off",
	Short: "Stop caffeinate",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) (protocol.StatusPayload, error) {
			return c.SetEnabled(ctx, false)
		})
	},
}

var optionsCmd = &cobra.Command{
	Use:   "options",
	Short: "Choose what caffeinate prevents",
	Long: `Replaces all four switches; omitted flags are turned off. A running
caffeinate keeps its flags until it is turned off and on again.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := optionsOpts.Options()
		ui.KeyValue("Flags", describeArgs(opts))
		return withClient(cmd, func(ctx context.Context, c *client.Client) (protocol.StatusPayload, error) {
			return c.SetOptions(ctx, opts)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether caffeinate is running",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !flagWatch {
			return withClient(cmd, func(ctx context.Context, c *client.Client) (protocol.StatusPayload, error) {
				return c.Status(ctx)
			})
		}

		cfg, err := loadConfig(cmd, config.Overrides{})
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return client.Watch(ctx, controlURL(cfg), ui.Status, func(err error) {
			ui.Error("Connection lost: %v", err)
			ui.Info("Reconnecting...")
		})
	},
}

// withClient connects to the running barista, performs one request and
// prints the resulting status.
func withClient(cmd *cobra.Command, fn func(context.Context, *client.Client) (protocol.StatusPayload, error)) error {
	cfg, err := loadConfig(cmd, config.Overrides{})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	c, err := client.Dial(ctx, controlURL(cfg))
	if err != nil {
		return fmt.Errorf("is \"barista run\" running? %w", err)
	}
	defer c.Close()

	st, err := fn(ctx, c)
	if err != nil {
		return err
	}
	ui.Status(st)
	return nil
}

func controlURL(cfg *config.Config) string {
	return "ws://" + cfg.Listen + "/ws"
}
