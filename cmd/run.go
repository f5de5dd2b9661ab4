package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/scienceol/barista/internal/config"
	"github.com/scienceol/barista/internal/control"
	"github.com/scienceol/barista/internal/logging"
	"github.com/scienceol/barista/internal/metrics"
	"github.com/scienceol/barista/internal/power"
	"github.com/scienceol/barista/internal/protocol"
	"github.com/scienceol/barista/internal/ui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagEnable   bool
	flagBinary   string
	flagLogLevel string
	runOpts      config.Preferences
)

func init() {
	runCmd.Flags().BoolVar(&flagEnable, "enable", false, "Start caffeinate immediately")
	runCmd.Flags().BoolVarP(&runOpts.Display, "display", "d", false, "Prevent the display from sleeping")
	runCmd.Flags().BoolVarP(&runOpts.Idle, "idle", "i", false, "Prevent the system from idle sleeping")
	runCmd.Flags().BoolVarP(&runOpts.Disk, "disk", "m", false, "Prevent disks from idle sleeping")
	runCmd.Flags().BoolVarP(&runOpts.AC, "ac", "s", false, "Keep the system awake while on AC power")
	runCmd.Flags().StringVar(&flagBinary, "binary", "", "Helper program (default: "+power.DefaultHelper+")")
	runCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Host the caffeinate supervisor and its control endpoint",
	Long: `Runs until interrupted. At most one caffeinate process is alive at a time;
it is started and stopped through "barista on" / "barista off" or any client of
the control websocket. On exit the helper is stopped, killing it if it does not
terminate in time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ov := config.Overrides{
			Enabled: changedBool(cmd, "enable", &flagEnable),
			Display: changedBool(cmd, "display", &runOpts.Display),
			Idle:    changedBool(cmd, "idle", &runOpts.Idle),
			Disk:    changedBool(cmd, "disk", &runOpts.Disk),
			AC:      changedBool(cmd, "ac", &runOpts.AC),
		}
		if cmd.Flags().Changed("binary") {
			ov.Binary = &flagBinary
		}
		if cmd.Flags().Changed("log-level") {
			ov.LogLevel = &flagLogLevel
		}

		cfg, err := loadConfig(cmd, ov)
		if err != nil {
			return err
		}

		logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Development: cfg.LogDev})
		if err != nil {
			return fmt.Errorf("logger: %w", err)
		}
		defer func() { _ = logger.Sync() }()

		ln, err := net.Listen("tcp", cfg.Listen)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.Listen, err)
		}

		ui.Banner(version)

		m := metrics.New()
		sup := power.NewSupervisor(power.NewSpawner(cfg.Binary),
			power.WithLogger(logger.Named("supervisor")),
			power.WithStartupGrace(cfg.StartupGrace),
			power.WithStopTimeout(cfg.StopTimeout),
			power.WithOnSpawn(m.Spawned),
			power.WithOnError(m.Failed),
		)
		opts := cfg.Options.Options()
		sup.SetOptions(opts)

		srv := control.NewServer(sup, logger.Named("control"), m.Handler())

		// Handle graceful shutdown
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go m.Track(ctx, sup)
		go reportStatus(ctx, sup)

		fmt.Fprintln(os.Stderr)
		ui.KeyValue("Control", "ws://"+ln.Addr().String()+"/ws")
		ui.KeyValue("Metrics", "http://"+ln.Addr().String()+"/metrics")
		ui.KeyValue("Flags", describeArgs(opts))
		ui.Separator()

		if cfg.Enabled {
			sup.SetEnabled(true)
		}

		logger.Info("control endpoint listening", zap.String("addr", ln.Addr().String()))
		// Serve closes every control session before returning, so nothing
		// can re-enable the helper while it is being stopped.
		serveErr := srv.Serve(ctx, ln)

		fmt.Fprintln(os.Stderr)
		ui.Warn("Shutting down...")

		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.StopTimeout+time.Second)
		defer cancel()
		if err := sup.Close(closeCtx); err != nil {
			return fmt.Errorf("helper did not stop: %w", err)
		}
		return serveErr
	},
}

// reportStatus prints every status change until ctx is done.
func reportStatus(ctx context.Context, sup *power.Supervisor) {
	updates, cancel := sup.Subscribe()
	defer cancel()

	var last string
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-updates:
			p := protocol.NewStatusPayload(st)
			line := ui.StatusLine(p) + p.Error
			if line != last {
				ui.Status(p)
				last = line
			}
		}
	}
}

func describeArgs(opts power.Options) string {
	args := opts.Args()
	if len(args) == 0 {
		return "(none)"
	}
	return strings.Join(args, " ")
}
