package commands

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/notnil/canmotion/canbus"
	"github.com/notnil/canmotion/internal/clock"
	"github.com/notnil/canmotion/internal/config"
	"github.com/notnil/canmotion/sim"
)

func newSimulateCommand(g *globalFlags) *cobra.Command {
	var lag time.Duration
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run against a simulated motion board",
		Long: `Start an in-memory CAN bus with a simulated motion board attached and
serve the HTTP API, so the operator interface can be exercised without
hardware.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.ErrOrStderr()
			cfg, err := g.loadConfig()
			if err != nil {
				return fail(out, "Invalid configuration", err)
			}
			cfg.Bus = config.BusConfig{Type: config.BusLoopback}
			log := newLogger(cfg)

			bus := canbus.NewLoopbackBus()
			defer bus.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			board, err := sim.New(sim.Config{
				Bus:          bus.Open(),
				Logger:       log,
				EncoderRate:  cfg.Motion.EncoderRate,
				TimeConstant: lag,
			})
			if err != nil {
				return fail(out, "Failed to start the simulated board", err)
			}
			board.Start(ctx)
			defer board.Close()

			var d canbus.Dialer = bus
			if cfg.Log.Frames {
				d = canbus.NewLoggedDialer(d, log, slog.LevelDebug, canbus.LogWrite, nil)
			}
			success(out, "canmotion %s (simulated board)", versionString)
			return serve(ctx, cfg, d, clock.Real{}, log, out)
		},
	}
	cmd.Flags().DurationVar(&lag, "lag", 150*time.Millisecond, "wheel velocity time constant")
	return cmd
}
