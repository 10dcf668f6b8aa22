package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/notnil/canmotion/internal/clock"
	"github.com/notnil/canmotion/internal/config"
)

type runFlags struct {
	bus       string
	iface     string
	port      string
	bitrate   uint32
	bringUp   bool
	logFrames bool
}

func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("bus") {
		cfg.Bus.Type = f.bus
	}
	if cmd.Flags().Changed("interface") {
		cfg.Bus.Interface = f.iface
	}
	if cmd.Flags().Changed("port") {
		cfg.Bus.Port = f.port
	}
	if cmd.Flags().Changed("bitrate") {
		cfg.Bus.Bitrate = f.bitrate
	}
	if cmd.Flags().Changed("bring-up") {
		cfg.Bus.BringUp = f.bringUp
	}
	if cmd.Flags().Changed("log-frames") {
		cfg.Log.Frames = f.logFrames
	}
	return cfg.Validate()
}

func newRunCommand(g *globalFlags) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive the motion board on a real CAN bus",
		Long: `Open the configured CAN bus (socketcan or an SLCAN serial adapter),
start the telemetry listener and serve the HTTP API until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.ErrOrStderr()
			cfg, err := g.loadConfig()
			if err != nil {
				return fail(out, "Invalid configuration", err)
			}
			if err := f.apply(cmd, &cfg); err != nil {
				return fail(out, "Invalid configuration", err)
			}
			log := newLogger(cfg)

			d, release, err := openBus(cfg, log)
			if err != nil {
				return fail(out, "Failed to open the CAN bus", err)
			}
			defer release()

			success(out, "canmotion %s", versionString)
			field(out, "bus", cfg.Bus.Type)
			switch cfg.Bus.Type {
			case config.BusSocketCAN:
				field(out, "interface", cfg.Bus.Interface)
			case config.BusSLCAN:
				field(out, "port", cfg.Bus.Port)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, d, clock.Real{}, log, out)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.bus, "bus", "", "bus type (socketcan|slcan|loopback)")
	fl.StringVarP(&f.iface, "interface", "i", "", "socketcan interface")
	fl.StringVar(&f.port, "port", "", "SLCAN serial port")
	fl.Uint32Var(&f.bitrate, "bitrate", 0, "CAN bitrate in bit/s")
	fl.BoolVar(&f.bringUp, "bring-up", false, "configure and raise the socketcan interface first")
	fl.BoolVar(&f.logFrames, "log-frames", false, "log every CAN frame at debug level")
	return cmd
}
