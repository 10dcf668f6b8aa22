// Package commands implements the canmotion CLI.
package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/notnil/canmotion/internal/config"
)

var versionString = "dev"

type globalFlags struct {
	configPath string
	logLevel   string
	listen     string
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:   "canmotion",
		Short: "Tune and drive a two-wheeled robot's motion board over CAN",
		Long: `canmotion bridges an operator interface to the motion-control board of a
two-wheeled robot. It programs PID gains and motion limits, sends speed,
position and rotation orders, and streams encoder telemetry to the browser,
MQTT, Redis and SQLite.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "path to canmotion.yml")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level (debug|info|warn|error)")
	root.PersistentFlags().StringVar(&g.listen, "listen", "", "HTTP listen address, overrides http.listen")

	root.AddCommand(newRunCommand(&g), newSimulateCommand(&g), newVersionCommand())
	return root
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCommand().Execute()
}

// SetVersionInfo records build information for the version command.
func SetVersionInfo(v, c, d string) {
	versionString = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "canmotion %s\n", versionString)
		},
	}
}

// loadConfig reads the config file, if any, and applies global flags.
func (g *globalFlags) loadConfig() (config.Config, error) {
	cfg := config.Default()
	if g.configPath != "" {
		var err error
		if cfg, err = config.Load(g.configPath); err != nil {
			return config.Config{}, err
		}
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.listen != "" {
		cfg.HTTP.Listen = g.listen
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config) *slog.Logger {
	level, _ := config.ParseLevel(cfg.Log.Level)
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
