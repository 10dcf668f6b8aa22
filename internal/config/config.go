// Package config loads the canmotion YAML configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/notnil/canmotion"
	"github.com/notnil/canmotion/sink/mqttsink"
	"github.com/notnil/canmotion/sink/redissink"
	"github.com/notnil/canmotion/units"
)

// Bus types.
const (
	BusSocketCAN = "socketcan"
	BusSLCAN     = "slcan"
	BusLoopback  = "loopback"
)

// Config is the top-level canmotion.yml.
type Config struct {
	Bus    BusConfig      `yaml:"bus"`
	Robot  units.Geometry `yaml:"robot"`
	Motion MotionConfig   `yaml:"motion"`
	Sinks  SinksConfig    `yaml:"sinks"`
	HTTP   HTTPConfig     `yaml:"http"`
	Log    LogConfig      `yaml:"log"`
}

// BusConfig selects the CAN transport.
type BusConfig struct {
	Type      string `yaml:"type"`      // socketcan, slcan or loopback
	Interface string `yaml:"interface"` // socketcan interface, e.g. can0
	Port      string `yaml:"port"`      // slcan serial device
	Baud      int    `yaml:"baud,omitempty"`
	Bitrate   uint32 `yaml:"bitrate"`

	// BringUp configures and raises the socketcan interface before use.
	// Needs CAP_NET_ADMIN.
	BringUp   bool   `yaml:"bring_up"`
	RestartMs uint32 `yaml:"restart_ms,omitempty"`
}

type MotionConfig struct {
	OrderDelay      time.Duration `yaml:"order_delay"`
	EncoderRate     float64       `yaml:"encoder_rate"`
	MeasureInterval bool          `yaml:"measure_interval"`
	Window          int           `yaml:"window"`
	SendTimeout     time.Duration `yaml:"send_timeout"`
}

// SinksConfig enables telemetry outputs. A nil section is disabled.
type SinksConfig struct {
	// Queue is the per-sink buffer between the adapter and a slow sink.
	Queue  int                `yaml:"queue,omitempty"`
	MQTT   *mqttsink.Options  `yaml:"mqtt,omitempty"`
	Redis  *redissink.Options `yaml:"redis,omitempty"`
	SQLite *SQLiteConfig      `yaml:"sqlite,omitempty"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type HTTPConfig struct {
	Listen string `yaml:"listen"` // empty disables the HTTP API
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn or error
	Frames bool   `yaml:"frames"` // log every CAN frame at debug level
}

// Default returns the reference robot on can0 at 1 Mbit/s with the API on
// :5000.
func Default() Config {
	return Config{
		Bus:   BusConfig{Type: BusSocketCAN, Interface: "can0", Bitrate: 1000000},
		Robot: units.DefaultGeometry(),
		Motion: MotionConfig{
			OrderDelay:  canmotion.DefaultOrderDelay,
			EncoderRate: canmotion.DefaultEncoderRate,
			Window:      canmotion.DefaultWindowSize,
			SendTimeout: canmotion.DefaultSendTimeout,
		},
		Sinks: SinksConfig{Queue: 1024},
		HTTP:  HTTPConfig{Listen: ":5000"},
		Log:   LogConfig{Level: "info"},
	}
}

// Load reads path over Default and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	switch c.Bus.Type {
	case BusSocketCAN:
		if c.Bus.Interface == "" {
			return fmt.Errorf("bus.interface is required for socketcan")
		}
	case BusSLCAN:
		if c.Bus.Port == "" {
			return fmt.Errorf("bus.port is required for slcan")
		}
	case BusLoopback:
	default:
		return fmt.Errorf("unknown bus.type %q (expected socketcan, slcan or loopback)", c.Bus.Type)
	}
	if err := c.Robot.Validate(); err != nil {
		return fmt.Errorf("robot: %w", err)
	}
	if c.Motion.OrderDelay < 0 {
		return fmt.Errorf("motion.order_delay must be >= 0, got %v", c.Motion.OrderDelay)
	}
	if c.Motion.EncoderRate < 0 {
		return fmt.Errorf("motion.encoder_rate must be >= 0, got %v", c.Motion.EncoderRate)
	}
	if c.Motion.SendTimeout < 0 {
		return fmt.Errorf("motion.send_timeout must be >= 0, got %v", c.Motion.SendTimeout)
	}
	if c.Motion.Window < 0 {
		return fmt.Errorf("motion.window must be >= 0, got %d", c.Motion.Window)
	}
	if m := c.Sinks.MQTT; m != nil {
		if m.Broker == "" {
			return fmt.Errorf("sinks.mqtt.broker is required")
		}
		if m.QoS > 2 {
			return fmt.Errorf("sinks.mqtt.qos must be 0, 1 or 2, got %d", m.QoS)
		}
	}
	if r := c.Sinks.Redis; r != nil && r.Addr == "" {
		return fmt.Errorf("sinks.redis.addr is required")
	}
	if s := c.Sinks.SQLite; s != nil && s.Path == "" {
		return fmt.Errorf("sinks.sqlite.path is required")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// ParseLevel maps a level name to a slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown level %q", s)
}

// AdapterConfig returns the adapter settings of c. Dialer, sink, logger and
// clock are left for the caller.
func (c *Config) AdapterConfig() canmotion.Config {
	return canmotion.Config{
		Geometry:        c.Robot,
		OrderDelay:      c.Motion.OrderDelay,
		EncoderRate:     c.Motion.EncoderRate,
		MeasureInterval: c.Motion.MeasureInterval,
		WindowSize:      c.Motion.Window,
		SendTimeout:     c.Motion.SendTimeout,
	}
}
