package commands

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notnil/canmotion"
	"github.com/notnil/canmotion/canbus"
	"github.com/notnil/canmotion/internal/clock"
	"github.com/notnil/canmotion/internal/config"
	"github.com/notnil/canmotion/protocol"
	"github.com/notnil/canmotion/sink/redissink"
)

func quiet() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestVersionCommand(t *testing.T) {
	SetVersionInfo("1.2.3", "abc", "today")
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "canmotion 1.2.3 (commit: abc, built: today)\n", out.String())
}

func TestRunRejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canmotion.yml")
	require.NoError(t, os.WriteFile(path, []byte("bus: {type: usb}\n"), 0644))

	root := NewRootCommand()
	var errOut bytes.Buffer
	root.SetErr(&errOut)
	root.SetArgs([]string{"run", "--config", path})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, errOut.String(), "Invalid configuration")
	assert.Contains(t, errOut.String(), "unknown bus.type")
}

func TestFlagsOverrideConfig(t *testing.T) {
	g := globalFlags{logLevel: "debug", listen: "127.0.0.1:9000"}
	cfg, err := g.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Listen)

	g = globalFlags{logLevel: "chatty"}
	_, err = g.loadConfig()
	assert.Error(t, err)

	cmd := newRunCommand(&globalFlags{})
	require.NoError(t, cmd.Flags().Parse([]string{"--bus", "slcan", "--port", "/dev/ttyACM0", "--bitrate", "500000"}))
	var f runFlags
	f.bus, f.port, f.bitrate = "slcan", "/dev/ttyACM0", 500000
	cfg = config.Default()
	require.NoError(t, f.apply(cmd, &cfg))
	assert.Equal(t, config.BusSLCAN, cfg.Bus.Type)
	assert.Equal(t, "/dev/ttyACM0", cfg.Bus.Port)
	assert.Equal(t, uint32(500000), cfg.Bus.Bitrate)
	assert.Equal(t, "can0", cfg.Bus.Interface)
}

func TestOpenBusLoopback(t *testing.T) {
	cfg := config.Default()
	cfg.Bus = config.BusConfig{Type: config.BusLoopback}
	cfg.Log.Frames = true
	d, release, err := openBus(cfg, quiet())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rx, err := d.Dial(ctx)
	require.NoError(t, err)
	require.NoError(t, canbus.SendOnce(ctx, d, canbus.MustFrame(0x123, []byte{1})))
	f, err := rx.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x123), f.ID)

	require.NoError(t, release())
	_, err = d.Dial(ctx)
	assert.ErrorIs(t, err, canbus.ErrClosed)
}

func TestOpenSinks(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.SinksConfig{
		Queue:  16,
		Redis:  &redissink.Options{Addr: mr.Addr()},
		SQLite: &config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "t.db")},
	}
	s, err := openSinks(context.Background(), cfg, quiet())
	require.NoError(t, err)
	assert.Len(t, s.all, 3)
	require.NotNil(t, s.recorder())
	s.all.Push(canmotion.Sample{Channel: canmotion.LeftSpeed, Time: time.UnixMilli(5), Measured: 1})
	require.NoError(t, s.Close())

	s, err = openSinks(context.Background(), config.SinksConfig{}, quiet())
	require.NoError(t, err)
	assert.Nil(t, s.recorder())
	assert.NoError(t, s.Close())

	cfg.Redis.Addr = "127.0.0.1:1"
	cfg.SQLite = nil
	_, err = openSinks(context.Background(), cfg, quiet())
	assert.Error(t, err)
}

func TestServeStopsRobotOnExit(t *testing.T) {
	lb := canbus.NewLoopbackBus()
	defer lb.Close()
	board := lb.Open()

	cfg := config.Default()
	cfg.Bus = config.BusConfig{Type: config.BusLoopback}
	cfg.HTTP.Listen = ""

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	var out bytes.Buffer
	go func() { done <- serve(ctx, cfg, lb, clock.Real{}, quiet(), &out) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
	}

	rctx, rcancel := context.WithTimeout(context.Background(), time.Second)
	defer rcancel()
	f, err := board.Receive(rctx)
	require.NoError(t, err)
	_, msg, err := protocol.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, protocol.Stop{}, msg)
}

func TestServeFailsOnClosedBus(t *testing.T) {
	lb := canbus.NewLoopbackBus()
	require.NoError(t, lb.Close())
	cfg := config.Default()
	cfg.HTTP.Listen = ""
	var out bytes.Buffer
	err := serve(context.Background(), cfg, lb, clock.Real{}, quiet(), &out)
	require.Error(t, err)
	assert.Contains(t, out.String(), "Failed to open the CAN bus")
}
