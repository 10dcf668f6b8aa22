package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/notnil/canmotion"
	"github.com/notnil/canmotion/canbus"
	"github.com/notnil/canmotion/httpapi"
	"github.com/notnil/canmotion/internal/clock"
	"github.com/notnil/canmotion/internal/config"
	"github.com/notnil/canmotion/sink"
	"github.com/notnil/canmotion/sink/mqttsink"
	"github.com/notnil/canmotion/sink/redissink"
	"github.com/notnil/canmotion/sink/sqlitesink"
	"github.com/notnil/canmotion/sink/wssink"
)

// openBus returns the dialer for cfg and a func releasing whatever it holds.
func openBus(cfg config.Config, log *slog.Logger) (canbus.Dialer, func() error, error) {
	var d canbus.Dialer
	release := func() error { return nil }
	b := cfg.Bus
	switch b.Type {
	case config.BusSocketCAN:
		if b.BringUp {
			if err := canbus.BringUp(b.Interface, canbus.LinuxCANOptions{Bitrate: b.Bitrate, RestartMs: b.RestartMs}); err != nil {
				return nil, nil, fmt.Errorf("bring up %s: %w", b.Interface, err)
			}
			log.Info("interface configured", "interface", b.Interface, "bitrate", b.Bitrate)
		}
		d = canbus.SocketCANDialer(b.Interface)
	case config.BusSLCAN:
		s, err := canbus.OpenSLCAN(canbus.SLCANOptions{Port: b.Port, BaudRate: b.Baud, Bitrate: b.Bitrate})
		if err != nil {
			return nil, nil, err
		}
		d, release = canbus.Shared(s), s.Close
	case config.BusLoopback:
		lb := canbus.NewLoopbackBus()
		d, release = lb, lb.Close
	default:
		return nil, nil, fmt.Errorf("unknown bus type %q", b.Type)
	}
	if cfg.Log.Frames {
		d = canbus.NewLoggedDialer(d, log, slog.LevelDebug, canbus.LogAll, nil)
	}
	return d, release, nil
}

// sinks are the telemetry outputs of one run.
type sinks struct {
	all     canmotion.MultiSink
	hub     *wssink.Hub
	store   *sqlitesink.Store
	closers []io.Closer
}

func openSinks(ctx context.Context, cfg config.SinksConfig, log *slog.Logger) (*sinks, error) {
	s := &sinks{hub: wssink.NewHub(log)}
	s.add(s.hub, cfg.Queue, log, s.hub)

	if o := cfg.MQTT; o != nil {
		client, err := mqttsink.Connect(ctx, *o, log)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.add(mqttsink.New(client, *o, log), cfg.Queue, log, closerFunc(func() error {
			client.Disconnect(250)
			return nil
		}))
	}
	if o := cfg.Redis; o != nil {
		r, err := redissink.Dial(ctx, *o, log)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("redis %s: %w", o.Addr, err)
		}
		s.add(r, cfg.Queue, log, r)
	}
	if o := cfg.SQLite; o != nil {
		st, err := sqlitesink.Open(ctx, o.Path, log)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.store = st
		s.add(st, cfg.Queue, log, st)
	}
	return s, nil
}

// add queues next behind its own worker. c is closed after the queue drains.
func (s *sinks) add(next canmotion.Sink, queue int, log *slog.Logger, c io.Closer) {
	q := sink.NewAsync(next, queue, log)
	s.all = append(s.all, q)
	s.closers = append(s.closers, q, c)
}

// recorder returns the order recorder, or nil when SQLite is off.
func (s *sinks) recorder() httpapi.Recorder {
	if s.store == nil {
		return nil
	}
	return s.store
}

func (s *sinks) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// serve runs the adapter and HTTP API until ctx is cancelled or the
// adapter's listener fails. The robot is stopped on the way out.
func serve(ctx context.Context, cfg config.Config, d canbus.Dialer, clk clock.Clock, log *slog.Logger, out io.Writer) error {
	s, err := openSinks(ctx, cfg.Sinks, log)
	if err != nil {
		return fail(out, "Failed to open telemetry sinks", err)
	}
	defer s.Close()

	acfg := cfg.AdapterConfig()
	acfg.Dialer, acfg.Sink, acfg.Logger, acfg.Clock = d, s.all, log, clk
	a, err := canmotion.New(acfg)
	if err != nil {
		return fail(out, "Invalid adapter configuration", err)
	}
	defer a.Close()
	if err := a.Start(ctx); err != nil {
		return fail(out, "Failed to open the CAN bus", err,
			"check that the interface exists and is up (ip link show)",
			"set bus.bring_up: true to configure it at start")
	}

	var srv *http.Server
	errc := make(chan error, 1)
	if cfg.HTTP.Listen != "" {
		srv = &http.Server{
			Handler: httpapi.New(a, httpapi.Options{
				Status:    a,
				Telemetry: s.hub,
				Recorder:  s.recorder(),
				Logger:    log,
				Clock:     clk,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		ln, err := net.Listen("tcp", cfg.HTTP.Listen)
		if err != nil {
			return fail(out, "Failed to listen", err)
		}
		success(out, "HTTP API on %s", ln.Addr())
		go func() { errc <- srv.Serve(ln) }()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case <-a.Done():
		if ctx.Err() == nil {
			runErr = fail(out, "CAN bus failed", a.Err())
		}
	case err := <-errc:
		runErr = fail(out, "HTTP server failed", err)
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Stop(stopCtx); err != nil {
		warning(out, "robot not stopped: %v", err)
	}
	return runErr
}
