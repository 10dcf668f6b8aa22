// Package redissink fans telemetry out through Redis pub/sub and, optionally,
// a capped stream per channel.
package redissink

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/notnil/canmotion"
)

// Options configures the Redis connection and key layout.
type Options struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Prefix namespaces every key and channel. Defaults to "canmotion".
	Prefix string `yaml:"prefix"`

	// StreamMaxLen, when positive, also appends each sample to a stream
	// trimmed to that many entries.
	StreamMaxLen int64 `yaml:"stream_max_len"`

	Timeout time.Duration `yaml:"timeout"`
}

// Sink publishes samples to Redis.
type Sink struct {
	rdb  *redis.Client
	opts Options
	log  *slog.Logger
}

// New wraps an existing client. The caller owns rdb.
func New(rdb *redis.Client, o Options, logger *slog.Logger) *Sink {
	if o.Prefix == "" {
		o.Prefix = "canmotion"
	}
	if o.Timeout <= 0 {
		o.Timeout = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{rdb: rdb, opts: o, log: logger}
}

// Dial connects to o.Addr and checks the connection.
func Dial(ctx context.Context, o Options, logger *slog.Logger) (*Sink, error) {
	rdb := redis.NewClient(&redis.Options{Addr: o.Addr, Password: o.Password, DB: o.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return New(rdb, o, logger), nil
}

// Close closes the underlying client.
func (s *Sink) Close() error { return s.rdb.Close() }

// Channel is the pub/sub channel samples of c are published on.
func (s *Sink) Channel(c canmotion.Channel) string {
	return s.opts.Prefix + ":telemetry:" + c.String()
}

// Stream is the stream key samples of c are appended to.
func (s *Sink) Stream(c canmotion.Channel) string {
	return s.opts.Prefix + ":stream:" + c.String()
}

// Push publishes sample and appends it to its stream when enabled.
func (s *Sink) Push(sample canmotion.Sample) {
	b, err := json.Marshal(sample)
	if err != nil {
		s.log.Error("redis encode failed", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
	defer cancel()

	ch := s.Channel(sample.Channel)
	if err := s.rdb.Publish(ctx, ch, b).Err(); err != nil {
		s.log.Warn("redis publish failed", "channel", ch, "error", err)
		return
	}
	if s.opts.StreamMaxLen <= 0 {
		return
	}
	err = s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.Stream(sample.Channel),
		MaxLen: s.opts.StreamMaxLen,
		Values: map[string]interface{}{
			"t":        sample.Time.UnixMilli(),
			"measured": sample.Measured,
			"setpoint": sample.Setpoint,
		},
	}).Err()
	if err != nil {
		s.log.Warn("redis stream append failed", "channel", ch, "error", err)
	}
}
