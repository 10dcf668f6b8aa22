// Package mqttsink publishes telemetry samples to an MQTT broker, one topic
// per channel.
package mqttsink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/notnil/canmotion"
)

// Publisher is the part of mqtt.Client the sink needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Options configures the MQTT connection and topics.
type Options struct {
	Broker      string        `yaml:"broker"` // e.g. tcp://localhost:1883
	ClientID    string        `yaml:"client_id"`
	TopicPrefix string        `yaml:"topic_prefix"`
	QoS         byte          `yaml:"qos"`
	Timeout     time.Duration `yaml:"timeout"`
}

func (o Options) withDefaults() Options {
	if o.ClientID == "" {
		o.ClientID = "canmotion-" + uuid.NewString()
	}
	if o.TopicPrefix == "" {
		o.TopicPrefix = "canmotion/telemetry"
	}
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Second
	}
	return o
}

// Connect dials the broker and returns a client that reconnects on its own.
func Connect(ctx context.Context, o Options, logger *slog.Logger) (mqtt.Client, error) {
	o = o.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(o.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("mqtt connected", "broker", o.Broker, "client_id", o.ClientID)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "broker", o.Broker, "error", err)
	})

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return nil, fmt.Errorf("mqttsink: connect %s: %w", o.Broker, err)
		}
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, ctx.Err()
	}
	return client, nil
}

// Sink publishes each sample as JSON to <prefix>/<channel>.
type Sink struct {
	pub  Publisher
	opts Options
	log  *slog.Logger
}

// New returns a Sink publishing through pub, usually a client from Connect.
func New(pub Publisher, o Options, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{pub: pub, opts: o.withDefaults(), log: logger}
}

// Topic returns the topic samples of c are published to.
func (s *Sink) Topic(c canmotion.Channel) string {
	return path.Join(s.opts.TopicPrefix, c.String())
}

// Push blocks until the broker acknowledges or the timeout passes.
func (s *Sink) Push(sample canmotion.Sample) {
	b, err := json.Marshal(sample)
	if err != nil {
		s.log.Error("mqtt encode failed", "error", err)
		return
	}
	topic := s.Topic(sample.Channel)
	tok := s.pub.Publish(topic, s.opts.QoS, false, b)
	if !tok.WaitTimeout(s.opts.Timeout) {
		s.log.Warn("mqtt publish timed out", "topic", topic)
		return
	}
	if err := tok.Error(); err != nil {
		s.log.Warn("mqtt publish failed", "topic", topic, "error", err)
	}
}
