package canmotion

import (
	"encoding/json"
	"fmt"
	"time"
)

// Channel identifies one telemetry stream.
type Channel uint8

const (
	LeftPosition Channel = iota
	RightPosition
	LeftSpeed
	RightSpeed
)

// Channels lists every channel in push order.
var Channels = []Channel{LeftPosition, RightPosition, LeftSpeed, RightSpeed}

var channelNames = [...]string{"left-position", "right-position", "left-speed", "right-speed"}

func (c Channel) String() string {
	if int(c) < len(channelNames) {
		return channelNames[c]
	}
	return fmt.Sprintf("channel(%d)", uint8(c))
}

func (c Channel) MarshalText() ([]byte, error) {
	if int(c) >= len(channelNames) {
		return nil, fmt.Errorf("canmotion: unknown channel %d", uint8(c))
	}
	return []byte(channelNames[c]), nil
}

func (c *Channel) UnmarshalText(b []byte) error {
	for i, n := range channelNames {
		if n == string(b) {
			*c = Channel(i)
			return nil
		}
	}
	return fmt.Errorf("canmotion: unknown channel %q", b)
}

// Sample is one measurement and the setpoint it is tracking. Positions are
// in mm relative to the last order's baseline, speeds in mm/s.
type Sample struct {
	Channel  Channel
	Time     time.Time
	Measured float64
	Setpoint float64
}

type sampleJSON struct {
	Channel  Channel `json:"channel"`
	TimeMS   int64   `json:"t"`
	Measured float64 `json:"measured"`
	Setpoint float64 `json:"setpoint"`
}

// MarshalJSON encodes the time as Unix milliseconds.
func (s Sample) MarshalJSON() ([]byte, error) {
	return json.Marshal(sampleJSON{s.Channel, s.Time.UnixMilli(), s.Measured, s.Setpoint})
}

func (s *Sample) UnmarshalJSON(b []byte) error {
	var v sampleJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*s = Sample{Channel: v.Channel, Time: time.UnixMilli(v.TimeMS), Measured: v.Measured, Setpoint: v.Setpoint}
	return nil
}

// Sink receives telemetry samples. Push is called from the adapter's
// listener goroutine and must not block for long.
type Sink interface {
	Push(Sample)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Sample)

func (f SinkFunc) Push(s Sample) { f(s) }

// MultiSink pushes every sample to each sink in order.
type MultiSink []Sink

func (m MultiSink) Push(s Sample) {
	for _, sink := range m {
		sink.Push(s)
	}
}

// Discard drops every sample.
var Discard Sink = SinkFunc(func(Sample) {})
