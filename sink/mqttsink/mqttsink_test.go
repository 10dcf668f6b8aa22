package mqttsink

import (
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notnil/canmotion"
)

type token struct {
	done chan struct{}
	err  error
}

func doneToken(err error) *token {
	t := &token{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *token) Wait() bool { <-t.done; return true }

func (t *token) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *token) Done() <-chan struct{} { return t.done }
func (t *token) Error() error          { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	got []published
	err error
}

func (p *fakePublisher) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	p.got = append(p.got, published{topic, qos, payload.([]byte)})
	return doneToken(p.err)
}

func TestPushPublishesPerChannel(t *testing.T) {
	pub := &fakePublisher{}
	s := New(pub, Options{TopicPrefix: "robot/pid", QoS: 1}, slog.New(slog.DiscardHandler))

	at := time.UnixMilli(1700000000000)
	s.Push(canmotion.Sample{Channel: canmotion.LeftSpeed, Time: at, Measured: 3, Setpoint: 4})
	s.Push(canmotion.Sample{Channel: canmotion.RightPosition, Time: at, Measured: -1})

	require.Len(t, pub.got, 2)
	assert.Equal(t, "robot/pid/left-speed", pub.got[0].topic)
	assert.Equal(t, "robot/pid/right-position", pub.got[1].topic)
	assert.Equal(t, byte(1), pub.got[0].qos)

	var back canmotion.Sample
	require.NoError(t, json.Unmarshal(pub.got[0].payload, &back))
	assert.Equal(t, canmotion.LeftSpeed, back.Channel)
	assert.Equal(t, 4.0, back.Setpoint)
	assert.True(t, at.Equal(back.Time))
}

func TestPushSurvivesErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	s := New(pub, Options{}, slog.New(slog.DiscardHandler))
	s.Push(canmotion.Sample{})
	assert.Len(t, pub.got, 1)
	assert.Equal(t, "canmotion/telemetry/left-position", pub.got[0].topic)
}

func TestDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Contains(t, o.ClientID, "canmotion-")
	assert.Equal(t, 2*time.Second, o.Timeout)
	assert.NotEqual(t, o.ClientID, Options{}.withDefaults().ClientID)
}
