package wssink

import (
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notnil/canmotion"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	return ws
}

func TestHubBroadcasts(t *testing.T) {
	hub := NewHub(slog.New(slog.DiscardHandler))
	srv := httptest.NewServer(hub)
	defer srv.Close()

	a, b := dial(t, srv), dial(t, srv)
	defer a.Close()
	defer b.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, 2*time.Second, 10*time.Millisecond)

	at := time.UnixMilli(1700000000000)
	hub.Push(canmotion.Sample{Channel: canmotion.LeftPosition, Time: at, Measured: 1.5, Setpoint: 2})

	for _, ws := range []*websocket.Conn{a, b} {
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got canmotion.Sample
		require.NoError(t, ws.ReadJSON(&got))
		assert.Equal(t, canmotion.LeftPosition, got.Channel)
		assert.Equal(t, 1.5, got.Measured)
		assert.True(t, at.Equal(got.Time))
	}
}

func TestHubForgetsClosedClients(t *testing.T) {
	hub := NewHub(slog.New(slog.DiscardHandler))
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ws := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	ws.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
	hub.Push(canmotion.Sample{})

	ws = dial(t, srv)
	defer ws.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Close())
	assert.Equal(t, 0, hub.Clients())
}
