package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cardio.report/internal/store"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var m Message
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func newHubServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub()
	s, _, _ := setupTestServer(t, Options{Hub: hub})
	srv := httptest.NewServer(LoggingMiddleware(s.ServeMux()))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, srv
}

func TestHubReplaysLatestOnConnect(t *testing.T) {
	hub, srv := newHubServer(t)

	hub.Broadcast(eegSnapshot())
	older := ecgSnapshot()
	older.Version = 3
	hub.Broadcast(older)
	hub.Broadcast(ecgSnapshot())

	conn := dialHub(t, srv)
	first := readMessage(t, conn)
	second := readMessage(t, conn)

	assert.Equal(t, "snapshot", first.Type)
	assert.Equal(t, "ecg-1", first.Stream)
	assert.Equal(t, uint64(4), first.Version, "only the newest version is replayed")
	assert.InDelta(t, 0.031, first.Metrics["rmssd_s"], 1e-12)
	assert.Equal(t, "eeg-1", second.Stream)
}

func TestHubBroadcastsToClients(t *testing.T) {
	hub, srv := newHubServer(t)
	a := dialHub(t, srv)
	b := dialHub(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, 5*time.Second, 5*time.Millisecond)

	snap := &store.Snapshot{Stream: "ecg-2", Modality: store.ECG, Version: 9, FS: 500}
	hub.Broadcast(snap)
	for _, conn := range []*websocket.Conn{a, b} {
		m := readMessage(t, conn)
		assert.Equal(t, "ecg-2", m.Stream)
		assert.Equal(t, uint64(9), m.Version)
		assert.EqualValues(t, 500, m.Metrics["fs_hz"])
	}

	require.NoError(t, a.Close())
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 5*time.Second, 5*time.Millisecond)
}

func TestHubClose(t *testing.T) {
	hub, srv := newHubServer(t)
	conn := dialHub(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 5*time.Second, 5*time.Millisecond)

	hub.Close()
	assert.Zero(t, hub.Clients())
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "client sees the connection close")

	// Broadcasting after close is a no-op.
	hub.Broadcast(ecgSnapshot())
	late := dialHub(t, srv)
	require.NoError(t, late.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "err = %v", err)
}
