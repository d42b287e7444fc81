package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/scalesocket/scalesocket/internal/roommetrics"
	"github.com/scalesocket/scalesocket/internal/types"
)

func discardLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func TestHealthReturnsOK(t *testing.T) {
	events := make(chan types.Event, 4)
	r := New(Options{}, events, roommetrics.New(), discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
}

func TestMetricsDisabledByDefault(t *testing.T) {
	events := make(chan types.Event, 4)
	r := New(Options{}, events, roommetrics.New(), discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEnabledServesPrometheusFormat(t *testing.T) {
	events := make(chan types.Event, 4)
	store := roommetrics.New()
	store.IncConnections(types.RoomID("lobby"))
	r := New(Options{MetricsEnabled: true}, events, store, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "scalesocket_room_connections_open")
}

func TestRoomsAPIListsRooms(t *testing.T) {
	events := make(chan types.Event, 4)
	store := roommetrics.New()
	store.IncConnections(types.RoomID("lobby"))
	r := New(Options{APIEnabled: true}, events, store, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var rooms []roommetrics.RoomSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rooms))
	require.Len(t, rooms, 1)
	require.Equal(t, "lobby", rooms[0].Name)
	require.Equal(t, 1, rooms[0].Connections)
}

func TestRoomsAPIDisabledByDefault(t *testing.T) {
	events := make(chan types.Event, 4)
	r := New(Options{}, events, roommetrics.New(), discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoomAPIConnectionsReturnsScalar(t *testing.T) {
	events := make(chan types.Event, 4)
	store := roommetrics.New()
	store.IncConnections(types.RoomID("lobby"))
	r := New(Options{APIEnabled: true}, events, store, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/lobby/connections", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "1", rec.Body.String())
}

func TestSocketRejectsReservedRoomName(t *testing.T) {
	events := make(chan types.Event, 4)
	r := New(Options{}, events, roommetrics.New(), discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/upload", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "INVALID_ROOM", body["error"])
}

// TestSocketUsesRawRemoteAddrNotForwardedHeader asserts that a client
// cannot spoof its own REMOTE_ADDR via X-Forwarded-For: the reactor must
// see the raw peer address from the underlying TCP connection, since
// httptest.NewRecorder doesn't implement http.Hijacker (gorilla's Upgrade
// needs a real connection), this spins up a real httptest.NewServer.
func TestSocketUsesRawRemoteAddrNotForwardedHeader(t *testing.T) {
	events := make(chan types.Event, 4)
	r := New(Options{}, events, roommetrics.New(), discardLogger())

	srv := httptest.NewServer(r)
	defer srv.Close()

	const spoofedAddr = "203.0.113.7:1234"

	envCh := make(chan types.Env, 1)
	go func() {
		ev := <-events
		envCh <- ev.Conn.Env
		ev.Conn.Result <- types.ConnectResult{Accepted: true, ConnID: types.ConnID(1)}
	}()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/lobby"
	header := http.Header{}
	header.Set("X-Forwarded-For", spoofedAddr)
	header.Set("X-Real-IP", spoofedAddr)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()
	if resp != nil {
		defer resp.Body.Close()
	}

	select {
	case env := <-envCh:
		require.NotEmpty(t, env.RemoteAddr)
		require.False(t, strings.Contains(env.RemoteAddr, "203.0.113.7"),
			"RemoteAddr must be the raw peer address, not the spoofable X-Forwarded-For/X-Real-IP header")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connect event")
	}
}
