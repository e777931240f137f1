package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomhub/internal/auth"
	"github.com/Tyrowin/roomhub/internal/event"
	"github.com/Tyrowin/roomhub/internal/frame"
	"github.com/Tyrowin/roomhub/internal/moderation"
	"github.com/Tyrowin/roomhub/internal/store"
)

const testOrigin = "http://localhost:8080"

var codecs = []string{frame.CodecGorilla, frame.CodecRaw}

// newTestServer starts a Server on an in-memory store behind httptest.
func newTestServer(t *testing.T, mutate func(*Config)) (*Server, *httptest.Server) {
	t.Helper()

	st, err := store.Open(store.DriverSQLite, ":memory:", zerolog.Nop())
	require.NoError(t, err)

	cfg := NewConfig()
	cfg.AllowedOrigins = []string{testOrigin}
	if mutate != nil {
		mutate(cfg)
	}

	srv := New(*cfg, st, moderation.NewMemorySanctions(), zerolog.Nop())
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Shutdown(2 * time.Second)
		_ = st.Close()
	})
	return srv, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	headers := http.Header{}
	headers.Set("Origin", testOrigin)
	conn, resp, err := websocket.DefaultDialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) event.Outbound {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev event.Outbound
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func join(t *testing.T, conn *websocket.Conn, roomID, userID int64, username string) event.Outbound {
	t.Helper()

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "join", "room_id": roomID, "user_id": userID, "username": username, "role": "user",
	}))
	ev := readEvent(t, conn)
	require.Equal(t, event.TypeJoined, ev.Type, "unexpected event %+v", ev)
	return ev
}

// expectClosed waits for the server to close conn.
func expectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatalf("connection was not closed: %v", err)
		}
		return
	}
}

// TestHealthEndpoints verifies the plain-text root and the JSON health
// report with its store check.
func TestHealthEndpoints(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.Equal(t, "roomhub server is running!", string(body))

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "pass", health.Checks["store"].Status)
	assert.Equal(t, 0, health.Connections)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Contains(t, string(body), "roomhub_http_requests_total")

	resp, err = http.Get(ts.URL + "/test")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "text/html", resp.Header.Get("Content-Type"))
	assert.Contains(t, string(body), "roomhub Test")
}

// TestRoomChatOverSockets verifies join presence and chat fan-out between
// two socket clients with each frame codec.
func TestRoomChatOverSockets(t *testing.T) {
	for _, codec := range codecs {
		t.Run(codec, func(t *testing.T) {
			srv, ts := newTestServer(t, func(c *Config) { c.FrameCodec = codec })

			alice := dial(t, wsURL(ts))
			join(t, alice, 1, 5, "alice")

			bob := dial(t, wsURL(ts))
			joined := join(t, bob, 1, 6, "bob")
			require.NotNil(t, joined.MemberCount)
			assert.Equal(t, 2, *joined.MemberCount)

			presence := readEvent(t, alice)
			assert.Equal(t, event.TypeUserJoined, presence.Type)
			assert.Equal(t, "bob", presence.Username)

			require.NoError(t, alice.WriteJSON(map[string]any{"type": "chat_message", "room_id": 1, "message": "hello"}))

			mine := readEvent(t, alice)
			theirs := readEvent(t, bob)
			assert.Equal(t, event.TypeChatMessage, mine.Type)
			assert.Equal(t, "hello", theirs.Message)
			assert.Equal(t, mine.ID, theirs.ID)
			assert.Positive(t, mine.ID)

			assert.Equal(t, 2, srv.Rooms().MemberCount(1))
		})
	}
}

// TestDisconnectAnnouncesDeparture verifies that closing a socket removes
// its member and tells the room.
func TestDisconnectAnnouncesDeparture(t *testing.T) {
	srv, ts := newTestServer(t, nil)

	alice := dial(t, wsURL(ts))
	join(t, alice, 1, 5, "alice")
	bob := dial(t, wsURL(ts))
	join(t, bob, 1, 6, "bob")
	readEvent(t, alice) // user_joined

	require.NoError(t, bob.Close())

	left := readEvent(t, alice)
	assert.Equal(t, event.TypeUserLeft, left.Type)
	assert.Equal(t, int64(6), left.UserID)
	require.NotNil(t, left.MemberCount)
	assert.Equal(t, 1, *left.MemberCount)

	require.Eventually(t, func() bool { return srv.Registry().Count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

// TestChatBeforeJoinRejected verifies that an unjoined connection gets an
// error event and stays open.
func TestChatBeforeJoinRejected(t *testing.T) {
	_, ts := newTestServer(t, nil)

	conn := dial(t, wsURL(ts))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "chat_message", "room_id": 1, "message": "hi"}))

	ev := readEvent(t, conn)
	assert.Equal(t, event.TypeError, ev.Type)
	assert.Equal(t, "join a room first", ev.Error)

	join(t, conn, 1, 5, "alice")
}

// TestWebSocketOriginValidation verifies that upgrades from origins outside
// the allow-list are refused with each codec.
func TestWebSocketOriginValidation(t *testing.T) {
	for _, codec := range codecs {
		t.Run(codec, func(t *testing.T) {
			_, ts := newTestServer(t, func(c *Config) { c.FrameCodec = codec })

			headers := http.Header{}
			headers.Set("Origin", "http://evil.example")
			conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), headers)
			if conn != nil {
				_ = conn.Close()
			}
			require.Error(t, err)
			require.NotNil(t, resp)
			_ = resp.Body.Close()
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
}

// TestWebSocketMessageSizeLimit verifies that an oversized frame closes
// the connection with each codec.
func TestWebSocketMessageSizeLimit(t *testing.T) {
	for _, codec := range codecs {
		t.Run(codec, func(t *testing.T) {
			srv, ts := newTestServer(t, func(c *Config) {
				c.FrameCodec = codec
				c.MaxMessageSize = 256
			})

			conn := dial(t, wsURL(ts))
			join(t, conn, 1, 5, "alice")

			big := `{"type":"chat_message","room_id":1,"message":"` + strings.Repeat("x", 1000) + `"}`
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(big)))

			expectClosed(t, conn)
			require.Eventually(t, func() bool { return srv.Registry().Count() == 0 }, 2*time.Second, 10*time.Millisecond)
		})
	}
}

// TestWebSocketRateLimiting verifies that frames beyond the burst are
// discarded with an error event while the connection stays usable.
func TestWebSocketRateLimiting(t *testing.T) {
	_, ts := newTestServer(t, func(c *Config) {
		c.RateLimit = RateLimitConfig{Burst: 2, RefillInterval: time.Hour}
	})

	conn := dial(t, wsURL(ts))
	join(t, conn, 1, 5, "alice")

	for i := 0; i < 2; i++ {
		require.NoError(t, conn.WriteJSON(map[string]any{"type": "chat_message", "room_id": 1, "message": "spam"}))
	}

	assert.Equal(t, event.TypeChatMessage, readEvent(t, conn).Type)
	limited := readEvent(t, conn)
	assert.Equal(t, event.TypeError, limited.Type)
	assert.Equal(t, "rate limit exceeded", limited.Error)
}

// TestJoinGracePeriod verifies that a connection which never joins is
// dropped once the grace period passes.
func TestJoinGracePeriod(t *testing.T) {
	srv, ts := newTestServer(t, func(c *Config) { c.JoinGracePeriod = 300 * time.Millisecond })

	idle := dial(t, wsURL(ts))
	active := dial(t, wsURL(ts))
	join(t, active, 1, 5, "alice")

	expectClosed(t, idle)

	require.Eventually(t, func() bool { return srv.Registry().Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, srv.Rooms().MemberCount(1))
}

// TestPollingPushReachesSockets verifies that a message pushed over the
// polling API is broadcast live with the id the push returned.
func TestPollingPushReachesSockets(t *testing.T) {
	_, ts := newTestServer(t, nil)

	conn := dial(t, wsURL(ts))
	join(t, conn, 1, 5, "alice")

	body, err := json.Marshal(map[string]any{"message": "from polling", "room_id": 1})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/chat", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.HeaderUserID, "7")
	req.Header.Set(auth.HeaderUsername, "poller")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var pushed struct {
		Success bool  `json:"success"`
		ID      int64 `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pushed))
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, pushed.Success)

	live := readEvent(t, conn)
	assert.Equal(t, event.TypeChatMessage, live.Type)
	assert.Equal(t, pushed.ID, live.ID)
	assert.Equal(t, "poller", live.Username)

	resp, err = http.Get(ts.URL + "/api/chat")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// TestGracefulShutdownWithClients verifies that Shutdown closes every
// socket and waits for the pumps.
func TestGracefulShutdownWithClients(t *testing.T) {
	srv, ts := newTestServer(t, nil)

	clients := make([]*websocket.Conn, 3)
	for i := range clients {
		clients[i] = dial(t, wsURL(ts))
	}
	join(t, clients[0], 1, 1, "first")

	require.NoError(t, srv.Shutdown(2*time.Second))
	assert.Equal(t, 0, srv.Registry().Count())
	assert.Equal(t, 0, srv.Rooms().RoomCount())

	for _, c := range clients {
		expectClosed(t, c)
	}

	// New upgrades after shutdown are closed straight away.
	late := dial(t, wsURL(ts))
	expectClosed(t, late)
}

// TestServeRaw verifies the bare TCP listener speaks the handshake and the
// room protocol.
func TestServeRaw(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ServeRaw(ctx, ln) }()

	conn := dial(t, "ws://"+ln.Addr().String()+"/")
	join(t, conn, 3, 5, "alice")
	assert.Equal(t, 1, srv.Rooms().MemberCount(3))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ServeRaw did not return after cancel")
	}
}
