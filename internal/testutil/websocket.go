package testutil

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-hub/internal/protocol"
)

// TestOrigin is the origin header sent by ConnectWebSocket.
const TestOrigin = "http://localhost:8080"

// WebSocketURL converts an httptest server URL into the websocket endpoint URL.
func WebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// ConnectWebSocket dials the websocket endpoint with a permitted origin.
func ConnectWebSocket(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

// Emit sends a client event.
func Emit(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()

	frame, err := protocol.Encode(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

// ReadEvent waits for the next event, splitting batched frames. Pending
// events from a batch are kept in buf.
func ReadEvent(t *testing.T, conn *websocket.Conn, buf *[]Event, timeout time.Duration) (Event, bool) {
	t.Helper()

	if len(*buf) > 0 {
		e := (*buf)[0]
		*buf = (*buf)[1:]
		return e, true
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Event{}, false
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return Event{}, false
	}

	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		env, err := protocol.Decode([]byte(line))
		require.NoError(t, err)
		*buf = append(*buf, Event{Name: env.Event, Data: env.Data})
	}
	return ReadEvent(t, conn, buf, timeout)
}

// WaitForEvent reads events until one with the given name arrives.
func WaitForEvent(t *testing.T, conn *websocket.Conn, buf *[]Event, name string) Event {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		e, ok := ReadEvent(t, conn, buf, time.Until(deadline))
		if !ok {
			break
		}
		if e.Name == name {
			return e
		}
	}
	require.Failf(t, "event not received", "waiting for %s", name)
	return Event{}
}

// ExpectNoEvent asserts that no event with the given name arrives in timeout.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, buf *[]Event, name string, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		e, ok := ReadEvent(t, conn, buf, time.Until(deadline))
		if !ok {
			return
		}
		require.NotEqual(t, name, e.Name, "unexpected event: %s", json.RawMessage(e.Data))
	}
}

// WSClient is a websocket test client that keeps batched events between reads.
type WSClient struct {
	t    *testing.T
	Conn *websocket.Conn
	buf  []Event
}

// Dial connects a WSClient to the websocket endpoint of an httptest server.
func Dial(t *testing.T, serverURL string) *WSClient {
	t.Helper()
	return &WSClient{
		t:    t,
		Conn: ConnectWebSocket(t, WebSocketURL(serverURL)),
	}
}

func (c *WSClient) Emit(event string, data any) {
	c.t.Helper()
	Emit(c.t, c.Conn, event, data)
}

// Wait reads until an event with the given name arrives.
func (c *WSClient) Wait(name string) Event {
	c.t.Helper()
	return WaitForEvent(c.t, c.Conn, &c.buf, name)
}

// ExpectNone asserts no event with the given name arrives in timeout. The
// connection is unusable afterwards if the deadline expired.
func (c *WSClient) ExpectNone(name string, timeout time.Duration) {
	c.t.Helper()
	ExpectNoEvent(c.t, c.Conn, &c.buf, name, timeout)
}

func (c *WSClient) Close() {
	_ = c.Conn.Close()
}
